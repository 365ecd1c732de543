// Package inference holds the contracts shared by the classification and detection
// adapters and the backends that serve them.
package inference

import (
	"context"
	"image"

	"github.com/Tutortoise/vision-service/models"
)

// Classifier assigns a single category to a whole image.
type Classifier interface {
	Classify(ctx context.Context, img image.Image) (models.ClassificationResult, error)
}

// Detector localises zero or more objects. Boxes are in pixel coordinates of img.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]models.Detection, error)
}

// Runner executes an opaque model on a single flattened float32 input tensor and
// returns the flattened first output. Implementations must be safe for concurrent use.
type Runner interface {
	Run(ctx context.Context, input []float32) ([]float32, error)
	InputShape() []int64
	OutputShape() []int64
}
