// Package classification adapts an ImageNet-style classification model to a
// single-label result.
package classification

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/Tutortoise/vision-service/inference"
	"github.com/Tutortoise/vision-service/models"
	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
)

const (
	DefaultResizeSize = 232
	DefaultCropSize   = 224
)

// maxAspect bounds the longer side relative to the shorter one before resizing.
// Only the centre survives the crop, so the trimmed margins never reach the model.
const maxAspect = 4

type Config struct {
	// ResizeSize is the length the shorter image side is resized to before cropping.
	ResizeSize int
	// CropSize is used when the model input shape does not fix the spatial size.
	CropSize int
	Labels   []string
}

type Classifier struct {
	runner     inference.Runner
	resizeSize int
	cropW      int
	cropH      int
	labels     []string
}

func New(runner inference.Runner, cfg Config) (*Classifier, error) {
	if cfg.ResizeSize <= 0 {
		cfg.ResizeSize = DefaultResizeSize
	}
	if cfg.CropSize <= 0 {
		cfg.CropSize = DefaultCropSize
	}

	cropW, cropH := cfg.CropSize, cfg.CropSize
	if shape := runner.InputShape(); len(shape) == 4 && shape[2] > 0 && shape[3] > 0 {
		if shape[1] != 3 {
			return nil, fmt.Errorf("classifier input has %d channels, want 3", shape[1])
		}
		cropH, cropW = int(shape[2]), int(shape[3])
	}
	if cfg.ResizeSize < cropW || cfg.ResizeSize < cropH {
		return nil, fmt.Errorf("resize size %d is smaller than crop %dx%d", cfg.ResizeSize, cropW, cropH)
	}

	return &Classifier{
		runner:     runner,
		resizeSize: cfg.ResizeSize,
		cropW:      cropW,
		cropH:      cropH,
		labels:     cfg.Labels,
	}, nil
}

// Preprocess resizes the shorter side, centre-crops and normalises img into a
// 1x3xHxW tensor.
func (c *Classifier) Preprocess(img image.Image) []float32 {
	b := img.Bounds()
	if short := min(b.Dx(), b.Dy()); short > 0 && max(b.Dx(), b.Dy()) > maxAspect*short {
		if b.Dx() > b.Dy() {
			img = imaging.CropCenter(img, maxAspect*short, short)
		} else {
			img = imaging.CropCenter(img, short, maxAspect*short)
		}
		b = img.Bounds()
	}

	var w, h uint
	if b.Dx() <= b.Dy() {
		w = uint(c.resizeSize)
	} else {
		h = uint(c.resizeSize)
	}
	resized := resize.Resize(w, h, img, resize.Bilinear)
	cropped := imaging.CropCenter(resized, c.cropW, c.cropH)

	buf := make([]float32, 3*c.cropW*c.cropH)
	inference.FillCHW(buf, cropped, inference.ImageNet)
	return buf
}

func (c *Classifier) Classify(ctx context.Context, img image.Image) (models.ClassificationResult, error) {
	logits, err := c.runner.Run(ctx, c.Preprocess(img))
	if err != nil {
		return models.ClassificationResult{}, err
	}
	if len(logits) == 0 {
		return models.ClassificationResult{}, inference.NewError(inference.KindInferenceFailure, "classifier returned no scores", nil)
	}

	probs := Softmax(logits)
	best := Argmax(probs)

	return models.ClassificationResult{
		ClassID:  best,
		Score:    probs[best],
		Category: inference.LabelFor(c.labels, best),
	}, nil
}

// Softmax converts logits to probabilities using the max-shift for stability.
func Softmax(logits []float32) []float64 {
	maxLogit := math.Inf(-1)
	for _, v := range logits {
		maxLogit = math.Max(maxLogit, float64(v))
	}

	probs := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		probs[i] = math.Exp(float64(v) - maxLogit)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// Argmax returns the index of the largest value, the first one on ties.
func Argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}
