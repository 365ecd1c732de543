// Package mock is a synthetic backend that returns plausible, randomised results
// without loading any model. It exists for demos and load testing.
package mock

import (
	"context"
	"image"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/Tutortoise/vision-service/inference"
	"github.com/Tutortoise/vision-service/models"
)

const (
	ClassID  = 582
	Category = "grocery store"

	DefaultClassifyDelay = 500 * time.Millisecond
	DefaultDetectDelay   = 800 * time.Millisecond
)

// Classes are drawn uniformly for synthetic detections.
var Classes = []string{"person", "bottle", "chair", "backpack", "cell phone", "handbag"}

type Config struct {
	// Seed fixes the random sequence; zero picks a time-based seed.
	Seed int64
	// DelayScale multiplies the artificial latencies; zero disables them.
	DelayScale    float64
	ClassifyDelay time.Duration
	DetectDelay   time.Duration
}

// Backend implements both inference.Classifier and inference.Detector.
type Backend struct {
	mu  sync.Mutex
	rng *rand.Rand

	classifyDelay time.Duration
	detectDelay   time.Duration
}

func New(cfg Config) *Backend {
	seed := uint64(cfg.Seed)
	if cfg.Seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	if cfg.ClassifyDelay <= 0 {
		cfg.ClassifyDelay = DefaultClassifyDelay
	}
	if cfg.DetectDelay <= 0 {
		cfg.DetectDelay = DefaultDetectDelay
	}

	return &Backend{
		rng:           rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		classifyDelay: time.Duration(float64(cfg.ClassifyDelay) * cfg.DelayScale),
		detectDelay:   time.Duration(float64(cfg.DetectDelay) * cfg.DelayScale),
	}
}

func (b *Backend) Classify(ctx context.Context, _ image.Image) (models.ClassificationResult, error) {
	if err := sleep(ctx, b.classifyDelay); err != nil {
		return models.ClassificationResult{}, err
	}

	b.mu.Lock()
	score := 0.45 + b.rng.Float64()*0.1
	b.mu.Unlock()

	return models.ClassificationResult{
		ClassID:  ClassID,
		Score:    score,
		Category: Category,
	}, nil
}

func (b *Backend) Detect(ctx context.Context, img image.Image) ([]models.Detection, error) {
	if err := sleep(ctx, b.detectDelay); err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	b.mu.Lock()
	defer b.mu.Unlock()

	n := 5 + b.rng.IntN(4)
	dets := make([]models.Detection, 0, n)
	for i := 0; i < n; i++ {
		x1 := b.rng.IntN(max(0, width-100) + 1)
		y1 := b.rng.IntN(max(0, height-100) + 1)
		w := 50 + b.rng.IntN(101)
		h := 50 + b.rng.IntN(101)

		dets = append(dets, models.Detection{
			Box: models.Box{
				float64(x1),
				float64(y1),
				float64(min(x1+w, width)),
				float64(min(y1+h, height)),
			},
			Class:      Classes[b.rng.IntN(len(Classes))],
			Confidence: 0.7 + b.rng.Float64()*0.25,
		})
	}
	return dets, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return inference.NewError(inference.KindUnavailable, "request cancelled", ctx.Err())
	}
}
