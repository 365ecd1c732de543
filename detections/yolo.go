// Package detections adapts YOLOv8-style object detection models and external
// detector commands to a list of labelled boxes.
package detections

import (
	"context"
	"fmt"
	"image"

	"github.com/Tutortoise/vision-service/inference"
	"github.com/Tutortoise/vision-service/models"
)

type Config struct {
	ConfThreshold float64
	IoUThreshold  float64
	MaxDetections int
	// InputSize is used when the model input shape does not fix the spatial size.
	InputSize  int
	ClassNames []string
}

func (c Config) withDefaults() Config {
	if c.ConfThreshold <= 0 {
		c.ConfThreshold = DefaultConfThreshold
	}
	if c.IoUThreshold <= 0 {
		c.IoUThreshold = DefaultIoUThreshold
	}
	if c.MaxDetections <= 0 {
		c.MaxDetections = DefaultMaxDetections
	}
	if c.InputSize <= 0 {
		c.InputSize = DefaultInputSize
	}
	if len(c.ClassNames) == 0 {
		c.ClassNames = COCONames
	}
	return c
}

type YOLODetector struct {
	runner        inference.Runner
	cfg           Config
	width, height int
}

func NewYOLO(runner inference.Runner, cfg Config) (*YOLODetector, error) {
	cfg = cfg.withDefaults()

	width, height := cfg.InputSize, cfg.InputSize
	if shape := runner.InputShape(); len(shape) == 4 && shape[2] > 0 && shape[3] > 0 {
		if shape[1] != 3 {
			return nil, fmt.Errorf("detector input has %d channels, want 3", shape[1])
		}
		height, width = int(shape[2]), int(shape[3])
	}
	if shape := runner.OutputShape(); len(shape) != 3 {
		return nil, fmt.Errorf("detector output shape %v, want [1, 4+classes, anchors]", shape)
	}

	return &YOLODetector{runner: runner, cfg: cfg, width: width, height: height}, nil
}

func (d *YOLODetector) Detect(ctx context.Context, img image.Image) ([]models.Detection, error) {
	canvas, t := Letterbox(img, d.width, d.height)
	input := make([]float32, 3*d.width*d.height)
	inference.FillCHW(input, canvas, inference.UnitScale)

	output, err := d.runner.Run(ctx, input)
	if err != nil {
		return nil, err
	}

	cands, err := decodeOutput(output, d.runner.OutputShape(), len(d.cfg.ClassNames), d.cfg.ConfThreshold)
	if err != nil {
		return nil, inference.NewError(inference.KindInferenceFailure, "unexpected detector output", err)
	}
	kept := nonMaxSuppression(cands, d.cfg.IoUThreshold, d.cfg.MaxDetections)

	dets := make([]models.Detection, 0, len(kept))
	for _, c := range kept {
		box := t.toSource(c.box)
		if box.Width() <= 0 || box.Height() <= 0 {
			continue
		}
		dets = append(dets, models.Detection{
			Box:        box,
			Class:      inference.LabelFor(d.cfg.ClassNames, c.classID),
			Confidence: c.score,
		})
	}
	return dets, nil
}

// decodeOutput reads a [1, 4+nc, anchors] tensor (or its [1, anchors, 4+nc]
// transpose) of centre-format boxes followed by per-class scores. numClasses
// picks the attribute axis; zero leaves it to the larger-axis-is-anchors rule.
func decodeOutput(output []float32, shape []int64, numClasses int, confThreshold float64) ([]candidate, error) {
	if len(shape) != 3 || shape[0] != 1 {
		return nil, fmt.Errorf("output shape %v, want [1, 4+classes, anchors]", shape)
	}
	rows, cols := int(shape[1]), int(shape[2])
	if len(output) != rows*cols {
		return nil, fmt.Errorf("output has %d values, shape %v implies %d", len(output), shape, rows*cols)
	}

	var transposed bool
	switch want := 4 + numClasses; {
	case numClasses > 0 && rows == want && cols != want:
		// channels first
	case numClasses > 0 && cols == want && rows != want:
		transposed = true
	default:
		// Anchors outnumber attributes in every full-size YOLOv8 head.
		transposed = rows > cols
	}
	attrs, anchors := rows, cols
	if transposed {
		attrs, anchors = cols, rows
	}
	if attrs < 5 {
		return nil, fmt.Errorf("output has %d attributes per anchor, want at least 5", attrs)
	}

	at := func(attr, anchor int) float64 {
		if transposed {
			return float64(output[anchor*attrs+attr])
		}
		return float64(output[attr*anchors+anchor])
	}

	var cands []candidate
	for i := 0; i < anchors; i++ {
		bestClass, bestScore := 0, at(4, i)
		for c := 5; c < attrs; c++ {
			if s := at(c, i); s > bestScore {
				bestClass, bestScore = c-4, s
			}
		}
		if bestScore < confThreshold {
			continue
		}

		cx, cy, w, h := at(0, i), at(1, i), at(2, i), at(3, i)
		cands = append(cands, candidate{
			box:     models.Box{cx - w/2, cy - h/2, cx + w/2, cy + h/2},
			classID: bestClass,
			score:   min(bestScore, 1),
		})
	}
	return cands, nil
}
