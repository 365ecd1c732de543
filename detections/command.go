package detections

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"sort"
	"strings"

	"github.com/Tutortoise/vision-service/inference"
	"github.com/Tutortoise/vision-service/models"
)

// CommandDetector runs an external detector that only accepts a file path. The
// image is written to a per-call temporary file whose path is appended to Args.
// The command must print a JSON array of {box, class, confidence} on stdout.
type CommandDetector struct {
	Command string
	Args    []string
	TempDir string
}

// NewCommandDetector splits a command line on whitespace.
func NewCommandDetector(commandLine, tempDir string) (*CommandDetector, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty detector command")
	}
	return &CommandDetector{Command: fields[0], Args: fields[1:], TempDir: tempDir}, nil
}

func (d *CommandDetector) Detect(ctx context.Context, img image.Image) ([]models.Detection, error) {
	var dets []models.Detection
	err := inference.WithTempImage(ctx, d.TempDir, img, func(path string) error {
		args := append(append([]string(nil), d.Args...), path)
		cmd := inference.NewSafeCommand(ctx, d.Command, args...)

		out, err := cmd.Output()
		if err != nil {
			return inference.NewError(inference.KindInferenceFailure, "detector command failed", cmd.Wrap(err))
		}
		if err := json.Unmarshal(out, &dets); err != nil {
			return inference.NewError(inference.KindInferenceFailure, "detector command returned invalid output", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	valid := dets[:0]
	for _, det := range dets {
		det.Box = clipBox(det.Box, b.Dx(), b.Dy())
		if det.Box.Width() <= 0 || det.Box.Height() <= 0 {
			continue
		}
		det.Confidence = clamp(det.Confidence, 0, 1)
		valid = append(valid, det)
	}
	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].Confidence > valid[j].Confidence
	})

	return valid, nil
}
