// Package finetune prepares a YOLO dataset configuration and drives the external
// Ultralytics CLI to train and export a detector.
package finetune

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Tutortoise/vision-service/inference"
)

const (
	DefaultTrainer   = "yolo"
	DefaultBaseModel = "yolov8n.pt"
	DefaultRunName   = "retail_yolo"
	DefaultEpochs    = 25
	DefaultImageSize = 640
	DefaultBatch     = 4
	DefaultPatience  = 5
	DatasetFileName  = "retail_dataset.yaml"
)

type Config struct {
	Trainer   string
	DataDir   string
	Project   string
	Name      string
	BaseModel string
	Epochs    int
	ImageSize int
	Batch     int
	Patience  int
	Classes   []string

	// DryRun prints the commands instead of running them.
	DryRun bool
	// Output receives the trainer's stdout and stderr, or the dry-run listing.
	Output io.Writer
}

func (c Config) withDefaults() Config {
	if c.Trainer == "" {
		c.Trainer = DefaultTrainer
	}
	if c.Name == "" {
		c.Name = DefaultRunName
	}
	if c.BaseModel == "" {
		c.BaseModel = DefaultBaseModel
	}
	if c.Epochs <= 0 {
		c.Epochs = DefaultEpochs
	}
	if c.ImageSize <= 0 {
		c.ImageSize = DefaultImageSize
	}
	if c.Batch <= 0 {
		c.Batch = DefaultBatch
	}
	if c.Patience <= 0 {
		c.Patience = DefaultPatience
	}
	if c.Output == nil {
		c.Output = io.Discard
	}
	return c
}

type Result struct {
	DatasetConfig string
	Weights       string
	ONNX          string
	Commands      [][]string
}

// Plan resolves paths and the trainer invocations without touching the filesystem.
func Plan(cfg Config) (Result, error) {
	cfg = cfg.withDefaults()
	if cfg.DataDir == "" || cfg.Project == "" {
		return Result{}, fmt.Errorf("data directory and project directory are required")
	}

	datasetPath := filepath.Join(cfg.Project, DatasetFileName)
	weights := filepath.Join(cfg.Project, cfg.Name, "weights", "best.pt")

	train := []string{cfg.Trainer, "detect", "train",
		"data=" + datasetPath,
		"model=" + cfg.BaseModel,
		fmt.Sprintf("epochs=%d", cfg.Epochs),
		fmt.Sprintf("imgsz=%d", cfg.ImageSize),
		fmt.Sprintf("batch=%d", cfg.Batch),
		fmt.Sprintf("patience=%d", cfg.Patience),
		"project=" + cfg.Project,
		"name=" + cfg.Name,
		"exist_ok=True",
	}
	export := []string{cfg.Trainer, "export",
		"model=" + weights,
		"format=onnx",
		fmt.Sprintf("imgsz=%d", cfg.ImageSize),
	}

	return Result{
		DatasetConfig: datasetPath,
		Weights:       weights,
		ONNX:          strings.TrimSuffix(weights, ".pt") + ".onnx",
		Commands:      [][]string{train, export},
	}, nil
}

// Run writes the dataset configuration, trains, and exports the best weights to ONNX.
func Run(ctx context.Context, cfg Config) (Result, error) {
	cfg = cfg.withDefaults()
	res, err := Plan(cfg)
	if err != nil {
		return Result{}, err
	}

	if cfg.DryRun {
		for _, c := range res.Commands {
			fmt.Fprintln(cfg.Output, strings.Join(c, " "))
		}
		return res, nil
	}

	absData, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return Result{}, err
	}
	if _, err := os.Stat(absData); err != nil {
		return Result{}, fmt.Errorf("dataset directory: %w", err)
	}
	if err := os.MkdirAll(cfg.Project, 0o755); err != nil {
		return Result{}, err
	}
	if err := WriteDataset(res.DatasetConfig, NewDataset(absData, cfg.Classes)); err != nil {
		return Result{}, err
	}

	for _, args := range res.Commands {
		slog.InfoContext(ctx, "Running trainer", "command", strings.Join(args, " "))
		if err := run(ctx, cfg.Output, args); err != nil {
			return Result{}, err
		}
	}

	if _, err := os.Stat(res.ONNX); err != nil {
		return Result{}, fmt.Errorf("exported model not found: %w", err)
	}
	slog.InfoContext(ctx, "Fine-tuning complete", "weights", res.Weights, "onnx", res.ONNX)
	return res, nil
}

func run(ctx context.Context, out io.Writer, args []string) error {
	cmd := inference.NewSafeCommand(ctx, args[0], args[1:]...)
	// exec copies stdout and stderr on separate goroutines.
	var mu sync.Mutex
	cmd.Stdout = &lockedWriter{mu: &mu, w: out}
	cmd.Cmd.Stderr = &lockedWriter{mu: &mu, w: io.MultiWriter(cmd.Stderr, out)}
	return cmd.Wrap(cmd.Run())
}

type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
