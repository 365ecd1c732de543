// Package backend assembles the classifier and detector for the selected runtime.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Tutortoise/vision-service/classification"
	"github.com/Tutortoise/vision-service/detections"
	"github.com/Tutortoise/vision-service/fetch"
	"github.com/Tutortoise/vision-service/inference"
	"github.com/Tutortoise/vision-service/mock"
	"github.com/Tutortoise/vision-service/models"
	"github.com/Tutortoise/vision-service/onnx"
	"github.com/Tutortoise/vision-service/triton"
)

const (
	KindONNX   = "onnx"
	KindTriton = "triton"
	KindMock   = "mock"
)

type Config struct {
	Kind string

	ClassifierModel  string
	DetectorModel    string
	ClassifierLabels string
	DetectorLabels   string

	ORTLibrary     string
	PoolSize       int
	AcquireTimeout time.Duration
	IntraOpThreads int
	InterOpThreads int

	TritonURL      string
	ModelVersion   string
	TritonRetries  uint64
	TritonTimeout  time.Duration
	TritonInsecure bool

	Classification classification.Config
	Detection      detections.Config

	// DetectorCommand replaces the detector with an external command fed a temp file.
	DetectorCommand string
	TempDir         string

	Mock mock.Config
}

type Backend struct {
	Name       string
	Classifier inference.Classifier
	Detector   inference.Detector

	pools   []*onnx.Pool
	closers []func() error
}

func New(ctx context.Context, cfg Config) (*Backend, error) {
	var (
		b   *Backend
		err error
	)
	switch cfg.Kind {
	case KindMock:
		m := mock.New(cfg.Mock)
		b = &Backend{Name: KindMock, Classifier: m, Detector: m}
	case KindONNX, "":
		b, err = newONNX(cfg)
	case KindTriton:
		b, err = newTriton(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown backend %q (want %s, %s or %s)", cfg.Kind, KindONNX, KindTriton, KindMock)
	}
	if err != nil {
		return nil, err
	}

	if cfg.DetectorCommand != "" {
		d, err := detections.NewCommandDetector(cfg.DetectorCommand, cfg.TempDir)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.Detector = d
		slog.Info("Using external detector command", "command", d.Command)
	}

	return b, nil
}

func newONNX(cfg Config) (*Backend, error) {
	if cfg.ClassifierModel == "" {
		return nil, errors.New("classifier model path is required")
	}
	if cfg.DetectorModel == "" && cfg.DetectorCommand == "" {
		return nil, errors.New("detector model path or detector command is required")
	}

	if err := onnx.InitRuntime(cfg.ORTLibrary); err != nil {
		return nil, err
	}
	b := &Backend{Name: KindONNX, closers: []func() error{onnx.ShutdownRuntime}}

	poolCfg := onnx.PoolConfig{Size: cfg.PoolSize, AcquireTimeout: cfg.AcquireTimeout}
	opts := onnx.Options{IntraOpThreads: cfg.IntraOpThreads, InterOpThreads: cfg.InterOpThreads}

	classRunner, err := onnx.OpenModel("classifier", cfg.ClassifierModel, poolCfg, opts)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.track(classRunner)

	classCfg := cfg.Classification
	if classCfg.Labels, err = loadLabels(cfg.ClassifierLabels); err != nil {
		b.Close()
		return nil, err
	}
	if b.Classifier, err = classification.New(classRunner, classCfg); err != nil {
		b.Close()
		return nil, err
	}

	if cfg.DetectorModel == "" {
		return b, nil
	}

	detRunner, err := onnx.OpenModel("detector", cfg.DetectorModel, poolCfg, opts)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.track(detRunner)

	detCfg := cfg.Detection
	if detCfg.ClassNames, err = detectorNames(cfg.DetectorLabels, cfg.DetectorModel); err != nil {
		b.Close()
		return nil, err
	}
	if b.Detector, err = detections.NewYOLO(detRunner, detCfg); err != nil {
		b.Close()
		return nil, err
	}

	slog.Info("ONNX models loaded",
		"classifier", cfg.ClassifierModel,
		"detector", cfg.DetectorModel,
		"pool_size", poolCfg.Size,
	)
	return b, nil
}

func newTriton(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.TritonURL == "" {
		return nil, errors.New("inference server URL is required")
	}
	if cfg.ClassifierModel == "" {
		return nil, errors.New("classifier model name is required")
	}

	client := triton.NewClient(cfg.TritonURL, fetch.New(fetch.Options{
		Timeout:      cfg.TritonTimeout,
		Retries:      cfg.TritonRetries,
		AllowPrivate: cfg.TritonInsecure,
	}))
	if err := client.ServerReady(ctx); err != nil {
		return nil, err
	}

	b := &Backend{Name: KindTriton}

	classRunner, err := triton.NewRunner(ctx, client, cfg.ClassifierModel, cfg.ModelVersion)
	if err != nil {
		return nil, err
	}
	classCfg := cfg.Classification
	if classCfg.Labels, err = loadLabels(cfg.ClassifierLabels); err != nil {
		return nil, err
	}
	if b.Classifier, err = classification.New(classRunner, classCfg); err != nil {
		return nil, err
	}

	if cfg.DetectorModel == "" {
		if cfg.DetectorCommand == "" {
			return nil, errors.New("detector model name or detector command is required")
		}
		return b, nil
	}

	detRunner, err := triton.NewRunner(ctx, client, cfg.DetectorModel, cfg.ModelVersion)
	if err != nil {
		return nil, err
	}
	detCfg := cfg.Detection
	if cfg.DetectorLabels != "" {
		if detCfg.ClassNames, err = inference.LoadLabelsFile(cfg.DetectorLabels); err != nil {
			return nil, err
		}
	}
	if b.Detector, err = detections.NewYOLO(detRunner, detCfg); err != nil {
		return nil, err
	}

	slog.Info("Inference server models ready",
		"url", cfg.TritonURL,
		"classifier", cfg.ClassifierModel,
		"detector", cfg.DetectorModel,
	)
	return b, nil
}

func loadLabels(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	return inference.LoadLabelsFile(path)
}

// detectorNames prefers an explicit labels file, then the "names" entry that
// Ultralytics writes into exported model metadata.
func detectorNames(labelsPath, modelPath string) ([]string, error) {
	if labelsPath != "" {
		return inference.LoadLabelsFile(labelsPath)
	}

	raw, ok, err := onnx.CustomMetadata(modelPath, "names")
	if err != nil || !ok {
		if err != nil {
			slog.Warn("Could not read detector metadata, using COCO names", "error", err)
		}
		return nil, nil
	}
	names, err := detections.ParseNames(raw)
	if err != nil {
		slog.Warn("Could not parse detector class names, using COCO names", "error", err)
		return nil, nil
	}
	return names, nil
}

func (b *Backend) track(r *onnx.PoolRunner) {
	b.pools = append(b.pools, r.Pool())
	b.closers = append([]func() error{r.Close}, b.closers...)
}

func (b *Backend) PoolStats() []models.PoolStats {
	stats := make([]models.PoolStats, 0, len(b.pools))
	for _, p := range b.pools {
		stats = append(stats, p.Stats())
	}
	return stats
}

// Close releases sessions before the runtime they belong to.
func (b *Backend) Close() error {
	var errs []error
	for _, c := range b.closers {
		errs = append(errs, c())
	}
	b.closers = nil
	return errors.Join(errs...)
}
