// Package repository lays out exported models the way an inference server model
// repository expects: <repo>/<model>/config.pbtxt and <repo>/<model>/<version>/model.onnx.
package repository

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Tutortoise/vision-service/objstore"
	"github.com/Tutortoise/vision-service/onnx"
	"github.com/schollz/progressbar/v3"
	"github.com/shouni/go-remote-io/pkg/remoteio"
)

// TensorInfoFunc reads a model's inputs and outputs from a local file.
type TensorInfoFunc func(modelPath string) ([]onnx.TensorInfo, []onnx.TensorInfo, error)

type Exporter struct {
	Store      *objstore.Store
	Registry   *Registry
	TensorInfo TensorInfoFunc
	// Progress receives a byte progress bar while the model is copied. Nil disables it.
	Progress io.Writer
	TempDir  string
}

type Request struct {
	Name       string
	Source     string
	Labels     string
	Repository string
	// Version 0 picks the registry's next version, or 1 without a registry.
	Version      int
	MaxBatchSize int
}

func (r Request) validate() error {
	switch {
	case r.Name == "" || strings.ContainsAny(r.Name, `/\`):
		return fmt.Errorf("invalid model name %q", r.Name)
	case r.Source == "":
		return fmt.Errorf("model source is required")
	case r.Repository == "":
		return fmt.Errorf("model repository is required")
	case r.Version < 0:
		return fmt.Errorf("invalid version %d", r.Version)
	}
	return nil
}

// JoinPath joins elements onto a local directory or a gs:// or s3:// prefix.
func JoinPath(base string, elem ...string) string {
	if remoteio.IsRemoteURI(base) {
		return strings.TrimRight(base, "/") + "/" + strings.Join(elem, "/")
	}
	return filepath.Join(append([]string{base}, elem...)...)
}

func (e *Exporter) Export(ctx context.Context, req Request) (ModelVersion, error) {
	if err := req.validate(); err != nil {
		return ModelVersion{}, err
	}

	version := req.Version
	if version == 0 {
		version = 1
		if e.Registry != nil {
			v, err := e.Registry.NextVersion(req.Name)
			if err != nil {
				return ModelVersion{}, err
			}
			version = v
		}
	}

	staged, digest, size, err := e.stage(ctx, req)
	if err != nil {
		return ModelVersion{}, err
	}
	defer os.Remove(staged)

	tensorInfo := e.TensorInfo
	if tensorInfo == nil {
		tensorInfo = onnx.ReadTensorInfo
	}
	inputs, outputs, err := tensorInfo(staged)
	if err != nil {
		return ModelVersion{}, err
	}

	modelDir := JoinPath(req.Repository, req.Name)
	dest := JoinPath(modelDir, strconv.Itoa(version), ModelFileName)

	f, err := os.Open(staged)
	if err != nil {
		return ModelVersion{}, err
	}
	err = e.Store.Write(ctx, dest, f, "application/octet-stream")
	f.Close()
	if err != nil {
		return ModelVersion{}, fmt.Errorf("write %s: %w", dest, err)
	}

	cfg := ModelConfig{
		Name:         req.Name,
		MaxBatchSize: req.MaxBatchSize,
		Inputs:       inputs,
		Outputs:      outputs,
	}
	if req.Labels != "" {
		if err := e.copyObject(ctx, req.Labels, JoinPath(modelDir, LabelsFileName), "text/plain"); err != nil {
			return ModelVersion{}, err
		}
		cfg.LabelFile = LabelsFileName
	}

	cfgPath := JoinPath(modelDir, ConfigFileName)
	if err := e.Store.Write(ctx, cfgPath, bytes.NewReader(cfg.Marshal()), "text/plain"); err != nil {
		return ModelVersion{}, fmt.Errorf("write %s: %w", cfgPath, err)
	}

	mv := ModelVersion{
		Name:       req.Name,
		Version:    version,
		Platform:   Platform,
		Path:       dest,
		Source:     req.Source,
		SHA256:     digest,
		Size:       size,
		Inputs:     inputs,
		Outputs:    outputs,
		ExportedAt: time.Now().UTC(),
	}
	if e.Registry != nil {
		if err := e.Registry.Record(mv); err != nil {
			return ModelVersion{}, err
		}
	}

	slog.InfoContext(ctx, "Model exported",
		"model", mv.Name,
		"version", mv.Version,
		"path", mv.Path,
		"bytes", mv.Size,
		"sha256", mv.SHA256,
	)
	return mv, nil
}

// stage copies the source model into a local temp file, since ONNX Runtime can
// only inspect files on disk.
func (e *Exporter) stage(ctx context.Context, req Request) (string, string, int64, error) {
	src, err := e.Store.Open(ctx, req.Source)
	if err != nil {
		return "", "", 0, fmt.Errorf("open %s: %w", req.Source, err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(e.TempDir, "export-*.onnx")
	if err != nil {
		return "", "", 0, err
	}

	hash := sha256.New()
	writers := []io.Writer{tmp, hash}
	if e.Progress != nil {
		total := int64(-1)
		if fi, err := os.Stat(req.Source); err == nil {
			total = fi.Size()
		}
		bar := progressbar.NewOptions64(total,
			progressbar.OptionSetDescription("Exporting "+req.Name),
			progressbar.OptionSetWriter(e.Progress),
			progressbar.OptionShowBytes(true),
			progressbar.OptionShowCount(),
		)
		defer bar.Finish()
		writers = append(writers, bar)
	}

	size, err := io.Copy(io.MultiWriter(writers...), src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", "", 0, fmt.Errorf("copy %s: %w", req.Source, err)
	}
	if size == 0 {
		os.Remove(tmp.Name())
		return "", "", 0, fmt.Errorf("%s is empty", req.Source)
	}
	return tmp.Name(), hex.EncodeToString(hash.Sum(nil)), size, nil
}

func (e *Exporter) copyObject(ctx context.Context, from, to, contentType string) error {
	src, err := e.Store.Open(ctx, from)
	if err != nil {
		return fmt.Errorf("open %s: %w", from, err)
	}
	defer src.Close()

	if err := e.Store.Write(ctx, to, src, contentType); err != nil {
		return fmt.Errorf("write %s: %w", to, err)
	}
	return nil
}
