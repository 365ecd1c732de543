package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/Tutortoise/vision-service/objstore"
	"github.com/Tutortoise/vision-service/onnx"
	"github.com/Tutortoise/vision-service/repository"
	"github.com/spf13/cobra"
)

type exportOptions struct {
	Request    repository.Request
	Registry   string
	ORTLibrary string
	NoProgress bool
	GCS        bool
	S3         bool
}

var exportOpts exportOptions

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Stage an ONNX model into an inference server model repository",
	Example: `  vision export --name resnext101 --source models/resnext101.onnx --labels models/imagenet.txt
  vision export --name yolov8n --source runs/retail_yolo/weights/best.onnx --repo gs://bucket/model_repository --gcs`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExport(cmd, exportOpts)
	},
}

func init() {
	f := exportCmd.Flags()
	r := &exportOpts.Request

	f.StringVarP(&r.Name, "name", "n", "", "Model name in the repository")
	f.StringVarP(&r.Source, "source", "s", "", "ONNX model file (local path, gs:// or s3://)")
	f.StringVarP(&r.Labels, "labels", "l", "", "Optional labels file copied next to config.pbtxt")
	f.StringVarP(&r.Repository, "repo", "r", envOr("MODEL_REPOSITORY", "model_repository"), "Model repository root")
	f.IntVarP(&r.Version, "version", "v", 0, "Version number (default latest registered + 1)")
	f.IntVar(&r.MaxBatchSize, "max-batch-size", 0, "max_batch_size written to config.pbtxt")
	f.StringVar(&exportOpts.Registry, "registry", "vision-registry.db", "Model registry database")
	f.StringVar(&exportOpts.ORTLibrary, "ort-lib", "", "ONNX Runtime shared library used to read model inputs and outputs")
	f.BoolVar(&exportOpts.NoProgress, "no-progress", false, "Disable the copy progress bar")
	f.BoolVar(&exportOpts.GCS, "gcs", false, "Enable gs:// sources and repositories")
	f.BoolVar(&exportOpts.S3, "s3", false, "Enable s3:// sources and repositories")

	exportCmd.MarkFlagRequired("name")
	exportCmd.MarkFlagRequired("source")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, opts exportOptions) error {
	ctx := cmd.Context()

	if err := onnx.InitRuntime(opts.ORTLibrary); err != nil {
		return err
	}
	defer onnx.ShutdownRuntime()

	store, err := objstore.Open(ctx, objstore.Options{GCS: opts.GCS, S3: opts.S3})
	if err != nil {
		return fmt.Errorf("open object storage: %w", err)
	}
	defer store.Close()

	registry, err := repository.OpenRegistry(opts.Registry)
	if err != nil {
		return err
	}
	defer registry.Close()

	var progress io.Writer = os.Stderr
	if opts.NoProgress {
		progress = nil
	}

	exporter := &repository.Exporter{
		Store:      store,
		Registry:   registry,
		TensorInfo: onnx.ReadTensorInfo,
		Progress:   progress,
	}
	mv, err := exporter.Export(ctx, opts.Request)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Exported %s version %d to %s (sha256 %s)\n", mv.Name, mv.Version, mv.Path, mv.SHA256)
	return nil
}
