package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/Tutortoise/vision-service/backend"
	"github.com/Tutortoise/vision-service/fetch"
	"github.com/Tutortoise/vision-service/imageload"
	"github.com/Tutortoise/vision-service/objstore"
	"github.com/Tutortoise/vision-service/server"
	"github.com/spf13/cobra"
)

const (
	defaultPort     = "5000"
	defaultMockPort = "5001"
)

type serveOptions struct {
	Addr    string
	Backend backend.Config
	Server  server.Config

	FetchTimeout     time.Duration
	FetchRetries     uint64
	MaxPixels        int64
	AllowPrivateURLs bool
	GCS              bool
	S3               bool
}

var serveOpts serveOptions

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve /predict, /detect and /analyze over HTTP",
	Long: `Serve loads the classifier and detector once and answers image requests.

Backends:
  onnx    in-process ONNX Runtime (--classifier-model and --detector-model are .onnx files)
  triton  remote KServe v2 inference server (--classifier-model and --detector-model are model names)
  mock    synthetic results with artificial latency, no models required`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd, serveOpts)
	},
}

func init() {
	f := serveCmd.Flags()
	b := &serveOpts.Backend

	f.StringVarP(&serveOpts.Addr, "addr", "a", "", "Listen address (default :$PORT, else :5000, or :5001 with the mock backend)")
	f.StringVarP(&b.Kind, "backend", "b", envOr("VISION_BACKEND", backend.KindONNX), "Inference backend: onnx, triton or mock")

	f.StringVar(&b.ClassifierModel, "classifier-model", os.Getenv("CLASSIFIER_MODEL"), "Classifier model file (onnx) or name (triton)")
	f.StringVar(&b.DetectorModel, "detector-model", os.Getenv("DETECTOR_MODEL"), "Detector model file (onnx) or name (triton)")
	f.StringVar(&b.ClassifierLabels, "classifier-labels", "", "Classifier labels file, one per line")
	f.StringVar(&b.DetectorLabels, "detector-labels", "", "Detector labels file (default: model metadata, then COCO)")
	f.StringVar(&b.DetectorCommand, "detector-command", "", "External detector command; the image path is appended as the last argument")
	f.StringVar(&b.TempDir, "temp-dir", "", "Directory for per-request temporary images (default system temp)")

	f.StringVar(&b.ORTLibrary, "ort-lib", "", "ONNX Runtime shared library (default $ONNXRUNTIME_LIB or the platform library name)")
	f.IntVar(&b.PoolSize, "pool-size", envInt("POOL_SIZE", 4), "ONNX sessions per model")
	f.DurationVar(&b.AcquireTimeout, "acquire-timeout", 5*time.Second, "Maximum wait for a free session before answering 503")
	f.IntVar(&b.IntraOpThreads, "intra-op-threads", 0, "ONNX Runtime intra-op threads per session (0 = NumCPU)")
	f.IntVar(&b.InterOpThreads, "inter-op-threads", 0, "ONNX Runtime inter-op threads per session (0 = NumCPU)")
	f.IntVar(&b.Classification.ResizeSize, "resize-size", 232, "Classifier shorter-side resize")
	f.IntVar(&b.Classification.CropSize, "crop-size", 224, "Classifier centre crop")
	f.Float64Var(&b.Detection.ConfThreshold, "conf", 0.25, "Detection confidence threshold")
	f.Float64Var(&b.Detection.IoUThreshold, "iou", 0.7, "Detection NMS IoU threshold")
	f.IntVar(&b.Detection.MaxDetections, "max-detections", 300, "Maximum detections per image")

	f.StringVar(&b.TritonURL, "triton-url", envOr("TRITON_URL", "http://localhost:8000"), "Inference server base URL")
	f.StringVar(&b.ModelVersion, "model-version", "", "Inference server model version (default latest)")
	f.DurationVar(&b.TritonTimeout, "triton-timeout", 30*time.Second, "Inference server request timeout")
	f.Uint64Var(&b.TritonRetries, "triton-retries", 2, "Inference server retries on 5xx and network errors")
	f.BoolVar(&b.TritonInsecure, "triton-allow-private", true, "Allow a loopback or private inference server address")

	f.Int64Var(&serveOpts.Backend.Mock.Seed, "mock-seed", 0, "Mock backend random seed (0 = time based)")
	f.Float64Var(&serveOpts.Backend.Mock.DelayScale, "mock-delay-scale", 1, "Mock backend latency multiplier (0 disables delays)")

	f.DurationVar(&serveOpts.Server.ReadTimeout, "read-timeout", server.DefaultReadTimeout, "HTTP read timeout")
	f.DurationVar(&serveOpts.Server.WriteTimeout, "write-timeout", server.DefaultWriteTimeout, "HTTP write timeout")
	f.DurationVar(&serveOpts.Server.ShutdownTimeout, "shutdown-timeout", server.DefaultShutdownTimeout, "Graceful shutdown deadline")
	f.Int64Var(&serveOpts.Server.MaxBodyBytes, "max-body", 0, "Request body limit in bytes (0 = unlimited)")
	f.Int64Var(&serveOpts.Server.MaxMemory, "max-memory", imageload.DefaultMaxMemory, "Multipart bytes kept in memory")
	f.BoolVar(&serveOpts.Server.ParallelAnalyze, "parallel-analyze", false, "Run classification and detection concurrently in /analyze")

	f.DurationVar(&serveOpts.FetchTimeout, "fetch-timeout", envDuration("FETCH_TIMEOUT", 0), "Image URL fetch timeout (0 = none)")
	f.Uint64Var(&serveOpts.FetchRetries, "fetch-retries", 0, "Image URL fetch retries")
	f.Int64Var(&serveOpts.MaxPixels, "max-pixels", imageload.DefaultMaxPixels, "Reject images whose header declares more pixels than this")
	f.BoolVar(&serveOpts.AllowPrivateURLs, "allow-private-urls", false, "Allow image URLs on loopback and private networks")
	f.BoolVar(&serveOpts.GCS, "gcs", false, "Enable gs:// image URLs")
	f.BoolVar(&serveOpts.S3, "s3", false, "Enable s3:// image URLs")

	rootCmd.AddCommand(serveCmd)
}

// applyDefaults fills backend-dependent defaults.
func (o *serveOptions) applyDefaults() {
	if o.Addr == "" {
		port := defaultPort
		if o.Backend.Kind == backend.KindMock {
			port = defaultMockPort
		}
		o.Addr = ":" + envOr("PORT", port)
	}

	switch o.Backend.Kind {
	case backend.KindONNX:
		if o.Backend.ClassifierModel == "" {
			o.Backend.ClassifierModel = "models/resnext101.onnx"
		}
		if o.Backend.DetectorModel == "" && o.Backend.DetectorCommand == "" {
			o.Backend.DetectorModel = "models/yolov8n.onnx"
		}
	case backend.KindTriton:
		if o.Backend.ClassifierModel == "" {
			o.Backend.ClassifierModel = "resnext101"
		}
		if o.Backend.DetectorModel == "" && o.Backend.DetectorCommand == "" {
			o.Backend.DetectorModel = "yolov8n"
		}
	}
}

func runServe(cmd *cobra.Command, opts serveOptions) error {
	ctx := cmd.Context()
	opts.applyDefaults()

	store, err := objstore.Open(ctx, objstore.Options{GCS: opts.GCS, S3: opts.S3})
	if err != nil {
		return fmt.Errorf("open object storage: %w", err)
	}
	defer store.Close()

	b, err := backend.New(ctx, opts.Backend)
	if err != nil {
		return fmt.Errorf("start %s backend: %w", opts.Backend.Kind, err)
	}
	defer b.Close()

	loader := imageload.NewLoader(fetch.New(fetch.Options{
		Timeout:      opts.FetchTimeout,
		Retries:      opts.FetchRetries,
		AllowPrivate: opts.AllowPrivateURLs,
	}), store).WithMaxPixels(opts.MaxPixels)

	cfg := opts.Server
	cfg.Addr = opts.Addr
	srv := server.New(cfg, server.Deps{
		Loader:     loader,
		Classifier: b.Classifier,
		Detector:   b.Detector,
		Backend:    b.Name,
		PoolStats:  b.PoolStats,
	})
	return srv.Run(ctx)
}
