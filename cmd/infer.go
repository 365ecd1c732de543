package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/Tutortoise/vision-service/classification"
	"github.com/Tutortoise/vision-service/fetch"
	"github.com/Tutortoise/vision-service/imageload"
	"github.com/Tutortoise/vision-service/inference"
	"github.com/Tutortoise/vision-service/triton"
	"github.com/spf13/cobra"
)

type inferOptions struct {
	URL     string
	Model   string
	Version string
	Labels  string
	Timeout time.Duration
}

var inferOpts inferOptions

var inferCmd = &cobra.Command{
	Use:   "infer IMAGE",
	Short: "Classify one image against an inference server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInfer(cmd, inferOpts, args[0])
	},
}

func init() {
	f := inferCmd.Flags()
	f.StringVarP(&inferOpts.URL, "url", "u", envOr("TRITON_URL", "http://localhost:8000"), "Inference server base URL")
	f.StringVarP(&inferOpts.Model, "model", "m", "resnext101", "Classifier model name")
	f.StringVar(&inferOpts.Version, "model-version", "", "Model version (default latest)")
	f.StringVarP(&inferOpts.Labels, "labels", "l", "", "Labels file, one per line (default class_<id> names)")
	f.DurationVar(&inferOpts.Timeout, "timeout", 30*time.Second, "Request timeout")
	rootCmd.AddCommand(inferCmd)
}

func runInfer(cmd *cobra.Command, opts inferOptions, imagePath string) error {
	ctx := cmd.Context()

	data, err := os.ReadFile(imagePath)
	if err != nil {
		return err
	}
	img, err := imageload.Decode(data)
	if err != nil {
		return err
	}

	var labels []string
	if opts.Labels != "" {
		if labels, err = inference.LoadLabelsFile(opts.Labels); err != nil {
			return err
		}
	}

	client := triton.NewClient(opts.URL, fetch.New(fetch.Options{Timeout: opts.Timeout, AllowPrivate: true}))
	if err := client.ModelReady(ctx, opts.Model, opts.Version); err != nil {
		return fmt.Errorf("model %s is not ready: %w", opts.Model, err)
	}
	runner, err := triton.NewRunner(ctx, client, opts.Model, opts.Version)
	if err != nil {
		return err
	}
	classifier, err := classification.New(runner, classification.Config{Labels: labels})
	if err != nil {
		return err
	}

	res, err := classifier.Classify(ctx, img)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Predicted class: %s (ID %d)\nConfidence: %.4f\n", res.Category, res.ClassID, res.Score)
	return nil
}
