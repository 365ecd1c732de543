package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Tutortoise/vision-service/loadtest"
	"github.com/spf13/cobra"
)

var (
	loadtestOpts      loadtest.Config
	loadtestImagePath string
)

var loadtestCmd = &cobra.Command{
	Use:   "loadtest",
	Short: "Send concurrent requests to a running server and summarise the results",
	Example: `  vision loadtest --image shelf.jpg --endpoint detect -n 20 -c 5
  vision loadtest --image-url https://example.com/shelf.jpg --endpoint analyze`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := loadtestOpts
		if loadtestImagePath != "" {
			data, err := os.ReadFile(loadtestImagePath)
			if err != nil {
				return err
			}
			opts.Image = data
			opts.Filename = filepath.Base(loadtestImagePath)
		}
		opts.Progress = cmd.ErrOrStderr()

		summary, _, err := loadtest.Run(cmd.Context(), opts)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout())
		summary.Print(cmd.OutOrStdout())
		if summary.Failed > 0 {
			return fmt.Errorf("%d of %d requests failed", summary.Failed, summary.Requests)
		}
		return nil
	},
}

func init() {
	f := loadtestCmd.Flags()
	f.StringVarP(&loadtestOpts.BaseURL, "url", "u", envOr("VISION_URL", "http://localhost:5000"), "Server base URL")
	f.StringVarP(&loadtestOpts.Endpoint, "endpoint", "e", "predict", "Endpoint: predict, detect or analyze")
	f.StringVarP(&loadtestImagePath, "image", "i", "", "Image file uploaded as multipart field \"image\"")
	f.StringVar(&loadtestOpts.ImageURL, "image-url", "", "Image URL sent as a JSON body instead of a file")
	f.IntVarP(&loadtestOpts.Requests, "requests", "n", loadtest.DefaultRequests, "Total requests")
	f.IntVarP(&loadtestOpts.Concurrency, "concurrency", "c", loadtest.DefaultConcurrency, "Concurrent requests")
	f.DurationVar(&loadtestOpts.Timeout, "timeout", 0, "Per-request timeout (0 = none)")

	loadtestCmd.MarkFlagsOneRequired("image", "image-url")
	rootCmd.AddCommand(loadtestCmd)
}
