package cmd

import (
	"fmt"

	"github.com/Tutortoise/vision-service/finetune"
	"github.com/spf13/cobra"
)

var finetuneOpts finetune.Config

var finetuneCmd = &cobra.Command{
	Use:   "finetune",
	Short: "Fine-tune a YOLOv8 detector on a retail dataset and export it to ONNX",
	Long: `Finetune writes a YOLO dataset configuration and runs the Ultralytics CLI
("yolo detect train" then "yolo export format=onnx"). The exported model can be
staged with "vision export" or served directly with --detector-model.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := finetuneOpts
		opts.Output = cmd.OutOrStdout()
		res, err := finetune.Run(cmd.Context(), opts)
		if err != nil {
			return err
		}
		if !opts.DryRun {
			fmt.Fprintf(cmd.OutOrStdout(), "Fine-tuned model exported to %s\n", res.ONNX)
		}
		return nil
	},
}

func init() {
	f := finetuneCmd.Flags()
	f.StringVarP(&finetuneOpts.DataDir, "data", "d", "", "Dataset root containing images/ and labels/")
	f.StringVarP(&finetuneOpts.Project, "project", "p", "runs", "Output directory for the dataset config and training runs")
	f.StringVar(&finetuneOpts.Name, "name", finetune.DefaultRunName, "Training run name")
	f.StringVarP(&finetuneOpts.BaseModel, "model", "m", finetune.DefaultBaseModel, "Pre-trained weights to start from")
	f.StringVar(&finetuneOpts.Trainer, "trainer", finetune.DefaultTrainer, "Ultralytics CLI executable")
	f.IntVarP(&finetuneOpts.Epochs, "epochs", "e", finetune.DefaultEpochs, "Training epochs")
	f.IntVar(&finetuneOpts.ImageSize, "imgsz", finetune.DefaultImageSize, "Training image size")
	f.IntVar(&finetuneOpts.Batch, "batch", finetune.DefaultBatch, "Batch size")
	f.IntVar(&finetuneOpts.Patience, "patience", finetune.DefaultPatience, "Early stopping patience in epochs")
	f.StringSliceVar(&finetuneOpts.Classes, "classes", finetune.DefaultClasses, "Class names in id order")
	f.BoolVar(&finetuneOpts.DryRun, "dry-run", false, "Print the trainer commands without running them")

	finetuneCmd.MarkFlagRequired("data")
	rootCmd.AddCommand(finetuneCmd)
}
