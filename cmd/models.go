package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/Tutortoise/vision-service/repository"
	"github.com/spf13/cobra"
)

var modelsRegistry string

var modelsCmd = &cobra.Command{
	Use:   "models [name]",
	Short: "List exported model versions",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		return runModels(cmd, name)
	},
}

func init() {
	modelsCmd.Flags().StringVar(&modelsRegistry, "registry", "vision-registry.db", "Model registry database")
	rootCmd.AddCommand(modelsCmd)
}

func runModels(cmd *cobra.Command, name string) error {
	registry, err := repository.OpenRegistry(modelsRegistry)
	if err != nil {
		return err
	}
	defer registry.Close()

	versions, err := registry.List(name)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(versions) == 0 {
		fmt.Fprintln(out, "No models found in registry.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "NAME\tVERSION\tINPUTS\tSIZE\tSHA256\tEXPORTED\tPATH")
	fmt.Fprintln(w, "----\t-------\t------\t----\t------\t--------\t----")
	for _, mv := range versions {
		inputs := make([]string, 0, len(mv.Inputs))
		for _, in := range mv.Inputs {
			inputs = append(inputs, fmt.Sprintf("%s%v", in.Name, in.Shape))
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%.12s\t%s\t%s\n",
			mv.Name, mv.Version, strings.Join(inputs, ","), mv.Size, mv.SHA256,
			mv.ExportedAt.Local().Format("2006-01-02 15:04"), mv.Path)
	}
	return w.Flush()
}
