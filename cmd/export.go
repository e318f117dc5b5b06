package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/featmatch/internal/feature"
)

var exportCmd = &cobra.Command{
	Use:   "export <image>",
	Short: "Write the descriptor set of an image",
	Long: `Write the descriptor set of an image in Lowe keypoint format (or JSON).
The set comes from the descriptor cache; the detector runs only when the
image has not been seen before.`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringP("output", "o", "", "Output file (default stdout)")
	exportCmd.Flags().Bool("json", false, "Output as JSON instead of Lowe format")
}

func runExport(cmd *cobra.Command, args []string) error {
	output := mustGetString(cmd, "output")
	jsonOutput := mustGetBool(cmd, "json")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	set, err := a.descriptors.LoadOrCompute(ctx, args[0])
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output) //nolint:gosec // path is provided by the operator
		if err != nil {
			return fmt.Errorf("creating %s: %w", output, err)
		}
		defer f.Close()
		w = f
	}

	if jsonOutput {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(set); err != nil {
			return fmt.Errorf("encoding JSON output: %w", err)
		}
	} else if err := feature.WriteLowe(w, set); err != nil {
		return fmt.Errorf("writing descriptors: %w", err)
	}

	if output != "" {
		fmt.Fprintf(os.Stderr, "Wrote %d descriptors to %s\n", set.Len(), output)
	}
	return nil
}
