package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "featmatch <image-a> <image-b>",
	Short: "Count confident local-feature matches between two images",
	Long: `featmatch counts how many local features of the first image have a
confident counterpart in the second image. A feature matches when its nearest
neighbor in the second image is clearly closer than the runner-up (ratio test).

Descriptor sets and match counts are cached, so repeating a query is cheap.
Configuration comes from defaults, an optional YAML file (--config) and
environment variables (a .env file is loaded when present).`,
	Args:          cobra.ExactArgs(2),
	RunE:          runMatch,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI. An interrupt cancels the running command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML configuration file")

	rootCmd.Flags().Bool("json", false, "Output as JSON")
	rootCmd.Flags().Bool("progress", false, "Show a progress bar while matching")
	rootCmd.Flags().Bool("no-cache", false, "Do not read or write the match result cache")
	rootCmd.Flags().Bool("include-matches", false, "Include the accepted matches in JSON output")
	rootCmd.Flags().Int("max-nn-checks", 0, "Neighbor search effort budget (default from config)")
	rootCmd.Flags().Float64("ratio", 0, "Ratio test threshold in (0, 1] (default from config)")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
