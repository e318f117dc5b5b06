package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/featmatch/internal/feature"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Cache management commands",
	Long:  `Commands for inspecting the descriptor cache and the match result cache.`,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show how many descriptor sets and match results are cached",
	Args:  cobra.NoArgs,
	RunE:  runCacheStats,
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the most recent cached match results",
	Args:  cobra.NoArgs,
	RunE:  runCacheList,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheListCmd)

	cacheStatsCmd.Flags().Bool("json", false, "Output as JSON")
	cacheListCmd.Flags().Bool("json", false, "Output as JSON")
	cacheListCmd.Flags().Int("limit", 20, "Maximum number of results to show")
}

// CacheStats is the --json form of cache stats.
type CacheStats struct {
	DescriptorBackend string `json:"descriptor_backend"`
	DescriptorSets    *int   `json:"descriptor_sets,omitempty"`
	ResultsBackend    string `json:"results_backend"`
	Results           *int   `json:"results,omitempty"`
}

// countDescriptorSets returns nil when the backend cannot enumerate its
// entries (sidecar files are scattered next to the images).
func (a *app) countDescriptorSets(ctx context.Context) (*int, error) {
	switch {
	case a.pgDescs != nil:
		images, err := a.pgDescs.Images(ctx)
		if err != nil {
			return nil, err
		}
		n := len(images)
		return &n, nil
	case a.blobs != nil && (a.cfg.Descriptors.Backend == "s3" || a.cfg.Descriptors.Dir != ""):
		names, err := a.blobs.List(ctx, "")
		if err != nil {
			return nil, err
		}
		n := len(names)
		return &n, nil
	default:
		return nil, nil
	}
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	stats := CacheStats{
		DescriptorBackend: cfg.Descriptors.Backend,
		ResultsBackend:    cfg.Results.Backend,
	}
	if stats.DescriptorSets, err = a.countDescriptorSets(ctx); err != nil {
		return fmt.Errorf("counting descriptor sets: %w", err)
	}
	if a.lister != nil {
		n, err := a.lister.Len(ctx)
		if err != nil {
			return fmt.Errorf("counting match results: %w", err)
		}
		stats.Results = &n
	}

	if jsonOutput {
		return outputJSON(stats)
	}

	fmt.Printf("Descriptor cache (%s): %s\n", stats.DescriptorBackend, countOrNA(stats.DescriptorSets, "sets"))
	if stats.Results == nil {
		fmt.Printf("Result cache (%s): disabled\n", stats.ResultsBackend)
	} else {
		fmt.Printf("Result cache (%s): %s\n", stats.ResultsBackend, countOrNA(stats.Results, "results"))
	}
	return nil
}

func countOrNA(n *int, unit string) string {
	if n == nil {
		return "not enumerable"
	}
	return fmt.Sprintf("%d %s", *n, unit)
}

func runCacheList(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	limit := mustGetInt(cmd, "limit")
	if limit <= 0 {
		return fmt.Errorf("%w: --limit must be positive", feature.ErrInvalidInput)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.lister == nil {
		return fmt.Errorf("%w: result cache is disabled", feature.ErrNotFound)
	}
	records, err := a.lister.List(ctx, limit)
	if err != nil {
		return err
	}

	if jsonOutput {
		return outputJSON(records)
	}
	if len(records) == 0 {
		fmt.Println("No cached results")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IMAGE A\tIMAGE B\tCHECKS\tRATIO\tCOUNT\tCREATED")
	fmt.Fprintln(w, "-------\t-------\t------\t-----\t-----\t-------")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%s\n",
			r.Key.ImageA, r.Key.ImageB, r.Key.MaxNNChecks, r.Key.RatioText(), r.Count,
			r.CreatedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}
