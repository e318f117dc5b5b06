package cmd

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/featmatch/internal/feature"
	"github.com/kozaktomas/featmatch/internal/pipeline"
)

// MatchOutput is the --json form of a match query.
type MatchOutput struct {
	ImageA         string          `json:"image_a"`
	ImageB         string          `json:"image_b"`
	Count          int             `json:"count"`
	Cached         bool            `json:"cached"`
	Degraded       bool            `json:"degraded,omitempty"`
	MaxNNChecks    int             `json:"max_nn_checks"`
	RatioThreshold float64         `json:"ratio_threshold"`
	RunID          string          `json:"run_id"`
	DurationMs     int64           `json:"duration_ms"`
	Matches        []feature.Match `json:"matches,omitempty"`
}

// barProgress reports matching progress on stderr.
type barProgress struct {
	bar *progressbar.ProgressBar
}

func (p *barProgress) Start(total int) {
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("Matching"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("descriptors"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)
}

func (p *barProgress) Step() {
	_ = p.bar.Add(1)
}

// requestParams applies the per-invocation overrides to the configured defaults.
func requestParams(cmd *cobra.Command, defaults feature.Params) feature.Params {
	params := defaults
	if cmd.Flags().Changed("max-nn-checks") {
		params.MaxNNChecks = mustGetInt(cmd, "max-nn-checks")
	}
	if cmd.Flags().Changed("ratio") {
		params.RatioThreshold = mustGetFloat64(cmd, "ratio")
	}
	return params
}

func runMatch(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	showProgress := mustGetBool(cmd, "progress")
	noCache := mustGetBool(cmd, "no-cache")
	includeMatches := mustGetBool(cmd, "include-matches")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	params := requestParams(cmd, cfg.Matcher.Params())
	if err := params.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, !noCache)
	if err != nil {
		return err
	}
	defer a.Close()

	req := pipeline.Request{ImageA: args[0], ImageB: args[1], Params: params}
	var bar *barProgress
	if showProgress {
		bar = &barProgress{}
		req.Progress = bar
	}

	out, err := a.pipeline.Count(ctx, req)
	if bar != nil && bar.bar != nil {
		_ = bar.bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		result := MatchOutput{
			ImageA:         out.Key.ImageA,
			ImageB:         out.Key.ImageB,
			Count:          out.Count,
			Cached:         out.Cached,
			Degraded:       out.Degraded,
			MaxNNChecks:    out.Key.MaxNNChecks,
			RatioThreshold: out.Key.RatioThreshold,
			RunID:          out.RunID,
			DurationMs:     out.Elapsed.Milliseconds(),
		}
		if includeMatches {
			result.Matches = out.Matches
		}
		return outputJSON(result)
	}

	fmt.Println(out.Count)
	return nil
}
