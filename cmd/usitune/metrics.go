package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"usitune/internal/metrics"
	"usitune/internal/runner"
	"usitune/internal/target"
)

var (
	metricsBadTh    int
	metricsProfile  string
	metricsFirstBad bool
)

// metricsCmd aggregates a result batch
var metricsCmd = &cobra.Command{
	Use:   "metrics [dir]",
	Short: "Aggregate spike-rate metrics from a result batch",
	Long: `Reads <dir>/summary.json and prints the aggregate report as JSON. With
--first-bad the aggregation is restricted to the shallowest rewind per
origin that already evaluates at or below the badness threshold, which
needs <dir>/targets.json for provenance.`,
	Args: cobra.ExactArgs(1),
	RunE: runMetrics,
}

func init() {
	metricsCmd.Flags().IntVar(&metricsBadTh, "bad-th", -600, "Badness threshold in centipawns")
	metricsCmd.Flags().StringVar(&metricsProfile, "profile", "", "Restrict to one profile's results")
	metricsCmd.Flags().BoolVar(&metricsFirstBad, "first-bad", false, "Aggregate only the first bad rewind per origin")
}

func runMetrics(cmd *cobra.Command, args []string) error {
	dir := args[0]

	results, err := runner.LoadResults(filepath.Join(dir, "summary.json"))
	if err != nil {
		return err
	}
	if metricsProfile != "" {
		var kept []runner.EvalResult
		for _, r := range results {
			if r.Profile == metricsProfile {
				kept = append(kept, r)
			}
		}
		results = kept
	}

	if metricsFirstBad {
		batch, err := target.LoadBatch(filepath.Join(dir, "targets.json"))
		if err != nil {
			return err
		}
		prof := metricsProfile
		if prof == "" {
			prof = "baseline"
		}
		results = metrics.FirstBadPerOrigin(batch, results, prof, metricsBadTh)
	}

	report := metrics.Aggregate(results, metricsBadTh)
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
