package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"usitune/internal/spike"
	"usitune/internal/target"
)

var (
	extractThreshold int
	extractTopK      int
	extractBackMin   int
	extractBackMax   int
	extractBack      int
	extractForward   int
	extractOut       string
	extractInclude   string
	extractExclude   string
)

// extractCmd mines transcripts into a target batch
var extractCmd = &cobra.Command{
	Use:   "extract [transcripts...]",
	Short: "Mine transcripts for evaluation spikes and generate a target batch",
	Long: `Parses one or more USI game transcripts into per-ply evaluation series,
flags adjacent-ply swings above the threshold, and rewinds each spiking
position by every depth in [back-min, back-max] into a deduplicated batch
of test targets.

Outputs under --out: targets.json, evals.csv, prefixes.txt, summary.txt.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().IntVar(&extractThreshold, "threshold", 300, "Spike threshold in centipawns")
	extractCmd.Flags().IntVar(&extractTopK, "topk", 0, "Keep only the K largest spikes per transcript (0 = all)")
	extractCmd.Flags().IntVar(&extractBackMin, "back-min", 1, "Smallest rewind depth per spike")
	extractCmd.Flags().IntVar(&extractBackMax, "back-max", 3, "Largest rewind depth per spike")
	extractCmd.Flags().IntVar(&extractBack, "back", 2, "Replay window radius before each spike ply")
	extractCmd.Flags().IntVar(&extractForward, "forward", 2, "Replay window radius after each spike ply")
	extractCmd.Flags().StringVar(&extractOut, "out", "runs/targets", "Output directory")
	extractCmd.Flags().StringVar(&extractInclude, "include", "", "Only consider transcript lines matching this regexp")
	extractCmd.Flags().StringVar(&extractExclude, "exclude", "", "Skip transcript lines matching this regexp")
}

func runExtract(cmd *cobra.Command, args []string) error {
	if extractBackMin < 1 || extractBackMax < extractBackMin {
		return fmt.Errorf("invalid rewind range [%d, %d]", extractBackMin, extractBackMax)
	}
	filter, err := buildFilter(extractInclude, extractExclude)
	if err != nil {
		return err
	}

	gen := target.NewGenerator(logger)
	batch := &target.Batch{}

	var evalsCSV strings.Builder
	evalsCSV.WriteString("log,ply,move,eval_cp\n")
	var prefixes strings.Builder
	var summary strings.Builder

	totalSpikes := 0
	for _, path := range args {
		records, err := spike.ParseTranscriptFile(path, filter)
		if err != nil {
			return err
		}
		spikes := spike.DetectSpikes(spike.Evals(records), extractThreshold)
		spikes = spike.TopK(spikes, extractTopK)
		totalSpikes += len(spikes)

		origin := filepath.Base(path)
		targets := gen.Expand(spikes, records, origin, extractBackMin, extractBackMax)
		batch.Targets = append(batch.Targets, targets...)

		for _, r := range records {
			fmt.Fprintf(&evalsCSV, "%s,%d,%s,%d\n", origin, r.Ply, r.Move, r.EvalCP)
		}

		plies := make([]int, 0, len(spikes))
		for _, sp := range spikes {
			plies = append(plies, sp.Ply)
		}
		window := spike.ExpandWindows(plies, extractBack, extractForward, len(records))
		fmt.Fprintf(&prefixes, "%s %s\n", origin, joinInts(window))

		fmt.Fprintf(&summary, "%s: records=%d spikes=%d targets=%d\n",
			origin, len(records), len(spikes), len(targets))
		logger.Info("transcript processed",
			zap.String("transcript", origin),
			zap.Int("records", len(records)),
			zap.Int("spikes", len(spikes)),
			zap.Int("targets", len(targets)))
	}
	fmt.Fprintf(&summary, "total: transcripts=%d spikes=%d targets=%d\n",
		len(args), totalSpikes, len(batch.Targets))

	if err := target.SaveBatch(filepath.Join(extractOut, "targets.json"), batch); err != nil {
		return err
	}
	for name, body := range map[string]string{
		"evals.csv":    evalsCSV.String(),
		"prefixes.txt": prefixes.String(),
		"summary.txt":  summary.String(),
	} {
		if err := os.WriteFile(filepath.Join(extractOut, name), []byte(body), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}

	logger.Info("target batch written",
		zap.String("out", extractOut), zap.Int("targets", len(batch.Targets)))
	return nil
}

func buildFilter(include, exclude string) (spike.Filter, error) {
	var filter spike.Filter
	if include != "" {
		re, err := regexp.Compile(include)
		if err != nil {
			return filter, fmt.Errorf("invalid --include pattern: %w", err)
		}
		filter.Include = re
	}
	if exclude != "" {
		re, err := regexp.Compile(exclude)
		if err != nil {
			return filter, fmt.Errorf("invalid --exclude pattern: %w", err)
		}
		filter.Exclude = re
	}
	return filter, nil
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, " ")
}
