package main

import (
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"usitune/internal/profile"
	"usitune/internal/runner"
	"usitune/internal/target"
)

var (
	runProfiles string
	runThreads  int
	runHashMB   int
	runMultiPV  int
	runMinThink int
	runByoyomi  int
	runParallel int
)

// runCmd replays a target batch across profiles
var runCmd = &cobra.Command{
	Use:   "run [dir]",
	Short: "Evaluate a target batch across named profiles",
	Long: `Reads <dir>/targets.json and evaluates every (target, profile) pair in a
fresh engine session. Results merge into <dir>/summary.json keyed by
(tag, profile), so re-runs overwrite only the pairs they touch. Raw session
lines land under <dir>/sessions/.`,
	Args: cobra.ExactArgs(1),
	RunE: runTargets,
}

func init() {
	runCmd.Flags().StringVar(&runProfiles, "profiles", "", "YAML profile set (default: the baseline profile)")
	runCmd.Flags().IntVar(&runThreads, "threads", 8, "Engine thread count")
	runCmd.Flags().IntVar(&runHashMB, "hash", 0, "Engine hash size in MB (0 = engine default)")
	runCmd.Flags().IntVar(&runMultiPV, "multipv", 1, "Lines of play the engine reports")
	runCmd.Flags().IntVar(&runMinThink, "minthink", 0, "Minimum thinking time in ms (0 = engine default)")
	runCmd.Flags().IntVar(&runByoyomi, "byoyomi", 10000, "Think time per position in ms")
	runCmd.Flags().IntVar(&runParallel, "parallel", 1, "Max concurrent sessions")
}

func runTargets(cmd *cobra.Command, args []string) error {
	if err := requireEngine(); err != nil {
		return err
	}
	dir := args[0]

	batch, err := target.LoadBatch(filepath.Join(dir, "targets.json"))
	if err != nil {
		return err
	}

	profiles := []profile.Profile{profile.Baseline()}
	if runProfiles != "" {
		profiles, err = profile.Load(runProfiles)
		if err != nil {
			return err
		}
	}

	r := runner.New(runner.Options{
		Engine:     engine,
		Threads:    runThreads,
		HashMB:     runHashMB,
		MultiPV:    runMultiPV,
		MinThinkMs: runMinThink,
		ByoyomiMs:  runByoyomi,
		OutDir:     filepath.Join(dir, "sessions"),
		Parallel:   runParallel,
	}, logger)

	fresh, err := r.RunAll(cmd.Context(), batch, profiles)
	if err != nil {
		return err
	}

	summaryPath := filepath.Join(dir, "summary.json")
	// A missing summary just means this is the first pass.
	existing, err := runner.LoadResults(summaryPath)
	if err != nil {
		existing = nil
	}
	merged := runner.MergeResults(existing, fresh)
	if err := runner.SaveResults(summaryPath, merged); err != nil {
		return err
	}

	logger.Info("run complete",
		zap.Int("targets", len(batch.Targets)),
		zap.Int("profiles", len(profiles)),
		zap.Int("results", len(merged)),
		zap.String("summary", summaryPath))
	return nil
}
