package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"usitune/internal/history"
	"usitune/internal/metrics"
	"usitune/internal/profile"
	"usitune/internal/runner"
	"usitune/internal/spsa"
	"usitune/internal/target"
)

var (
	spsaDataset  string
	spsaWork     string
	spsaConfig   string
	spsaIters    int
	spsaThreads  int
	spsaByoyomi  int
	spsaMinThink int
	spsaParallel int
	spsaHistory  string
)

// spsaCmd runs the SPSA tuning loop
var spsaCmd = &cobra.Command{
	Use:   "spsa",
	Short: "Tune integer engine parameters with SPSA",
	Long: `Runs a bounded SPSA search minimizing the spike rate over a fixed target
batch. Each iteration evaluates two randomly perturbed parameter vectors;
every candidate gets its own work subdirectory with a full result batch.
The final vector is written as <work>/<name>_final_theta.json.`,
	RunE: runSPSA,
}

func init() {
	spsaCmd.Flags().StringVar(&spsaDataset, "dataset", "", "Directory holding targets.json (required)")
	spsaCmd.Flags().StringVar(&spsaWork, "work", "", "Work directory for candidate evaluations (required)")
	spsaCmd.Flags().StringVar(&spsaConfig, "config", "", "Experiment config YAML (required)")
	spsaCmd.Flags().IntVar(&spsaIters, "iters", 10, "Iteration count")
	spsaCmd.Flags().IntVar(&spsaThreads, "threads", 8, "Engine thread count")
	spsaCmd.Flags().IntVar(&spsaByoyomi, "byoyomi", 10000, "Think time per position in ms")
	spsaCmd.Flags().IntVar(&spsaMinThink, "minthink", 100, "Minimum thinking time in ms")
	spsaCmd.Flags().IntVar(&spsaParallel, "parallel", 1, "Max concurrent sessions per candidate")
	spsaCmd.Flags().StringVar(&spsaHistory, "history", "", "SQLite database recording the candidate trend")
	_ = spsaCmd.MarkFlagRequired("dataset")
	_ = spsaCmd.MarkFlagRequired("work")
	_ = spsaCmd.MarkFlagRequired("config")
}

func runSPSA(cmd *cobra.Command, args []string) error {
	if err := requireEngine(); err != nil {
		return err
	}

	cfg, err := spsa.LoadConfig(spsaConfig)
	if err != nil {
		return err
	}
	batch, err := target.LoadBatch(filepath.Join(spsaDataset, "targets.json"))
	if err != nil {
		return err
	}

	// Trend recording is best-effort: a broken history DB never stops tuning.
	var rec spsa.Recorder
	if spsaHistory != "" {
		store, err := history.Open(spsaHistory)
		if err != nil {
			logger.Warn("history database unavailable", zap.Error(err))
		} else {
			defer store.Close()
			rec = store
			logger.Info("recording trend", zap.String("run_id", store.RunID()))
		}
	}

	opt := spsa.NewOptimizer(cfg, engineEvaluator(batch, cfg.BadThresholdCP), rec,
		spsa.Options{EvaluateCurrent: true}, logger)
	theta, err := opt.Run(cmd.Context(), spsaIters)
	if err != nil {
		return err
	}

	finalPath := filepath.Join(spsaWork, cfg.Name+"_final_theta.json")
	if err := spsa.SaveTheta(finalPath, theta); err != nil {
		return err
	}
	logger.Info("wrote final theta", zap.String("path", finalPath))

	data, err := json.MarshalIndent(map[string]spsa.ParamVector{"theta": theta}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal theta: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// engineEvaluator turns a candidate vector into a one-profile run over the
// dataset and reduces it to the aggregate report.
func engineEvaluator(batch *target.Batch, badTh int) spsa.Evaluator {
	return func(ctx context.Context, candidate string, theta spsa.ParamVector, env map[string]string) (metrics.Report, error) {
		prof := profile.Profile{Name: candidate, Env: env}
		names := make([]string, 0, len(theta))
		for name := range theta {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			prof.Options = append(prof.Options, profile.Scalar(name, strconv.Itoa(theta[name])))
		}

		dir := filepath.Join(spsaWork, candidate)
		r := runner.New(runner.Options{
			Engine:     engine,
			Threads:    spsaThreads,
			MinThinkMs: spsaMinThink,
			ByoyomiMs:  spsaByoyomi,
			OutDir:     filepath.Join(dir, "sessions"),
			Parallel:   spsaParallel,
		}, logger)

		results, err := r.RunAll(ctx, batch, []profile.Profile{prof})
		if err != nil {
			return metrics.Report{}, err
		}
		if err := runner.SaveResults(filepath.Join(dir, "summary.json"), results); err != nil {
			logger.Warn("failed to persist candidate results",
				zap.String("candidate", candidate), zap.Error(err))
		}
		return metrics.Aggregate(results, badTh), nil
	}
}
