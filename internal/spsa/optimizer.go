package spsa

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"usitune/internal/metrics"
)

// Evaluator measures one candidate vector and returns the aggregate report.
// The production evaluator runs the full target batch through the engine;
// tests substitute a synthetic objective.
type Evaluator func(ctx context.Context, candidate string, theta ParamVector, env map[string]string) (metrics.Report, error)

// Recorder persists candidate evaluations for later trend inspection.
// Recording failures must not stop the search.
type Recorder interface {
	RecordEvaluation(ctx context.Context, candidate string, iteration int, kind string, report metrics.Report, theta ParamVector) error
}

// Candidate kinds as recorded in history.
const (
	KindBase    = "base"
	KindPlus    = "plus"
	KindMinus   = "minus"
	KindCurrent = "cur"
)

// Optimizer runs the SPSA loop. Each iteration evaluates exactly two
// perturbed vectors; the current point is optionally re-measured for
// monitoring and never feeds the gradient.
type Optimizer struct {
	cfg     Config
	eval    Evaluator
	rec     Recorder
	rng     *rand.Rand
	log     *zap.Logger
	evalCur bool
}

// Options tunes optimizer behavior outside the experiment config.
type Options struct {
	Seed            int64 // 0 means time-dependent behavior is fine; tests pass a fixed seed
	EvaluateCurrent bool  // re-measure theta after each update
}

// NewOptimizer builds an optimizer over a loaded config.
func NewOptimizer(cfg Config, eval Evaluator, rec Recorder, opts Options, log *zap.Logger) *Optimizer {
	if log == nil {
		log = zap.NewNop()
	}
	src := rand.NewSource(opts.Seed)
	if opts.Seed == 0 {
		src = rand.NewSource(rand.Int63())
	}
	return &Optimizer{
		cfg:     cfg,
		eval:    eval,
		rec:     rec,
		rng:     rand.New(src),
		log:     log,
		evalCur: opts.EvaluateCurrent,
	}
}

// Run executes the loop for a fixed iteration count and returns the final
// vector. No convergence is claimed; callers inspect the recorded trend.
func (o *Optimizer) Run(ctx context.Context, iters int) (ParamVector, error) {
	names := sortedNames(o.cfg.Params)

	theta := make(ParamVector, len(names))
	for _, name := range names {
		theta[name] = o.cfg.Params[name].Init
	}

	baseRep, err := o.measure(ctx, o.cfg.Name+"_base", 0, KindBase, theta)
	if err != nil {
		return nil, err
	}
	o.log.Info("baseline measured",
		zap.Float64("objective", objective(baseRep)),
		zap.Any("theta", theta))

	for it := 1; it <= iters; it++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ak := o.cfg.A0 / math.Pow(float64(it)+o.cfg.A, o.cfg.Alpha)
		ck := o.cfg.C0 / math.Pow(float64(it), o.cfg.Gamma)

		sign := make(map[string]int, len(names))
		for _, name := range names {
			if o.rng.Float64() < 0.5 {
				sign[name] = 1
			} else {
				sign[name] = -1
			}
		}

		plus := make(ParamVector, len(names))
		minus := make(ParamVector, len(names))
		for _, name := range names {
			d := o.cfg.Params[name]
			pert := int(math.Round(ck * float64(d.Step)))
			if pert < 1 {
				pert = 1
			}
			plus[name] = clampStep(theta[name]+sign[name]*pert, d)
			minus[name] = clampStep(theta[name]-sign[name]*pert, d)
		}

		repPlus, err := o.measure(ctx, fmt.Sprintf("%s_it%d_plus", o.cfg.Name, it), it, KindPlus, plus)
		if err != nil {
			return nil, err
		}
		repMinus, err := o.measure(ctx, fmt.Sprintf("%s_it%d_minus", o.cfg.Name, it), it, KindMinus, minus)
		if err != nil {
			return nil, err
		}
		jp, jm := objective(repPlus), objective(repMinus)

		for _, name := range names {
			d := o.cfg.Params[name]
			dist := plus[name] - minus[name]
			if dist < 0 {
				dist = -dist
			}
			if dist < 1 {
				dist = 1
			}
			g := (jp - jm) / float64(dist)
			proposed := int(math.Round(float64(theta[name]) - ak*g*float64(d.Step)))
			theta[name] = clampStep(proposed, d)
		}

		if o.evalCur {
			repCur, err := o.measure(ctx, fmt.Sprintf("%s_it%d_cur", o.cfg.Name, it), it, KindCurrent, theta)
			if err != nil {
				return nil, err
			}
			o.log.Info("iteration complete",
				zap.Int("iteration", it),
				zap.Float64("objective", objective(repCur)),
				zap.Any("theta", theta))
		} else {
			o.log.Info("iteration complete",
				zap.Int("iteration", it),
				zap.Float64("j_plus", jp),
				zap.Float64("j_minus", jm),
				zap.Any("theta", theta))
		}
	}
	return theta, nil
}

func (o *Optimizer) measure(ctx context.Context, candidate string, it int, kind string, theta ParamVector) (metrics.Report, error) {
	rep, err := o.eval(ctx, candidate, theta.Clone(), o.cfg.Env)
	if err != nil {
		return rep, fmt.Errorf("candidate %s: %w", candidate, err)
	}
	if o.rec != nil {
		if rerr := o.rec.RecordEvaluation(ctx, candidate, it, kind, rep, theta); rerr != nil {
			o.log.Warn("failed to record evaluation", zap.String("candidate", candidate), zap.Error(rerr))
		}
	}
	return rep, nil
}

// objective is the scalar to minimize. A report with no valid data scores 0
// so the gradient stays defined.
func objective(rep metrics.Report) float64 {
	if rep.SpikeRatePercent == nil {
		return 0
	}
	return *rep.SpikeRatePercent
}

// SaveTheta writes the final vector as {"theta": {...}}.
func SaveTheta(path string, theta ParamVector) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	data, err := json.MarshalIndent(map[string]ParamVector{"theta": theta}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal theta: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
