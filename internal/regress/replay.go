package regress

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"usitune/internal/profile"
	"usitune/internal/runner"
	"usitune/internal/spike"
	"usitune/internal/target"
)

// EngineReplay builds the production replay: it reconstructs the scenario's
// final position from its transcript, rewinds to each declared prefix length,
// and evaluates every prefix in a fresh engine session. A prefix whose
// session times out is simply absent from the summary; the suite turns that
// into a missing-prefix failure.
func EngineReplay(defaultEngine string, log *zap.Logger) ReplayFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context, scn Scenario) (map[int]PrefixResult, error) {
		engine := scn.Engine
		if engine == "" {
			engine = defaultEngine
		}
		if engine == "" {
			return nil, fmt.Errorf("scenario %s: no engine configured", scn.Name)
		}

		records, err := spike.ParseTranscriptFile(scn.Log, spike.Filter{})
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, fmt.Errorf("transcript %s has no decisions", scn.Log)
		}
		final := records[len(records)-1].PosAfter
		if final == "" {
			return nil, fmt.Errorf("transcript %s has no position data", scn.Log)
		}
		pos := target.ParsePosition(final)
		total := len(pos.Moves)

		r := runner.New(runner.Options{
			Engine:    engine,
			Threads:   scn.Threads,
			MultiPV:   scn.MultiPV,
			ByoyomiMs: scn.ByoyomiMs,
			OutDir:    scn.OutDir,
		}, log)

		summary := make(map[int]PrefixResult, len(scn.Prefixes))
		for _, p := range scn.Prefixes {
			back := total - p
			if back < 0 {
				back = 0
			}
			tgt := target.Target{
				Tag:         fmt.Sprintf("pre-%d", p),
				PrePosition: pos.Rewind(back).String(),
				OriginLog:   scn.Log,
			}
			res, err := r.Run(ctx, tgt, profile.Baseline())
			if err != nil {
				return nil, err
			}
			if res.Bestmove == "" {
				continue
			}
			pr := PrefixResult{
				Bestmove: res.Bestmove,
				Depth:    res.Depth,
				Seldepth: res.Seldepth,
			}
			if res.EvalCP != nil {
				pr.ScoreCP = *res.EvalCP
			}
			summary[p] = pr
		}
		return summary, nil
	}
}
