// Package regress replays declared game prefixes against the engine and
// verifies that scores, selective depth, and best moves stay within the
// bounds each scenario declares.
package regress

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// State tracks how far a scenario got before passing or failing.
type State string

const (
	StatePending  State = "pending"
	StateReplayed State = "replayed"
	StateParsed   State = "parsed"
	StateChecked  State = "checked"
	StatePass     State = "pass"
	StateFail     State = "fail"
)

// PrefixGuard tightens the checks for one replayed prefix: an optional
// allow-list of best moves and optional per-prefix score bounds.
type PrefixGuard struct {
	Prefix       int      `yaml:"prefix"`
	AllowedMoves []string `yaml:"allowed_moves,omitempty"`
	MinCP        *int     `yaml:"min_cp,omitempty"`
	MaxCP        *int     `yaml:"max_cp,omitempty"`
}

// Scenario declares one regression check: which transcript to replay, at
// which prefix lengths, and the bounds the replayed evaluations must satisfy.
type Scenario struct {
	Name         string        `yaml:"name"`
	Log          string        `yaml:"log"`
	Prefixes     []int         `yaml:"prefixes"`
	Threads      int           `yaml:"threads,omitempty"`
	MultiPV      int           `yaml:"multipv,omitempty"`
	ByoyomiMs    int           `yaml:"byoyomi_ms,omitempty"`
	Engine       string        `yaml:"engine,omitempty"`
	OutDir       string        `yaml:"out_dir,omitempty"`
	ScoreCPMin   *int          `yaml:"score_cp_min,omitempty"`
	ScoreCPMax   *int          `yaml:"score_cp_max,omitempty"`
	SeldepthMax  *int          `yaml:"seldepth_max,omitempty"`
	PrefixGuards []PrefixGuard `yaml:"prefix_guards,omitempty"`
}

type scenarioFile struct {
	Scenarios []Scenario `yaml:"scenarios"`
}

// LoadScenarios reads the scenario config. When requested is non-empty, only
// those scenarios are kept; a requested name that is not in the config is a
// fatal configuration error.
func LoadScenarios(path string, requested []string) ([]Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario config: %w", err)
	}
	var file scenarioFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse scenario config %s: %w", path, err)
	}
	if len(file.Scenarios) == 0 {
		return nil, fmt.Errorf("scenario config %s declares no scenarios", path)
	}

	known := make(map[string]bool, len(file.Scenarios))
	for i := range file.Scenarios {
		scn := &file.Scenarios[i]
		if scn.Name == "" {
			return nil, fmt.Errorf("scenario config %s has an unnamed scenario", path)
		}
		known[scn.Name] = true
		if scn.Threads <= 0 {
			scn.Threads = 8
		}
		if scn.MultiPV <= 0 {
			scn.MultiPV = 1
		}
		if scn.ByoyomiMs <= 0 {
			scn.ByoyomiMs = 10000
		}
	}

	if len(requested) == 0 {
		return file.Scenarios, nil
	}
	var missing []string
	for _, name := range requested {
		if !known[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("unknown scenarios requested: %v", missing)
	}
	wanted := make(map[string]bool, len(requested))
	for _, name := range requested {
		wanted[name] = true
	}
	var kept []Scenario
	for _, scn := range file.Scenarios {
		if wanted[scn.Name] {
			kept = append(kept, scn)
		}
	}
	return kept, nil
}

// PrefixResult is one replayed prefix's outcome.
type PrefixResult struct {
	Bestmove string
	Depth    int
	Seldepth int
	ScoreCP  int
}

// ReplayFunc produces per-prefix results for a scenario. The production
// implementation drives engine sessions; tests substitute canned summaries.
type ReplayFunc func(ctx context.Context, scn Scenario) (map[int]PrefixResult, error)

// ScenarioResult is the verdict for one scenario.
type ScenarioResult struct {
	Name     string
	State    State
	Passed   bool
	Reason   string
	Prefixes int
}

// Suite runs scenarios one after another. A failing scenario never stops the
// rest; the suite reports every verdict and whether any scenario failed.
type Suite struct {
	scenarios []Scenario
	replay    ReplayFunc
	log       *zap.Logger
}

// NewSuite builds a suite over loaded scenarios.
func NewSuite(scenarios []Scenario, replay ReplayFunc, log *zap.Logger) *Suite {
	if log == nil {
		log = zap.NewNop()
	}
	return &Suite{scenarios: scenarios, replay: replay, log: log}
}

// Run evaluates every scenario and returns all verdicts plus the overall
// failure flag (the logical OR across scenarios).
func (s *Suite) Run(ctx context.Context) ([]ScenarioResult, bool) {
	results := make([]ScenarioResult, 0, len(s.scenarios))
	anyFailed := false
	for _, scn := range s.scenarios {
		s.log.Info("running regression scenario", zap.String("scenario", scn.Name))
		res := s.runOne(ctx, scn)
		if !res.Passed {
			anyFailed = true
			s.log.Warn("scenario failed",
				zap.String("scenario", res.Name), zap.String("reason", res.Reason))
		} else {
			s.log.Info("scenario passed",
				zap.String("scenario", res.Name), zap.Int("prefixes", res.Prefixes))
		}
		results = append(results, res)
	}
	return results, anyFailed
}

func (s *Suite) runOne(ctx context.Context, scn Scenario) ScenarioResult {
	res := ScenarioResult{Name: scn.Name, State: StatePending}

	summary, err := s.replay(ctx, scn)
	if err != nil {
		res.State = StateFail
		res.Reason = fmt.Sprintf("replay: %v", err)
		return res
	}
	res.State = StateReplayed

	if reason := parseSummary(scn, summary); reason != "" {
		res.State = StateFail
		res.Reason = reason
		return res
	}
	res.State = StateParsed
	res.Prefixes = len(scn.Prefixes)

	if reason := checkBounds(scn, summary); reason != "" {
		res.State = StateFail
		res.Reason = reason
		return res
	}
	res.State = StatePass
	res.Passed = true
	return res
}

// parseSummary demands a known best move for every declared prefix. A prefix
// the replay could not decide on fails the scenario outright.
func parseSummary(scn Scenario, summary map[int]PrefixResult) string {
	for _, p := range scn.Prefixes {
		r, ok := summary[p]
		if !ok || r.Bestmove == "" {
			return fmt.Sprintf("prefix pre-%d missing in summary", p)
		}
	}
	return ""
}

// checkBounds applies the global bounds to every prefix, then the named
// guards. The first violation is the scenario's failure reason.
func checkBounds(scn Scenario, summary map[int]PrefixResult) string {
	for _, p := range scn.Prefixes {
		r := summary[p]
		if scn.ScoreCPMin != nil && r.ScoreCP < *scn.ScoreCPMin {
			return fmt.Sprintf("pre-%d: score %d < min %d", p, r.ScoreCP, *scn.ScoreCPMin)
		}
		if scn.ScoreCPMax != nil && r.ScoreCP > *scn.ScoreCPMax {
			return fmt.Sprintf("pre-%d: score %d > max %d", p, r.ScoreCP, *scn.ScoreCPMax)
		}
		if scn.SeldepthMax != nil && r.Seldepth > *scn.SeldepthMax {
			return fmt.Sprintf("pre-%d: seldepth %d > max %d", p, r.Seldepth, *scn.SeldepthMax)
		}
	}
	for _, g := range scn.PrefixGuards {
		r, ok := summary[g.Prefix]
		if !ok {
			return fmt.Sprintf("prefix guard pre-%d missing", g.Prefix)
		}
		if len(g.AllowedMoves) > 0 && !contains(g.AllowedMoves, r.Bestmove) {
			return fmt.Sprintf("pre-%d: bestmove %s not in %v", g.Prefix, r.Bestmove, g.AllowedMoves)
		}
		if g.MinCP != nil && r.ScoreCP < *g.MinCP {
			return fmt.Sprintf("pre-%d: score %d < guard min %d", g.Prefix, r.ScoreCP, *g.MinCP)
		}
		if g.MaxCP != nil && r.ScoreCP > *g.MaxCP {
			return fmt.Sprintf("pre-%d: score %d > guard max %d", g.Prefix, r.ScoreCP, *g.MaxCP)
		}
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
