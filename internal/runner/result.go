package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// EvalResult is one session's outcome. EvalCP is nil when the session timed
// out or reported no score before its decision.
type EvalResult struct {
	Tag       string `json:"tag"`
	Profile   string `json:"profile"`
	EvalCP    *int   `json:"eval_cp"`
	Depth     int    `json:"depth"`
	Seldepth  int    `json:"seldepth,omitempty"`
	Bestmove  string `json:"bestmove,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
}

// MergeResults overlays fresh results onto existing ones, keyed by
// (tag, profile): a re-run of the same pair overwrites its previous record,
// everything else is appended. Output order is stable (profile, then tag).
func MergeResults(existing, fresh []EvalResult) []EvalResult {
	type key struct{ tag, profile string }
	index := make(map[key]int, len(existing))
	merged := make([]EvalResult, len(existing))
	copy(merged, existing)
	for i, r := range merged {
		index[key{r.Tag, r.Profile}] = i
	}
	for _, r := range fresh {
		k := key{r.Tag, r.Profile}
		if i, ok := index[k]; ok {
			merged[i] = r
		} else {
			index[k] = len(merged)
			merged = append(merged, r)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Profile != merged[j].Profile {
			return merged[i].Profile < merged[j].Profile
		}
		return merged[i].Tag < merged[j].Tag
	})
	return merged
}

// SaveResults writes the result batch JSON.
func SaveResults(path string, results []EvalResult) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadResults reads a result batch. Individual malformed records are
// skipped; a missing file is an error the caller decides about.
func LoadResults(path string) ([]EvalResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read results: %w", err)
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse results JSON: %w", err)
	}
	var results []EvalResult
	for _, msg := range raw {
		var r EvalResult
		if err := json.Unmarshal(msg, &r); err != nil || r.Tag == "" {
			continue
		}
		results = append(results, r)
	}
	return results, nil
}
