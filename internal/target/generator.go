package target

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"usitune/internal/spike"
)

// Target is one reproducible test position with its provenance.
type Target struct {
	Tag         string `json:"tag"`
	PrePosition string `json:"pre_position"`
	OriginLog   string `json:"origin_log"`
	OriginPly   int    `json:"origin_ply"`
	OriginDelta int    `json:"origin_delta"`
	BackPlies   int    `json:"back_plies"`
}

// Batch is the persisted target set consumed by runner passes. It is built
// once and treated as immutable afterwards.
type Batch struct {
	Targets []Target `json:"targets"`
}

// Generator expands spikes into rewound positions. The dedup set spans the
// whole batch, so identical positions reached from different spikes (or
// different transcripts) are emitted exactly once, first writer wins.
type Generator struct {
	seen map[string]struct{}
	log  *zap.Logger
}

// NewGenerator returns a Generator with an empty dedup context.
func NewGenerator(log *zap.Logger) *Generator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Generator{seen: make(map[string]struct{}), log: log}
}

// Expand emits one Target per (spike, rewind depth) over [backMin, backMax],
// rewinding from the position immediately after the spiking decision.
// Rewound positions already emitted in this batch are skipped.
func (g *Generator) Expand(spikes []spike.Spike, records []spike.Record, origin string, backMin, backMax int) []Target {
	var targets []Target
	stem := strings.TrimSuffix(origin, filepath.Ext(origin))

	for _, sp := range spikes {
		if sp.Ply < 1 || sp.Ply > len(records) {
			continue
		}
		posAfter := records[sp.Ply-1].PosAfter
		if posAfter == "" {
			g.log.Debug("spike without position, skipping",
				zap.String("origin", origin), zap.Int("ply", sp.Ply))
			continue
		}
		after := ParsePosition(posAfter)
		for k := backMin; k <= backMax; k++ {
			pre := after.Rewind(k).String()
			if pre == "" {
				continue
			}
			if _, dup := g.seen[pre]; dup {
				continue
			}
			g.seen[pre] = struct{}{}
			targets = append(targets, Target{
				Tag:         Tag(stem, sp.Ply, k),
				PrePosition: pre,
				OriginLog:   origin,
				OriginPly:   sp.Ply,
				OriginDelta: sp.Delta,
				BackPlies:   k,
			})
		}
	}
	return targets
}

// Tag builds the deterministic target key. The same (origin, ply, back)
// always yields the same tag, which is what makes re-runs and optimizer
// caching idempotent.
func Tag(stem string, ply, back int) string {
	return fmt.Sprintf("%s_ply%d_back%d", stem, ply, back)
}

// SaveBatch writes the batch JSON to path.
func SaveBatch(path string, b *Batch) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal targets: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadBatch reads a batch from path. A missing file is a configuration
// error; individual records that fail to decode are skipped, not fatal.
func LoadBatch(path string) (*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read targets: %w", err)
	}
	var raw struct {
		Targets []json.RawMessage `json:"targets"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse targets JSON: %w", err)
	}
	b := &Batch{}
	for _, msg := range raw.Targets {
		var t Target
		if err := json.Unmarshal(msg, &t); err != nil || t.Tag == "" {
			continue
		}
		b.Targets = append(b.Targets, t)
	}
	return b, nil
}
