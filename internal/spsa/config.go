// Package spsa implements a bounded SPSA search over integer engine
// parameters, minimizing the spike rate measured on a fixed target batch.
package spsa

import (
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Domain declares one tunable: its starting value and the integer grid it
// may move on.
type Domain struct {
	Init int `yaml:"init"`
	Min  int `yaml:"min"`
	Max  int `yaml:"max"`
	Step int `yaml:"step"`
}

// Config is the optimizer setup. The schedule constants follow the usual
// SPSA recommendations and may be overridden per experiment.
type Config struct {
	Name           string            `yaml:"name"`
	BadThresholdCP int               `yaml:"bad_th"`
	A0             float64           `yaml:"a0"`
	C0             float64           `yaml:"c0"`
	A              float64           `yaml:"A"`
	Alpha          float64           `yaml:"alpha"`
	Gamma          float64           `yaml:"gamma"`
	Params         map[string]Domain `yaml:"params"`
	Env            map[string]string `yaml:"env"`
}

const (
	defaultA0    = 0.5
	defaultC0    = 1.0
	defaultA     = 5
	defaultAlpha = 0.602
	defaultGamma = 0.101
	defaultBadTh = -600
)

// LoadConfig reads and validates an experiment config, filling schedule
// defaults for anything left unset.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read optimizer config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse optimizer config %s: %w", path, err)
	}
	if cfg.Name == "" {
		cfg.Name = "spsa"
	}
	if cfg.BadThresholdCP == 0 {
		cfg.BadThresholdCP = defaultBadTh
	}
	if cfg.A0 == 0 {
		cfg.A0 = defaultA0
	}
	if cfg.C0 == 0 {
		cfg.C0 = defaultC0
	}
	if cfg.A == 0 {
		cfg.A = defaultA
	}
	if cfg.Alpha == 0 {
		cfg.Alpha = defaultAlpha
	}
	if cfg.Gamma == 0 {
		cfg.Gamma = defaultGamma
	}
	if len(cfg.Params) == 0 {
		return cfg, fmt.Errorf("optimizer config %s declares no params", path)
	}
	for name, d := range cfg.Params {
		if d.Step <= 0 {
			d.Step = 1
			cfg.Params[name] = d
		}
		if d.Min > d.Max {
			return cfg, fmt.Errorf("param %s: min %d > max %d", name, d.Min, d.Max)
		}
	}
	return cfg, nil
}

// ParamVector maps tunable names to their current integer values.
type ParamVector map[string]int

// Clone copies the vector.
func (v ParamVector) Clone() ParamVector {
	out := make(ParamVector, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// sortedNames fixes the iteration order so that random draws are
// reproducible under a seeded source.
func sortedNames(params map[string]Domain) []string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// clampStep confines a proposed value to the domain and snaps it to the step
// grid anchored at min.
func clampStep(x int, d Domain) int {
	if x < d.Min {
		x = d.Min
	}
	if x > d.Max {
		x = d.Max
	}
	if d.Step > 1 {
		r := int(math.Round(float64(x-d.Min)/float64(d.Step)))*d.Step + d.Min
		if r < d.Min {
			r = d.Min
		}
		if r > d.Max {
			r = d.Max
		}
		return r
	}
	return x
}
