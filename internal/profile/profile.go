// Package profile models the named configuration bundles an engine is
// evaluated under: USI options, grouped tunables, and process environment
// overrides.
package profile

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Option is a tagged setoption variant. Whether an option is sent bare or
// under a parameter group is decided when the configuration is built, never
// by inspecting the name at send time.
type Option struct {
	Group string // empty for a bare engine option
	Name  string
	Value string
}

// Scalar builds a bare option.
func Scalar(name, value string) Option {
	return Option{Name: name, Value: value}
}

// Grouped builds an option namespaced under a logical parameter group.
func Grouped(group, name, value string) Option {
	return Option{Group: group, Name: name, Value: value}
}

// Command renders the setoption wire form.
func (o Option) Command() string {
	name := o.Name
	if o.Group != "" {
		name = o.Group + "." + o.Name
	}
	return fmt.Sprintf("setoption name %s value %s", name, o.Value)
}

// Profile is one named option bundle.
type Profile struct {
	Name    string
	Options []Option
	Env     map[string]string
}

// fileProfile is the YAML shape. Flat options are sent bare; group_options
// nest one map per parameter group.
type fileProfile struct {
	Name         string                       `yaml:"name"`
	Options      map[string]string            `yaml:"options"`
	GroupOptions map[string]map[string]string `yaml:"group_options"`
	Env          map[string]string            `yaml:"env"`
}

type fileSet struct {
	Profiles []fileProfile `yaml:"profiles"`
}

// Load reads a YAML profile set. A missing file or an unnamed profile is a
// configuration error.
func Load(path string) ([]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles: %w", err)
	}
	var fs fileSet
	if err := yaml.Unmarshal(data, &fs); err != nil {
		return nil, fmt.Errorf("failed to parse profiles YAML: %w", err)
	}
	if len(fs.Profiles) == 0 {
		return nil, fmt.Errorf("profile file has no profiles: %s", path)
	}

	profiles := make([]Profile, 0, len(fs.Profiles))
	for _, fp := range fs.Profiles {
		if fp.Name == "" {
			return nil, fmt.Errorf("profile without a name in %s", path)
		}
		p := Profile{Name: fp.Name, Env: fp.Env}
		for _, name := range sortedKeys(fp.Options) {
			p.Options = append(p.Options, Scalar(name, fp.Options[name]))
		}
		for _, group := range sortedKeys(fp.GroupOptions) {
			opts := fp.GroupOptions[group]
			for _, name := range sortedKeys(opts) {
				p.Options = append(p.Options, Grouped(group, name, opts[name]))
			}
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// Baseline is the implicit profile used when no profile file is given.
func Baseline() Profile {
	return Profile{Name: "baseline"}
}

func sortedKeys[M map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
