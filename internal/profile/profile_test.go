package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionCommand(t *testing.T) {
	assert.Equal(t, "setoption name Threads value 8",
		Scalar("Threads", "8").Command())
	assert.Equal(t, "setoption name FinalizeSanity.SwitchMarginCp value 30",
		Grouped("FinalizeSanity", "SwitchMarginCp", "30").Command())
}

func TestLoad(t *testing.T) {
	content := `profiles:
  - name: baseline
    options:
      MultiPV: "2"
  - name: guarded
    options:
      MultiPV: "2"
      RootSeeGate: "true"
    group_options:
      FinalizeSanity:
        SwitchMarginCp: "30"
        BudgetMs: "10"
      PostVerify:
        YDrop: "300"
    env:
      QUIET_SEE_GUARD: "1"
`
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	profiles, err := Load(path)
	require.NoError(t, err)
	require.Len(t, profiles, 2)

	assert.Equal(t, "baseline", profiles[0].Name)
	require.Len(t, profiles[0].Options, 1)

	guarded := profiles[1]
	assert.Equal(t, "guarded", guarded.Name)
	assert.Equal(t, "1", guarded.Env["QUIET_SEE_GUARD"])

	var commands []string
	for _, o := range guarded.Options {
		commands = append(commands, o.Command())
	}
	// Scalars first, then grouped options, deterministically ordered.
	assert.Equal(t, []string{
		"setoption name MultiPV value 2",
		"setoption name RootSeeGate value true",
		"setoption name FinalizeSanity.BudgetMs value 10",
		"setoption name FinalizeSanity.SwitchMarginCp value 30",
		"setoption name PostVerify.YDrop value 300",
	}, commands)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("profiles: []\n"), 0o644))
	_, err = Load(empty)
	assert.Error(t, err)

	unnamed := filepath.Join(t.TempDir(), "unnamed.yaml")
	require.NoError(t, os.WriteFile(unnamed, []byte("profiles:\n  - options: {MultiPV: \"1\"}\n"), 0o644))
	_, err = Load(unnamed)
	assert.Error(t, err)
}

func TestBaseline(t *testing.T) {
	b := Baseline()
	assert.Equal(t, "baseline", b.Name)
	assert.Empty(t, b.Options)
}
