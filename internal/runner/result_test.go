package runner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int { return &v }

func TestMergeResults(t *testing.T) {
	existing := []EvalResult{
		{Tag: "t1", Profile: "a", EvalCP: intp(-100), Depth: 5},
		{Tag: "t2", Profile: "a", EvalCP: intp(-200), Depth: 6},
	}
	fresh := []EvalResult{
		{Tag: "t1", Profile: "a", EvalCP: intp(-150), Depth: 9}, // overwrite
		{Tag: "t1", Profile: "b", EvalCP: intp(-300), Depth: 7}, // append
	}

	merged := MergeResults(existing, fresh)
	require.Len(t, merged, 3)

	assert.Equal(t, "a", merged[0].Profile)
	assert.Equal(t, "t1", merged[0].Tag)
	assert.Equal(t, -150, *merged[0].EvalCP)
	assert.Equal(t, 9, merged[0].Depth)
	assert.Equal(t, "t2", merged[1].Tag)
	assert.Equal(t, "b", merged[2].Profile)
}

func TestResultsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.json")
	results := []EvalResult{
		{Tag: "t1", Profile: "a", EvalCP: intp(-700), Depth: 12, Bestmove: "2b8h"},
		{Tag: "t2", Profile: "a", EvalCP: nil, Depth: 0}, // timed-out session
	}
	require.NoError(t, SaveResults(path, results))

	loaded, err := LoadResults(path)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, -700, *loaded[0].EvalCP)
	assert.Nil(t, loaded[1].EvalCP)
}

func TestLoadResultsSkipsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.json")
	blob := `[{"tag":"ok","profile":"a","eval_cp":-5,"depth":3},{"profile":"no-tag"},"junk"]`
	require.NoError(t, os.WriteFile(path, []byte(blob), 0o644))

	loaded, err := LoadResults(path)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "ok", loaded[0].Tag)
}
