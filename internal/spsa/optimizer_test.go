package spsa

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usitune/internal/metrics"
)

func ratep(v float64) *float64 { return &v }

func flatEvaluator(rate float64) Evaluator {
	return func(_ context.Context, _ string, _ ParamVector, _ map[string]string) (metrics.Report, error) {
		return metrics.Report{Valid: 1, SpikeRatePercent: ratep(rate)}, nil
	}
}

func testConfig() Config {
	return Config{
		Name:           "exp",
		BadThresholdCP: -600,
		A0:             0.5,
		C0:             1.0,
		A:              5,
		Alpha:          0.602,
		Gamma:          0.101,
		Params: map[string]Domain{
			"LMR_K_x100":       {Init: 160, Min: 120, Max: 200, Step: 2},
			"QS_BadCaptureMin": {Init: 400, Min: 300, Max: 600, Step: 10},
		},
	}
}

func TestClampStep(t *testing.T) {
	d := Domain{Min: 100, Max: 200, Step: 10}

	assert.Equal(t, 160, clampStep(157, d))
	assert.Equal(t, 100, clampStep(42, d))   // below min
	assert.Equal(t, 200, clampStep(215, d))  // above max
	assert.Equal(t, 100, clampStep(104, d))  // snaps down
	assert.Equal(t, 110, clampStep(106, d))  // snaps up

	// Unit step passes clamped values through untouched.
	assert.Equal(t, 7, clampStep(7, Domain{Min: 0, Max: 10, Step: 1}))
}

func TestClampStepAlwaysOnGrid(t *testing.T) {
	d := Domain{Min: 120, Max: 200, Step: 2}
	for x := 50; x <= 260; x++ {
		v := clampStep(x, d)
		assert.GreaterOrEqual(t, v, d.Min)
		assert.LessOrEqual(t, v, d.Max)
		assert.Zero(t, (v-d.Min)%d.Step, "x=%d v=%d", x, v)
	}
}

type recordedEval struct {
	candidate string
	iteration int
	kind      string
	theta     ParamVector
}

type memRecorder struct {
	evals []recordedEval
}

func (m *memRecorder) RecordEvaluation(_ context.Context, candidate string, it int, kind string, _ metrics.Report, theta ParamVector) error {
	m.evals = append(m.evals, recordedEval{candidate, it, kind, theta.Clone()})
	return nil
}

func TestRunEvaluationSchedule(t *testing.T) {
	rec := &memRecorder{}
	opt := NewOptimizer(testConfig(), flatEvaluator(25.0), rec, Options{Seed: 1, EvaluateCurrent: true}, nil)

	theta, err := opt.Run(context.Background(), 3)
	require.NoError(t, err)
	require.NotNil(t, theta)

	// base + (plus, minus, cur) per iteration
	require.Len(t, rec.evals, 1+3*3)
	assert.Equal(t, "exp_base", rec.evals[0].candidate)
	assert.Equal(t, KindBase, rec.evals[0].kind)
	assert.Equal(t, "exp_it1_plus", rec.evals[1].candidate)
	assert.Equal(t, KindMinus, rec.evals[2].kind)
	assert.Equal(t, "exp_it1_cur", rec.evals[3].candidate)
	assert.Equal(t, "exp_it3_cur", rec.evals[9].candidate)
	assert.Equal(t, 3, rec.evals[9].iteration)
}

func TestRunKeepsThetaOnGrid(t *testing.T) {
	cfg := testConfig()
	// An objective that actually varies with theta, so updates move.
	eval := func(_ context.Context, _ string, theta ParamVector, _ map[string]string) (metrics.Report, error) {
		rate := float64(theta["LMR_K_x100"]-120) / 2.0
		return metrics.Report{Valid: 1, SpikeRatePercent: ratep(rate)}, nil
	}
	opt := NewOptimizer(cfg, eval, nil, Options{Seed: 7}, nil)

	theta, err := opt.Run(context.Background(), 8)
	require.NoError(t, err)
	for name, d := range cfg.Params {
		v, ok := theta[name]
		require.True(t, ok, name)
		assert.GreaterOrEqual(t, v, d.Min, name)
		assert.LessOrEqual(t, v, d.Max, name)
		assert.Zero(t, (v-d.Min)%d.Step, name)
	}
}

func TestPerturbationNeverDegenerate(t *testing.T) {
	cfg := Config{
		Name: "tiny",
		A0:   0.5, C0: 0.1, A: 5, Alpha: 0.602, Gamma: 0.101,
		Params: map[string]Domain{"X": {Init: 50, Min: 0, Max: 100, Step: 1}},
	}
	var pairs [][2]int
	eval := func(_ context.Context, candidate string, theta ParamVector, _ map[string]string) (metrics.Report, error) {
		return metrics.Report{Valid: 1, SpikeRatePercent: ratep(float64(theta["X"]))}, nil
	}
	rec := &memRecorder{}
	opt := NewOptimizer(cfg, eval, rec, Options{Seed: 3}, nil)
	_, err := opt.Run(context.Background(), 4)
	require.NoError(t, err)

	// Even with c_k*step rounding to zero, the perturbation is floored to 1:
	// plus and minus must differ away from the domain edges.
	for i := 1; i+1 < len(rec.evals); i += 2 {
		if rec.evals[i].kind != KindPlus {
			continue
		}
		plus := rec.evals[i].theta["X"]
		minus := rec.evals[i+1].theta["X"]
		pairs = append(pairs, [2]int{plus, minus})
		assert.NotEqual(t, plus, minus)
	}
	assert.NotEmpty(t, pairs)
}

func TestObjectiveTreatsNoDataAsZero(t *testing.T) {
	eval := func(_ context.Context, _ string, _ ParamVector, _ map[string]string) (metrics.Report, error) {
		return metrics.Report{NoData: true}, nil
	}
	opt := NewOptimizer(testConfig(), eval, nil, Options{Seed: 2}, nil)
	theta, err := opt.Run(context.Background(), 2)
	require.NoError(t, err)
	// Zero gradient everywhere: theta stays at (grid-snapped) init.
	assert.Equal(t, 160, theta["LMR_K_x100"])
	assert.Equal(t, 400, theta["QS_BadCaptureMin"])
}

func TestSaveTheta(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "final_theta.json")
	require.NoError(t, SaveTheta(path, ParamVector{"X": 42}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]map[string]int
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, 42, doc["theta"]["X"])
}
