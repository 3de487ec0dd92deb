package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usitune/internal/runner"
	"usitune/internal/target"
)

func intp(v int) *int { return &v }

func TestAggregateCountsAndRate(t *testing.T) {
	results := []runner.EvalResult{
		{Tag: "t1", Profile: "a", EvalCP: intp(-700), Depth: 12},
		{Tag: "t2", Profile: "a", EvalCP: intp(-100), Depth: 10},
		{Tag: "t3", Profile: "a", EvalCP: nil},
	}

	rep := Aggregate(results, -600)
	assert.Equal(t, 3, rep.Total)
	assert.Equal(t, 2, rep.Valid)
	assert.Equal(t, 1, rep.BadCount)
	require.NotNil(t, rep.SpikeRatePercent)
	assert.InDelta(t, 50.0, *rep.SpikeRatePercent, 1e-9)
	require.NotNil(t, rep.AvgCP)
	assert.InDelta(t, -400.0, *rep.AvgCP, 1e-9)
	require.NotNil(t, rep.AvgDepth)
	assert.InDelta(t, 11.0, *rep.AvgDepth, 1e-9)
	assert.False(t, rep.NoData)
}

func TestAggregateNoValidData(t *testing.T) {
	rep := Aggregate([]runner.EvalResult{{Tag: "t1", EvalCP: nil}}, -600)
	assert.Equal(t, 1, rep.Total)
	assert.Equal(t, 0, rep.Valid)
	assert.Nil(t, rep.SpikeRatePercent)
	assert.Nil(t, rep.AvgCP)
	assert.Nil(t, rep.AvgDepth)
	assert.True(t, rep.NoData)

	empty := Aggregate(nil, -600)
	assert.True(t, empty.NoData)
	assert.Equal(t, 0, empty.Total)
}

// Raising the threshold toward zero can only widen the bad set.
func TestAggregateBadCountMonotone(t *testing.T) {
	results := []runner.EvalResult{
		{Tag: "t1", EvalCP: intp(-900)},
		{Tag: "t2", EvalCP: intp(-650)},
		{Tag: "t3", EvalCP: intp(-300)},
		{Tag: "t4", EvalCP: intp(50)},
	}
	prev := -1
	for _, th := range []int{-1000, -800, -600, -200, 0} {
		rep := Aggregate(results, th)
		assert.GreaterOrEqual(t, rep.BadCount, prev, "threshold %d", th)
		prev = rep.BadCount
	}
	assert.Equal(t, 3, prev)
}

func TestFirstBadPerOrigin(t *testing.T) {
	batch := &target.Batch{Targets: []target.Target{
		// Batch order is shuffled on purpose; selection sorts by back depth.
		{Tag: "g1_ply10_back3", OriginLog: "g1.log", BackPlies: 3},
		{Tag: "g1_ply10_back1", OriginLog: "g1.log", BackPlies: 1},
		{Tag: "g1_ply10_back2", OriginLog: "g1.log", BackPlies: 2},
		{Tag: "g2_ply4_back1", OriginLog: "g2.log", BackPlies: 1},
		{Tag: "g2_ply4_back2", OriginLog: "g2.log", BackPlies: 2},
	}}
	results := []runner.EvalResult{
		{Tag: "g1_ply10_back1", Profile: "base", EvalCP: intp(-100)},
		{Tag: "g1_ply10_back2", Profile: "base", EvalCP: intp(-650)},
		{Tag: "g1_ply10_back3", Profile: "base", EvalCP: intp(-900)},
		// g2 never crosses the threshold under base.
		{Tag: "g2_ply4_back1", Profile: "base", EvalCP: intp(-200)},
		{Tag: "g2_ply4_back2", Profile: "base", EvalCP: intp(-300)},
		// Other profile is invisible to this selection.
		{Tag: "g2_ply4_back1", Profile: "tuned", EvalCP: intp(-999)},
	}

	chosen := FirstBadPerOrigin(batch, results, "base", -600)
	require.Len(t, chosen, 1)
	assert.Equal(t, "g1_ply10_back2", chosen[0].Tag)
}

func TestFirstBadSkipsNullAndMissing(t *testing.T) {
	batch := &target.Batch{Targets: []target.Target{
		{Tag: "g1_ply5_back1", OriginLog: "g1.log", BackPlies: 1},
		{Tag: "g1_ply5_back2", OriginLog: "g1.log", BackPlies: 2},
		{Tag: "g1_ply5_back3", OriginLog: "g1.log", BackPlies: 3},
	}}
	results := []runner.EvalResult{
		{Tag: "g1_ply5_back1", Profile: "base", EvalCP: nil}, // timed out
		// back2 has no result at all.
		{Tag: "g1_ply5_back3", Profile: "base", EvalCP: intp(-700)},
	}

	chosen := FirstBadPerOrigin(batch, results, "base", -600)
	require.Len(t, chosen, 1)
	assert.Equal(t, "g1_ply5_back3", chosen[0].Tag)
}
