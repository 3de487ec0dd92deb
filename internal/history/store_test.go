package history

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usitune/internal/metrics"
	"usitune/internal/spsa"
)

func ratep(v float64) *float64 { return &v }

func TestRecordAndTrend(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.RecordEvaluation(ctx, "exp_base", 0, spsa.KindBase,
		metrics.Report{Valid: 4, SpikeRatePercent: ratep(50.0)},
		spsa.ParamVector{"X": 160}))
	require.NoError(t, store.RecordEvaluation(ctx, "exp_it1_plus", 1, spsa.KindPlus,
		metrics.Report{Valid: 4, SpikeRatePercent: ratep(25.0)},
		spsa.ParamVector{"X": 162}))
	require.NoError(t, store.RecordEvaluation(ctx, "exp_it1_minus", 1, spsa.KindMinus,
		metrics.Report{NoData: true},
		spsa.ParamVector{"X": 158}))

	points, err := store.Trend(ctx, store.RunID())
	require.NoError(t, err)
	require.Len(t, points, 3)

	assert.Equal(t, "exp_base", points[0].Name)
	assert.Equal(t, 0, points[0].Iteration)
	require.NotNil(t, points[0].SpikeRate)
	assert.InDelta(t, 50.0, *points[0].SpikeRate, 1e-9)
	assert.Equal(t, 160, points[0].Theta["X"])

	assert.Equal(t, spsa.KindMinus, points[2].Kind)
	assert.Nil(t, points[2].SpikeRate) // no-data candidate keeps a null rate
}

func TestRunsAreIsolated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	first, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, first.RecordEvaluation(ctx, "a_base", 0, spsa.KindBase,
		metrics.Report{Valid: 1, SpikeRatePercent: ratep(10.0)}, spsa.ParamVector{"X": 1}))
	firstID := first.RunID()
	require.NoError(t, first.Close())

	second, err := Open(path)
	require.NoError(t, err)
	defer second.Close()
	assert.NotEqual(t, firstID, second.RunID())

	require.NoError(t, second.RecordEvaluation(ctx, "b_base", 0, spsa.KindBase,
		metrics.Report{Valid: 1, SpikeRatePercent: ratep(20.0)}, spsa.ParamVector{"X": 2}))

	points, err := second.Trend(ctx, second.RunID())
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "b_base", points[0].Name)

	// The earlier run's rows are still reachable by its ID.
	old, err := second.Trend(ctx, firstID)
	require.NoError(t, err)
	require.Len(t, old, 1)
	assert.Equal(t, "a_base", old[0].Name)
}
