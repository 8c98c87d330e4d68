package features

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFitMissingValueStrategy(t *testing.T) {
	schema := Schema{
		{Name: FeatureDistSubway, Category: CategoryDistance},
		{Name: FeatureSubwayCount, Category: CategoryCount},
		{Name: FeatureDistrictEnc, Category: CategoryTargetEncoded},
		{Name: FeaturePriceLag1M, Category: CategoryTemporal},
		{Name: FeatureTotalUnits, Category: CategoryOther},
	}
	nan := math.NaN()
	rows := []Vector{
		{100, 2, 50, 900, 1000},
		{300, nan, 70, nan, nan},
		{nan, 4, 60, 1100, 500},
	}

	strategy, err := FitMissingValueStrategy(schema, rows)
	require.NoError(t, err)

	assert.Equal(t, map[string]float64{
		FeatureDistSubway:  200,
		FeatureSubwayCount: 0,
		FeatureDistrictEnc: 60,
		FeaturePriceLag1M:  1000,
		FeatureTotalUnits:  SentinelValue,
	}, strategy.Values)

	v := Vector{nan, nan, nan, nan, nan}
	require.NoError(t, strategy.Apply(v))
	assert.Equal(t, Vector{200, 0, 60, 1000, -1}, v)

	t.Run("Present values are kept", func(t *testing.T) {
		v := Vector{5, 1, nan, 7, 0}
		require.NoError(t, strategy.Apply(v))
		assert.Equal(t, Vector{5, 1, 60, 7, 0}, v)
	})

	t.Run("Idempotent", func(t *testing.T) {
		once := Vector{nan, 3, nan, math.Inf(1), 12}
		require.NoError(t, strategy.Apply(once))
		twice := append(Vector(nil), once...)
		require.NoError(t, strategy.Apply(twice))
		assert.Equal(t, once, twice)
	})

	t.Run("Width mismatch", func(t *testing.T) {
		assert.ErrorIs(t, strategy.Apply(Vector{1, 2}), ErrSchemaMismatch)
	})

	fill, ok := strategy.FillValue(FeatureDistrictEnc)
	assert.True(t, ok)
	assert.Equal(t, 60.0, fill)
}

func TestFitMissingValueStrategy_RejectsRaggedRows(t *testing.T) {
	_, err := FitMissingValueStrategy(DefaultSchema, []Vector{{1, 2, 3}})
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}
