package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encoderFixture() ([]string, []float64) {
	var values []string
	var targets []float64
	for i := 0; i < 20; i++ {
		values = append(values, "강남구")
		targets = append(targets, 100+float64(i))
	}
	for i := 0; i < 20; i++ {
		values = append(values, "노원구")
		targets = append(targets, 40+float64(i))
	}
	return values, targets
}

func TestFitTargetEncoder(t *testing.T) {
	values, targets := encoderFixture()

	enc, encoded, err := FitTargetEncoder(values, targets, DefaultSmoothing, DefaultFolds, 42)
	require.NoError(t, err)
	require.Len(t, encoded, len(values))

	assert.InDelta(t, 79.5, enc.GlobalMean, 1e-9)
	assert.Equal(t, DefaultFolds, enc.Folds)

	// (20*109.5 + 20*79.5) / 40
	assert.InDelta(t, 94.5, enc.Mapping["강남구"], 1e-9)
	assert.InDelta(t, 64.5, enc.Mapping["노원구"], 1e-9)
	assert.Equal(t, []string{"강남구", "노원구"}, enc.Keys())

	for i, v := range encoded {
		if values[i] == "강남구" {
			assert.Greater(t, v, enc.GlobalMean-5)
		} else {
			assert.Less(t, v, enc.GlobalMean+5)
		}
	}
}

func TestFitTargetEncoder_OwnRowExcluded(t *testing.T) {
	values, targets := encoderFixture()

	_, baseline, err := FitTargetEncoder(values, targets, DefaultSmoothing, DefaultFolds, 7)
	require.NoError(t, err)

	outlier := append([]float64(nil), targets...)
	outlier[0] = 1e9

	_, shifted, err := FitTargetEncoder(values, outlier, DefaultSmoothing, DefaultFolds, 7)
	require.NoError(t, err)

	// The outlier row never sees its own target
	assert.Equal(t, baseline[0], shifted[0])

	assignment := foldAssignment(len(values), DefaultFolds, 7)
	changed := 0
	for i := 1; i < 20; i++ {
		if assignment[i] != assignment[0] {
			assert.Greater(t, shifted[i], baseline[i])
			changed++
		} else {
			assert.Equal(t, baseline[i], shifted[i])
		}
	}
	assert.Positive(t, changed)
}

func TestFitTargetEncoder_DegradesFolds(t *testing.T) {
	t.Run("Fewer rows than folds", func(t *testing.T) {
		enc, encoded, err := FitTargetEncoder([]string{"a", "a", "b"}, []float64{1, 2, 3}, DefaultSmoothing, DefaultFolds, 1)
		require.NoError(t, err)
		assert.Equal(t, 3, enc.Folds)
		assert.Len(t, encoded, 3)
	})

	t.Run("Single row", func(t *testing.T) {
		enc, encoded, err := FitTargetEncoder([]string{"a"}, []float64{5}, DefaultSmoothing, DefaultFolds, 1)
		require.NoError(t, err)
		assert.Equal(t, []float64{enc.GlobalMean}, encoded)
	})

	t.Run("No rows", func(t *testing.T) {
		_, _, err := FitTargetEncoder(nil, nil, DefaultSmoothing, DefaultFolds, 1)
		assert.ErrorIs(t, err, ErrEmptyTargets)
	})
}

func TestTargetEncoder_UnseenIsGlobalMean(t *testing.T) {
	values, targets := encoderFixture()
	enc, _, err := FitTargetEncoder(values, targets, DefaultSmoothing, DefaultFolds, 3)
	require.NoError(t, err)

	for _, unseen := range []string{"새로운구", "", unmappedKey("경기도", "없는구")} {
		assert.Equal(t, enc.GlobalMean, enc.Transform(unseen))
	}
	assert.Equal(t, []float64{enc.Mapping["강남구"], enc.GlobalMean}, enc.TransformAll([]string{"강남구", "?"}))
}

func TestLabelEncoder(t *testing.T) {
	enc := FitLabelEncoder([]string{"서울특별시", "경기도", "서울특별시", "부산광역시"})

	assert.Len(t, enc.Classes, 3)
	assert.Equal(t, 1, enc.Transform("경기도"))
	assert.Equal(t, 2, enc.Transform("부산광역시"))
	assert.Equal(t, 3, enc.Transform("서울특별시"))
	assert.Equal(t, 0, enc.Transform("제주특별자치도"))
}
