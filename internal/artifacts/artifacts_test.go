package artifacts

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choiwjun/chamgab-sub000/internal/features"
	"github.com/choiwjun/chamgab-sub000/internal/ml"
)

func testSet(t *testing.T) *Set {
	t.Helper()
	names := []string{features.FeatureArea, features.FeatureDistrictEnc}
	schema, ok := features.DefaultSchema.Select(names)
	require.True(t, ok)

	X := [][]float64{{59, 1e9}, {84, 2e9}, {84, 1.5e9}, {114, 3e9}, {59, 8e8}, {114, 2.5e9}}
	y := []float64{9e8, 2.1e9, 1.6e9, 3.2e9, 7e8, 2.7e9}
	model, err := ml.FitGradientBoosting(X, y, nil, nil, ml.BoostingParams{Rounds: 5, MaxDepth: 2, MinSamplesLeaf: 1})
	require.NoError(t, err)
	env, err := ml.Wrap(model)
	require.NoError(t, err)

	imputer, err := features.FitMissingValueStrategy(schema, nil)
	require.NoError(t, err)
	district, _, err := features.FitTargetEncoder([]string{"강남구", "노원구"}, []float64{3e9, 8e8}, 20, 5, 1)
	require.NoError(t, err)

	return &Set{
		Version:      NewVersion(),
		TrainedAt:    time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC),
		FeatureNames: names,
		Encoders:     features.Encoders{District: district},
		FillValues:   imputer,
		Primary:      env,
		Residuals: ResidualStats{
			Percentiles: map[int]float64{5: -4e7, 10: -2e7, 25: -1e7, 75: 1e7, 90: 2.5e7, 95: 4e7},
			MAPE:        8.5,
		},
		EnsembleWeight: 0.5,
	}
}

func TestSet_Validate(t *testing.T) {
	require.NoError(t, testSet(t).Validate())

	tests := []struct {
		name   string
		mutate func(s *Set)
	}{
		{name: "No features", mutate: func(s *Set) { s.FeatureNames = nil }},
		{name: "Unknown feature", mutate: func(s *Set) { s.FeatureNames[1] = "lot_size" }},
		{name: "Duplicate feature", mutate: func(s *Set) { s.FeatureNames[1] = features.FeatureArea }},
		{name: "Reordered features", mutate: func(s *Set) {
			s.FeatureNames[0], s.FeatureNames[1] = s.FeatureNames[1], s.FeatureNames[0]
		}},
		{name: "Missing fill values", mutate: func(s *Set) { s.FillValues = nil }},
		{name: "Missing encoder", mutate: func(s *Set) { s.Encoders.District = nil }},
		{name: "Missing model", mutate: func(s *Set) { s.Primary = nil }},
		{name: "Model width mismatch", mutate: func(s *Set) {
			s.FeatureNames = append(s.FeatureNames, features.FeatureFloor)
			s.FillValues.Names = append(s.FillValues.Names, features.FeatureFloor)
			s.FillValues.Values[features.FeatureFloor] = -1
		}},
		{name: "Non-finite residual", mutate: func(s *Set) { s.Residuals.Percentiles[10] = math.NaN() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := testSet(t)
			tt.mutate(set)
			err := set.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrArtifactLoad)
			var loadErr *LoadError
			assert.True(t, errors.As(err, &loadErr))
		})
	}
}

func TestFileStore(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "artifacts"))

	_, err := store.Load()
	assert.ErrorIs(t, err, ErrArtifactLoad)
	assert.ErrorIs(t, err, os.ErrNotExist)

	set := testSet(t)
	require.NoError(t, store.Save(set))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, set.Version, loaded.Version)
	assert.Equal(t, set.FeatureNames, loaded.FeatureNames)
	assert.Equal(t, set.Residuals, loaded.Residuals)
	assert.Equal(t, set.Encoders.District.GlobalMean, loaded.Encoders.District.GlobalMean)

	original, err := NewBundle(set)
	require.NoError(t, err)
	restored, err := NewBundle(loaded)
	require.NoError(t, err)
	x := []float64{84, 2e9}
	assert.Equal(t, original.Strategy.Predict(x), restored.Strategy.Predict(x))

	t.Run("Corrupt file", func(t *testing.T) {
		require.NoError(t, os.WriteFile(store.Path(), []byte(`{"version": `), 0644))
		_, err := store.Load()
		assert.ErrorIs(t, err, ErrArtifactLoad)
	})

	t.Run("Invalid set is not saved", func(t *testing.T) {
		invalid := testSet(t)
		invalid.Primary = nil
		assert.ErrorIs(t, store.Save(invalid), ErrArtifactLoad)
	})
}

type memoryStore struct {
	set *Set
	err error
}

func (m *memoryStore) Save(set *Set) error { m.set = set; return nil }

func (m *memoryStore) Load() (*Set, error) { return m.set, m.err }

func TestHolder_Reload(t *testing.T) {
	store := &memoryStore{set: testSet(t)}
	holder := NewHolder(store, logrus.New())
	assert.Nil(t, holder.Current())

	first, err := holder.Reload()
	require.NoError(t, err)
	assert.Same(t, first, holder.Current())
	assert.Equal(t, "single", first.Strategy.Name())

	store.err = &LoadError{Reason: "disk gone"}
	_, err = holder.Reload()
	assert.ErrorIs(t, err, ErrArtifactLoad)
	assert.Same(t, first, holder.Current())

	broken := testSet(t)
	broken.Encoders.District = nil
	_, err = holder.Swap(broken)
	assert.ErrorIs(t, err, ErrArtifactLoad)
	assert.Same(t, first, holder.Current())
}

func TestHolder_ConcurrentSwap(t *testing.T) {
	a, b := testSet(t), testSet(t)
	holder := NewHolder(&memoryStore{}, logrus.New())
	_, err := holder.Swap(a)
	require.NoError(t, err)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				bundle := holder.Current()
				// A reader always sees a set together with its own strategy
				assert.Contains(t, []string{a.Version, b.Version}, bundle.Set.Version)
				assert.Len(t, bundle.Schema, len(bundle.Set.FeatureNames))
			}
		}()
	}

	for i := 0; i < 50; i++ {
		next := a
		if i%2 == 0 {
			next = b
		}
		_, err := holder.Swap(next)
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
}
