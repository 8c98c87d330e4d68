package prediction

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/choiwjun/chamgab-sub000/internal/artifacts"
	"github.com/choiwjun/chamgab-sub000/internal/database"
	"github.com/choiwjun/chamgab-sub000/internal/features"
	"github.com/choiwjun/chamgab-sub000/internal/ml"
	"github.com/choiwjun/chamgab-sub000/internal/models"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetProperty(ctx context.Context, id int64) (*models.Property, error) {
	args := m.Called(ctx, id)
	p, _ := args.Get(0).(*models.Property)
	return p, args.Error(1)
}

func (m *mockStore) SimilarTransactions(ctx context.Context, p *models.Property, districts []string, areaMin, areaMax float64, limit int) ([]models.Transaction, error) {
	args := m.Called(ctx, p, districts, areaMin, areaMax, limit)
	txs, _ := args.Get(0).([]models.Transaction)
	return txs, args.Error(1)
}

type mockHistory struct {
	mock.Mock
}

func (m *mockHistory) QueryTransactions(ctx context.Context, filter database.TransactionFilter) ([]models.Transaction, error) {
	args := m.Called(ctx, filter)
	txs, _ := args.Get(0).([]models.Transaction)
	return txs, args.Error(1)
}

type staticSource struct {
	bundle *artifacts.Bundle
}

func (s staticSource) Current() *artifacts.Bundle { return s.bundle }

// fakeModel returns a fixed price and fixed contributions, and remembers
// the last vector it saw
type fakeModel struct {
	price         float64
	contributions map[string]float64
	schema        features.Schema

	mu   sync.Mutex
	last []float64
}

func (m *fakeModel) Predict(x []float64) float64 {
	m.mu.Lock()
	m.last = append([]float64(nil), x...)
	m.mu.Unlock()
	return m.price
}

func (m *fakeModel) Contributions(x []float64) (float64, []float64) {
	out := make([]float64, len(m.schema))
	var sum float64
	for i, f := range m.schema {
		out[i] = m.contributions[f.Name]
		sum += out[i]
	}
	return m.price - sum, out
}

func (m *fakeModel) FeatureImportance() []float64 { return make([]float64, len(m.schema)) }

func (m *fakeModel) NumFeatures() int { return len(m.schema) }

func (m *fakeModel) value(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, f := range m.schema {
		if f.Name == name {
			return m.last[i]
		}
	}
	return math.NaN()
}

func intPtr(v int) *int { return &v }

func gangnamProperty() *models.Property {
	return &models.Property{
		ID:            7,
		Province:      "서울특별시",
		District:      "강남구",
		SubDistrict:   "역삼동",
		AreaExclusive: 84.0,
		Floor:         15,
		TotalFloors:   intPtr(30),
		BuildYear:     intPtr(2015),
	}
}

func testBundle(t *testing.T, model ml.Regressor, mape float64) *artifacts.Bundle {
	t.Helper()
	schema := features.DefaultSchema
	keys := features.NewDistrictKeys(nil)

	district, _, err := features.FitTargetEncoder(
		[]string{keys.Key("서울특별시", "강남구"), keys.Key("서울특별시", "노원구"), keys.Key("대구광역시", "중구")},
		[]float64{3e9, 8e8, 5e8}, features.DefaultSmoothing, features.DefaultFolds, 1)
	require.NoError(t, err)
	dong, _, err := features.FitTargetEncoder([]string{"강남구/역삼동"}, []float64{3e9}, features.DefaultSmoothing, features.DefaultFolds, 1)
	require.NoError(t, err)
	imputer, err := features.FitMissingValueStrategy(schema, nil)
	require.NoError(t, err)

	set := &artifacts.Set{
		Version:      "test-version",
		FeatureNames: schema.Names(),
		Encoders: features.Encoders{
			District:    district,
			SubDistrict: dong,
			Province:    features.FitLabelEncoder([]string{"서울특별시", "대구광역시"}),
		},
		FillValues:       imputer,
		TemporalFallback: features.TemporalFallback{Price: 1.1e9, Std: 3e7},
		Residuals: artifacts.ResidualStats{
			Percentiles: map[int]float64{5: -4e7, 10: -20_000_000, 25: -1e7, 75: 1e7, 90: 25_000_000, 95: 4e7},
			MAPE:        mape,
		},
	}
	return &artifacts.Bundle{Set: set, Schema: schema, Strategy: ml.Single{Model: model}}
}

func newTestService(store PropertyStore, bundle *artifacts.Bundle, history features.TransactionHistory) *Service {
	s := NewService(store, staticSource{bundle: bundle}, history, nil, nil, Config{}, logrus.New())
	s.now = func() time.Time { return time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC) }
	return s
}

func TestService_PredictGangnam(t *testing.T) {
	store := new(mockStore)
	store.On("GetProperty", mock.Anything, int64(7)).Return(gangnamProperty(), nil)

	model := &fakeModel{
		price:  2_500_000_000,
		schema: features.DefaultSchema,
		contributions: map[string]float64{
			features.FeatureDistrictEnc: 420_000_000,
			features.FeatureArea:        150_000_000,
			features.FeatureBuildingAge: -60_000_000,
			features.FeatureFloor:       12_000_000,
		},
	}

	for _, mape := range []float64{8.5, 45} {
		t.Run(fmt.Sprintf("MAPE %.1f", mape), func(t *testing.T) {
			bundle := testBundle(t, model, mape)
			service := newTestService(store, bundle, nil)

			estimate, err := service.Predict(context.Background(), 7)
			require.NoError(t, err)

			assert.Equal(t, int64(2_500_000_000), estimate.Price)
			assert.Equal(t, int64(2_480_000_000), estimate.MinPrice)
			assert.Equal(t, int64(2_525_000_000), estimate.MaxPrice)
			assert.Contains(t, []models.ConfidenceLevel{models.ConfidenceMedium, models.ConfidenceHigh}, estimate.ConfidenceLevel)
			assert.GreaterOrEqual(t, estimate.Confidence, MinConfidence)
			assert.LessOrEqual(t, estimate.Confidence, MaxConfidence)
			assert.Equal(t, "test-version", estimate.ModelVersion)

			require.Len(t, estimate.Factors, 4)
			top := estimate.Factors[0]
			assert.Equal(t, features.FeatureDistrictEnc, top.Name)
			assert.Equal(t, models.DirectionPositive, top.Direction)
			assert.Equal(t, "District raises the estimate by 4억 2,000만원", top.Description)
			assert.Equal(t, models.DirectionNegative, estimate.Factors[2].Direction)

			// The district column carried the fitted encoding for 강남구
			assert.Equal(t, bundle.Set.Encoders.District.Mapping["강남구"], model.value(features.FeatureDistrictEnc))
			assert.Equal(t, 0.5, model.value(features.FeatureFloorRatio))
			assert.Equal(t, 10.0, model.value(features.FeatureBuildingAge))
		})
	}
}

func TestService_PredictUnseenDistrict(t *testing.T) {
	property := gangnamProperty()
	property.District = "새로운구"
	property.Province = "경기도"
	store := new(mockStore)
	store.On("GetProperty", mock.Anything, int64(7)).Return(property, nil)

	model := &fakeModel{price: 6e8, schema: features.DefaultSchema}
	bundle := testBundle(t, model, 10)
	service := newTestService(store, bundle, nil)

	estimate, err := service.Predict(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, bundle.Set.Encoders.District.GlobalMean, model.value(features.FeatureDistrictEnc))

	known := newTestService(storeFor(gangnamProperty()), testBundle(t, &fakeModel{price: 6e8, schema: features.DefaultSchema}, 10), nil)
	reference, err := known.Predict(context.Background(), 7)
	require.NoError(t, err)
	// The unseen name costs nothing on the completeness term
	assert.Equal(t, reference.Confidence, estimate.Confidence)
	assert.Empty(t, estimate.Factors)
}

func storeFor(p *models.Property) *mockStore {
	store := new(mockStore)
	store.On("GetProperty", mock.Anything, p.ID).Return(p, nil)
	return store
}

func TestService_PredictSparseHistory(t *testing.T) {
	history := new(mockHistory)
	history.On("QueryTransactions", mock.Anything, mock.Anything).Return([]models.Transaction{
		{Price: 2e9, AreaExclusive: 84, Province: "서울특별시", District: "강남구", TransactionDate: time.Date(2025, time.May, 3, 0, 0, 0, 0, time.UTC)},
		{Price: 2.1e9, AreaExclusive: 80, Province: "서울특별시", District: "강남구", TransactionDate: time.Date(2025, time.April, 3, 0, 0, 0, 0, time.UTC)},
	}, nil)

	model := &fakeModel{price: 2.4e9, schema: features.DefaultSchema}
	bundle := testBundle(t, model, 10)
	service := newTestService(storeFor(gangnamProperty()), bundle, history)

	estimate, err := service.Predict(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(2_400_000_000), estimate.Price)

	fallback := bundle.Set.TemporalFallback
	assert.Equal(t, fallback.Price, model.value(features.FeaturePriceLag1M))
	assert.Equal(t, fallback.Price, model.value(features.FeaturePriceLag3M))
	assert.Equal(t, fallback.Price, model.value(features.FeatureRollingMean6M))
	assert.Equal(t, fallback.Std, model.value(features.FeatureRollingStd6M))
	assert.Equal(t, 0.0, model.value(features.FeatureYoYChange))
	assert.Equal(t, 0.0, model.value(features.FeatureVolumeLag1M))
	history.AssertExpectations(t)
}

func TestService_PredictErrors(t *testing.T) {
	t.Run("Unknown property", func(t *testing.T) {
		store := new(mockStore)
		store.On("GetProperty", mock.Anything, int64(99)).Return(nil, fmt.Errorf("property 99: %w", database.ErrNotFound))
		service := newTestService(store, testBundle(t, &fakeModel{schema: features.DefaultSchema}, 10), nil)

		_, err := service.Predict(context.Background(), 99)
		assert.ErrorIs(t, err, database.ErrNotFound)
		var predErr *PredictionError
		assert.False(t, errors.As(err, &predErr))
	})

	t.Run("Store failure", func(t *testing.T) {
		store := new(mockStore)
		store.On("GetProperty", mock.Anything, int64(7)).Return(nil, errors.New("connection refused"))
		service := newTestService(store, testBundle(t, &fakeModel{schema: features.DefaultSchema}, 10), nil)

		_, err := service.Predict(context.Background(), 7)
		var predErr *PredictionError
		require.True(t, errors.As(err, &predErr))
		assert.Equal(t, StageFetchProperty, predErr.Stage)
	})

	t.Run("No artifacts", func(t *testing.T) {
		service := newTestService(storeFor(gangnamProperty()), nil, nil)
		_, err := service.Predict(context.Background(), 7)
		assert.ErrorIs(t, err, artifacts.ErrArtifactLoad)
	})

	t.Run("Model returns NaN", func(t *testing.T) {
		bundle := testBundle(t, &fakeModel{price: math.NaN(), schema: features.DefaultSchema}, 10)
		service := newTestService(storeFor(gangnamProperty()), bundle, nil)

		estimate, err := service.Predict(context.Background(), 7)
		assert.Nil(t, estimate)
		var predErr *PredictionError
		require.True(t, errors.As(err, &predErr))
		assert.Equal(t, StagePredict, predErr.Stage)
	})

	t.Run("Negative prediction is clamped", func(t *testing.T) {
		bundle := testBundle(t, &fakeModel{price: -5e7, schema: features.DefaultSchema}, 10)
		service := newTestService(storeFor(gangnamProperty()), bundle, nil)

		estimate, err := service.Predict(context.Background(), 7)
		require.NoError(t, err)
		assert.Equal(t, int64(0), estimate.Price)
		assert.Equal(t, int64(0), estimate.MinPrice)
		assert.GreaterOrEqual(t, estimate.MaxPrice, estimate.Price)
	})
}

func TestService_EnsembleFlag(t *testing.T) {
	primary := &fakeModel{price: 2_500_000_000, schema: features.DefaultSchema}
	secondary := &fakeModel{price: 2_300_000_000, schema: features.DefaultSchema}

	single := testBundle(t, primary, 10)
	singleEstimate, err := newTestService(storeFor(gangnamProperty()), single, nil).Predict(context.Background(), 7)
	require.NoError(t, err)

	// Flag off with a secondary present still serves the primary alone
	off := testBundle(t, primary, 10)
	off.Set.Secondary = &ml.Envelope{Kind: ml.KindForest}
	offEstimate, err := newTestService(storeFor(gangnamProperty()), off, nil).Predict(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, singleEstimate.Price, offEstimate.Price)
	assert.Equal(t, singleEstimate.Confidence, offEstimate.Confidence)

	on := testBundle(t, primary, 10)
	on.Set.Secondary = &ml.Envelope{Kind: ml.KindForest}
	on.Set.Ensemble = true
	on.Strategy = ml.Ensemble{PrimaryModel: primary, Secondary: secondary, Weight: 0.5}
	onEstimate, err := newTestService(storeFor(gangnamProperty()), on, nil).Predict(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(2_400_000_000), onEstimate.Price)

	t.Run("Negative primary is floored before blending", func(t *testing.T) {
		negative := &fakeModel{price: -1e8, schema: features.DefaultSchema}
		forest := &fakeModel{price: 4e8, schema: features.DefaultSchema}
		bundle := testBundle(t, negative, 10)
		bundle.Set.Secondary = &ml.Envelope{Kind: ml.KindForest}
		bundle.Set.Ensemble = true
		bundle.Strategy = ml.Ensemble{PrimaryModel: negative, Secondary: forest, Weight: 0.5}

		estimate, err := newTestService(storeFor(gangnamProperty()), bundle, nil).Predict(context.Background(), 7)
		require.NoError(t, err)
		assert.Equal(t, int64(200_000_000), estimate.Price)
	})
}

func TestService_SimilarTransactions(t *testing.T) {
	store := storeFor(gangnamProperty())
	store.On("SimilarTransactions", mock.Anything, mock.Anything, []string{"강남구"}, 60.0, 85.0, 10).
		Return([]models.Transaction{{ID: 1, Price: 2.4e9}}, nil)

	service := newTestService(store, nil, nil)
	txs, err := service.SimilarTransactions(context.Background(), 7, 10)
	require.NoError(t, err)
	assert.Len(t, txs, 1)

	t.Run("Every district spelling is searched", func(t *testing.T) {
		property := &models.Property{ID: 8, Province: "경기도", District: "장안구", AreaExclusive: 59}
		store := storeFor(property)
		store.On("SimilarTransactions", mock.Anything, property, mock.MatchedBy(func(districts []string) bool {
			sorted := slices.Clone(districts)
			slices.Sort(sorted)
			return slices.Equal([]string{"수원시 장안구", "수원시장안구", "장안구"}, sorted)
		}), mock.Anything, mock.Anything, 10).Return([]models.Transaction{{ID: 2}}, nil)

		txs, err := newTestService(store, nil, nil).SimilarTransactions(context.Background(), 8, 10)
		require.NoError(t, err)
		assert.Len(t, txs, 1)
		store.AssertExpectations(t)
	})
}

func TestConfidenceBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	for i := 0; i < 2000; i++ {
		price := rng.Float64() * 5e9
		residuals := artifacts.ResidualStats{
			Percentiles: map[int]float64{10: (rng.Float64() - 0.5) * 1e9, 90: (rng.Float64() - 0.5) * 1e9},
			MAPE:        rng.Float64() * 150,
		}
		if i%7 == 0 {
			residuals.Percentiles = nil
		}

		low, high := Interval(price, residuals)
		assert.GreaterOrEqual(t, low, 0.0)
		assert.LessOrEqual(t, low, price)
		assert.GreaterOrEqual(t, high, price)

		score := Score(price, low, high, residuals.MAPE, rng.Intn(8))
		assert.GreaterOrEqual(t, score, MinConfidence)
		assert.LessOrEqual(t, score, MaxConfidence)
	}
}

func TestInterval(t *testing.T) {
	low, high := Interval(1e9, artifacts.ResidualStats{})
	assert.InDelta(t, 9e8, low, 1e-3)
	assert.InDelta(t, 1.1e9, high, 1e-3)

	// Inverted percentiles are swapped
	low, high = Interval(1e9, artifacts.ResidualStats{Percentiles: map[int]float64{10: 3e7, 90: -1e7}})
	assert.Equal(t, 9.9e8, low)
	assert.Equal(t, 1.03e9, high)
}

func TestScoreAndLevel(t *testing.T) {
	// 0.6*0.9 + 0.3*0.95 + 0.10
	assert.InDelta(t, 0.925, Score(1e9, 9.9e8, 1.01e9, 10, 5), 1e-9)
	assert.InDelta(t, 0.925, Score(1e9, 9.9e8, 1.01e9, 10, 9), 1e-9)
	assert.Equal(t, MinConfidence, Score(0, 0, 0, 200, 0))

	assert.Equal(t, models.ConfidenceVeryHigh, Level(0.92))
	assert.Equal(t, models.ConfidenceHigh, Level(0.7))
	assert.Equal(t, models.ConfidenceMedium, Level(0.55))
	assert.Equal(t, models.ConfidenceLow, Level(0.3))
}

func TestCompleteness(t *testing.T) {
	assert.Equal(t, 2, Completeness(gangnamProperty()))

	full := gangnamProperty()
	full.BuildingName = "래미안"
	full.Complex = &models.Complex{Name: "래미안", Brand: "래미안", TotalUnits: intPtr(1200)}
	assert.Equal(t, 5, Completeness(full))

	assert.Equal(t, 0, Completeness(&models.Property{}))
}

func TestFormatWon(t *testing.T) {
	assert.Equal(t, "4억 2,000만원", formatWon(420_000_000))
	assert.Equal(t, "3억원", formatWon(300_000_000))
	assert.Equal(t, "1,200만원", formatWon(12_000_000))
	assert.Equal(t, "500만원", formatWon(5_000_000))
	assert.Equal(t, "1억 50만원", formatWon(100_500_000))
	assert.Equal(t, "3000원", formatWon(3_000))
}
