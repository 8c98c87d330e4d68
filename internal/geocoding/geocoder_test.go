package geocoding

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/choiwjun/chamgab-sub000/internal/models"
)

func newUpstream(t *testing.T, calls *int32) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "kr", r.URL.Query().Get("countrycodes"))

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("q") {
		case "서울특별시 강남구 역삼동 래미안":
			w.Write([]byte(`[{"lat": "37.5006", "lon": "127.0364"}]`))
		case "broken":
			w.Write([]byte(`[{"lat": "north", "lon": "east"}]`))
		default:
			w.Write([]byte(`[]`))
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestAddress(t *testing.T) {
	p := &models.Property{Province: "서울특별시", District: " 강남구", SubDistrict: "", BuildingName: "래미안"}
	assert.Equal(t, "서울특별시 강남구 래미안", Address(p))
}

func TestGeocode(t *testing.T) {
	var calls int32
	server := newUpstream(t, &calls)
	dir := t.TempDir()
	g := NewGeocoder(Config{BaseURL: server.URL + "/", CacheDir: dir}, quietLogger())
	ctx := context.Background()

	lat, lon, err := g.Geocode(ctx, "서울특별시 강남구 역삼동 래미안")
	require.NoError(t, err)
	assert.Equal(t, 37.5006, lat)
	assert.Equal(t, 127.0364, lon)

	_, _, err = g.Geocode(ctx, "어딘가")
	assert.ErrorIs(t, err, ErrNoResult)

	_, _, err = g.Geocode(ctx, "broken")
	assert.Error(t, err)

	// Hits and misses are both served from cache
	_, _, err = g.Geocode(ctx, "서울특별시 강남구 역삼동 래미안")
	require.NoError(t, err)
	_, _, err = g.Geocode(ctx, "어딘가")
	assert.ErrorIs(t, err, ErrNoResult)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	t.Run("Cache survives restart", func(t *testing.T) {
		require.NoError(t, g.SaveCache())
		reloaded := NewGeocoder(Config{BaseURL: server.URL, CacheDir: dir}, quietLogger())
		lat, _, err := reloaded.Geocode(ctx, "서울특별시 강남구 역삼동 래미안")
		require.NoError(t, err)
		assert.Equal(t, 37.5006, lat)
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})
}

type mockLocationStore struct{ mock.Mock }

func (m *mockLocationStore) PropertiesMissingLocation(ctx context.Context) ([]models.Property, error) {
	args := m.Called(ctx)
	props, _ := args.Get(0).([]models.Property)
	return props, args.Error(1)
}

func (m *mockLocationStore) SetPropertyLocation(ctx context.Context, id int64, lat, lon float64) error {
	return m.Called(ctx, id, lat, lon).Error(0)
}

func TestBackfill(t *testing.T) {
	var calls int32
	server := newUpstream(t, &calls)
	g := NewGeocoder(Config{BaseURL: server.URL}, quietLogger())

	store := new(mockLocationStore)
	store.On("PropertiesMissingLocation", mock.Anything).Return([]models.Property{
		{ID: 1, Province: "서울특별시", District: "강남구", SubDistrict: "역삼동", BuildingName: "래미안"},
		{ID: 2, Province: "서울특별시", District: "없는구"},
	}, nil)
	store.On("SetPropertyLocation", mock.Anything, int64(1), 37.5006, 127.0364).Return(nil)

	updated, err := g.Backfill(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, 1, updated)
	store.AssertExpectations(t)
	store.AssertNotCalled(t, "SetPropertyLocation", mock.Anything, int64(2), mock.Anything, mock.Anything)
}

func TestBackfill_Cancelled(t *testing.T) {
	var calls int32
	server := newUpstream(t, &calls)
	g := NewGeocoder(Config{BaseURL: server.URL}, quietLogger())

	store := new(mockLocationStore)
	store.On("PropertiesMissingLocation", mock.Anything).Return([]models.Property{{ID: 1, District: "강남구"}}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Backfill(ctx, store)
	assert.ErrorIs(t, err, context.Canceled)
	store.AssertNotCalled(t, "SetPropertyLocation", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
