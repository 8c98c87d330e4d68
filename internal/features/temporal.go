package features

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/choiwjun/chamgab-sub000/internal/database"
	"github.com/choiwjun/chamgab-sub000/internal/models"
)

// ErrInsufficientData is returned internally when a window has fewer
// comparable sales than the configured minimum. It is always
// resolved to the fallback values and never reaches a caller.
var ErrInsufficientData = errors.New("insufficient comparable transactions")

const (
	DefaultMinHistory     = 5
	DefaultLookbackMonths = 12

	rollingMonths = 6
	yoyMonths     = 13
)

// TemporalLevel records which aggregate produced the temporal features
type TemporalLevel string

const (
	LevelBuilding TemporalLevel = "building"
	LevelDistrict TemporalLevel = "district"
	LevelFallback TemporalLevel = "fallback"
)

// TemporalFeatures are the six price-history statistics of one row
type TemporalFeatures struct {
	PriceLag1M    float64       `json:"price_lag_1m"`
	PriceLag3M    float64       `json:"price_lag_3m"`
	RollingMean6M float64       `json:"price_rolling_mean_6m"`
	RollingStd6M  float64       `json:"price_rolling_std_6m"`
	YoYChange     float64       `json:"price_yoy_change"`
	VolumeLag1M   float64       `json:"volume_lag_1m"`
	Level         TemporalLevel `json:"level"`
}

// Row returns the statistics keyed by feature name
func (t TemporalFeatures) Row() Row {
	return Row{
		FeaturePriceLag1M:    t.PriceLag1M,
		FeaturePriceLag3M:    t.PriceLag3M,
		FeatureRollingMean6M: t.RollingMean6M,
		FeatureRollingStd6M:  t.RollingStd6M,
		FeatureYoYChange:     t.YoYChange,
		FeatureVolumeLag1M:   t.VolumeLag1M,
	}
}

// TemporalFallback holds the values used when history is too thin. Price
// levels fall back to the training median price, volatility to the median
// observed volatility, YoY change and volume to 0.
type TemporalFallback struct {
	Price float64 `json:"price"`
	Std   float64 `json:"std"`
}

// Features returns the fallback statistics
func (f TemporalFallback) Features() TemporalFeatures {
	return TemporalFeatures{
		PriceLag1M:    f.Price,
		PriceLag3M:    f.Price,
		RollingMean6M: f.Price,
		RollingStd6M:  f.Std,
		YoYChange:     0,
		VolumeLag1M:   0,
		Level:         LevelFallback,
	}
}

// Fill replaces every fallback-level entry with the fallback statistics
func (f TemporalFallback) Fill(rows []TemporalFeatures) {
	for i := range rows {
		if rows[i].Level == LevelFallback {
			rows[i] = f.Features()
		}
	}
}

// FitTemporalFallback derives the fallback from training prices and the
// volatility of training rows that had enough history
func FitTemporalFallback(prices []float64, computed []TemporalFeatures) TemporalFallback {
	var stds []float64
	for _, t := range computed {
		if t.Level != LevelFallback {
			stds = append(stds, t.RollingStd6M)
		}
	}
	return TemporalFallback{
		Price: Median(prices),
		Std:   Median(stds),
	}
}

// TemporalRow is the part of a transaction the builder needs
type TemporalRow struct {
	Date         time.Time
	DistrictKey  string
	BuildingName string
	Area         float64
	Price        float64
}

type monthBucket struct {
	sum   float64
	count int
}

type series map[int]*monthBucket

func (s series) add(month int, price float64) {
	b, ok := s[month]
	if !ok {
		b = &monthBucket{}
		s[month] = b
	}
	b.sum += price
	b.count++
}

func (s series) mean(month int) (float64, bool) {
	b, ok := s[month]
	if !ok || b.count == 0 {
		return 0, false
	}
	return b.sum / float64(b.count), true
}

// TransactionHistory is the store query used at inference time
type TransactionHistory interface {
	QueryTransactions(ctx context.Context, filter database.TransactionFilter) ([]models.Transaction, error)
}

// TemporalQuery describes the row an inference-time lookup is for
type TemporalQuery struct {
	Province     string
	District     string
	BuildingName string
	Area         float64
	Date         time.Time
}

type TemporalConfig struct {
	MinHistory     int
	LookbackMonths int
	CacheSize      int
	CacheTTL       time.Duration
}

// TemporalFeatureBuilder computes lag, rolling and year-over-year price
// statistics from transactions dated strictly before a row's month.
type TemporalFeatureBuilder struct {
	config   TemporalConfig
	keys     *DistrictKeys
	fallback TemporalFallback
	history  TransactionHistory
	cache    *expirable.LRU[string, TemporalFeatures]
	logger   *logrus.Logger
}

func NewTemporalFeatureBuilder(cfg TemporalConfig, keys *DistrictKeys, history TransactionHistory, logger *logrus.Logger) *TemporalFeatureBuilder {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if cfg.MinHistory <= 0 {
		cfg.MinHistory = DefaultMinHistory
	}
	if cfg.LookbackMonths < rollingMonths {
		cfg.LookbackMonths = DefaultLookbackMonths
	}
	if keys == nil {
		keys = NewDistrictKeys(nil)
	}

	b := &TemporalFeatureBuilder{
		config:  cfg,
		keys:    keys,
		history: history,
		logger:  logger,
	}
	if cfg.CacheSize > 0 {
		b.cache = expirable.NewLRU[string, TemporalFeatures](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	return b
}

// WithFallback returns a copy of the builder using the given fallback
// values. The copy starts with an empty cache.
func (b *TemporalFeatureBuilder) WithFallback(fallback TemporalFallback) *TemporalFeatureBuilder {
	clone := *b
	clone.fallback = fallback
	if b.cache != nil {
		clone.cache = expirable.NewLRU[string, TemporalFeatures](b.config.CacheSize, nil, b.config.CacheTTL)
	}
	return &clone
}

func districtSeriesKey(districtKey string, segment int) string {
	return fmt.Sprintf("%s|%d", districtKey, segment)
}

func buildingSeriesKey(districtKey, building string, segment int) string {
	return fmt.Sprintf("%s|%s|%d", districtKey, compact(building), segment)
}

// BuildTraining computes temporal features for historical rows. Rows are
// processed in ascending date order whatever order they arrive in, each row
// seeing only the months before its own; results are returned in input
// order. Rows without enough history come back at LevelFallback carrying the
// builder's current fallback values.
func (b *TemporalFeatureBuilder) BuildTraining(rows []TemporalRow) []TemporalFeatures {
	order := make([]int, len(rows))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return rows[order[i]].Date.Before(rows[order[j]].Date)
	})

	districts := make(map[string]series)
	buildings := make(map[string]series)
	out := make([]TemporalFeatures, len(rows))

	for _, idx := range order {
		row := rows[idx]
		segment := AreaSegment(row.Area)
		month := monthIndex(row.Date)
		dKey := districtSeriesKey(row.DistrictKey, segment)
		bKey := buildingSeriesKey(row.DistrictKey, row.BuildingName, segment)

		var building series
		if row.BuildingName != "" {
			building = buildings[bKey]
		}
		out[idx] = b.compute(building, districts[dKey], month)

		if districts[dKey] == nil {
			districts[dKey] = make(series)
		}
		districts[dKey].add(month, row.Price)
		if row.BuildingName != "" {
			if buildings[bKey] == nil {
				buildings[bKey] = make(series)
			}
			buildings[bKey].add(month, row.Price)
		}
	}

	return out
}

// ForInference queries the transaction store for the months before the
// query date and computes the same statistics as BuildTraining. Store
// failures and thin history both resolve to the fallback values.
func (b *TemporalFeatureBuilder) ForInference(ctx context.Context, q TemporalQuery) TemporalFeatures {
	segment := AreaSegment(q.Area)
	month := monthIndex(q.Date)
	cacheKey := fmt.Sprintf("%s|%s|%s|%d|%d", q.Province, compact(q.District), compact(q.BuildingName), segment, month)

	if b.cache != nil {
		if cached, ok := b.cache.Get(cacheKey); ok {
			return cached
		}
	}

	if b.history == nil {
		return b.fallback.Features()
	}

	span := b.config.LookbackMonths
	if span < yoyMonths {
		span = yoyMonths
	}
	areaMin, areaMax := AreaSegmentRange(segment)
	filter := database.TransactionFilter{
		Province:  q.Province,
		Districts: b.keys.Spellings(q.Province, q.District),
		AreaMin:   areaMin,
		AreaMax:   areaMax,
		DateFrom:  monthStart(month-span, q.Date.Location()),
		DateTo:    monthStart(month, q.Date.Location()),
	}

	transactions, err := b.history.QueryTransactions(ctx, filter)
	if err != nil {
		b.logger.WithError(err).WithFields(logrus.Fields{
			"province": q.Province,
			"district": q.District,
		}).Warn("Temporal history query failed, using fallback values")
		TemporalFallbackTotal.WithLabelValues("store_error").Inc()
		return b.fallback.Features()
	}

	district := make(series)
	building := make(series)
	target := compact(q.BuildingName)
	districtKey := b.keys.Key(q.Province, q.District)
	for _, t := range transactions {
		if monthIndex(t.TransactionDate) >= month || b.keys.Key(t.Province, t.District) != districtKey {
			continue
		}
		m := monthIndex(t.TransactionDate)
		district.add(m, float64(t.Price))
		if target != "" && compact(t.BuildingName) == target {
			building.add(m, float64(t.Price))
		}
	}

	result := b.compute(building, district, month)
	if result.Level == LevelFallback {
		TemporalFallbackTotal.WithLabelValues("insufficient_history").Inc()
	}

	if b.cache != nil {
		b.cache.Add(cacheKey, result)
	}
	return result
}

// compute tries the building series first, then the district series
func (b *TemporalFeatureBuilder) compute(building, district series, month int) TemporalFeatures {
	if len(building) > 0 {
		if t, err := b.fromSeries(building, month); err == nil {
			t.Level = LevelBuilding
			return t
		}
	}
	if len(district) > 0 {
		if t, err := b.fromSeries(district, month); err == nil {
			t.Level = LevelDistrict
			return t
		}
	}
	return b.fallback.Features()
}

func (b *TemporalFeatureBuilder) fromSeries(s series, month int) (TemporalFeatures, error) {
	// Months with data inside the lookback window, newest first
	var available []int
	for m := month - 1; m >= month-b.config.LookbackMonths; m-- {
		if bucket, ok := s[m]; ok && bucket.count > 0 {
			available = append(available, m)
		}
	}
	if len(available) > rollingMonths {
		available = available[:rollingMonths]
	}

	sales := 0
	means := make([]float64, len(available))
	for i, m := range available {
		sales += s[m].count
		means[i], _ = s.mean(m)
	}
	if sales < b.config.MinHistory {
		return TemporalFeatures{}, ErrInsufficientData
	}

	t := TemporalFeatures{
		PriceLag1M:    means[0],
		PriceLag3M:    stat.Mean(means[:min(3, len(means))], nil),
		RollingMean6M: stat.Mean(means, nil),
	}
	if len(means) >= 2 {
		t.RollingStd6M = stat.StdDev(means, nil)
	}

	prev, okPrev := s.mean(month - 1)
	yearAgo, okYearAgo := s.mean(month - yoyMonths)
	if okPrev && okYearAgo && yearAgo != 0 {
		t.YoYChange = (prev - yearAgo) / yearAgo
	}

	if bucket, ok := s[month-1]; ok {
		t.VolumeLag1M = float64(bucket.count)
	}

	return t, nil
}

// Median of the finite values; 0 when there are none
func Median(values []float64) float64 {
	finite := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return 0
	}
	sort.Float64s(finite)
	n := len(finite)
	if n%2 == 1 {
		return finite[n/2]
	}
	return (finite[n/2-1] + finite[n/2]) / 2
}
