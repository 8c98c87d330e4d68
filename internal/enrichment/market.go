package enrichment

import (
	"context"
	"errors"
	"time"

	"github.com/choiwjun/chamgab-sub000/internal/database"
	"github.com/choiwjun/chamgab-sub000/internal/features"
	"github.com/choiwjun/chamgab-sub000/internal/models"
)

type MarketStore interface {
	MarketIndicatorAt(ctx context.Context, month time.Time) (*models.MarketIndicator, error)
}

// MarketProvider returns the latest monthly indicators at or before the
// request date. All four default to missing.
type MarketProvider struct {
	store MarketStore
}

func NewMarketProvider(store MarketStore) *MarketProvider {
	return &MarketProvider{store: store}
}

func (p *MarketProvider) Name() string { return "market" }

func (p *MarketProvider) Defaults() features.Row {
	return missing(features.FeatureBaseRate, features.FeatureMortgageRate, features.FeatureJeonseRatio, features.FeatureBuyerIndex)
}

func (p *MarketProvider) Features(ctx context.Context, req Request) (features.Row, error) {
	indicator, err := p.store.MarketIndicatorAt(ctx, req.At)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNoData
	}
	if err != nil {
		return nil, err
	}
	return features.Row{
		features.FeatureBaseRate:     indicator.BaseRate,
		features.FeatureMortgageRate: indicator.MortgageRate,
		features.FeatureJeonseRatio:  indicator.JeonseRatio,
		features.FeatureBuyerIndex:   indicator.BuyerIndex,
	}, nil
}

type FootfallStore interface {
	FootfallFor(ctx context.Context, province, district string, month time.Time) (*models.FootfallRecord, error)
}

// FootfallProvider returns the average daily floating population of the
// district. Defaults to missing.
type FootfallProvider struct {
	store FootfallStore
}

func NewFootfallProvider(store FootfallStore) *FootfallProvider {
	return &FootfallProvider{store: store}
}

func (p *FootfallProvider) Name() string { return "footfall" }

func (p *FootfallProvider) Defaults() features.Row {
	return missing(features.FeatureFootfall)
}

func (p *FootfallProvider) Features(ctx context.Context, req Request) (features.Row, error) {
	if req.District == "" {
		return nil, ErrNoData
	}
	record, err := p.store.FootfallFor(ctx, req.Province, req.District, req.At)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNoData
	}
	if err != nil {
		return nil, err
	}
	return features.Row{features.FeatureFootfall: record.DailyCount}, nil
}
