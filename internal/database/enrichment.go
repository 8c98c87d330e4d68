package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/choiwjun/chamgab-sub000/internal/models"
)

// POIsWithin returns points of interest inside a lat/lon bounding box
func (d *Database) POIsWithin(ctx context.Context, minLat, minLon, maxLat, maxLon float64) ([]models.POI, error) {
	var pois []models.POI
	err := d.db.WithContext(ctx).
		Where("latitude BETWEEN ? AND ?", minLat, maxLat).
		Where("longitude BETWEEN ? AND ?", minLon, maxLon).
		Order("id ASC").
		Find(&pois).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query pois: %w", err)
	}
	return pois, nil
}

// MarketIndicatorAt returns the latest indicator row at or before the month
func (d *Database) MarketIndicatorAt(ctx context.Context, month time.Time) (*models.MarketIndicator, error) {
	var indicator models.MarketIndicator
	err := d.db.WithContext(ctx).
		Where("month <= ?", month).
		Order("month DESC").
		First(&indicator).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query market indicator: %w", err)
	}
	return &indicator, nil
}

// FootfallFor returns the footfall record of a district for the latest month
// at or before the given month
func (d *Database) FootfallFor(ctx context.Context, province, district string, month time.Time) (*models.FootfallRecord, error) {
	var record models.FootfallRecord
	err := d.db.WithContext(ctx).
		Where("province = ? AND district = ? AND month <= ?", province, district, month).
		Order("month DESC").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query footfall: %w", err)
	}
	return &record, nil
}

// InsertPOIs stores points of interest in batches
func (d *Database) InsertPOIs(ctx context.Context, pois []models.POI) error {
	if len(pois) == 0 {
		return nil
	}
	if err := d.db.WithContext(ctx).CreateInBatches(pois, 500).Error; err != nil {
		return fmt.Errorf("failed to insert pois: %w", err)
	}
	d.logger.WithField("count", len(pois)).Info("Inserted points of interest")
	return nil
}
