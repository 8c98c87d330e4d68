package database

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/choiwjun/chamgab-sub000/internal/models"
)

// complexKey is the identity of a complex: whitespace-insensitive name plus
// the canonical district, so both spellings of a compound city collide
func (d *Database) complexKey(c *models.Complex) string {
	name := strings.Join(strings.Fields(c.Name), "")
	return c.Province + "|" + d.regions.CanonicalDistrict(c.Province, c.District) + "|" + name
}

// DeduplicateComplexes merges complexes that share a canonical (name,
// district) pair. The lowest id survives, absorbs missing metadata from the
// duplicates and takes over their properties. Returns the number of removed rows.
func (d *Database) DeduplicateComplexes(ctx context.Context) (int, error) {
	var complexes []models.Complex
	if err := d.db.WithContext(ctx).Order("id ASC").Find(&complexes).Error; err != nil {
		return 0, fmt.Errorf("failed to load complexes: %w", err)
	}

	groups := make(map[string][]models.Complex)
	for _, c := range complexes {
		key := d.complexKey(&c)
		groups[key] = append(groups[key], c)
	}

	keys := make([]string, 0, len(groups))
	for key, group := range groups {
		if len(group) > 1 {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	merged := 0
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, key := range keys {
			group := groups[key]
			canonical := group[0]
			duplicateIDs := make([]int64, 0, len(group)-1)

			for _, dup := range group[1:] {
				mergeComplex(&canonical, &dup)
				duplicateIDs = append(duplicateIDs, dup.ID)
			}

			if err := tx.Save(&canonical).Error; err != nil {
				return fmt.Errorf("failed to save canonical complex %d: %w", canonical.ID, err)
			}
			if err := tx.Model(&models.Property{}).
				Where("complex_id IN ?", duplicateIDs).
				Update("complex_id", canonical.ID).Error; err != nil {
				return fmt.Errorf("failed to repoint properties to complex %d: %w", canonical.ID, err)
			}
			if err := tx.Delete(&models.Complex{}, duplicateIDs).Error; err != nil {
				return fmt.Errorf("failed to delete duplicate complexes: %w", err)
			}

			d.logger.WithFields(logrus.Fields{
				"complex_id": canonical.ID,
				"merged_ids": duplicateIDs,
				"name":       canonical.Name,
			}).Info("Merged duplicate complexes")
			merged += len(duplicateIDs)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return merged, nil
}

// mergeComplex fills gaps in dst from src; values already on dst win
func mergeComplex(dst, src *models.Complex) {
	if dst.TotalUnits == nil && src.TotalUnits != nil {
		dst.TotalUnits = src.TotalUnits
	}
	if dst.ParkingRatio == nil && src.ParkingRatio != nil {
		dst.ParkingRatio = src.ParkingRatio
	}
	if dst.Brand == "" {
		dst.Brand = src.Brand
	}
	if dst.BuildYear == nil && src.BuildYear != nil {
		dst.BuildYear = src.BuildYear
	}
	// Prefer the more specific district spelling ("수원시 장안구" over "장안구")
	if len(strings.Fields(src.District)) > len(strings.Fields(dst.District)) {
		dst.District = src.District
	}
}
