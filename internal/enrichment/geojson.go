package enrichment

import (
	"fmt"
	"io"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/choiwjun/chamgab-sub000/internal/models"
)

// DecodePOIs reads a GeoJSON FeatureCollection of points. Each feature needs
// a "category" property; "name" is optional. Non-point features are skipped.
func DecodePOIs(r io.Reader) ([]models.POI, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read poi file: %w", err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse poi file: %w", err)
	}

	pois := make([]models.POI, 0, len(fc.Features))
	for i, f := range fc.Features {
		point, ok := f.Geometry.(orb.Point)
		if !ok {
			continue
		}
		category := f.Properties.MustString("category", "")
		if category == "" {
			return nil, fmt.Errorf("poi feature %d has no category", i)
		}
		pois = append(pois, models.POI{
			Category:  category,
			Name:      f.Properties.MustString("name", ""),
			Latitude:  point.Lat(),
			Longitude: point.Lon(),
		})
	}
	return pois, nil
}
