package enrichment

import (
	"context"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/choiwjun/chamgab-sub000/internal/features"
	"github.com/choiwjun/chamgab-sub000/internal/models"
)

const (
	DefaultCountRadius  = 1000.0
	DefaultSearchRadius = 3000.0
)

// POI categories as stored in the pois table
const (
	CategorySubway   = "subway"
	CategorySchool   = "school"
	CategoryPark     = "park"
	CategoryHospital = "hospital"
	CategoryMart     = "mart"
)

var distanceFeatures = map[string]string{
	CategorySubway:   features.FeatureDistSubway,
	CategorySchool:   features.FeatureDistSchool,
	CategoryPark:     features.FeatureDistPark,
	CategoryHospital: features.FeatureDistHospital,
	CategoryMart:     features.FeatureDistMart,
}

var countFeatures = map[string]string{
	CategorySubway: features.FeatureSubwayCount,
	CategorySchool: features.FeatureSchoolCount,
	CategoryMart:   features.FeatureMartCount,
}

type POIStore interface {
	POIsWithin(ctx context.Context, minLat, minLon, maxLat, maxLon float64) ([]models.POI, error)
}

// POIProvider computes nearest distances (m) within the search radius and
// counts within the count radius. Distances with no POI in range are
// missing; counts default to 0.
type POIProvider struct {
	store        POIStore
	countRadius  float64
	searchRadius float64
}

func NewPOIProvider(store POIStore, countRadius float64) *POIProvider {
	if countRadius <= 0 {
		countRadius = DefaultCountRadius
	}
	search := DefaultSearchRadius
	if search < countRadius {
		search = countRadius
	}
	return &POIProvider{store: store, countRadius: countRadius, searchRadius: search}
}

func (p *POIProvider) Name() string { return "poi" }

func (p *POIProvider) Defaults() features.Row {
	row := features.Row{}
	for _, name := range distanceFeatures {
		row[name] = math.NaN()
	}
	for _, name := range countFeatures {
		row[name] = 0
	}
	return row
}

func (p *POIProvider) Features(ctx context.Context, req Request) (features.Row, error) {
	if req.Location == nil {
		return nil, ErrNoData
	}

	center := orb.Point{req.Location.Longitude, req.Location.Latitude}
	bound := geo.NewBoundAroundPoint(center, p.searchRadius)

	pois, err := p.store.POIsWithin(ctx, bound.Min.Lat(), bound.Min.Lon(), bound.Max.Lat(), bound.Max.Lon())
	if err != nil {
		return nil, fmt.Errorf("failed to load pois: %w", err)
	}

	row := p.Defaults()
	for _, poi := range pois {
		d := geo.Distance(center, orb.Point{poi.Longitude, poi.Latitude})
		if d > p.searchRadius {
			continue
		}
		if name, ok := distanceFeatures[poi.Category]; ok {
			if current := row[name]; math.IsNaN(current) || d < current {
				row[name] = d
			}
		}
		if name, ok := countFeatures[poi.Category]; ok && d <= p.countRadius {
			row[name]++
		}
	}
	return row, nil
}
