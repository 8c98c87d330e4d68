package features

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/choiwjun/chamgab-sub000/internal/models"
)

// Input is the raw description of one row to featurise
type Input struct {
	Province     string
	District     string
	SubDistrict  string
	BuildingName string
	Area         float64
	Floor        int
	TotalFloors  *int
	BuildYear    *int
	Complex      *models.Complex
	Location     *models.Location
	Date         time.Time

	// Extra carries precomputed columns. Names outside the schema are dropped.
	Extra Row
}

// InputFromProperty describes a property as of the given date
func InputFromProperty(p *models.Property, asOf time.Time) Input {
	return Input{
		Province:     p.Province,
		District:     p.District,
		SubDistrict:  p.SubDistrict,
		BuildingName: p.BuildingName,
		Area:         p.AreaExclusive,
		Floor:        p.Floor,
		TotalFloors:  p.TotalFloors,
		BuildYear:    p.BuildYear,
		Complex:      p.Complex,
		Location:     p.Location(),
		Date:         asOf,
	}
}

// InputFromTransaction describes a historical sale at its own date
func InputFromTransaction(t *models.Transaction) Input {
	in := Input{
		Province:     t.Province,
		District:     t.District,
		SubDistrict:  t.SubDistrict,
		BuildingName: t.BuildingName,
		Area:         t.AreaExclusive,
		Floor:        t.Floor,
		Location:     t.Location(),
		Date:         t.TransactionDate,
	}
	if t.BuildYear > 0 {
		year := t.BuildYear
		in.BuildYear = &year
	}
	return in
}

// Enricher supplies location and market features. Implementations absorb
// their own failures and return defaults instead of errors.
type Enricher interface {
	Features(ctx context.Context, province, district string, loc *models.Location, at time.Time) Row
}

// Encoders is the fitted categorical state
type Encoders struct {
	District    *TargetEncoder `json:"district"`
	SubDistrict *TargetEncoder `json:"sub_district"`
	Province    *LabelEncoder  `json:"province"`
}

func optionalFloat(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

func optionalInt(v *int) float64 {
	if v == nil || *v <= 0 {
		return math.NaN()
	}
	return float64(*v)
}

// BaseRow computes the attribute and derived columns of an input
func BaseRow(in Input) Row {
	var complexYear *int
	var units *int
	var parking *float64
	brand := 0.0
	if in.Complex != nil {
		complexYear = in.Complex.BuildYear
		units = in.Complex.TotalUnits
		parking = in.Complex.ParkingRatio
		if in.Complex.Brand != "" {
			brand = 1
		}
	}

	return Row{
		FeatureArea:         in.Area,
		FeatureFloor:        float64(in.Floor),
		FeatureTotalFloors:  optionalInt(in.TotalFloors),
		FeatureFloorRatio:   FloorRatio(in.Floor, in.TotalFloors),
		FeatureBuildingAge:  BuildingAge(EffectiveBuildYear(complexYear, in.BuildYear), in.Date),
		FeatureAreaSegment:  float64(AreaSegment(in.Area)),
		FeatureTxYear:       float64(in.Date.Year()),
		FeatureTxMonth:      float64(in.Date.Month()),
		FeatureTotalUnits:   optionalInt(units),
		FeatureParkingRatio: optionalFloat(parking),
		FeatureIsBrand:      brand,
	}
}

// Merge copies src into dst, overwriting existing keys
func (r Row) Merge(src Row) Row {
	for k, v := range src {
		r[k] = v
	}
	return r
}

// FeatureAssembler turns an Input into the vector a fitted model expects.
// All of its state is read-only after construction, so one assembler can
// serve concurrent requests.
type FeatureAssembler struct {
	schema   Schema
	keys     *DistrictKeys
	encoders Encoders
	imputer  *MissingValueStrategy
	temporal *TemporalFeatureBuilder
	enricher Enricher
}

// NewFeatureAssembler checks that the imputer covers the schema it fills
func NewFeatureAssembler(schema Schema, keys *DistrictKeys, encoders Encoders, imputer *MissingValueStrategy, temporal *TemporalFeatureBuilder, enricher Enricher) (*FeatureAssembler, error) {
	if imputer == nil {
		return nil, fmt.Errorf("%w: missing fill values", ErrSchemaMismatch)
	}
	if len(imputer.Names) != len(schema) {
		return nil, fmt.Errorf("%w: %d fill values for %d features", ErrSchemaMismatch, len(imputer.Names), len(schema))
	}
	for i, f := range schema {
		if imputer.Names[i] != f.Name {
			return nil, fmt.Errorf("%w: fill value %d is %q, feature is %q", ErrSchemaMismatch, i, imputer.Names[i], f.Name)
		}
	}
	if keys == nil {
		keys = NewDistrictKeys(nil)
	}
	return &FeatureAssembler{
		schema:   schema,
		keys:     keys,
		encoders: encoders,
		imputer:  imputer,
		temporal: temporal,
		enricher: enricher,
	}, nil
}

// Schema returns the column order of assembled vectors
func (a *FeatureAssembler) Schema() Schema {
	return a.schema
}

// EncodeCategoricals returns the encoded district, dong and province columns
func (a *FeatureAssembler) EncodeCategoricals(province, district, subDistrict string) Row {
	row := Row{}
	districtKey := a.keys.Resolve(province, district, a.encoders.District)
	if a.encoders.District != nil {
		row[FeatureDistrictEnc] = a.encoders.District.Transform(districtKey)
	}
	if a.encoders.SubDistrict != nil {
		row[FeatureSubDistrictEnc] = a.encoders.SubDistrict.Transform(a.keys.SubDistrictKey(districtKey, subDistrict))
	}
	if a.encoders.Province != nil {
		row[FeatureProvince] = float64(a.encoders.Province.Transform(province))
	}
	return row
}

// Assemble builds the imputed vector for one input. Given the same input,
// artifacts and collaborator answers the output is identical.
func (a *FeatureAssembler) Assemble(ctx context.Context, in Input) (Vector, error) {
	row := Row{}
	row.Merge(in.Extra)
	row.Merge(BaseRow(in))

	if a.enricher != nil {
		row.Merge(a.enricher.Features(ctx, in.Province, in.District, in.Location, in.Date))
	}

	if a.temporal != nil {
		t := a.temporal.ForInference(ctx, TemporalQuery{
			Province:     in.Province,
			District:     in.District,
			BuildingName: in.BuildingName,
			Area:         in.Area,
			Date:         in.Date,
		})
		row.Merge(t.Row())
	}

	row.Merge(a.EncodeCategoricals(in.Province, in.District, in.SubDistrict))

	v := a.schema.Project(row)
	if err := a.imputer.Apply(v); err != nil {
		return nil, fmt.Errorf("failed to impute features: %w", err)
	}
	return v, nil
}
