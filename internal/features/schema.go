// Package features turns transaction and property records into the ordered
// numeric vectors the price model is trained and queried with.
//
// The column list lives in one place (DefaultSchema) and is shared by the
// training pipeline and the prediction service, so column order cannot drift
// between the two. Each column carries a Category which decides how a missing
// value is imputed.
package features

import "math"

// Category selects the imputation rule of a feature
type Category int

const (
	CategoryOther Category = iota
	CategoryDistance
	CategoryCount
	CategoryTargetEncoded
	CategoryTemporal
)

func (c Category) String() string {
	switch c {
	case CategoryDistance:
		return "distance"
	case CategoryCount:
		return "count"
	case CategoryTargetEncoded:
		return "target_enc"
	case CategoryTemporal:
		return "temporal"
	default:
		return "other"
	}
}

// Field is one named column of the feature vector
type Field struct {
	Name     string
	Category Category
	Label    string // human readable, used in explanations
}

// Schema is an ordered list of fields
type Schema []Field

// Feature names. Referenced by the assembler, the training pipeline and the
// explanation templates.
const (
	FeatureArea            = "area_exclusive"
	FeatureFloor           = "floor"
	FeatureTotalFloors     = "total_floors"
	FeatureFloorRatio      = "floor_ratio"
	FeatureBuildingAge     = "building_age"
	FeatureAreaSegment     = "area_segment"
	FeatureTxYear          = "transaction_year"
	FeatureTxMonth         = "transaction_month"
	FeatureTotalUnits      = "complex_total_units"
	FeatureParkingRatio    = "complex_parking_ratio"
	FeatureIsBrand         = "is_brand"
	FeatureProvince        = "sido_label"
	FeatureDistrictEnc     = "sigungu_target_enc"
	FeatureSubDistrictEnc  = "dong_target_enc"
	FeatureDistSubway      = "distance_subway_m"
	FeatureDistSchool      = "distance_school_m"
	FeatureDistPark        = "distance_park_m"
	FeatureDistHospital    = "distance_hospital_m"
	FeatureDistMart        = "distance_mart_m"
	FeatureSubwayCount     = "subway_count_1km"
	FeatureSchoolCount     = "school_count_1km"
	FeatureMartCount       = "mart_count_1km"
	FeatureBaseRate        = "market_base_rate"
	FeatureMortgageRate    = "market_mortgage_rate"
	FeatureJeonseRatio     = "market_jeonse_ratio"
	FeatureBuyerIndex      = "market_buyer_index"
	FeatureFootfall        = "footfall_daily_avg"
	FeaturePriceLag1M      = "price_lag_1m"
	FeaturePriceLag3M      = "price_lag_3m"
	FeatureRollingMean6M   = "price_rolling_mean_6m"
	FeatureRollingStd6M    = "price_rolling_std_6m"
	FeatureYoYChange       = "price_yoy_change"
	FeatureVolumeLag1M     = "volume_lag_1m"
)

// DefaultSchema is the full column list in model order
var DefaultSchema = Schema{
	{Name: FeatureArea, Category: CategoryOther, Label: "Exclusive area"},
	{Name: FeatureFloor, Category: CategoryOther, Label: "Floor"},
	{Name: FeatureTotalFloors, Category: CategoryOther, Label: "Total floors"},
	{Name: FeatureFloorRatio, Category: CategoryOther, Label: "Floor position"},
	{Name: FeatureBuildingAge, Category: CategoryOther, Label: "Building age"},
	{Name: FeatureAreaSegment, Category: CategoryOther, Label: "Size segment"},
	{Name: FeatureTxYear, Category: CategoryOther, Label: "Transaction year"},
	{Name: FeatureTxMonth, Category: CategoryOther, Label: "Transaction month"},
	{Name: FeatureTotalUnits, Category: CategoryOther, Label: "Complex size"},
	{Name: FeatureParkingRatio, Category: CategoryOther, Label: "Parking ratio"},
	{Name: FeatureIsBrand, Category: CategoryOther, Label: "Brand complex"},
	{Name: FeatureProvince, Category: CategoryOther, Label: "Province"},
	{Name: FeatureDistrictEnc, Category: CategoryTargetEncoded, Label: "District"},
	{Name: FeatureSubDistrictEnc, Category: CategoryTargetEncoded, Label: "Neighbourhood"},
	{Name: FeatureDistSubway, Category: CategoryDistance, Label: "Distance to subway"},
	{Name: FeatureDistSchool, Category: CategoryDistance, Label: "Distance to school"},
	{Name: FeatureDistPark, Category: CategoryDistance, Label: "Distance to park"},
	{Name: FeatureDistHospital, Category: CategoryDistance, Label: "Distance to hospital"},
	{Name: FeatureDistMart, Category: CategoryDistance, Label: "Distance to mart"},
	{Name: FeatureSubwayCount, Category: CategoryCount, Label: "Subway stations nearby"},
	{Name: FeatureSchoolCount, Category: CategoryCount, Label: "Schools nearby"},
	{Name: FeatureMartCount, Category: CategoryCount, Label: "Marts nearby"},
	{Name: FeatureBaseRate, Category: CategoryOther, Label: "Base rate"},
	{Name: FeatureMortgageRate, Category: CategoryOther, Label: "Mortgage rate"},
	{Name: FeatureJeonseRatio, Category: CategoryOther, Label: "Jeonse ratio"},
	{Name: FeatureBuyerIndex, Category: CategoryOther, Label: "Buyer sentiment"},
	{Name: FeatureFootfall, Category: CategoryOther, Label: "Footfall"},
	{Name: FeaturePriceLag1M, Category: CategoryTemporal, Label: "Last month's price level"},
	{Name: FeaturePriceLag3M, Category: CategoryTemporal, Label: "Three month price level"},
	{Name: FeatureRollingMean6M, Category: CategoryTemporal, Label: "Six month price trend"},
	{Name: FeatureRollingStd6M, Category: CategoryTemporal, Label: "Price volatility"},
	{Name: FeatureYoYChange, Category: CategoryTemporal, Label: "Year over year change"},
	{Name: FeatureVolumeLag1M, Category: CategoryTemporal, Label: "Recent trading volume"},
}

// Names returns the field names in order
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}

// Lookup returns the field with the given name
func (s Schema) Lookup(name string) (Field, bool) {
	for _, f := range s {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Select returns the sub-schema for the given names, in the order given.
// Unknown names are reported through ok=false.
func (s Schema) Select(names []string) (Schema, bool) {
	out := make(Schema, 0, len(names))
	for _, name := range names {
		f, found := s.Lookup(name)
		if !found {
			return nil, false
		}
		out = append(out, f)
	}
	return out, true
}

// Row is a partial, unordered set of feature values
type Row map[string]float64

// Vector is a feature row in schema order. NaN marks a missing value.
type Vector []float64

// Project orders a row by the schema. Columns absent from the row become
// NaN; columns not in the schema are dropped.
func (s Schema) Project(row Row) Vector {
	v := make(Vector, len(s))
	for i, f := range s {
		value, ok := row[f.Name]
		if !ok {
			value = math.NaN()
		}
		v[i] = value
	}
	return v
}
