package prediction

import (
	"math"

	"github.com/choiwjun/chamgab-sub000/internal/artifacts"
	"github.com/choiwjun/chamgab-sub000/internal/models"
)

const (
	MinConfidence = 0.30
	MaxConfidence = 0.95

	accuracyWeight    = 0.6
	tightnessWeight   = 0.3
	completenessStep  = 0.02
	completenessMax   = 0.10
	fallbackHalfWidth = 0.10
)

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Interval derives the price band from the stored residual percentiles,
// or ±10% without them. The band is floored at 0 and always contains price.
func Interval(price float64, residuals artifacts.ResidualStats) (float64, float64) {
	low, high := price*(1-fallbackHalfWidth), price*(1+fallbackHalfWidth)
	if p10, p90, ok := residuals.Interval(); ok {
		low, high = price+p10, price+p90
		if low > high {
			low, high = high, low
		}
	}
	low = math.Max(0, math.Min(low, price))
	high = math.Max(high, price)
	return low, high
}

// Completeness counts the optional attributes present on a property: a
// building name, a brand, an area, a build year and a unit count
func Completeness(p *models.Property) int {
	present := 0
	if p.BuildingName != "" || (p.Complex != nil && p.Complex.Name != "") {
		present++
	}
	if p.Complex != nil && p.Complex.Brand != "" {
		present++
	}
	if p.AreaExclusive > 0 {
		present++
	}
	if (p.BuildYear != nil && *p.BuildYear > 0) || (p.Complex != nil && p.Complex.BuildYear != nil && *p.Complex.BuildYear > 0) {
		present++
	}
	if p.Complex != nil && p.Complex.TotalUnits != nil && *p.Complex.TotalUnits > 0 {
		present++
	}
	return present
}

// Score combines training accuracy, interval tightness and data
// completeness into a value within [0.30, 0.95]
func Score(price, low, high, mape float64, completeness int) float64 {
	accuracy := clamp(1-mape/100, MinConfidence, MaxConfidence)

	tightness := MinConfidence
	if price > 0 {
		tightness = clamp(1-((high-low)/price)/2, MinConfidence, MaxConfidence)
	}

	bonus := math.Min(completenessMax, completenessStep*float64(completeness))

	return clamp(accuracyWeight*accuracy+tightnessWeight*tightness+bonus, MinConfidence, MaxConfidence)
}

func Level(score float64) models.ConfidenceLevel {
	switch {
	case score >= 0.9:
		return models.ConfidenceVeryHigh
	case score >= 0.7:
		return models.ConfidenceHigh
	case score >= 0.5:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}
