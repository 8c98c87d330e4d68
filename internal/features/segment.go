package features

import "time"

const (
	DefaultBuildYear   = 2000
	DefaultTotalFloors = 15
)

// Upper bounds (exclusive) of the area segments in m². The last segment is open.
var areaSegmentBounds = []float64{60, 85, 115, 150}

// AreaSegment maps an exclusive area to its segment index 0..4
func AreaSegment(area float64) int {
	for i, bound := range areaSegmentBounds {
		if area < bound {
			return i
		}
	}
	return len(areaSegmentBounds)
}

// AreaSegmentRange returns the [min, max) area bounds of a segment. The
// open last segment reports max 0.
func AreaSegmentRange(segment int) (float64, float64) {
	switch {
	case segment <= 0:
		return 0, areaSegmentBounds[0]
	case segment >= len(areaSegmentBounds):
		return areaSegmentBounds[len(areaSegmentBounds)-1], 0
	default:
		return areaSegmentBounds[segment-1], areaSegmentBounds[segment]
	}
}

// EffectiveBuildYear prefers the complex build year, then the property's
func EffectiveBuildYear(complexYear, propertyYear *int) int {
	if complexYear != nil && *complexYear > 0 {
		return *complexYear
	}
	if propertyYear != nil && *propertyYear > 0 {
		return *propertyYear
	}
	return DefaultBuildYear
}

// BuildingAge is whole years between the build year and the reference date
func BuildingAge(buildYear int, asOf time.Time) float64 {
	age := asOf.Year() - buildYear
	if age < 0 {
		return 0
	}
	return float64(age)
}

// FloorRatio is floor over total floors, with a default height when unknown
func FloorRatio(floor int, totalFloors *int) float64 {
	total := DefaultTotalFloors
	if totalFloors != nil && *totalFloors > 0 {
		total = *totalFloors
	}
	return float64(floor) / float64(total)
}

// monthIndex counts months since year 0 so that month arithmetic is integer
func monthIndex(t time.Time) int {
	return t.Year()*12 + int(t.Month()) - 1
}

// monthStart converts a month index back to the first instant of the month
func monthStart(index int, loc *time.Location) time.Time {
	return time.Date(index/12, time.Month(index%12+1), 1, 0, 0, 0, 0, loc)
}
