package features

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choiwjun/chamgab-sub000/internal/models"
)

func floatPtr(v float64) *float64 { return &v }

func TestBuildings_SaleMatchesStoredProperty(t *testing.T) {
	complex := &models.Complex{
		ID: 1, Name: "래미안 대치", Province: "서울특별시", District: "강남구",
		TotalUnits: intPtr(1200), ParkingRatio: floatPtr(1.4), Brand: "래미안", BuildYear: intPtr(2015),
	}
	property := models.Property{
		ID: 7, Province: "서울특별시", District: "강남구", SubDistrict: "대치동", BuildingName: "래미안 대치",
		AreaExclusive: 84, Floor: 15, TotalFloors: intPtr(30), BuildYear: intPtr(2015), Complex: complex,
	}
	date := time.Date(2024, time.June, 3, 0, 0, 0, 0, time.UTC)
	sale := &models.Transaction{
		Price: 2_500_000_000, AreaExclusive: 84, Floor: 15, TransactionDate: date,
		Province: "서울특별시", District: "강남구", SubDistrict: "대치동", BuildingName: "래미안대치",
	}

	buildings := NewBuildings(NewDistrictKeys(nil), []models.Property{property}, nil)
	require.Equal(t, 1, buildings.Len())

	got := BaseRow(buildings.Attach(InputFromTransaction(sale)))
	want := BaseRow(InputFromProperty(&property, date))
	assert.Equal(t, want, got)
	assert.Equal(t, 30.0, got[FeatureTotalFloors])
	assert.Equal(t, 0.5, got[FeatureFloorRatio])
	assert.Equal(t, 1200.0, got[FeatureTotalUnits])
	assert.Equal(t, 1.0, got[FeatureIsBrand])

	bare := BaseRow(InputFromTransaction(sale))
	assert.True(t, math.IsNaN(bare[FeatureTotalFloors]))
	assert.Equal(t, 0.0, bare[FeatureIsBrand])
}

func TestBuildings_ComplexByName(t *testing.T) {
	complexes := []models.Complex{{ID: 3, Name: "은마", Province: "서울특별시", District: "강남구", TotalUnits: intPtr(4424), BuildYear: intPtr(1979)}}
	buildings := NewBuildings(nil, nil, complexes)

	in := buildings.Attach(Input{Province: "서울특별시", District: "강남구", BuildingName: " 은마 ", Floor: 5})
	require.NotNil(t, in.Complex)
	assert.Equal(t, int64(3), in.Complex.ID)
	assert.Nil(t, in.TotalFloors)

	// Same name in another province stays unmatched
	other := buildings.Attach(Input{Province: "대구광역시", District: "강남구", BuildingName: "은마"})
	assert.Nil(t, other.Complex)
}

func TestBuildings_KeepsInputValues(t *testing.T) {
	property := models.Property{Province: "서울특별시", District: "노원구", BuildingName: "상계주공", TotalFloors: intPtr(15), BuildYear: intPtr(1988)}
	buildings := NewBuildings(nil, []models.Property{property}, nil)

	in := buildings.Attach(Input{Province: "서울특별시", District: "노원구", BuildingName: "상계주공", TotalFloors: intPtr(12), BuildYear: intPtr(1990)})
	assert.Equal(t, 12, *in.TotalFloors)
	assert.Equal(t, 1990, *in.BuildYear)

	var none *Buildings
	assert.Equal(t, "x", none.Attach(Input{BuildingName: "x"}).BuildingName)
}
