package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalDistrict(t *testing.T) {
	regions := DefaultRegions()

	tests := []struct {
		name     string
		province string
		district string
		expected string
	}{
		{name: "Seoul district unchanged", province: "서울특별시", district: "강남구", expected: "강남구"},
		{name: "Compound city with parent", province: "경기도", district: "수원시 장안구", expected: "수원시장안구"},
		{name: "Compound city bare gu", province: "경기도", district: "장안구", expected: "수원시장안구"},
		{name: "Same gu name in another province", province: "부산광역시", district: "남구", expected: "남구"},
		{name: "Pohang gu", province: "경상북도", district: "남구", expected: "포항시남구"},
		{name: "Whitespace only", province: "경기도", district: "  ", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, regions.CanonicalDistrict(tt.province, tt.district))
		})
	}
}

func TestIsCapital(t *testing.T) {
	regions := DefaultRegions()
	assert.True(t, regions.IsCapital("서울특별시"))
	assert.False(t, regions.IsCapital("대구광역시"))
	assert.False(t, regions.IsCapital("unknown"))
}

func TestLoadRegionOverrides(t *testing.T) {
	t.Run("Empty path returns defaults", func(t *testing.T) {
		regions, err := LoadRegionOverrides("")
		require.NoError(t, err)
		assert.Len(t, regions.Provinces, len(DefaultRegions().Provinces))
	})

	t.Run("File entries are merged", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "regions.json")
		payload := `{
			"provinces": [{"name": "대구광역시", "prefix": "대구시"}, {"name": "테스트도", "prefix": "테스트"}],
			"compound_cities": {"경기도": {"원미구": "부천시원미구"}}
		}`
		require.NoError(t, os.WriteFile(path, []byte(payload), 0644))

		regions, err := LoadRegionOverrides(path)
		require.NoError(t, err)

		daegu, ok := regions.GetProvince("대구광역시")
		require.True(t, ok)
		assert.Equal(t, "대구시", daegu.Prefix)

		_, ok = regions.GetProvince("테스트도")
		assert.True(t, ok)

		assert.Equal(t, "부천시원미구", regions.CanonicalDistrict("경기도", "원미구"))
		assert.Equal(t, "수원시장안구", regions.CanonicalDistrict("경기도", "장안구"))
	})

	t.Run("Missing file fails", func(t *testing.T) {
		_, err := LoadRegionOverrides(filepath.Join(t.TempDir(), "missing.json"))
		assert.Error(t, err)
	})
}
