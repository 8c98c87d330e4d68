package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fittedDistricts(t *testing.T, keys *DistrictKeys) *TargetEncoder {
	t.Helper()
	rows := []struct{ province, district string }{
		{"서울특별시", "중구"},
		{"서울특별시", "강남구"},
		{"대구광역시", "중구"},
		{"부산광역시", "해운대구"},
		{"경기도", "수원시 장안구"},
		{"경상북도", "남구"},
		{"경기도", "파주시"},
		{"경기도", "부천시 원미구"},
	}
	var values []string
	var targets []float64
	for i, r := range rows {
		values = append(values, keys.Key(r.province, r.district))
		targets = append(targets, float64(100*(i+1)))
	}
	enc, _, err := FitTargetEncoder(values, targets, DefaultSmoothing, DefaultFolds, 1)
	require.NoError(t, err)
	return enc
}

func TestDistrictKeys_Key(t *testing.T) {
	keys := NewDistrictKeys(nil)

	assert.Equal(t, "중구", keys.Key("서울특별시", "중구"))
	assert.Equal(t, "대구중구", keys.Key("대구광역시", "중구"))
	assert.Equal(t, "경기수원시장안구", keys.Key("경기도", "장안구"))
	assert.Equal(t, "경기수원시장안구", keys.Key("경기도", "수원시 장안구"))
	assert.Equal(t, "신도시중앙구", keys.Key("신도시", "중앙구"))
	assert.Equal(t, "", keys.Key("서울특별시", " "))
	assert.Equal(t, "대구중구/동인동", keys.SubDistrictKey("대구중구", "동인동"))
	assert.Equal(t, "", keys.SubDistrictKey("", "동인동"))
}

func TestDistrictKeys_Resolve(t *testing.T) {
	keys := NewDistrictKeys(nil)
	enc := fittedDistricts(t, keys)

	tests := []struct {
		name     string
		province string
		district string
		expected string
	}{
		{name: "Capital uses plain name", province: "서울특별시", district: "중구", expected: "중구"},
		{name: "Province prefix", province: "대구광역시", district: "중구", expected: "대구중구"},
		{name: "Compound city expansion", province: "경기도", district: "장안구", expected: "경기수원시장안구"},
		{name: "Compound city full name", province: "경기도", district: "수원시 장안구", expected: "경기수원시장안구"},
		{name: "Pohang gu", province: "경상북도", district: "남구", expected: "경북포항시남구"},
		{name: "Whitespace in name", province: "경기도", district: "파주 시", expected: "경기파주시"},
		{name: "Unique suffix within province", province: "경기도", district: "원미구", expected: "경기부천시원미구"},
		{name: "Unique suffix without province", province: "", district: "원미구", expected: "경기부천시원미구"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, keys.Resolve(tt.province, tt.district, enc))
		})
	}
}

func TestDistrictKeys_SameNameNeverShared(t *testing.T) {
	keys := NewDistrictKeys(nil)
	enc := fittedDistricts(t, keys)

	seoul := keys.Resolve("서울특별시", "중구", enc)
	daegu := keys.Resolve("대구광역시", "중구", enc)
	assert.NotEqual(t, seoul, daegu)
	assert.NotEqual(t, enc.Transform(seoul), enc.Transform(daegu))

	// 중구 of a province that was never fitted must not borrow another
	// province's bucket through the suffix match
	busan := keys.Resolve("부산광역시", "중구", enc)
	assert.True(t, IsUnmapped(busan))
	assert.Equal(t, enc.GlobalMean, enc.Transform(busan))

	// Without a known province the suffix match still skips bare capital keys
	unknown := keys.Resolve("신도시", "중구", enc)
	assert.NotEqual(t, seoul, unknown)
	assert.Equal(t, "대구중구", unknown)
}

func TestDistrictKeys_UnmappedKeyNeverCollides(t *testing.T) {
	keys := NewDistrictKeys(nil)
	enc := fittedDistricts(t, keys)

	unmapped := keys.Resolve("경기도", "새로운구", enc)
	require.True(t, IsUnmapped(unmapped))
	assert.Equal(t, enc.GlobalMean, enc.Transform(unmapped))

	for _, key := range enc.Keys() {
		assert.False(t, IsUnmapped(key))
		assert.NotEqual(t, unmapped, key)
	}

	// Names carrying the reserved marker are stripped by the key builder
	hostile := keys.Key(unmappedPrefix+"경기도", unmappedPrefix+"새로운구")
	assert.False(t, IsUnmapped(hostile))
	assert.NotEqual(t, unmapped, hostile)
}

func TestDistrictKeys_ResolveWithoutEncoder(t *testing.T) {
	keys := NewDistrictKeys(nil)
	assert.Equal(t, "강남구", keys.Resolve("서울특별시", "강남구", nil))
	assert.True(t, IsUnmapped(keys.Resolve("대구광역시", "중구", nil)))
	assert.True(t, IsUnmapped(keys.Resolve("대구광역시", "", nil)))
}

func TestDistrictKeys_Spellings(t *testing.T) {
	keys := NewDistrictKeys(nil)

	assert.Equal(t, []string{"강남구"}, keys.Spellings("서울특별시", "강남구"))
	assert.ElementsMatch(t, []string{"장안구", "수원시장안구", "수원시 장안구"}, keys.Spellings("경기도", "장안구"))
	assert.ElementsMatch(t, []string{"수원시 장안구", "수원시장안구", "장안구"}, keys.Spellings("경기도", "수원시 장안구"))
	assert.Empty(t, keys.Spellings("경기도", " "))
}
