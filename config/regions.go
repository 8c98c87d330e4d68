package config

import "strings"

// Province represents a first-level administrative region (sido)
type Province struct {
	Name    string `json:"name"`
	Prefix  string `json:"prefix"`
	Capital bool   `json:"capital"`
}

// Regions holds the lookup tables used to build unambiguous district keys.
// CompoundCities maps province -> gu name -> parent city + gu, for cities
// that are split into non-autonomous gu (e.g. 수원시 장안구).
type Regions struct {
	Provinces      []Province                   `json:"provinces"`
	CompoundCities map[string]map[string]string `json:"compound_cities"`
}

// DefaultRegions returns the built-in province and compound city tables
func DefaultRegions() *Regions {
	return &Regions{
		Provinces: []Province{
			{Name: "서울특별시", Prefix: "서울", Capital: true},
			{Name: "부산광역시", Prefix: "부산"},
			{Name: "대구광역시", Prefix: "대구"},
			{Name: "인천광역시", Prefix: "인천"},
			{Name: "광주광역시", Prefix: "광주"},
			{Name: "대전광역시", Prefix: "대전"},
			{Name: "울산광역시", Prefix: "울산"},
			{Name: "세종특별자치시", Prefix: "세종"},
			{Name: "경기도", Prefix: "경기"},
			{Name: "강원특별자치도", Prefix: "강원"},
			{Name: "충청북도", Prefix: "충북"},
			{Name: "충청남도", Prefix: "충남"},
			{Name: "전북특별자치도", Prefix: "전북"},
			{Name: "전라남도", Prefix: "전남"},
			{Name: "경상북도", Prefix: "경북"},
			{Name: "경상남도", Prefix: "경남"},
			{Name: "제주특별자치도", Prefix: "제주"},
		},
		CompoundCities: map[string]map[string]string{
			"경기도": {
				"장안구": "수원시장안구", "권선구": "수원시권선구", "팔달구": "수원시팔달구", "영통구": "수원시영통구",
				"수정구": "성남시수정구", "중원구": "성남시중원구", "분당구": "성남시분당구",
				"덕양구": "고양시덕양구", "일산동구": "고양시일산동구", "일산서구": "고양시일산서구",
				"처인구": "용인시처인구", "기흥구": "용인시기흥구", "수지구": "용인시수지구",
				"만안구": "안양시만안구", "동안구": "안양시동안구",
				"상록구": "안산시상록구", "단원구": "안산시단원구",
			},
			"충청북도": {
				"상당구": "청주시상당구", "서원구": "청주시서원구", "흥덕구": "청주시흥덕구", "청원구": "청주시청원구",
			},
			"충청남도": {
				"동남구": "천안시동남구", "서북구": "천안시서북구",
			},
			"전북특별자치도": {
				"완산구": "전주시완산구", "덕진구": "전주시덕진구",
			},
			"경상북도": {
				"남구": "포항시남구", "북구": "포항시북구",
			},
			"경상남도": {
				"의창구": "창원시의창구", "성산구": "창원시성산구", "마산합포구": "창원시마산합포구",
				"마산회원구": "창원시마산회원구", "진해구": "창원시진해구",
			},
		},
	}
}

// GetProvince returns a province configuration by name
func (r *Regions) GetProvince(name string) (Province, bool) {
	for _, p := range r.Provinces {
		if p.Name == name {
			return p, true
		}
	}
	return Province{}, false
}

// IsCapital reports whether the province is the capital region
func (r *Regions) IsCapital(name string) bool {
	p, ok := r.GetProvince(name)
	return ok && p.Capital
}

// CanonicalDistrict removes whitespace from a district name and expands a
// bare gu of a compound city to its parent-city form, so that "수원시 장안구"
// and "장안구" in 경기도 produce the same name.
func (r *Regions) CanonicalDistrict(province, district string) string {
	fields := strings.Fields(district)
	if len(fields) == 0 {
		return ""
	}
	if expanded, ok := r.CompoundCities[province][fields[len(fields)-1]]; ok {
		return expanded
	}
	return strings.Join(fields, "")
}

// CompoundExpansion returns the parent-city form of a gu, if the province has one
func (r *Regions) CompoundExpansion(province, district string) (string, bool) {
	expanded, ok := r.CompoundCities[province][strings.TrimSpace(district)]
	return expanded, ok
}
