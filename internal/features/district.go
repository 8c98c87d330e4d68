package features

import (
	"strings"

	"github.com/choiwjun/chamgab-sub000/config"
)

// unmappedPrefix starts every key ResolveDistrictKey synthesises when no
// fitted key matches. Real names never contain NUL, and Key strips it, so an
// unmapped key cannot collide with a fitted category.
const unmappedPrefix = "\x00unmapped:"

// DistrictKeys builds target-encoding keys for districts so that identical
// gu names in different provinces (서울 중구, 대구 중구) never share a bucket.
type DistrictKeys struct {
	regions *config.Regions
}

func NewDistrictKeys(regions *config.Regions) *DistrictKeys {
	if regions == nil {
		regions = config.DefaultRegions()
	}
	return &DistrictKeys{regions: regions}
}

func compact(s string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(s, "\x00", "")), "")
}

// Key is the training-time key of a district: the plain canonical name in
// the capital, the province prefix plus canonical name elsewhere, and the
// full province name plus canonical name for provinces missing from the
// region table.
func (k *DistrictKeys) Key(province, district string) string {
	canonical := k.regions.CanonicalDistrict(province, compact(district))
	if canonical == "" {
		return ""
	}
	p, ok := k.regions.GetProvince(province)
	switch {
	case ok && p.Capital:
		return canonical
	case ok:
		return p.Prefix + canonical
	default:
		return compact(province) + canonical
	}
}

// Spellings lists the raw district names the store may hold for one
// district, such as "수원시 장안구", "수원시장안구" and "장안구"
func (k *DistrictKeys) Spellings(province, district string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(name string) {
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}

	add(strings.TrimSpace(district))
	add(compact(district))

	fields := strings.Fields(district)
	if len(fields) == 0 {
		return out
	}
	gu := fields[len(fields)-1]
	if expanded, ok := k.regions.CompoundExpansion(province, gu); ok {
		city := strings.TrimSuffix(expanded, gu)
		add(gu)
		add(expanded)
		add(city + " " + gu)
	}
	return out
}

// SubDistrictKey qualifies a dong with its district key
func (k *DistrictKeys) SubDistrictKey(districtKey, subDistrict string) string {
	dong := compact(subDistrict)
	if districtKey == "" || dong == "" {
		return ""
	}
	return districtKey + "/" + dong
}

// Resolve finds the fitted key for a district at inference time. The order
// below is the contract; changing it changes which prices a district is
// compared against:
//
//  1. capital province: the plain district name, unconditionally
//  2. province-qualified name (prefix + name) if it was fitted
//  3. compound-city expansion (prefix + parent city + gu) if it was fitted
//  4. the only fitted key that ends with the name and carries a qualifier
//     (the province's own prefix when the province is known)
//  5. otherwise an unmapped key, which encodes to the global mean
//
// Step 4 never matches a bare capital key or another province's key, so a
// non-capital 중구 can never be resolved to Seoul's or Daegu's 중구.
func (k *DistrictKeys) Resolve(province, district string, enc *TargetEncoder) string {
	plain := compact(district)
	if plain == "" {
		return unmappedKey(province, district)
	}

	p, known := k.regions.GetProvince(province)
	if known && p.Capital {
		return plain
	}

	qualifier := compact(province)
	if known {
		qualifier = p.Prefix
	}

	if qualifier != "" {
		if key := qualifier + plain; fitted(enc, key) {
			return key
		}
	}

	if expanded, ok := k.regions.CompoundExpansion(province, plain); ok {
		if key := qualifier + expanded; fitted(enc, key) {
			return key
		}
	}

	if enc != nil {
		var match string
		matches := 0
		for key := range enc.Mapping {
			if len(key) <= len(plain) || !strings.HasSuffix(key, plain) || IsUnmapped(key) {
				continue
			}
			if known && !strings.HasPrefix(key, qualifier) {
				continue
			}
			if !known && !k.hasProvincePrefix(key) {
				continue
			}
			match = key
			matches++
		}
		if matches == 1 {
			return match
		}
	}

	return unmappedKey(province, district)
}

// hasProvincePrefix reports whether a key starts with a non-capital province
// prefix, which bare capital keys never do
func (k *DistrictKeys) hasProvincePrefix(key string) bool {
	for _, p := range k.regions.Provinces {
		if !p.Capital && p.Prefix != "" && strings.HasPrefix(key, p.Prefix) {
			return true
		}
	}
	return false
}

func fitted(enc *TargetEncoder, key string) bool {
	if enc == nil {
		return false
	}
	_, ok := enc.Mapping[key]
	return ok
}

func unmappedKey(province, district string) string {
	return unmappedPrefix + compact(province) + "|" + compact(district)
}

// IsUnmapped reports whether a key was synthesised by Resolve
func IsUnmapped(key string) bool {
	return strings.HasPrefix(key, unmappedPrefix)
}
