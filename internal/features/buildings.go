package features

import "github.com/choiwjun/chamgab-sub000/internal/models"

type buildingKey struct {
	district string
	name     string
}

type building struct {
	totalFloors *int
	buildYear   *int
	complex     *models.Complex
}

// Buildings maps a sale's district and building name to the stored
// building facts, so historical rows carry the same storey count and
// complex attributes a stored property gets at prediction time.
type Buildings struct {
	keys  *DistrictKeys
	index map[buildingKey]*building
}

// NewBuildings indexes properties and complexes. Property rows contribute
// the highest storey count seen for a building and their preloaded complex;
// complexes with no property fill in by name.
func NewBuildings(keys *DistrictKeys, properties []models.Property, complexes []models.Complex) *Buildings {
	if keys == nil {
		keys = NewDistrictKeys(nil)
	}
	b := &Buildings{keys: keys, index: make(map[buildingKey]*building)}

	for i := range properties {
		p := &properties[i]
		k, ok := b.key(p.Province, p.District, p.BuildingName)
		if !ok {
			continue
		}
		entry := b.entry(k)
		if p.TotalFloors != nil && *p.TotalFloors > 0 && (entry.totalFloors == nil || *p.TotalFloors > *entry.totalFloors) {
			entry.totalFloors = p.TotalFloors
		}
		if entry.buildYear == nil && p.BuildYear != nil && *p.BuildYear > 0 {
			entry.buildYear = p.BuildYear
		}
		if entry.complex == nil && p.Complex != nil {
			entry.complex = p.Complex
		}
	}

	for i := range complexes {
		c := &complexes[i]
		k, ok := b.key(c.Province, c.District, c.Name)
		if !ok {
			continue
		}
		if entry := b.entry(k); entry.complex == nil {
			entry.complex = c
		}
	}
	return b
}

func (b *Buildings) key(province, district, name string) (buildingKey, bool) {
	k := buildingKey{district: b.keys.Key(province, district), name: compact(name)}
	return k, k.district != "" && k.name != ""
}

func (b *Buildings) entry(k buildingKey) *building {
	entry, ok := b.index[k]
	if !ok {
		entry = &building{}
		b.index[k] = entry
	}
	return entry
}

func (b *Buildings) Len() int {
	if b == nil {
		return 0
	}
	return len(b.index)
}

// Attach fills the storey count, build year and complex of an input from
// its matched building. Values already on the input are kept.
func (b *Buildings) Attach(in Input) Input {
	if b == nil {
		return in
	}
	k, ok := b.key(in.Province, in.District, in.BuildingName)
	if !ok {
		return in
	}
	entry, ok := b.index[k]
	if !ok {
		return in
	}
	if in.TotalFloors == nil {
		in.TotalFloors = entry.totalFloors
	}
	if in.BuildYear == nil {
		in.BuildYear = entry.buildYear
	}
	if in.Complex == nil {
		in.Complex = entry.complex
	}
	return in
}
