package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

// LoadRegionOverrides merges a JSON file of additional provinces and compound
// cities into the built-in region tables. Entries in the file replace built-in
// entries with the same name. An empty path returns the defaults unchanged.
func LoadRegionOverrides(path string) (*Regions, error) {
	regions := DefaultRegions()
	if path == "" {
		return regions, nil
	}

	// Get absolute path to config file
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read region overrides: %w", err)
	}

	var overrides Regions
	if err := json.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse region overrides: %w", err)
	}

	for _, p := range overrides.Provinces {
		replaced := false
		for i, existing := range regions.Provinces {
			if existing.Name == p.Name {
				regions.Provinces[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			regions.Provinces = append(regions.Provinces, p)
		}
	}

	for province, cities := range overrides.CompoundCities {
		if regions.CompoundCities[province] == nil {
			regions.CompoundCities[province] = make(map[string]string, len(cities))
		}
		for gu, expanded := range cities {
			regions.CompoundCities[province][gu] = expanded
		}
	}

	return regions, nil
}
