package features

import (
	"errors"
	"fmt"
	"math"
)

// SentinelValue fills "other" features; trees can split on it
const SentinelValue = -1.0

var ErrSchemaMismatch = errors.New("vector does not match schema")

// MissingValueStrategy holds one fill value per feature, computed once from
// the training rows. The rule is chosen by the field's Category:
//
//	distance    training median
//	count       0
//	target_enc  training median
//	temporal    training median
//	other       SentinelValue
type MissingValueStrategy struct {
	Names  []string           `json:"names"`
	Values map[string]float64 `json:"values"`
}

// FitMissingValueStrategy computes fill values from the rows, which are in
// schema order. A median over a column with no observed values is 0.
func FitMissingValueStrategy(schema Schema, rows []Vector) (*MissingValueStrategy, error) {
	s := &MissingValueStrategy{
		Names:  schema.Names(),
		Values: make(map[string]float64, len(schema)),
	}

	for i, f := range schema {
		switch f.Category {
		case CategoryCount:
			s.Values[f.Name] = 0
		case CategoryDistance, CategoryTargetEncoded, CategoryTemporal:
			column := make([]float64, 0, len(rows))
			for _, row := range rows {
				if len(row) != len(schema) {
					return nil, fmt.Errorf("%w: row has %d values, schema %d", ErrSchemaMismatch, len(row), len(schema))
				}
				column = append(column, row[i])
			}
			s.Values[f.Name] = Median(column)
		default:
			s.Values[f.Name] = SentinelValue
		}
	}

	return s, nil
}

// Apply fills the NaN entries of v in place. Present values are never
// touched, so applying twice is the same as applying once.
func (s *MissingValueStrategy) Apply(v Vector) error {
	if len(v) != len(s.Names) {
		return fmt.Errorf("%w: vector has %d values, strategy %d", ErrSchemaMismatch, len(v), len(s.Names))
	}
	for i, name := range s.Names {
		if math.IsNaN(v[i]) || math.IsInf(v[i], 0) {
			v[i] = s.Values[name]
		}
	}
	return nil
}

// FillValue returns the persisted fill value of a feature
func (s *MissingValueStrategy) FillValue(name string) (float64, bool) {
	v, ok := s.Values[name]
	return v, ok
}
