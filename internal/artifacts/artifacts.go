// Package artifacts persists everything training produces and the
// prediction path consumes, and swaps complete sets in atomically.
package artifacts

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/choiwjun/chamgab-sub000/internal/features"
	"github.com/choiwjun/chamgab-sub000/internal/ml"
)

var ErrArtifactLoad = errors.New("artifact load failed")

// LoadError describes why a set cannot be served. It matches ErrArtifactLoad.
type LoadError struct {
	Reason string
	Err    error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %s: %v", ErrArtifactLoad, e.Reason, e.Err)
	}
	return fmt.Sprintf("%v: %s", ErrArtifactLoad, e.Reason)
}

func (e *LoadError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrArtifactLoad, e.Err}
	}
	return []error{ErrArtifactLoad}
}

func loadErrorf(format string, args ...interface{}) *LoadError {
	return &LoadError{Reason: fmt.Sprintf(format, args...)}
}

// ResidualPercentiles are the percentiles of actual minus predicted price
// persisted from the test split
var ResidualPercentiles = []int{5, 10, 25, 75, 90, 95}

type ResidualStats struct {
	Percentiles map[int]float64 `json:"percentiles"`
	MAPE        float64         `json:"mape"`
}

// Interval returns the p10 and p90 residuals when both are present
func (r ResidualStats) Interval() (float64, float64, bool) {
	low, okLow := r.Percentiles[10]
	high, okHigh := r.Percentiles[90]
	return low, high, okLow && okHigh
}

// Set is one trained artifact set. It is immutable once saved.
type Set struct {
	Version          string                         `json:"version"`
	TrainedAt        time.Time                      `json:"trained_at"`
	FeatureNames     []string                       `json:"feature_names"`
	Encoders         features.Encoders              `json:"encoders"`
	FillValues       *features.MissingValueStrategy `json:"fill_values"`
	TemporalFallback features.TemporalFallback      `json:"temporal_fallback"`
	Primary          *ml.Envelope                   `json:"primary"`
	Secondary        *ml.Envelope                   `json:"secondary,omitempty"`
	Ensemble         bool                           `json:"ensemble"`
	EnsembleWeight   float64                        `json:"ensemble_weight"`
	Residuals        ResidualStats                  `json:"residuals"`
	Metrics          ml.Metrics                     `json:"metrics"`
	TrainingRows     int                            `json:"training_rows"`
}

// NewVersion returns a fresh set identifier
func NewVersion() string {
	return uuid.NewString()
}

// Schema returns the sub-schema for the set's feature names
func (s *Set) Schema() (features.Schema, error) {
	schema, ok := features.DefaultSchema.Select(s.FeatureNames)
	if !ok {
		return nil, loadErrorf("feature names are not a subset of the schema")
	}
	return schema, nil
}

// Validate catches structural mismatches between the model, the encoders
// and the feature list before anything is served
func (s *Set) Validate() error {
	if len(s.FeatureNames) == 0 {
		return loadErrorf("no feature names")
	}
	seen := make(map[string]bool, len(s.FeatureNames))
	for _, name := range s.FeatureNames {
		if seen[name] {
			return loadErrorf("duplicate feature %q", name)
		}
		seen[name] = true
		if _, ok := features.DefaultSchema.Lookup(name); !ok {
			return loadErrorf("unknown feature %q", name)
		}
	}

	if s.FillValues == nil {
		return loadErrorf("missing fill values")
	}
	if len(s.FillValues.Names) != len(s.FeatureNames) {
		return loadErrorf("%d fill values for %d features", len(s.FillValues.Names), len(s.FeatureNames))
	}
	for i, name := range s.FeatureNames {
		if s.FillValues.Names[i] != name {
			return loadErrorf("fill value %d is for %q, feature is %q", i, s.FillValues.Names[i], name)
		}
		v, ok := s.FillValues.Values[name]
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			return loadErrorf("no usable fill value for %q", name)
		}
	}

	if seen[features.FeatureDistrictEnc] && s.Encoders.District == nil {
		return loadErrorf("missing district encoder")
	}
	if seen[features.FeatureSubDistrictEnc] && s.Encoders.SubDistrict == nil {
		return loadErrorf("missing sub-district encoder")
	}
	if seen[features.FeatureProvince] && s.Encoders.Province == nil {
		return loadErrorf("missing province encoder")
	}

	if s.Primary == nil {
		return loadErrorf("missing primary model")
	}
	primary, err := s.Primary.Regressor()
	if err != nil {
		return &LoadError{Reason: "primary model", Err: err}
	}
	if primary.NumFeatures() != len(s.FeatureNames) {
		return loadErrorf("primary model expects %d features, set has %d", primary.NumFeatures(), len(s.FeatureNames))
	}
	if s.Secondary != nil {
		secondary, err := s.Secondary.Regressor()
		if err != nil {
			return &LoadError{Reason: "secondary model", Err: err}
		}
		if secondary.NumFeatures() != len(s.FeatureNames) {
			return loadErrorf("secondary model expects %d features, set has %d", secondary.NumFeatures(), len(s.FeatureNames))
		}
	}

	for p, v := range s.Residuals.Percentiles {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return loadErrorf("residual percentile %d is not finite", p)
		}
	}
	return nil
}

// Bundle is a validated set with its models unpacked
type Bundle struct {
	Set      *Set
	Schema   features.Schema
	Strategy ml.Strategy
}

// NewBundle validates the set and builds its prediction strategy
func NewBundle(set *Set) (*Bundle, error) {
	if set == nil {
		return nil, loadErrorf("no artifact set")
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	schema, err := set.Schema()
	if err != nil {
		return nil, err
	}

	primary, err := set.Primary.Regressor()
	if err != nil {
		return nil, &LoadError{Reason: "primary model", Err: err}
	}
	var secondary ml.Regressor
	if set.Secondary != nil {
		if secondary, err = set.Secondary.Regressor(); err != nil {
			return nil, &LoadError{Reason: "secondary model", Err: err}
		}
	}

	strategy, err := ml.NewStrategy(primary, secondary, set.Ensemble, set.EnsembleWeight)
	if err != nil {
		return nil, &LoadError{Reason: "prediction strategy", Err: err}
	}

	return &Bundle{Set: set, Schema: schema, Strategy: strategy}, nil
}
