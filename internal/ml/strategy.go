package ml

import (
	"errors"
	"fmt"
)

// Regressor is a fitted model over fixed-width feature vectors
type Regressor interface {
	Predict(x []float64) float64
	// Contributions returns a bias and per-feature terms summing to Predict(x)
	Contributions(x []float64) (float64, []float64)
	FeatureImportance() []float64
	NumFeatures() int
}

const DefaultEnsembleWeight = 0.5

// Strategy is how the served prediction is made from the fitted models:
// Single or Ensemble.
type Strategy interface {
	Predict(x []float64) float64
	Explain(x []float64) (float64, []float64)
	Primary() Regressor
	Name() string
}

type Single struct {
	Model Regressor
}

func (s Single) Predict(x []float64) float64 { return s.Model.Predict(x) }

func (s Single) Explain(x []float64) (float64, []float64) { return s.Model.Contributions(x) }

func (s Single) Primary() Regressor { return s.Model }

func (s Single) Name() string { return "single" }

// Ensemble blends two models; Weight is the primary's share
type Ensemble struct {
	PrimaryModel Regressor
	Secondary    Regressor
	Weight       float64
}

// Predict blends the primary prediction, floored at zero, with the
// secondary. A negative primary never drags the blend below the
// secondary's share.
func (e Ensemble) Predict(x []float64) float64 {
	return e.Weight*max(0, e.PrimaryModel.Predict(x)) + (1-e.Weight)*e.Secondary.Predict(x)
}

// Explain blends both models' contributions with the same weight, so the
// terms still add up to the blended prediction
func (e Ensemble) Explain(x []float64) (float64, []float64) {
	pb, pc := e.PrimaryModel.Contributions(x)
	sb, sc := e.Secondary.Contributions(x)
	out := make([]float64, len(pc))
	for i := range pc {
		out[i] = e.Weight*pc[i] + (1-e.Weight)*sc[i]
	}
	return e.Weight*pb + (1-e.Weight)*sb, out
}

func (e Ensemble) Primary() Regressor { return e.PrimaryModel }

func (e Ensemble) Name() string { return "ensemble" }

var ErrInvalidWeight = errors.New("ensemble weight must be within (0, 1)")

// NewStrategy returns an Ensemble only when it is enabled and a secondary
// model exists; otherwise Single around the primary.
func NewStrategy(primary, secondary Regressor, enabled bool, weight float64) (Strategy, error) {
	if primary == nil {
		return nil, errors.New("primary model is required")
	}
	if !enabled || secondary == nil {
		return Single{Model: primary}, nil
	}
	if weight == 0 {
		weight = DefaultEnsembleWeight
	}
	if weight <= 0 || weight >= 1 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWeight, weight)
	}
	if primary.NumFeatures() != secondary.NumFeatures() {
		return nil, fmt.Errorf("%w: primary %d, secondary %d", ErrWidthMismatch, primary.NumFeatures(), secondary.NumFeatures())
	}
	return Ensemble{PrimaryModel: primary, Secondary: secondary, Weight: weight}, nil
}
