package ml

import (
	"errors"
	"fmt"
)

const (
	KindBoosting = "gradient_boosting"
	KindForest   = "random_forest"
)

var ErrUnknownKind = errors.New("unknown model kind")

// Envelope tags a serialised model with its kind
type Envelope struct {
	Kind     string            `json:"kind"`
	Boosting *GradientBoosting `json:"boosting,omitempty"`
	Forest   *RandomForest     `json:"forest,omitempty"`
}

func Wrap(r Regressor) (*Envelope, error) {
	switch m := r.(type) {
	case *GradientBoosting:
		return &Envelope{Kind: KindBoosting, Boosting: m}, nil
	case *RandomForest:
		return &Envelope{Kind: KindForest, Forest: m}, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, r)
	}
}

// Regressor unwraps the model, checking every tree for dangling node indices
func (e *Envelope) Regressor() (Regressor, error) {
	var trees []*Tree
	var model Regressor
	switch e.Kind {
	case KindBoosting:
		if e.Boosting == nil {
			return nil, fmt.Errorf("%w: empty %s envelope", ErrUnknownKind, e.Kind)
		}
		trees, model = e.Boosting.Trees, e.Boosting
	case KindForest:
		if e.Forest == nil {
			return nil, fmt.Errorf("%w: empty %s envelope", ErrUnknownKind, e.Kind)
		}
		trees, model = e.Forest.Trees, e.Forest
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}

	for i, t := range trees {
		if err := t.validate(model.NumFeatures()); err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return model, nil
}

func (t *Tree) validate(width int) error {
	if t == nil || len(t.Nodes) == 0 {
		return errors.New("empty tree")
	}
	for i, n := range t.Nodes {
		if n.Feature == leaf {
			continue
		}
		if n.Feature < 0 || n.Feature >= width {
			return fmt.Errorf("node %d splits on feature %d of %d", i, n.Feature, width)
		}
		// Children always come after their parent
		if n.Left <= i || n.Right <= i || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
			return fmt.Errorf("node %d has invalid children", i)
		}
	}
	return nil
}
