package features

import (
	"errors"
	"math/rand"
	"sort"
)

const (
	DefaultSmoothing = 20.0
	DefaultFolds     = 5
)

var ErrEmptyTargets = errors.New("target encoder needs at least one row")

// TargetEncoder replaces a category with a smoothed mean of the target.
// After Fit the mapping is read-only.
type TargetEncoder struct {
	Mapping    map[string]float64 `json:"mapping"`
	GlobalMean float64            `json:"global_mean"`
	Smoothing  float64            `json:"smoothing"`
	Folds      int                `json:"folds"` // fold count actually used
}

type categoryStats struct {
	sum   float64
	count int
}

func smoothedMean(stats categoryStats, globalMean, smoothing float64) float64 {
	n := float64(stats.count)
	if n == 0 {
		return globalMean
	}
	mean := stats.sum / n
	return (n*mean + smoothing*globalMean) / (n + smoothing)
}

// FitTargetEncoder fits the encoder on the full data and returns the
// out-of-fold encoding of every input row. A row's encoded value is computed
// only from rows in other folds, so it never sees its own target. Fold
// membership depends on the row count and seed, not on the values.
//
// The fold count degrades to the row count when there are fewer rows than
// folds; with a single row every training encoding is the global mean.
func FitTargetEncoder(values []string, targets []float64, smoothing float64, folds int, seed int64) (*TargetEncoder, []float64, error) {
	n := len(values)
	if n == 0 || n != len(targets) {
		return nil, nil, ErrEmptyTargets
	}
	if smoothing < 0 {
		smoothing = DefaultSmoothing
	}
	if folds <= 0 {
		folds = DefaultFolds
	}
	if folds > n {
		folds = n
	}

	full := make(map[string]categoryStats)
	var total float64
	for i, v := range values {
		s := full[v]
		s.sum += targets[i]
		s.count++
		full[v] = s
		total += targets[i]
	}
	globalMean := total / float64(n)

	enc := &TargetEncoder{
		Mapping:    make(map[string]float64, len(full)),
		GlobalMean: globalMean,
		Smoothing:  smoothing,
		Folds:      folds,
	}
	for v, s := range full {
		enc.Mapping[v] = smoothedMean(s, globalMean, smoothing)
	}

	encoded := make([]float64, n)
	if folds < 2 {
		for i := range encoded {
			encoded[i] = globalMean
		}
		return enc, encoded, nil
	}

	assignment := foldAssignment(n, folds, seed)
	for f := 0; f < folds; f++ {
		// Summed from scratch rather than subtracted from the full stats, so
		// a fold's encodings are bit-identical whatever the held-out targets are
		oof := make(map[string]categoryStats, len(full))
		var oofTotal float64
		var oofCount int
		for i, v := range values {
			if assignment[i] == f {
				continue
			}
			s := oof[v]
			s.sum += targets[i]
			s.count++
			oof[v] = s
			oofTotal += targets[i]
			oofCount++
		}

		oofMean := globalMean
		if oofCount > 0 {
			oofMean = oofTotal / float64(oofCount)
		}
		for i, v := range values {
			if assignment[i] == f {
				encoded[i] = smoothedMean(oof[v], oofMean, smoothing)
			}
		}
	}

	return enc, encoded, nil
}

// foldAssignment shuffles row positions with the seed and deals them into
// folds round-robin
func foldAssignment(n, folds int, seed int64) []int {
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	assignment := make([]int, n)
	for pos, row := range perm {
		assignment[row] = pos % folds
	}
	return assignment
}

// Transform looks up a category; unseen categories resolve to the global mean
func (e *TargetEncoder) Transform(value string) float64 {
	if v, ok := e.Mapping[value]; ok {
		return v
	}
	return e.GlobalMean
}

// TransformAll encodes a column
func (e *TargetEncoder) TransformAll(values []string) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = e.Transform(v)
	}
	return out
}

// Keys returns the fitted categories in sorted order
func (e *TargetEncoder) Keys() []string {
	keys := make([]string, 0, len(e.Mapping))
	for k := range e.Mapping {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LabelEncoder maps the distinct values of a low-cardinality column to
// 1..n in sorted order. 0 is reserved for values not seen at fit time.
type LabelEncoder struct {
	Classes map[string]int `json:"classes"`
}

func FitLabelEncoder(values []string) *LabelEncoder {
	distinct := make(map[string]struct{})
	for _, v := range values {
		distinct[v] = struct{}{}
	}
	sorted := make([]string, 0, len(distinct))
	for v := range distinct {
		sorted = append(sorted, v)
	}
	sort.Strings(sorted)

	classes := make(map[string]int, len(sorted))
	for i, v := range sorted {
		classes[v] = i + 1
	}
	return &LabelEncoder{Classes: classes}
}

func (e *LabelEncoder) Transform(value string) int {
	return e.Classes[value]
}
