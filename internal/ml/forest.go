package ml

import (
	"math"
	"math/rand"
)

type ForestParams struct {
	Trees          int
	MaxDepth       int
	MinSamplesLeaf int
	// MaxFeatures per split; 0 picks a third of the features
	MaxFeatures int
	MaxBins     int
	Seed        int64
}

func DefaultForestParams() ForestParams {
	return ForestParams{
		Trees:          100,
		MaxDepth:       12,
		MinSamplesLeaf: 5,
		MaxBins:        DefaultMaxBins,
		Seed:           42,
	}
}

// RandomForest averages trees grown on bootstrap samples
type RandomForest struct {
	Trees      []*Tree   `json:"trees"`
	Width      int       `json:"width"`
	Importance []float64 `json:"importance"`
}

func FitRandomForest(X [][]float64, y []float64, params ForestParams) (*RandomForest, error) {
	width, err := checkRows(X, y)
	if err != nil {
		return nil, err
	}

	defaults := DefaultForestParams()
	if params.Trees <= 0 {
		params.Trees = defaults.Trees
	}
	if params.MaxDepth <= 0 {
		params.MaxDepth = defaults.MaxDepth
	}
	if params.MinSamplesLeaf <= 0 {
		params.MinSamplesLeaf = defaults.MinSamplesLeaf
	}
	if params.MaxFeatures <= 0 {
		params.MaxFeatures = int(math.Max(1, math.Round(float64(width)/3)))
	}

	data := newBinnedData(X, params.MaxBins)
	rng := rand.New(rand.NewSource(params.Seed))
	gains := make([]float64, width)
	forest := &RandomForest{Width: width}

	rows := make([]int, len(X))
	for t := 0; t < params.Trees; t++ {
		for i := range rows {
			rows[i] = rng.Intn(len(X))
		}
		forest.Trees = append(forest.Trees, growTree(data, y, rows, TreeParams{
			MaxDepth:       params.MaxDepth,
			MinSamplesLeaf: params.MinSamplesLeaf,
			MaxFeatures:    params.MaxFeatures,
		}, rng, gains))
	}
	forest.Importance = normalise(gains)

	return forest, nil
}

func (f *RandomForest) Predict(x []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	var sum float64
	for _, t := range f.Trees {
		sum += t.Predict(x)
	}
	return sum / float64(len(f.Trees))
}

func (f *RandomForest) Contributions(x []float64) (float64, []float64) {
	out := make([]float64, f.Width)
	if len(f.Trees) == 0 {
		return 0, out
	}
	scale := 1 / float64(len(f.Trees))
	var bias float64
	for _, t := range f.Trees {
		bias += scale * t.attribute(x, scale, out)
	}
	return bias, out
}

func (f *RandomForest) FeatureImportance() []float64 {
	return f.Importance
}

func (f *RandomForest) NumFeatures() int {
	return f.Width
}
