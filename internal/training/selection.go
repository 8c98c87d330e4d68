package training

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// selectFeatures drops columns whose importance is below the threshold,
// then walks the rest from most to least important, dropping any column
// correlated above maxCorrelation with one already kept. It returns the kept
// column indexes in their original order; at least one column survives.
func selectFeatures(X [][]float64, importance []float64, minImportance, maxCorrelation float64) []int {
	width := len(importance)
	order := make([]int, 0, width)
	for i, v := range importance {
		if v >= minImportance {
			order = append(order, i)
		}
	}
	if len(order) == 0 {
		best := 0
		for i, v := range importance {
			if v > importance[best] {
				best = i
			}
		}
		return []int{best}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return importance[order[a]] > importance[order[b]]
	})

	column := func(c int) []float64 {
		out := make([]float64, len(X))
		for i, row := range X {
			out[i] = row[c]
		}
		return out
	}

	var kept []int
	keptColumns := make(map[int][]float64)
	for _, c := range order {
		values := column(c)
		redundant := false
		if maxCorrelation > 0 && maxCorrelation < 1 {
			for _, k := range kept {
				r := stat.Correlation(values, keptColumns[k], nil)
				if !math.IsNaN(r) && math.Abs(r) > maxCorrelation {
					redundant = true
					break
				}
			}
		}
		if !redundant {
			kept = append(kept, c)
			keptColumns[c] = values
		}
	}

	sort.Ints(kept)
	return kept
}
