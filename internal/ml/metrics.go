package ml

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Metrics summarise predictions against actual prices
type Metrics struct {
	MAE  float64 `json:"mae"`
	RMSE float64 `json:"rmse"`
	R2   float64 `json:"r2"`
	MAPE float64 `json:"mape"` // percent
}

// Evaluate computes the metrics. MAPE skips rows with a zero actual value.
func Evaluate(actual, predicted []float64) Metrics {
	if len(actual) == 0 || len(actual) != len(predicted) {
		return Metrics{}
	}

	var absSum, sqSum, pctSum float64
	pctCount := 0
	for i := range actual {
		d := actual[i] - predicted[i]
		absSum += math.Abs(d)
		sqSum += d * d
		if actual[i] != 0 {
			pctSum += math.Abs(d / actual[i])
			pctCount++
		}
	}

	n := float64(len(actual))
	m := Metrics{
		MAE:  absSum / n,
		RMSE: math.Sqrt(sqSum / n),
	}
	if pctCount > 0 {
		m.MAPE = 100 * pctSum / float64(pctCount)
	}
	if len(actual) > 1 {
		m.R2 = stat.RSquaredFrom(predicted, actual, nil)
	}
	return m
}

// Residuals returns actual minus predicted
func Residuals(actual, predicted []float64) []float64 {
	out := make([]float64, len(actual))
	for i := range actual {
		out[i] = actual[i] - predicted[i]
	}
	return out
}

// Percentiles computes linearly interpolated percentiles (0-100) of values
func Percentiles(values []float64, ps []int) map[int]float64 {
	out := make(map[int]float64, len(ps))
	if len(values) == 0 {
		return out
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	for _, p := range ps {
		out[p] = stat.Quantile(float64(p)/100, stat.LinInterp, sorted, nil)
	}
	return out
}

// PredictAll runs a model over rows
func PredictAll(m interface{ Predict([]float64) float64 }, X [][]float64) []float64 {
	out := make([]float64, len(X))
	for i, x := range X {
		out[i] = m.Predict(x)
	}
	return out
}
