package training

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/choiwjun/chamgab-sub000/internal/features"
	"github.com/choiwjun/chamgab-sub000/internal/models"
)

// MinRows is the smallest cleaned dataset that still gives every split at
// least a handful of rows
const MinRows = 20

var ErrNotEnoughData = errors.New("not enough transactions to train")

// sample is one cleaned transaction with its district key
type sample struct {
	tx          models.Transaction
	districtKey string
}

// clean drops rows with a non-positive price or area or an unknown
// district, trims prices outside the 1st..99th percentile and sorts the
// rest by transaction date
func clean(txs []models.Transaction, keys *features.DistrictKeys) ([]sample, error) {
	kept := make([]sample, 0, len(txs))
	for _, tx := range txs {
		if tx.Price <= 0 || tx.AreaExclusive <= 0 {
			continue
		}
		key := keys.Key(tx.Province, tx.District)
		if key == "" {
			continue
		}
		kept = append(kept, sample{tx: tx, districtKey: key})
	}
	if len(kept) < MinRows {
		return nil, fmt.Errorf("%w: %d usable rows, need %d", ErrNotEnoughData, len(kept), MinRows)
	}

	prices := make([]float64, len(kept))
	for i, s := range kept {
		prices[i] = float64(s.tx.Price)
	}
	sort.Float64s(prices)
	low := stat.Quantile(0.01, stat.Empirical, prices, nil)
	high := stat.Quantile(0.99, stat.Empirical, prices, nil)

	trimmed := kept[:0]
	for _, s := range kept {
		price := float64(s.tx.Price)
		if price >= low && price <= high {
			trimmed = append(trimmed, s)
		}
	}
	if len(trimmed) < MinRows {
		return nil, fmt.Errorf("%w: %d rows after trimming, need %d", ErrNotEnoughData, len(trimmed), MinRows)
	}

	sort.SliceStable(trimmed, func(i, j int) bool {
		return trimmed[i].tx.TransactionDate.Before(trimmed[j].tx.TransactionDate)
	})
	return trimmed, nil
}

// split returns the end positions of the train and validation partitions
// along the date-sorted rows. Each partition keeps at least one row.
func split(n int, trainRatio, validationRatio float64) (int, int) {
	trainEnd := int(float64(n) * trainRatio)
	valEnd := trainEnd + int(float64(n)*validationRatio)
	trainEnd = max(1, min(trainEnd, n-2))
	valEnd = max(trainEnd+1, min(valEnd, n-1))
	return trainEnd, valEnd
}

// matrix holds feature vectors and targets of one partition
type matrix struct {
	X [][]float64
	y []float64
}

func (m matrix) columns(idx []int) matrix {
	out := matrix{X: make([][]float64, len(m.X)), y: m.y}
	for i, row := range m.X {
		sub := make([]float64, len(idx))
		for j, c := range idx {
			sub[j] = row[c]
		}
		out.X[i] = sub
	}
	return out
}

func (m matrix) vectors() []features.Vector {
	out := make([]features.Vector, len(m.X))
	for i, row := range m.X {
		out[i] = row
	}
	return out
}

func (m matrix) impute(s *features.MissingValueStrategy) error {
	for _, row := range m.X {
		if err := s.Apply(row); err != nil {
			return err
		}
	}
	return nil
}
