// Package ml holds the tree ensembles the price model is built from.
//
// Trees are stored as flat node slices so they serialise as plain JSON and
// predict without pointers. Every node keeps the mean target of the rows
// that reached it during training, which is what path attribution needs:
// walking from the root to a leaf, the change in node value at each split
// is credited to the split's feature, and the credits plus the root value
// add up to the prediction exactly.
package ml

import (
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"
)

const (
	DefaultMaxBins = 255
	leaf           = -1
)

// Node is one tree node. Feature is -1 for leaves.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Value     float64 `json:"v"`
	Samples   int     `json:"n"`
}

// Tree is a binary regression tree; rows with x[Feature] <= Threshold go left
type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (t *Tree) Predict(x []float64) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Feature == leaf {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// attribute adds scale times each split's value change to out and returns
// the root value
func (t *Tree) attribute(x []float64, scale float64, out []float64) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Feature == leaf {
			return t.Nodes[0].Value
		}
		next := n.Right
		if x[n.Feature] <= n.Threshold {
			next = n.Left
		}
		out[n.Feature] += scale * (t.Nodes[next].Value - n.Value)
		i = next
	}
}

// Depth of the deepest leaf
func (t *Tree) Depth() int {
	var walk func(i, d int) int
	walk = func(i, d int) int {
		n := t.Nodes[i]
		if n.Feature == leaf {
			return d
		}
		return max(walk(n.Left, d+1), walk(n.Right, d+1))
	}
	if len(t.Nodes) == 0 {
		return 0
	}
	return walk(0, 0)
}

type TreeParams struct {
	MaxDepth       int
	MinSamplesLeaf int
	// MaxFeatures considered per split; 0 means all
	MaxFeatures int
}

// binnedData holds quantile cut points per feature and each row's bin
type binnedData struct {
	cuts [][]float64
	bins [][]uint8 // row-major
}

// newBinnedData picks up to maxBins-1 cut points per feature from the
// empirical quantiles of the column. A value v falls in the first bin b
// with v <= cuts[b], or in bin len(cuts) past the last cut.
func newBinnedData(X [][]float64, maxBins int) *binnedData {
	if maxBins <= 1 || maxBins > DefaultMaxBins {
		maxBins = DefaultMaxBins
	}
	numFeatures := 0
	if len(X) > 0 {
		numFeatures = len(X[0])
	}

	d := &binnedData{cuts: make([][]float64, numFeatures), bins: make([][]uint8, len(X))}
	column := make([]float64, len(X))
	for f := 0; f < numFeatures; f++ {
		for i, row := range X {
			column[i] = row[f]
		}
		sort.Float64s(column)
		d.cuts[f] = cutPoints(column, maxBins)
	}

	for i, row := range X {
		d.bins[i] = make([]uint8, numFeatures)
		for f, v := range row {
			d.bins[i][f] = uint8(sort.SearchFloat64s(d.cuts[f], v))
		}
	}
	return d
}

func cutPoints(sorted []float64, maxBins int) []float64 {
	var distinct []float64
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			distinct = append(distinct, v)
		}
	}

	if len(distinct) <= maxBins {
		cuts := make([]float64, 0, len(distinct))
		for i := 0; i+1 < len(distinct); i++ {
			cuts = append(cuts, (distinct[i]+distinct[i+1])/2)
		}
		return cuts
	}

	cuts := make([]float64, 0, maxBins-1)
	for b := 1; b < maxBins; b++ {
		q := stat.Quantile(float64(b)/float64(maxBins), stat.Empirical, sorted, nil)
		if len(cuts) == 0 || q > cuts[len(cuts)-1] {
			cuts = append(cuts, q)
		}
	}
	// The largest value must stay right of every cut
	for len(cuts) > 0 && cuts[len(cuts)-1] >= sorted[len(sorted)-1] {
		cuts = cuts[:len(cuts)-1]
	}
	return cuts
}

type treeBuilder struct {
	data    *binnedData
	targets []float64
	params  TreeParams
	rng     *rand.Rand
	gains   []float64
	nodes   []Node

	// histogram scratch, sized for the widest feature
	sums   []float64
	counts []int
}

// growTree fits a tree on the given rows of the binned data. Split gains
// (reduction in squared error) are accumulated into gains per feature.
func growTree(data *binnedData, targets []float64, rows []int, params TreeParams, rng *rand.Rand, gains []float64) *Tree {
	if params.MaxDepth <= 0 {
		params.MaxDepth = 6
	}
	if params.MinSamplesLeaf <= 0 {
		params.MinSamplesLeaf = 1
	}

	b := &treeBuilder{
		data:    data,
		targets: targets,
		params:  params,
		rng:     rng,
		gains:   gains,
		sums:    make([]float64, DefaultMaxBins+1),
		counts:  make([]int, DefaultMaxBins+1),
	}
	b.grow(rows, 0)
	return &Tree{Nodes: b.nodes}
}

func (b *treeBuilder) grow(rows []int, depth int) int {
	var sum float64
	for _, r := range rows {
		sum += b.targets[r]
	}
	idx := len(b.nodes)
	b.nodes = append(b.nodes, Node{
		Feature: leaf,
		Value:   sum / float64(len(rows)),
		Samples: len(rows),
	})

	if depth >= b.params.MaxDepth || len(rows) < 2*b.params.MinSamplesLeaf {
		return idx
	}

	feature, bin, gain := b.bestSplit(rows, sum)
	if feature < 0 {
		return idx
	}

	// Partition in place: bins <= bin first
	i, j := 0, len(rows)-1
	for i <= j {
		if int(b.data.bins[rows[i]][feature]) <= bin {
			i++
		} else {
			rows[i], rows[j] = rows[j], rows[i]
			j--
		}
	}

	b.gains[feature] += gain
	left := b.grow(rows[:i], depth+1)
	right := b.grow(rows[i:], depth+1)

	n := &b.nodes[idx]
	n.Feature = feature
	n.Threshold = b.data.cuts[feature][bin]
	n.Left = left
	n.Right = right
	return idx
}

func (b *treeBuilder) candidateFeatures() []int {
	numFeatures := len(b.data.cuts)
	if b.params.MaxFeatures <= 0 || b.params.MaxFeatures >= numFeatures {
		all := make([]int, numFeatures)
		for i := range all {
			all[i] = i
		}
		return all
	}
	return b.rng.Perm(numFeatures)[:b.params.MaxFeatures]
}

func (b *treeBuilder) bestSplit(rows []int, total float64) (int, int, float64) {
	n := float64(len(rows))
	parent := total * total / n
	bestFeature, bestBin := -1, -1
	bestGain := 1e-12 * parent

	for _, f := range b.candidateFeatures() {
		numBins := len(b.data.cuts[f]) + 1
		if numBins < 2 {
			continue
		}
		sums, counts := b.sums[:numBins], b.counts[:numBins]
		for k := range sums {
			sums[k] = 0
			counts[k] = 0
		}
		for _, r := range rows {
			bin := b.data.bins[r][f]
			sums[bin] += b.targets[r]
			counts[bin]++
		}

		var leftSum float64
		leftCount := 0
		for bin := 0; bin < numBins-1; bin++ {
			leftSum += sums[bin]
			leftCount += counts[bin]
			rightCount := len(rows) - leftCount
			if leftCount < b.params.MinSamplesLeaf {
				continue
			}
			if rightCount < b.params.MinSamplesLeaf {
				break
			}
			rightSum := total - leftSum
			gain := leftSum*leftSum/float64(leftCount) + rightSum*rightSum/float64(rightCount) - parent
			if gain > bestGain {
				bestFeature, bestBin, bestGain = f, bin, gain
			}
		}
	}
	return bestFeature, bestBin, bestGain
}

// normalise scales importances to sum to 1
func normalise(gains []float64) []float64 {
	out := make([]float64, len(gains))
	var total float64
	for _, g := range gains {
		total += g
	}
	if total <= 0 {
		return out
	}
	for i, g := range gains {
		out[i] = g / total
	}
	return out
}
