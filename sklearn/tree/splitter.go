package tree

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// minImpurity below which a node is considered pure.
const minImpurity = 1e-12

// builder grows a tree depth-first into a flat node array.
type builder struct {
	dt          *DecisionTreeClassifier
	x           rowMajor
	y           []int
	w           []float64
	nClasses    int
	nFeatures   int
	maxFeatures int
	rng         *rand.Rand
	importances []float64
	nodes       []Node
}

type split struct {
	feature     int
	threshold   float64
	proxy       float64
	leftWeight  float64
	rightWeight float64
	leftImp     float64
	rightImp    float64
}

// build adds the subtree over indices and returns the index of its root.
func (b *builder) build(indices []int, depth int) int {
	counts := make([]float64, b.nClasses)
	for _, i := range indices {
		counts[b.y[i]] += b.w[i]
	}
	total := floats.Sum(counts)
	impurity := b.impurity(counts, total)

	value := make([]float64, b.nClasses)
	for k, c := range counts {
		value[k] = c / total
	}

	id := len(b.nodes)
	b.nodes = append(b.nodes, Node{
		Feature:         -1,
		Left:            -1,
		Right:           -1,
		Value:           value,
		Impurity:        impurity,
		Samples:         len(indices),
		WeightedSamples: total,
		Depth:           depth,
	})

	dt := b.dt
	n := len(indices)
	if (dt.maxDepth > 0 && depth >= dt.maxDepth) ||
		n < dt.minSamplesSplit ||
		n < 2*dt.minSamplesLeaf ||
		impurity <= minImpurity {
		return id
	}

	best, ok := b.findSplit(indices, counts, total)
	if !ok {
		return id
	}

	left := make([]int, 0, n)
	right := make([]int, 0, n)
	for _, i := range indices {
		if b.x.at(i, best.feature) <= best.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	if gain := total*impurity - best.leftWeight*best.leftImp - best.rightWeight*best.rightImp; gain > 0 {
		b.importances[best.feature] += gain
	}

	l := b.build(left, depth+1)
	r := b.build(right, depth+1)

	node := &b.nodes[id]
	node.Feature = best.feature
	node.Threshold = best.threshold
	node.Left = l
	node.Right = r
	return id
}

// findSplit visits features in a random order. Constant features are not
// counted against maxFeatures, and the search continues past maxFeatures
// until at least one valid split is found.
func (b *builder) findSplit(indices []int, counts []float64, total float64) (split, bool) {
	n := len(indices)
	minLeaf := b.dt.minSamplesLeaf
	best := split{proxy: math.Inf(1)}
	found := false

	sorted := make([]int, n)
	left := make([]float64, b.nClasses)
	right := make([]float64, b.nClasses)

	visited := 0
	for _, f := range b.rng.Perm(b.nFeatures) {
		if found && visited >= b.maxFeatures {
			break
		}

		copy(sorted, indices)
		sort.Slice(sorted, func(a, c int) bool {
			return b.x.at(sorted[a], f) < b.x.at(sorted[c], f)
		})
		if b.x.at(sorted[n-1], f) <= b.x.at(sorted[0], f)+featureThreshold {
			continue
		}
		visited++

		for k := range left {
			left[k] = 0
		}
		var leftWeight float64
		for p := 0; p < n-1; p++ {
			i := sorted[p]
			left[b.y[i]] += b.w[i]
			leftWeight += b.w[i]

			cur, next := b.x.at(i, f), b.x.at(sorted[p+1], f)
			if next <= cur+featureThreshold {
				continue
			}
			if p+1 < minLeaf || n-p-1 < minLeaf {
				continue
			}

			rightWeight := total - leftWeight
			for k := range right {
				right[k] = counts[k] - left[k]
			}
			leftImp := b.impurity(left, leftWeight)
			rightImp := b.impurity(right, rightWeight)
			proxy := leftWeight*leftImp + rightWeight*rightImp
			if proxy < best.proxy {
				threshold := cur/2 + next/2
				if threshold >= next || math.IsInf(threshold, 0) || math.IsNaN(threshold) {
					threshold = cur
				}
				best = split{
					feature:     f,
					threshold:   threshold,
					proxy:       proxy,
					leftWeight:  leftWeight,
					rightWeight: rightWeight,
					leftImp:     leftImp,
					rightImp:    rightImp,
				}
				found = true
			}
		}
	}
	return best, found
}

func (b *builder) impurity(counts []float64, total float64) float64 {
	if total <= 0 {
		return 0
	}
	if b.dt.criterion == "entropy" {
		var h float64
		for _, c := range counts {
			if p := c / total; p > 0 {
				h -= p * math.Log2(p)
			}
		}
		return h
	}
	g := 1.0
	for _, c := range counts {
		p := c / total
		g -= p * p
	}
	return g
}
