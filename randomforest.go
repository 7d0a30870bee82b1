// Copyright (C) The PGS Catalog Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package ancestry

import (
	"math"
	"sort"

	"golang.org/x/exp/rand"
)

// randomForest is a bootstrap-aggregated forest of CART trees with
// Gini splits and sqrt-of-features subsampling at each node.
// Probabilities are leaf class fractions averaged over trees. All
// randomness comes from the seed, so a fixed seed gives identical
// assignments on identical inputs.
type randomForest struct {
	nTrees int
	seed   uint64
	nPops  int
	trees  []*rfNode
}

type rfNode struct {
	feature     int
	cut         float64
	left, right *rfNode
	probs       []float64 // leaf only
}

func (m *randomForest) fit(nPops int, pcs [][]float64, pops []int) error {
	m.nPops = nPops
	m.trees = make([]*rfNode, m.nTrees)
	rnd := rand.New(rand.NewSource(m.seed))
	nFeat := 0
	if len(pcs) > 0 {
		nFeat = len(pcs[0])
	}
	mtry := int(math.Ceil(math.Sqrt(float64(nFeat))))
	b := &rfBuilder{pcs: pcs, pops: pops, nPops: nPops, mtry: mtry, rnd: rnd}
	for t := range m.trees {
		rows := make([]int, len(pcs))
		for i := range rows {
			rows[i] = rnd.Intn(len(pcs))
		}
		m.trees[t] = b.build(rows)
	}
	return nil
}

type rfBuilder struct {
	pcs   [][]float64
	pops  []int
	nPops int
	mtry  int
	rnd   *rand.Rand
}

func (b *rfBuilder) build(rows []int) *rfNode {
	counts := make([]float64, b.nPops)
	for _, r := range rows {
		counts[b.pops[r]]++
	}
	nClasses := 0
	for _, c := range counts {
		if c > 0 {
			nClasses++
		}
	}
	if nClasses <= 1 || len(rows) < 2 {
		return leaf(counts, len(rows))
	}

	bestGini := math.Inf(1)
	bestFeat, bestCut := -1, 0.0
	for _, feat := range b.rnd.Perm(len(b.pcs[rows[0]]))[:b.mtry] {
		sorted := append([]int(nil), rows...)
		sort.Slice(sorted, func(i, j int) bool {
			return b.pcs[sorted[i]][feat] < b.pcs[sorted[j]][feat]
		})
		leftCounts := make([]float64, b.nPops)
		for i := 0; i < len(sorted)-1; i++ {
			leftCounts[b.pops[sorted[i]]]++
			v, next := b.pcs[sorted[i]][feat], b.pcs[sorted[i+1]][feat]
			if v == next {
				continue
			}
			nl, nr := float64(i+1), float64(len(sorted)-i-1)
			g := nl*giniFrom(leftCounts, counts, nl, false) + nr*giniFrom(leftCounts, counts, nr, true)
			if g < bestGini {
				bestGini = g
				bestFeat = feat
				bestCut = (v + next) / 2
			}
		}
	}
	if bestFeat < 0 {
		return leaf(counts, len(rows))
	}

	var left, right []int
	for _, r := range rows {
		if b.pcs[r][bestFeat] <= bestCut {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return leaf(counts, len(rows))
	}
	return &rfNode{
		feature: bestFeat,
		cut:     bestCut,
		left:    b.build(left),
		right:   b.build(right),
	}
}

// giniFrom computes the Gini impurity of one side of a split given
// the left-side class counts and the node totals.
func giniFrom(leftCounts, totals []float64, n float64, rightSide bool) float64 {
	g := 1.0
	for i, lc := range leftCounts {
		c := lc
		if rightSide {
			c = totals[i] - lc
		}
		f := c / n
		g -= f * f
	}
	return g
}

func leaf(counts []float64, n int) *rfNode {
	probs := make([]float64, len(counts))
	if n > 0 {
		for i, c := range counts {
			probs[i] = c / float64(n)
		}
	}
	return &rfNode{probs: probs}
}

func (m *randomForest) predict(x []float64) (int, []float64) {
	probs := make([]float64, m.nPops)
	for _, tree := range m.trees {
		node := tree
		for node.probs == nil {
			if x[node.feature] <= node.cut {
				node = node.left
			} else {
				node = node.right
			}
		}
		for i, p := range node.probs {
			probs[i] += p
		}
	}
	for i := range probs {
		probs[i] /= float64(len(m.trees))
	}
	return argmax(probs), probs
}
