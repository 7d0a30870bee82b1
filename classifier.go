// Copyright (C) The PGS Catalog Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package ancestry

import (
	"math"
	"sort"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// classifier is the common fit/predict surface shared by all
// assignment methods. fit receives the training PC vectors and, for
// each, an index into the population vocabulary. predict returns the
// most probable population index and per-population probabilities in
// [0,1]; the caller takes the maximum as the assignment confidence.
type classifier interface {
	fit(nPops int, pcs [][]float64, pops []int) error
	predict(pcs []float64) (int, []float64)
}

func newClassifier(method string, nPCs int, seed int64) (classifier, error) {
	switch method {
	case "Mahalanobis":
		return &mahalanobisClassifier{df: float64(nPCs)}, nil
	case "RandomForest":
		return &randomForest{nTrees: 100, seed: uint64(seed)}, nil
	case "KNN":
		return &knnClassifier{k: 10}, nil
	default:
		return nil, configErrorf("unknown assignment method %q", method)
	}
}

// mahalanobisClassifier models each population as a multivariate
// normal over its training PCs. The per-population probability is the
// chi-squared survival of the squared Mahalanobis distance with
// df = number of PCs, so it is a closeness score in [0,1] rather than
// a normalized class posterior.
type mahalanobisClassifier struct {
	df   float64
	pops []popModel
}

type popModel struct {
	fitted bool
	mean   []float64
	chol   *mat.Cholesky
	vars   []float64 // diagonal fallback when the covariance is singular
}

func (m *mahalanobisClassifier) fit(nPops int, pcs [][]float64, pops []int) error {
	m.pops = make([]popModel, nPops)
	for pi := range m.pops {
		var rows [][]float64
		for i, p := range pops {
			if p == pi {
				rows = append(rows, pcs[i])
			}
		}
		if len(rows) == 0 {
			continue
		}
		m.pops[pi] = fitPopModel(pi, rows)
	}
	return nil
}

func fitPopModel(pi int, rows [][]float64) popModel {
	dims := len(rows[0])
	series := make([][]float64, dims)
	for d := 0; d < dims; d++ {
		series[d] = make([]float64, len(rows))
		for i, row := range rows {
			series[d][i] = row[d]
		}
	}
	pm := popModel{fitted: true, mean: make([]float64, dims), vars: make([]float64, dims)}
	for d := 0; d < dims; d++ {
		pm.mean[d] = stat.Mean(series[d], nil)
		pm.vars[d] = math.Max(stat.Variance(series[d], nil), 1e-12)
	}
	if len(rows) <= dims {
		// not enough rows for a full-rank covariance estimate
		return pm
	}
	cov := mat.NewSymDense(dims, nil)
	for i := 0; i < dims; i++ {
		for j := i; j < dims; j++ {
			cov.SetSym(i, j, stat.Covariance(series[i], series[j], nil))
		}
	}
	chol := &mat.Cholesky{}
	if !chol.Factorize(cov) {
		log.Warnf("population %d: singular covariance, falling back to diagonal distance", pi)
		return pm
	}
	pm.chol = chol
	return pm
}

func (pm popModel) dist2(x []float64) float64 {
	diff := make([]float64, len(x))
	for i := range x {
		diff[i] = x[i] - pm.mean[i]
	}
	if pm.chol != nil {
		var sol mat.VecDense
		v := mat.NewVecDense(len(diff), diff)
		if err := pm.chol.SolveVecTo(&sol, v); err == nil {
			if d2 := mat.Dot(v, &sol); d2 >= 0 {
				return d2
			}
		}
	}
	d2 := 0.0
	for i, d := range diff {
		d2 += d * d / pm.vars[i]
	}
	return d2
}

func (m *mahalanobisClassifier) predict(x []float64) (int, []float64) {
	probs := make([]float64, len(m.pops))
	dist := distuv.ChiSquared{K: m.df}
	for pi, pm := range m.pops {
		if !pm.fitted {
			continue
		}
		probs[pi] = dist.Survival(pm.dist2(x))
	}
	return argmax(probs), probs
}

// knnClassifier votes among the k nearest training samples by
// Euclidean distance; probabilities are vote fractions. Ties are
// broken by training-set order, so predictions are deterministic.
type knnClassifier struct {
	k    int
	pcs  [][]float64
	pops []int
	n    int
}

func (m *knnClassifier) fit(nPops int, pcs [][]float64, pops []int) error {
	m.pcs = pcs
	m.pops = pops
	m.n = nPops
	return nil
}

func (m *knnClassifier) predict(x []float64) (int, []float64) {
	type nb struct {
		d2  float64
		row int
	}
	nbs := make([]nb, len(m.pcs))
	for i, pc := range m.pcs {
		d2 := 0.0
		for j := range x {
			d := x[j] - pc[j]
			d2 += d * d
		}
		nbs[i] = nb{d2, i}
	}
	sort.Slice(nbs, func(i, j int) bool {
		if nbs[i].d2 != nbs[j].d2 {
			return nbs[i].d2 < nbs[j].d2
		}
		return nbs[i].row < nbs[j].row
	})
	k := m.k
	if k > len(nbs) {
		k = len(nbs)
	}
	probs := make([]float64, m.n)
	for _, nb := range nbs[:k] {
		probs[m.pops[nb.row]] += 1 / float64(k)
	}
	return argmax(probs), probs
}

func argmax(probs []float64) int {
	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}
	return best
}
