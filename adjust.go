// Copyright (C) The PGS Catalog Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package ancestry

import (
	"fmt"
	"io"
	stdlog "log"
	"math"
	"sort"

	"github.com/kshedden/statmodel/glm"
	"github.com/kshedden/statmodel/statmodel"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

var normalizationMethods = []string{"empirical", "mean", "mean+var", "regression"}

var glmConfig = &glm.Config{
	Family:         glm.NewFamily(glm.GaussianFamily),
	FitMethod:      "IRLS",
	ConcurrentIRLS: 1000,
	Log:            stdlog.New(io.Discard, "", 0),
}

// adjustedScores holds one adjusted value per (row, method, score),
// with columns named "method|accession" so results for different
// methods coexist without collision.
type adjustedScores struct {
	cols   []string
	values map[string][]float64 // aligned to the source table's rows
}

func newAdjustedScores(methods, scoreCols []string, nRows int) *adjustedScores {
	a := &adjustedScores{values: map[string][]float64{}}
	for _, m := range methods {
		for _, sc := range scoreCols {
			col := m + "|" + sc
			a.cols = append(a.cols, col)
			a.values[col] = make([]float64, nRows)
		}
	}
	return a
}

// popScoreModel holds the per-(population, score) statistics shared by
// the normalization methods: the sorted training distribution, its
// mean and standard deviation, and the fitted PC regression.
type popScoreModel struct {
	sorted []float64
	mean   float64
	std    float64
	reg    *regModel
}

// pgsAdjust fits a per-population correction for every requested
// (method, score) pair on training-eligible reference samples and
// applies it to all reference and target rows. Reference rows are
// adjusted within their true population, target rows within their
// assigned one.
//
// The empirical method excludes a training sample's own value from the
// distribution it is ranked against (leave-one-out). The mean,
// mean+var, and regression methods fit on the full training pool,
// including the sample being adjusted, matching the upstream pipeline's
// numeric behavior.
func pgsAdjust(ref, target *sampleTable, scoreCols []string, refAssign, targetAssign []assignment, methods []string, nPCs int) (*adjustedScores, *adjustedScores, error) {
	useRegression := false
	for _, m := range methods {
		known := false
		for _, k := range normalizationMethods {
			if m == k {
				known = true
			}
		}
		if !known {
			return nil, nil, configErrorf("unknown normalization method %q", m)
		}
		if m == "regression" {
			useRegression = true
		}
	}
	if useRegression {
		if nPCs < 1 {
			return nil, nil, configErrorf("number of PCs for normalization must be >= 1, got %d", nPCs)
		}
		if nPCs > len(ref.pcCols) {
			return nil, nil, configErrorf("%d PCs requested for normalization, reference has %d", nPCs, len(ref.pcCols))
		}
		if nPCs > len(target.pcCols) {
			return nil, nil, configErrorf("%d PCs requested for normalization, target has %d", nPCs, len(target.pcCols))
		}
	}

	pools := map[string][]int{}
	for i, s := range ref.samples {
		if s.trainingEligible() {
			pools[s.population] = append(pools[s.population], i)
		}
	}
	for _, s := range ref.samples {
		if len(pools[s.population]) == 0 {
			return nil, nil, UnknownLabelError{Population: s.population}
		}
	}
	for _, a := range targetAssign {
		if len(pools[a.population]) == 0 {
			return nil, nil, UnknownLabelError{Population: a.population}
		}
	}

	pops := make([]string, 0, len(pools))
	for pop := range pools {
		pops = append(pops, pop)
	}
	sort.Strings(pops)

	refOut := newAdjustedScores(methods, scoreCols, len(ref.samples))
	targetOut := newAdjustedScores(methods, scoreCols, len(target.samples))

	for si, score := range scoreCols {
		models := map[string]*popScoreModel{}
		for _, pop := range pops {
			models[pop] = fitPopScoreModel(ref, pools[pop], si, score, pop, nPCs, useRegression)
		}
		for _, m := range methods {
			col := m + "|" + score
			out := refOut.values[col]
			for i, s := range ref.samples {
				out[i] = adjustOne(m, s.scores[si], s.pcs, models[s.population], s.trainingEligible(), nPCs)
			}
			out = targetOut.values[col]
			for i, s := range target.samples {
				out[i] = adjustOne(m, s.scores[si], s.pcs, models[targetAssign[i].population], false, nPCs)
			}
		}
	}
	return refOut, targetOut, nil
}

func fitPopScoreModel(ref *sampleTable, pool []int, si int, score, pop string, nPCs int, useRegression bool) *popScoreModel {
	psm := &popScoreModel{}
	for _, r := range pool {
		if y := ref.samples[r].scores[si]; !math.IsNaN(y) {
			psm.sorted = append(psm.sorted, y)
		}
	}
	sort.Float64s(psm.sorted)
	if len(psm.sorted) >= 2 {
		psm.mean, psm.std = stat.MeanStdDev(psm.sorted, nil)
	} else if len(psm.sorted) == 1 {
		psm.mean, psm.std = psm.sorted[0], math.NaN()
		log.Warnf("population %s score %s: only %d training sample, variance undefined", pop, score, len(psm.sorted))
	} else {
		psm.mean, psm.std = math.NaN(), math.NaN()
		log.Warnf("population %s score %s: no usable training values", pop, score)
	}
	if psm.std == 0 {
		log.Warnf("population %s score %s: zero variance in training pool", pop, score)
		psm.std = math.NaN()
	}
	if useRegression {
		psm.reg = fitRegression(ref, pool, si, nPCs)
		if psm.reg == nil {
			log.Warnf("population %s score %s: PC regression failed, emitting NaN", pop, score)
		}
	}
	return psm
}

func adjustOne(method string, y float64, pcs []float64, psm *popScoreModel, inPool bool, nPCs int) float64 {
	if math.IsNaN(y) {
		return math.NaN()
	}
	switch method {
	case "empirical":
		return percentileOf(psm.sorted, y, inPool)
	case "mean":
		return y - psm.mean
	case "mean+var":
		return (y - psm.mean) / psm.std
	case "regression":
		if psm.reg == nil {
			return math.NaN()
		}
		return psm.reg.residual(y, pcs[:nPCs])
	}
	return math.NaN()
}

// percentileOf ranks x against the sorted training distribution,
// returning a value in [0,1]. Ties contribute half weight. With loo
// set, one occurrence of x (the sample's own value) is removed from
// the distribution first.
func percentileOf(sorted []float64, x float64, loo bool) float64 {
	less := sort.SearchFloat64s(sorted, x)
	upper := less + sort.SearchFloat64s(sorted[less:], math.Nextafter(x, math.Inf(1)))
	eq := upper - less
	n := len(sorted)
	if loo && eq > 0 {
		eq--
		n--
	}
	if n <= 0 {
		return math.NaN()
	}
	return (float64(less) + 0.5*float64(eq)) / float64(n)
}

type regModel struct {
	params   []float64 // constant first, then PC coefficients
	residStd float64
}

// fitRegression fits a Gaussian GLM of the raw score on the first nPCs
// principal components of the training pool. Returns nil when the pool
// is too small or the fit fails (e.g. a singular design matrix).
func fitRegression(ref *sampleTable, pool []int, si, nPCs int) (rm *regModel) {
	defer func() {
		if recover() != nil {
			// typically "matrix singular or near-singular with condition number +Inf"
			rm = nil
		}
	}()

	if len(pool) < nPCs+2 {
		return nil
	}
	outcome := make([]statmodel.Dtype, 0, len(pool))
	constants := make([]statmodel.Dtype, 0, len(pool))
	for _, r := range pool {
		outcome = append(outcome, ref.samples[r].scores[si])
		constants = append(constants, 1)
	}
	data := [][]statmodel.Dtype{outcome, constants}
	names := []string{"score", "constants"}
	for pc := 0; pc < nPCs; pc++ {
		series := make([]statmodel.Dtype, 0, len(pool))
		for _, r := range pool {
			series = append(series, ref.samples[r].pcs[pc])
		}
		data = append(data, series)
		names = append(names, fmt.Sprintf("pca%d", pc))
	}
	dataset := statmodel.NewDataset(data, names)

	model, err := glm.NewGLM(dataset, "score", names[1:], glmConfig)
	if err != nil {
		return nil
	}
	result := model.Fit()
	rm = &regModel{params: result.Params()}

	resid := make([]float64, len(pool))
	for i, r := range pool {
		resid[i] = ref.samples[r].scores[si] - rm.predict(ref.samples[r].pcs[:nPCs])
	}
	rm.residStd = stat.StdDev(resid, nil)
	if !(rm.residStd > 0) {
		return nil
	}
	return rm
}

func (rm *regModel) predict(pcs []float64) float64 {
	yhat := rm.params[0]
	for i, x := range pcs {
		yhat += rm.params[i+1] * x
	}
	return yhat
}

// residual returns the observed-minus-predicted score standardized by
// the training pool's residual standard deviation.
func (rm *regModel) residual(y float64, pcs []float64) float64 {
	return (y - rm.predict(pcs)) / rm.residStd
}
