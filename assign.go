// Copyright (C) The PGS Catalog Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package ancestry

import (
	"math"
	"sort"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
)

// assignment is one sample's predicted population with a confidence in
// [0,1]. highConfidence is only meaningful when the run used a
// confidence threshold.
type assignment struct {
	population     string
	confidence     float64
	highConfidence bool
}

type assignResult struct {
	ref         []assignment
	target      []assignment
	populations []string
	threshold   float64 // NaN when no filtering was requested
}

const (
	minTrainingPerPop = 2
	cvFolds           = 5
)

// choosePvalThreshold converts a requested false-positive tolerance
// into a confidence cutoff: NaN in, NaN out (no filtering); otherwise
// the value passes through and is interpreted by assignAncestry as the
// minimum acceptable held-out classification confidence. Despite the
// name inherited from the upstream CLI, this is a heuristic cutoff,
// not a calibrated statistical p-value.
func choosePvalThreshold(p float64) float64 {
	return p
}

// assignAncestry fits the requested classifier on training-eligible
// reference samples and predicts a population and confidence for every
// reference and target sample. Training reference samples receive
// held-out (k-fold) assignments so that no sample votes on its own
// label with an overfit boundary; everyone else is predicted by a
// model fit on the full training pool.
//
// When threshold is not NaN, assignments at or below it are flagged as
// low confidence but still retained. When threshold is NaN and
// thresholdQuantile is not, the cutoff is derived as that quantile of
// the correctly-classified held-out reference confidences.
func assignAncestry(ref, target *sampleTable, nPCs int, method string, threshold, thresholdQuantile float64, seed int64) (*assignResult, error) {
	if nPCs < 1 {
		return nil, configErrorf("number of PCs for assignment must be >= 1, got %d", nPCs)
	}
	if nPCs > len(ref.pcCols) {
		return nil, configErrorf("%d PCs requested for assignment, reference has %d", nPCs, len(ref.pcCols))
	}
	if nPCs > len(target.pcCols) {
		return nil, configErrorf("%d PCs requested for assignment, target has %d", nPCs, len(target.pcCols))
	}

	populations := popVocabulary(ref)
	popIdx := make(map[string]int, len(populations))
	for i, p := range populations {
		popIdx[p] = i
	}

	var trainRows []int
	perPop := make([]int, len(populations))
	for i, s := range ref.samples {
		if s.trainingEligible() {
			trainRows = append(trainRows, i)
			perPop[popIdx[s.population]]++
		}
	}
	for pi, n := range perPop {
		if n < minTrainingPerPop {
			return nil, InsufficientDataError{Population: populations[pi], N: n}
		}
	}
	log.Infof("assigning ancestry: method=%s nPCs=%d training=%d/%d reference samples, %d populations",
		method, nPCs, len(trainRows), len(ref.samples), len(populations))

	fit := func(rows []int, seed int64) (classifier, error) {
		model, err := newClassifier(method, nPCs, seed)
		if err != nil {
			return nil, err
		}
		pcs := make([][]float64, len(rows))
		pops := make([]int, len(rows))
		for i, r := range rows {
			pcs[i] = ref.samples[r].pcs[:nPCs]
			pops[i] = popIdx[ref.samples[r].population]
		}
		return model, model.fit(len(populations), pcs, pops)
	}

	full, err := fit(trainRows, seed)
	if err != nil {
		return nil, err
	}

	res := &assignResult{
		ref:         make([]assignment, len(ref.samples)),
		target:      make([]assignment, len(target.samples)),
		populations: populations,
		threshold:   math.NaN(),
	}

	// held-out assignments for the training pool
	shuffled := append([]int(nil), trainRows...)
	rnd := rand.New(rand.NewSource(uint64(seed)))
	rnd.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	folds := cvFolds
	if folds > len(shuffled) {
		folds = len(shuffled)
	}
	var heldoutCorrect []float64
	for f := 0; f < folds; f++ {
		var fitRows, heldout []int
		for i, r := range shuffled {
			if i%folds == f {
				heldout = append(heldout, r)
			} else {
				fitRows = append(fitRows, r)
			}
		}
		model, err := fit(fitRows, seed+int64(f)+1)
		if err != nil {
			return nil, err
		}
		for _, r := range heldout {
			best, probs := model.predict(ref.samples[r].pcs[:nPCs])
			res.ref[r] = assignment{population: populations[best], confidence: probs[best]}
			if populations[best] == ref.samples[r].population {
				heldoutCorrect = append(heldoutCorrect, probs[best])
			}
		}
	}

	// non-training reference samples and all target samples use the
	// full-pool model
	for i, s := range ref.samples {
		if s.trainingEligible() {
			continue
		}
		best, probs := full.predict(s.pcs[:nPCs])
		res.ref[i] = assignment{population: populations[best], confidence: probs[best]}
	}
	for i, s := range target.samples {
		best, probs := full.predict(s.pcs[:nPCs])
		res.target[i] = assignment{population: populations[best], confidence: probs[best]}
	}

	switch {
	case !math.IsNaN(threshold):
		res.threshold = threshold
	case !math.IsNaN(thresholdQuantile) && len(heldoutCorrect) > 0:
		sort.Float64s(heldoutCorrect)
		res.threshold = stat.Quantile(thresholdQuantile, stat.Empirical, heldoutCorrect, nil)
		log.Infof("derived confidence threshold %g from %d correctly-classified held-out confidences",
			res.threshold, len(heldoutCorrect))
	}
	if !math.IsNaN(res.threshold) {
		flag := func(as []assignment) {
			for i := range as {
				as[i].highConfidence = as[i].confidence > res.threshold
			}
		}
		flag(res.ref)
		flag(res.target)
	}

	logAssignmentCounts(res)
	return res, nil
}

func popVocabulary(ref *sampleTable) []string {
	seen := map[string]bool{}
	var pops []string
	for _, s := range ref.samples {
		if !seen[s.population] {
			seen[s.population] = true
			pops = append(pops, s.population)
		}
	}
	sort.Strings(pops)
	return pops
}

func logAssignmentCounts(res *assignResult) {
	counts := map[string]int{}
	for _, a := range res.target {
		counts[a.population]++
	}
	for _, pop := range res.populations {
		log.Infof("assigned %d target samples to %s", counts[pop], pop)
	}
}
