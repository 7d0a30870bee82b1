// Copyright (C) The PGS Catalog Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package ancestry

import (
	"errors"
	"fmt"
	"math"

	"gopkg.in/check.v1"
)

type assignSuite struct{}

var _ = check.Suite(&assignSuite{})

var testCenters = map[string][]float64{
	"AFR": {-5, 0},
	"EUR": {5, 2},
}

// makeRefTable builds a reference table with nPer samples per
// population in two well-separated PC clusters. The first sample of
// each population is flagged related (not training-eligible).
func makeRefTable(nPer int) *sampleTable {
	t := &sampleTable{}
	t.pcCols = []string{"PC1", "PC2"}
	for _, pop := range []string{"AFR", "EUR"} {
		for i := 0; i < nPer; i++ {
			t.samples = append(t.samples, sample{
				dataset:        "reference",
				id:             fmt.Sprintf("%s%d", pop, i),
				pcs:            clusterPoint(pop, i),
				unrelated:      i != 0,
				unrelatedKnown: true,
				population:     pop,
			})
		}
	}
	if err := t.reindex(); err != nil {
		panic(err)
	}
	return t
}

func makeTargetTable(nPer int) *sampleTable {
	t := &sampleTable{}
	t.pcCols = []string{"PC1", "PC2"}
	for _, pop := range []string{"AFR", "EUR"} {
		for i := 0; i < nPer; i++ {
			t.samples = append(t.samples, sample{
				dataset: "cohort",
				id:      fmt.Sprintf("t%s%d", pop, i),
				pcs:     clusterPoint(pop, i+1),
			})
		}
	}
	if err := t.reindex(); err != nil {
		panic(err)
	}
	return t
}

func clusterPoint(pop string, i int) []float64 {
	c := testCenters[pop]
	return []float64{c[0] + float64(i%7)*0.1, c[1] + float64((i*3)%5)*0.1}
}

func (s *assignSuite) TestSeparableClusters(c *check.C) {
	for _, method := range []string{"Mahalanobis", "RandomForest", "KNN"} {
		ref := makeRefTable(20)
		target := makeTargetTable(5)
		res, err := assignAncestry(ref, target, 2, method, math.NaN(), math.NaN(), 1)
		c.Assert(err, check.IsNil, check.Commentf("method=%s", method))
		c.Assert(res.ref, check.HasLen, len(ref.samples))
		c.Assert(res.target, check.HasLen, len(target.samples))
		c.Check(res.populations, check.DeepEquals, []string{"AFR", "EUR"})
		c.Check(math.IsNaN(res.threshold), check.Equals, true)
		for i, a := range res.ref {
			c.Check(a.population, check.Equals, ref.samples[i].population, check.Commentf("method=%s sample=%s", method, ref.samples[i].id))
			c.Check(a.confidence >= 0 && a.confidence <= 1, check.Equals, true)
			c.Check(a.highConfidence, check.Equals, false)
		}
		for i, a := range res.target {
			want := "AFR"
			if target.samples[i].pcs[0] > 0 {
				want = "EUR"
			}
			c.Check(a.population, check.Equals, want, check.Commentf("method=%s sample=%s", method, target.samples[i].id))
			c.Check(a.confidence >= 0 && a.confidence <= 1, check.Equals, true)
		}
	}
}

func (s *assignSuite) TestDeterministicUnderFixedSeed(c *check.C) {
	var prev *assignResult
	for trial := 0; trial < 2; trial++ {
		res, err := assignAncestry(makeRefTable(15), makeTargetTable(4), 2, "RandomForest", math.NaN(), math.NaN(), 7)
		c.Assert(err, check.IsNil)
		if prev != nil {
			c.Check(res.ref, check.DeepEquals, prev.ref)
			c.Check(res.target, check.DeepEquals, prev.target)
		}
		prev = res
	}
}

func (s *assignSuite) TestConfidenceThreshold(c *check.C) {
	res, err := assignAncestry(makeRefTable(15), makeTargetTable(4), 2, "RandomForest", choosePvalThreshold(0.2), math.NaN(), 1)
	c.Assert(err, check.IsNil)
	c.Check(res.threshold, check.Equals, 0.2)
	for _, a := range res.target {
		// clean clusters: every assignment clears a 0.2 cutoff,
		// and below-threshold samples would still be present
		c.Check(a.highConfidence, check.Equals, true)
	}
}

func (s *assignSuite) TestDerivedThreshold(c *check.C) {
	res, err := assignAncestry(makeRefTable(15), makeTargetTable(4), 2, "KNN", math.NaN(), 0.05, 1)
	c.Assert(err, check.IsNil)
	c.Check(math.IsNaN(res.threshold), check.Equals, false)
	c.Check(res.threshold >= 0 && res.threshold <= 1, check.Equals, true)
}

func (s *assignSuite) TestChoosePvalThreshold(c *check.C) {
	c.Check(choosePvalThreshold(0.9), check.Equals, 0.9)
	c.Check(math.IsNaN(choosePvalThreshold(math.NaN())), check.Equals, true)
}

func (s *assignSuite) TestUnknownMethod(c *check.C) {
	_, err := assignAncestry(makeRefTable(5), makeTargetTable(2), 2, "NeuralNet", math.NaN(), math.NaN(), 1)
	var cfgErr ConfigurationError
	c.Check(errors.As(err, &cfgErr), check.Equals, true)
}

func (s *assignSuite) TestTooManyPCs(c *check.C) {
	_, err := assignAncestry(makeRefTable(5), makeTargetTable(2), 3, "KNN", math.NaN(), math.NaN(), 1)
	var cfgErr ConfigurationError
	c.Check(errors.As(err, &cfgErr), check.Equals, true)
}

func (s *assignSuite) TestInsufficientData(c *check.C) {
	ref := makeRefTable(5)
	ref.samples = append(ref.samples, sample{
		dataset:        "reference",
		id:             "SAS0",
		pcs:            []float64{0, -5},
		unrelated:      true,
		unrelatedKnown: true,
		population:     "SAS",
	})
	c.Assert(ref.reindex(), check.IsNil)
	_, err := assignAncestry(ref, makeTargetTable(2), 2, "KNN", math.NaN(), math.NaN(), 1)
	var insErr InsufficientDataError
	c.Assert(errors.As(err, &insErr), check.Equals, true)
	c.Check(insErr.Population, check.Equals, "SAS")
}
