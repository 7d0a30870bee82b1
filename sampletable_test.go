// Copyright (C) The PGS Catalog Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package ancestry

import (
	"errors"
	"io/ioutil"

	"gopkg.in/check.v1"
)

type sampleTableSuite struct{}

var _ = check.Suite(&sampleTableSuite{})

func (s *sampleTableSuite) TestLoadPCs(c *check.C) {
	tmpdir := c.MkDir()
	writeFile(c, tmpdir+"/a.pcs", "IID\tPC1\tPC2\tPC3\nsample1\t0.1\t0.2\t0.3\nsample2\t-0.1\t-0.2\t-0.3\n")
	writeFile(c, tmpdir+"/b.pcs", "IID\tPC2\tPC1\tPC3\nsample3\t2\t1\t3\n")

	t, err := loadPCs([]string{tmpdir + "/a.pcs", tmpdir + "/b.pcs"}, "testset", 2)
	c.Assert(err, check.IsNil)
	c.Check(t.pcCols, check.DeepEquals, []string{"PC1", "PC2"})
	c.Assert(t.samples, check.HasLen, 3)
	c.Check(t.samples[0].pcs, check.DeepEquals, []float64{0.1, 0.2})
	// column order follows PC numbering, not file order
	c.Check(t.samples[2].pcs, check.DeepEquals, []float64{1, 2})
	c.Check(t.samples[2].dataset, check.Equals, "testset")
	c.Check(t.rowOf[sampleKey{"testset", "sample2"}], check.Equals, 1)
	// no related list: eligibility unknown, treated as eligible
	c.Check(t.samples[0].unrelatedKnown, check.Equals, false)
	c.Check(t.samples[0].trainingEligible(), check.Equals, true)
}

func (s *sampleTableSuite) TestLoadPCsDuplicateKey(c *check.C) {
	tmpdir := c.MkDir()
	writeFile(c, tmpdir+"/a.pcs", "IID\tPC1\nsample1\t0.1\nsample1\t0.2\n")
	_, err := loadPCs([]string{tmpdir + "/a.pcs"}, "testset", 0)
	var ifErr InputFormatError
	c.Check(errors.As(err, &ifErr), check.Equals, true)
}

func (s *sampleTableSuite) TestLoadPCsBadHeader(c *check.C) {
	tmpdir := c.MkDir()
	writeFile(c, tmpdir+"/a.pcs", "sample\tPC1\nsample1\t0.1\n")
	_, err := loadPCs([]string{tmpdir + "/a.pcs"}, "testset", 0)
	var ifErr InputFormatError
	c.Check(errors.As(err, &ifErr), check.Equals, true)
}

func (s *sampleTableSuite) TestFlagRelated(c *check.C) {
	tmpdir := c.MkDir()
	writeFile(c, tmpdir+"/a.pcs", "IID\tPC1\nsample1\t0.1\nsample2\t0.2\nsample3\t0.3\n")
	writeFile(c, tmpdir+"/related.txt", "sample2\n")

	t, err := loadPCs([]string{tmpdir + "/a.pcs"}, "testset", 0)
	c.Assert(err, check.IsNil)
	c.Assert(t.flagRelated(tmpdir+"/related.txt"), check.IsNil)
	c.Check(t.samples[0].trainingEligible(), check.Equals, true)
	c.Check(t.samples[1].trainingEligible(), check.Equals, false)
	c.Check(t.samples[1].unrelatedKnown, check.Equals, true)
	c.Check(t.samples[2].trainingEligible(), check.Equals, true)
}

func (s *sampleTableSuite) TestMergePSAM(c *check.C) {
	tmpdir := c.MkDir()
	writeFile(c, tmpdir+"/a.pcs", "IID\tPC1\nsample1\t0.1\nsample2\t0.2\nsample3\t0.3\n")

	for _, trial := range []struct {
		name    string
		content string
	}{
		{"iid.psam", "#IID\tSuperPop\nsample1\tEUR\nsample2\tAFR\n"},
		{"fid.psam", "#FID\tIID\tSuperPop\nfam1\tsample1\tEUR\nfam2\tsample2\tAFR\n"},
	} {
		t, err := loadPCs([]string{tmpdir + "/a.pcs"}, "testset", 0)
		c.Assert(err, check.IsNil)
		writeFile(c, tmpdir+"/"+trial.name, trial.content)
		c.Assert(t.mergePSAM(tmpdir+"/"+trial.name, "SuperPop"), check.IsNil, check.Commentf("%s", trial.name))
		// sample3 has no metadata entry and is dropped
		c.Assert(t.samples, check.HasLen, 2)
		c.Check(t.samples[0].population, check.Equals, "EUR")
		c.Check(t.samples[1].population, check.Equals, "AFR")
		c.Check(t.rowOf[sampleKey{"testset", "sample2"}], check.Equals, 1)
	}
}

func (s *sampleTableSuite) TestMergePSAMInvalidColumns(c *check.C) {
	tmpdir := c.MkDir()
	writeFile(c, tmpdir+"/a.pcs", "IID\tPC1\nsample1\t0.1\n")
	writeFile(c, tmpdir+"/bad.psam", "ID\tSuperPop\nsample1\tEUR\n")
	t, err := loadPCs([]string{tmpdir + "/a.pcs"}, "testset", 0)
	c.Assert(err, check.IsNil)
	err = t.mergePSAM(tmpdir+"/bad.psam", "SuperPop")
	var ifErr InputFormatError
	c.Check(errors.As(err, &ifErr), check.Equals, true)
}

func (s *sampleTableSuite) TestMergeScores(c *check.C) {
	tmpdir := c.MkDir()
	writeFile(c, tmpdir+"/a.pcs", "IID\tPC1\nsample1\t0.1\nsample2\t0.2\nsample3\t0.3\n")
	writeFile(c, tmpdir+"/scores.txt",
		"sampleset\tIID\tPGS000001_SUM\tPGS000001_AVG\tDENOM\n"+
			"testset\tsample1\t1.5\t0.1\t10\n"+
			"testset\tsample2\t-2.5\t-0.2\t10\n")

	t, err := loadPCs([]string{tmpdir + "/a.pcs"}, "testset", 0)
	c.Assert(err, check.IsNil)
	scoreCols, err := mergeScores(tmpdir+"/scores.txt", t)
	c.Assert(err, check.IsNil)
	c.Check(scoreCols, check.DeepEquals, []string{"PGS000001"})
	// sample3 has no scores and is dropped
	c.Assert(t.samples, check.HasLen, 2)
	c.Check(t.samples[0].scores, check.DeepEquals, []float64{1.5})
	c.Check(t.samples[1].scores, check.DeepEquals, []float64{-2.5})
	c.Check(t.scoreCols, check.DeepEquals, []string{"PGS000001"})
}

func (s *sampleTableSuite) TestMergeScoresDuplicateKey(c *check.C) {
	tmpdir := c.MkDir()
	writeFile(c, tmpdir+"/a.pcs", "IID\tPC1\nsample1\t0.1\n")
	writeFile(c, tmpdir+"/scores.txt",
		"sampleset\tIID\tPGS000001_SUM\ntestset\tsample1\t1\ntestset\tsample1\t2\n")
	t, err := loadPCs([]string{tmpdir + "/a.pcs"}, "testset", 0)
	c.Assert(err, check.IsNil)
	_, err = mergeScores(tmpdir+"/scores.txt", t)
	var ifErr InputFormatError
	c.Check(errors.As(err, &ifErr), check.Equals, true)
}

func writeFile(c *check.C, fnm, content string) {
	c.Assert(ioutil.WriteFile(fnm, []byte(content), 0644), check.IsNil)
}
