// Copyright (C) The PGS Catalog Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package ancestry

import (
	"bytes"
	"io/ioutil"
	"os"

	"github.com/kshedden/gonpy"
	"gopkg.in/check.v1"
)

type exportNumpySuite struct{}

var _ = check.Suite(&exportNumpySuite{})

func (s *exportNumpySuite) TestExportNumpy(c *check.C) {
	tmpdir := c.MkDir()
	writeFile(c, tmpdir+"/a.pcs", "IID\tPC1\tPC2\tPC3\nsample1\t1\t2\t3\nsample2\t4\t5\t6\n")

	var stdout bytes.Buffer
	code := (&exportNumpy{}).RunCommand("pgsc-ancestry export-numpy", []string{
		"-i", tmpdir + "/a.pcs",
		"-d", "testset",
		"-o", tmpdir + "/matrix.npy",
		"-output-samples", tmpdir + "/samples.csv",
		"-n", "2",
	}, &bytes.Buffer{}, &stdout, os.Stderr)
	c.Assert(code, check.Equals, 0)

	f, err := os.Open(tmpdir + "/matrix.npy")
	c.Assert(err, check.IsNil)
	defer f.Close()
	npy, err := gonpy.NewReader(f)
	c.Assert(err, check.IsNil)
	c.Check(npy.Shape, check.DeepEquals, []int{2, 2})
	data, err := npy.GetFloat64()
	c.Assert(err, check.IsNil)
	c.Check(data, check.DeepEquals, []float64{1, 2, 4, 5})

	samples, err := ioutil.ReadFile(tmpdir + "/samples.csv")
	c.Assert(err, check.IsNil)
	c.Check(string(samples), check.Equals, "Index,sampleset,IID\n0,testset,sample1\n1,testset,sample2\n")
}
