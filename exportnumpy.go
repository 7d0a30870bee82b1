// Copyright (C) The PGS Catalog Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package ancestry

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
)

// exportNumpy dumps the merged PC matrix of one or more .pcs files as
// a float64 .npy array, with an optional CSV listing the row order,
// for plotting the projection space with external tooling.
type exportNumpy struct{}

func (cmd *exportNumpy) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	var inputs multiFlag
	flags.Var(&inputs, "i", "input `file` (.pcs, repeatable)")
	dataset := flags.String("d", "", "dataset `label` for the sample index")
	outputFilename := flags.String("o", "-", "output `file` (.npy)")
	samplesFilename := flags.String("output-samples", "", "write sample row order to this csv `file`")
	nPCs := flags.Int("n", 0, "number of PCs to export (0 = all)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	if len(inputs) == 0 {
		err = fmt.Errorf("must provide at least one -i input file")
		return 1
	}

	t, err := loadPCs(inputs, *dataset, *nPCs)
	if err != nil {
		return 1
	}
	rows, cols := len(t.samples), len(t.pcCols)
	log.Printf("copying %d rows, %d cols to numpy output array", rows, cols)
	out := make([]float64, rows*cols)
	for i, s := range t.samples {
		copy(out[i*cols:(i+1)*cols], s.pcs)
	}

	var output io.WriteCloser
	if *outputFilename == "-" {
		output = nopCloser{stdout}
	} else {
		output, err = os.OpenFile(*outputFilename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0777)
		if err != nil {
			return 1
		}
		defer output.Close()
	}
	bufw := bufio.NewWriter(output)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return 1
	}
	npw.Shape = []int{rows, cols}
	err = npw.WriteFloat64(out)
	if err != nil {
		return 1
	}
	err = bufw.Flush()
	if err != nil {
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}

	if *samplesFilename != "" {
		err = writeSampleList(t, *samplesFilename)
		if err != nil {
			return 1
		}
	}
	return 0
}

func writeSampleList(t *sampleTable, fnm string) error {
	log.Infof("writing sample list to %s", fnm)
	f, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "Index,sampleset,IID\n")
	if err != nil {
		return err
	}
	for i, s := range t.samples {
		_, err = fmt.Fprintf(f, "%d,%s,%s\n", i, s.dataset, s.id)
		if err != nil {
			return err
		}
	}
	return f.Close()
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
