// Copyright (C) The PGS Catalog Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package ancestry

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/pgzip"
	log "github.com/sirupsen/logrus"
)

// outputConfig tells the writers where the final tables go. It is
// passed explicitly; there is no process-wide output state.
type outputConfig struct {
	dir    string
	target string // target dataset label, used in output file names
}

type gzTSV struct {
	f    *os.File
	bufw *bufio.Writer
	gzw  *pgzip.Writer
}

func createGzTSV(fnm string) (*gzTSV, error) {
	f, err := os.Create(fnm)
	if err != nil {
		return nil, err
	}
	bufw := bufio.NewWriterSize(f, 1<<20)
	return &gzTSV{f: f, bufw: bufw, gzw: pgzip.NewWriter(bufw)}, nil
}

func (w *gzTSV) row(fields ...string) error {
	_, err := fmt.Fprintln(w.gzw, strings.Join(fields, "\t"))
	return err
}

func (w *gzTSV) Close() error {
	err := w.gzw.Close()
	if ferr := w.bufw.Flush(); err == nil {
		err = ferr
	}
	if ferr := w.f.Close(); err == nil {
		err = ferr
	}
	return err
}

// writeAdjusted writes the long-format adjusted-score table: one row
// per (sampleset, IID, PGS) with one column per normalization method.
func (cfg outputConfig) writeAdjusted(ref, target *sampleTable, refAdj, targetAdj *adjustedScores, methods []string) error {
	fnm := filepath.Join(cfg.dir, cfg.target+"_pgs.txt.gz")
	log.Infof("writing adjusted scores to %s", fnm)
	w, err := createGzTSV(fnm)
	if err != nil {
		return err
	}
	defer w.Close()

	header := append([]string{"sampleset", "IID", "PGS"}, methods...)
	if err := w.row(header...); err != nil {
		return err
	}
	emit := func(t *sampleTable, adj *adjustedScores) error {
		for i, s := range t.samples {
			for _, sc := range t.scoreCols {
				fields := []string{s.dataset, s.id, sc}
				for _, m := range methods {
					fields = append(fields, formatFloat(adj.values[m+"|"+sc][i]))
				}
				if err := w.row(fields...); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := emit(ref, refAdj); err != nil {
		return err
	}
	if err := emit(target, targetAdj); err != nil {
		return err
	}
	return w.Close()
}

// writeAncestry writes the per-sample ancestry table: PCs, training
// flag, true label (reference rows only), assignment, and a REFERENCE
// flag distinguishing the two datasets. Target rows come first.
func (cfg outputConfig) writeAncestry(ref, target *sampleTable, res *assignResult, labelCol string) error {
	fnm := filepath.Join(cfg.dir, cfg.target+"_ancestry.txt.gz")
	log.Infof("writing ancestry assignments to %s", fnm)
	w, err := createGzTSV(fnm)
	if err != nil {
		return err
	}
	defer w.Close()

	nPCs := len(ref.pcCols)
	if len(target.pcCols) < nPCs {
		nPCs = len(target.pcCols)
	}
	header := append([]string{"sampleset", "IID"}, ref.pcCols[:nPCs]...)
	header = append(header, "Unrelated", labelCol, "PopAssignment", "PopAssignmentProb", "HighConfidence", "REFERENCE")
	if err := w.row(header...); err != nil {
		return err
	}
	emit := func(t *sampleTable, as []assignment, isRef bool) error {
		for i, s := range t.samples {
			fields := []string{s.dataset, s.id}
			for _, pc := range s.pcs[:nPCs] {
				fields = append(fields, formatFloat(pc))
			}
			fields = append(fields, formatTriBool(s.unrelated, s.unrelatedKnown))
			if isRef {
				fields = append(fields, s.population)
			} else {
				fields = append(fields, "NA")
			}
			fields = append(fields, as[i].population, formatFloat(as[i].confidence))
			if math.IsNaN(res.threshold) {
				fields = append(fields, "NA")
			} else {
				fields = append(fields, formatBool(as[i].highConfidence))
			}
			fields = append(fields, formatBool(isRef))
			if err := w.row(fields...); err != nil {
				return err
			}
		}
		return nil
	}
	if err := emit(target, res.target, false); err != nil {
		return err
	}
	if err := emit(ref, res.ref, true); err != nil {
		return err
	}
	return w.Close()
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "NA"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func formatTriBool(b, known bool) string {
	if !known {
		return "NA"
	}
	return formatBool(b)
}
