// Copyright (C) The PGS Catalog Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package ancestry

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/pgzip"
	log "github.com/sirupsen/logrus"
)

type sampleKey struct {
	dataset string
	id      string
}

type sample struct {
	dataset string
	id      string
	pcs     []float64
	scores  []float64 // aligned to sampleTable.scoreCols, NaN = missing
	// unrelated is only meaningful when unrelatedKnown is true.
	// Unknown counts as training-eligible.
	unrelated      bool
	unrelatedKnown bool
	population     string // reference tables only
}

func (s sample) key() sampleKey { return sampleKey{s.dataset, s.id} }

func (s sample) trainingEligible() bool {
	return !s.unrelatedKnown || s.unrelated
}

// sampleTable holds one dataset's samples, keyed by (dataset, IID).
// It is built once from the input files and not modified afterwards,
// except that score columns are attached by mergeScores.
type sampleTable struct {
	samples   []sample
	rowOf     map[sampleKey]int
	pcCols    []string // PC1..PCn, numeric order
	scoreCols []string
}

func (t *sampleTable) reindex() error {
	t.rowOf = make(map[sampleKey]int, len(t.samples))
	for i, s := range t.samples {
		k := s.key()
		if _, dup := t.rowOf[k]; dup {
			return inputErrorf("duplicate sample key (%s, %s)", k.dataset, k.id)
		}
		t.rowOf[k] = i
	}
	return nil
}

// loadPCs reads one or more .pcs projection files (TSV with an IID
// column and PC1..PCn columns) into a table tagged with the given
// dataset label. Rows from all files are unioned; every file must
// carry the PC columns established by the first one. When nPCs > 0,
// higher-numbered PC columns are dropped on load to save memory.
func loadPCs(paths []string, dataset string, nPCs int) (*sampleTable, error) {
	t := &sampleTable{rowOf: map[sampleKey]int{}}
	for _, path := range paths {
		log.Printf("reading PCA projection: %s", path)
		if err := t.appendPCs(path, dataset, nPCs); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *sampleTable) appendPCs(path, dataset string, nPCs int) error {
	f, err := open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(nil, 1<<20)
	if !scanner.Scan() {
		return inputErrorf("%s: empty file", path)
	}
	header := splitTSV(scanner.Text())
	iidCol := -1
	type pcRef struct {
		col int
		n   int
	}
	var pcRefs []pcRef
	for i, name := range header {
		if name == "IID" {
			iidCol = i
			continue
		}
		if n, ok := pcNumber(name); ok && (nPCs <= 0 || n <= nPCs) {
			pcRefs = append(pcRefs, pcRef{col: i, n: n})
		}
	}
	if iidCol < 0 {
		return inputErrorf("%s: no IID column in header %q", path, header)
	}
	if len(pcRefs) == 0 {
		return inputErrorf("%s: no PC columns in header %q", path, header)
	}
	sort.Slice(pcRefs, func(i, j int) bool { return pcRefs[i].n < pcRefs[j].n })

	if len(t.pcCols) == 0 {
		for _, ref := range pcRefs {
			t.pcCols = append(t.pcCols, header[ref.col])
		}
	} else {
		// rows from every file must line up column-wise
		byName := map[string]int{}
		for _, ref := range pcRefs {
			byName[header[ref.col]] = ref.col
		}
		pcRefs = pcRefs[:0]
		for _, name := range t.pcCols {
			col, ok := byName[name]
			if !ok {
				return inputErrorf("%s: missing PC column %s", path, name)
			}
			pcRefs = append(pcRefs, pcRef{col: col})
		}
	}

	lineNum := 1
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if line == "" {
			continue
		}
		fields := splitTSV(line)
		if len(fields) != len(header) {
			return inputErrorf("%s line %d: %d fields, header has %d", path, lineNum, len(fields), len(header))
		}
		s := sample{
			dataset: dataset,
			id:      fields[iidCol],
			pcs:     make([]float64, len(pcRefs)),
		}
		for i, ref := range pcRefs {
			s.pcs[i], err = strconv.ParseFloat(fields[ref.col], 64)
			if err != nil {
				return inputErrorf("%s line %d: cannot parse float %q", path, lineNum, fields[ref.col])
			}
		}
		k := s.key()
		if _, dup := t.rowOf[k]; dup {
			return inputErrorf("%s line %d: duplicate sample key (%s, %s)", path, lineNum, k.dataset, k.id)
		}
		t.rowOf[k] = len(t.samples)
		t.samples = append(t.samples, s)
	}
	return scanner.Err()
}

// flagRelated marks every sample in the table with a known
// training-eligibility flag: false for sample IDs listed in the
// newline-delimited file, true for everyone else.
func (t *sampleTable) flagRelated(path string) error {
	log.Printf("flagging related samples with: %s", path)
	f, err := open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	related := map[string]bool{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if id := strings.TrimSpace(scanner.Text()); id != "" {
			related[id] = true
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	for i := range t.samples {
		t.samples[i].unrelatedKnown = true
		t.samples[i].unrelated = !related[t.samples[i].id]
	}
	return nil
}

// mergePSAM attaches the given population-label column from a plink2
// .psam file to the table's samples, dropping rows with no metadata
// entry. The identifier header is normalized: a leading #FID column is
// discarded and #IID is treated as IID; any other layout is an error.
func (t *sampleTable) mergePSAM(path, labelCol string) error {
	f, err := open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(nil, 1<<20)
	if !scanner.Scan() {
		return inputErrorf("%s: empty file", path)
	}
	header := splitTSV(scanner.Text())
	offset := 0
	switch header[0] {
	case "#IID":
		header[0] = "IID"
	case "#FID":
		// family-ID-prefixed layout: drop #FID, IID follows
		header = header[1:]
		offset = 1
	default:
		return inputErrorf("%s: invalid columns, header starts with %q", path, header[0])
	}
	iidCol, labelIdx := -1, -1
	for i, name := range header {
		switch name {
		case "IID":
			iidCol = i
		case labelCol:
			labelIdx = i
		}
	}
	if iidCol != 0 {
		return inputErrorf("%s: invalid columns, no IID after header normalization", path)
	}
	if labelIdx < 0 {
		return inputErrorf("%s: no %s column", path, labelCol)
	}

	labels := map[string]string{}
	lineNum := 1
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if line == "" {
			continue
		}
		fields := splitTSV(line)
		if len(fields) != len(header)+offset {
			return inputErrorf("%s line %d: %d fields, expected %d", path, lineNum, len(fields), len(header)+offset)
		}
		id := fields[iidCol+offset]
		if _, dup := labels[id]; dup {
			return inputErrorf("%s line %d: duplicate IID %q", path, lineNum, id)
		}
		labels[id] = fields[labelIdx+offset]
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	kept := t.samples[:0]
	for _, s := range t.samples {
		pop, ok := labels[s.id]
		if !ok {
			continue
		}
		s.population = pop
		kept = append(kept, s)
	}
	t.samples = kept
	return t.reindex()
}

// mergeScores reads an aggregated-score table keyed by (sampleset,
// IID), keeping only the _SUM columns (accession names normalized by
// stripping the suffix), and attaches the scores to each given table.
// Table rows with no score entry are dropped, mirroring an inner join.
// Returns the score accession names.
func mergeScores(path string, tables ...*sampleTable) ([]string, error) {
	log.Printf("reading aggregated score data: %s", path)
	f, err := open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(nil, 1<<20)
	if !scanner.Scan() {
		return nil, inputErrorf("%s: empty file", path)
	}
	header := splitTSV(scanner.Text())
	dsCol, iidCol := -1, -1
	var scoreCols []string
	var scoreIdx []int
	for i, name := range header {
		switch {
		case name == "sampleset":
			dsCol = i
		case name == "IID":
			iidCol = i
		case strings.HasSuffix(name, "_SUM"):
			scoreCols = append(scoreCols, strings.TrimSuffix(name, "_SUM"))
			scoreIdx = append(scoreIdx, i)
		}
	}
	if dsCol < 0 || iidCol < 0 {
		return nil, inputErrorf("%s: need sampleset and IID columns, got %q", path, header)
	}
	if len(scoreCols) == 0 {
		return nil, inputErrorf("%s: no _SUM columns", path)
	}

	scores := map[sampleKey][]float64{}
	lineNum := 1
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if line == "" {
			continue
		}
		fields := splitTSV(line)
		if len(fields) != len(header) {
			return nil, inputErrorf("%s line %d: %d fields, header has %d", path, lineNum, len(fields), len(header))
		}
		k := sampleKey{fields[dsCol], fields[iidCol]}
		if _, dup := scores[k]; dup {
			return nil, inputErrorf("%s line %d: duplicate sample key (%s, %s)", path, lineNum, k.dataset, k.id)
		}
		row := make([]float64, len(scoreIdx))
		for i, col := range scoreIdx {
			row[i], err = strconv.ParseFloat(fields[col], 64)
			if err != nil {
				return nil, inputErrorf("%s line %d: cannot parse float %q", path, lineNum, fields[col])
			}
		}
		scores[k] = row
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	for _, t := range tables {
		kept := t.samples[:0]
		for _, s := range t.samples {
			row, ok := scores[s.key()]
			if !ok {
				continue
			}
			s.scores = row
			kept = append(kept, s)
		}
		t.samples = kept
		t.scoreCols = scoreCols
		if err := t.reindex(); err != nil {
			return nil, err
		}
	}
	return scoreCols, nil
}

func pcNumber(name string) (int, bool) {
	if !strings.HasPrefix(name, "PC") {
		return 0, false
	}
	n, err := strconv.Atoi(name[2:])
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func splitTSV(line string) []string {
	return strings.Split(strings.TrimRight(line, "\r\n"), "\t")
}

func open(fnm string) (io.ReadCloser, error) {
	f, err := os.Open(fnm)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(fnm, ".gz") {
		return f, nil
	}
	rdr, err := pgzip.NewReader(bufio.NewReaderSize(f, 4*1024*1024))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("gzip %s: %w", fnm, err)
	}
	return gzReadCloser{Reader: rdr, f: f}, nil
}

type gzReadCloser struct {
	*pgzip.Reader
	f *os.File
}

func (g gzReadCloser) Close() error {
	err := g.Reader.Close()
	if cerr := g.f.Close(); err == nil {
		err = cerr
	}
	return err
}
