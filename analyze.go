// Copyright (C) The PGS Catalog Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package ancestry

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	_ "net/http/pprof"
	"strings"

	log "github.com/sirupsen/logrus"
)

// analyzecmd runs the full pipeline: load reference and target
// projections, assign ancestry, adjust PGS values, write the final
// tables. Outputs are only written after every stage has succeeded.
type analyzecmd struct{}

func (cmd *analyzecmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	err := cmd.run(prog, args, stdin, stdout, stderr)
	if err == flag.ErrHelp {
		return 0
	} else if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	return 0
}

func (cmd *analyzecmd) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	dTarget := flags.String("d", "", "`label` of the target genomic dataset")
	dRef := flags.String("r", "", "`label` of the reference genomic dataset")
	var refPCs, targetPCs multiFlag
	flags.Var(&refPCs, "ref-pcs", "reference principal components `file` (.pcs, repeatable)")
	flags.Var(&targetPCs, "target-pcs", "target principal components `file` (.pcs, repeatable)")
	psam := flags.String("psam", "", "reference sample metadata `file` in plink2 psam format")
	related := flags.String("x", "", "`file` of related sample IDs, excluded from training")
	labelCol := flags.String("p", "SuperPop", "population label `column` in the psam file")
	scorefile := flags.String("s", "aggregated_scores.txt.gz", "aggregated scores `file`, (sampleset, IID) indexed")
	method := flags.String("a", "RandomForest", "ancestry assignment `method` (RandomForest, Mahalanobis, KNN)")
	nAssignment := flags.Int("n-assignment", 10, "number of PCs used for population assignment")
	threshold := flags.Float64("t", math.NaN(), "confidence threshold for flagging low-confidence assignments")
	thresholdQuantile := flags.Float64("t-quantile", math.NaN(), "derive the confidence threshold as this quantile (0-1) of correctly-classified held-out reference confidences")
	norm := flags.String("norm", "empirical,mean,mean+var", "comma-separated normalization `methods`")
	nNormalization := flags.Int("n-normalization", 5, "number of PCs used for score normalization")
	outdir := flags.String("outdir", "", "output `directory`")
	seed := flags.Int64("random-seed", 0, "PRNG seed")
	err := flags.Parse(args)
	if err != nil {
		return err
	} else if flags.NArg() > 0 {
		return fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
	}
	switch {
	case *dTarget == "" || *dRef == "":
		return errors.New("must provide both -d and -r dataset labels")
	case len(refPCs) == 0 || len(targetPCs) == 0:
		return errors.New("must provide at least one -ref-pcs and one -target-pcs file")
	case *psam == "":
		return errors.New("must provide -psam")
	case *outdir == "":
		return errors.New("must provide -outdir")
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	// don't keep PCs nobody asked for in memory
	maxPCs := 10
	if *nAssignment > maxPCs {
		maxPCs = *nAssignment
	}
	if *nNormalization > maxPCs {
		maxPCs = *nNormalization
	}

	ref, err := loadPCs(refPCs, *dRef, maxPCs)
	if err != nil {
		return err
	}
	if *related != "" {
		if err := ref.flagRelated(*related); err != nil {
			return err
		}
	}
	if err := ref.mergePSAM(*psam, *labelCol); err != nil {
		return err
	}
	target, err := loadPCs(targetPCs, *dTarget, maxPCs)
	if err != nil {
		return err
	}

	scoreCols, err := mergeScores(*scorefile, ref, target)
	if err != nil {
		return err
	}
	if len(ref.samples) == 0 {
		return inputErrorf("no reference samples left after merging metadata and scores")
	}
	if len(target.samples) == 0 {
		return inputErrorf("no target samples left after merging scores")
	}
	log.Infof("loaded %d reference and %d target samples, %d scores", len(ref.samples), len(target.samples), len(scoreCols))

	res, err := assignAncestry(ref, target, *nAssignment, *method, choosePvalThreshold(*threshold), *thresholdQuantile, *seed)
	if err != nil {
		return err
	}

	methods := strings.Split(*norm, ",")
	refAdj, targetAdj, err := pgsAdjust(ref, target, scoreCols, res.ref, res.target, methods, *nNormalization)
	if err != nil {
		return err
	}

	cfg := outputConfig{dir: *outdir, target: *dTarget}
	if err := cfg.writeAdjusted(ref, target, refAdj, targetAdj, methods); err != nil {
		return err
	}
	if err := cfg.writeAncestry(ref, target, res, *labelCol); err != nil {
		return err
	}
	log.Info("done")
	return nil
}

type multiFlag []string

func (f *multiFlag) String() string { return strings.Join(*f, ",") }

func (f *multiFlag) Set(v string) error {
	*f = append(*f, v)
	return nil
}
