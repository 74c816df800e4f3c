// indelhistorian: probabilistic reconstruction of ancestral sequences
// and indel histories on phylogenetic trees.
// Copyright (c) 2021 the indelhistorian contributors.

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version, and Additional Terms
// (see below).

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public
// License and Additional Terms along with this program. If not, see
// <https://github.com/evoldoers/indelhistorian/blob/master/LICENSE.txt>.

package cmd

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/evoldoers/indelhistorian/fasta"
	"github.com/evoldoers/indelhistorian/model"
	"github.com/evoldoers/indelhistorian/recon"
	"github.com/evoldoers/indelhistorian/stockholm"
	"github.com/evoldoers/indelhistorian/tree"
	"github.com/evoldoers/indelhistorian/utils"
)

// ReconstructHelp is the help string for the reconstruct command.
const ReconstructHelp = "reconstruct parameters:\n" +
	"indelhistorian reconstruct\n" +
	"[--auto file (input file with automatic format detection; may be repeated)]\n" +
	"--seqs file (ungapped FASTA sequences)\n" +
	"[--guide file (gapped FASTA guide alignment; also supplies the sequences)]\n" +
	"--tree file (Newick tree with named leaves)\n" +
	"[--preset name (rate model preset; default " + model.DefaultModelName + ")]\n" +
	"[--seed number (random number seed)]\n" +
	"[--output format (stockholm or fasta; default stockholm)]\n" +
	"[--out file (output file; default stdout)]\n" +
	"[--noancs (output leaf rows only)]\n" +
	"[--band number (max distance from guide alignment; --noband disables)]\n" +
	"[--noband]\n" +
	"[--profsamples number (sample profiles instead of posterior decoding)]\n" +
	"[--profminpost probability (posterior threshold for profile states)]\n" +
	"[--profmaxstates number (cap profile states; 0 = unlimited)]\n" +
	"[--nobest (do not force the best traceback into profiles)]\n" +
	"[--keepgapsopen]\n" +
	"[--noroot (skip the root alignment reconstruction)]\n" +
	"[--kmatch length (k-mer length for the diagonal envelope)]\n" +
	"[--kmatchn count (k-mer count threshold per diagonal)]\n" +
	"[--kmatchband size (diagonal envelope band size)]\n" +
	"[--kmatchmb megabytes (DP memory budget; 0 = autodetect)]\n" +
	"[--kmatchoff (disable the sparse envelope)]\n" +
	"[--strictenv (fail instead of degrading the envelope)]\n" +
	"[--v level (log verbosity)]\n"

type stringList []string

func (l *stringList) String() string {
	return strings.Join(*l, ",")
}

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// Reconstruct implements the reconstruct command.
func Reconstruct() error {
	var (
		seqsFile, guideFile, treeFile string
		presetName                    string
		seed                          int64
		outputFormat, outFile         string
		leavesOnly                    bool
		band                          int
		noBand                        bool
		profSamples                   int
		profMinPost                   float64
		profMaxStates                 int
		noBest                        bool
		keepGapsOpen                  bool
		noRoot                        bool
		kmerLen, kmerThreshold        int
		kmerBand                      int
		maxSizeMb                     int
		kmerOff                       bool
		strictEnv                     bool
		verbosity                     int
	)
	opts := recon.DefaultOptions()

	var autoFiles stringList
	var flags flag.FlagSet
	flags.Var(&autoFiles, "auto", "input file with automatic format detection")
	flags.StringVar(&seqsFile, "seqs", "", "ungapped FASTA sequence file")
	flags.StringVar(&guideFile, "guide", "", "gapped FASTA guide alignment")
	flags.StringVar(&treeFile, "tree", "", "Newick tree file")
	flags.StringVar(&presetName, "preset", model.DefaultModelName, "rate model preset")
	flags.Int64Var(&seed, "seed", opts.Seed, "random number seed")
	flags.StringVar(&outputFormat, "output", "stockholm", "output format (stockholm or fasta)")
	flags.StringVar(&outFile, "out", "", "output file")
	flags.BoolVar(&leavesOnly, "noancs", false, "output leaf rows only")
	flags.IntVar(&band, "band", opts.MaxDistanceFromGuide, "max distance from guide alignment")
	flags.BoolVar(&noBand, "noband", false, "disable guide alignment banding")
	flags.IntVar(&profSamples, "profsamples", 0, "number of sampled tracebacks per profile")
	flags.Float64Var(&profMinPost, "profminpost", opts.MinPostProb, "posterior probability threshold")
	flags.IntVar(&profMaxStates, "profmaxstates", opts.ProfileNodeLimit, "profile state limit")
	flags.BoolVar(&noBest, "nobest", false, "do not include the best traceback in profiles")
	flags.BoolVar(&keepGapsOpen, "keepgapsopen", false, "keep gaps open in profiles")
	flags.BoolVar(&noRoot, "noroot", false, "skip the root alignment reconstruction")
	flags.IntVar(&kmerLen, "kmatch", opts.Envelope.KmerLen, "k-mer length")
	flags.IntVar(&kmerThreshold, "kmatchn", opts.Envelope.KmerThreshold, "k-mer count threshold")
	flags.IntVar(&kmerBand, "kmatchband", opts.Envelope.BandSize, "envelope band size")
	flags.IntVar(&maxSizeMb, "kmatchmb", 0, "DP memory budget in megabytes")
	flags.BoolVar(&kmerOff, "kmatchoff", false, "disable the sparse envelope")
	flags.BoolVar(&strictEnv, "strictenv", false, "fail instead of degrading the envelope")
	flags.IntVar(&verbosity, "v", 1, "log verbosity")

	parseFlags(flags, 2, ReconstructHelp)
	utils.SetVerbosity(verbosity)

	opts.Seed = seed
	opts.MaxDistanceFromGuide = band
	if noBand {
		opts.MaxDistanceFromGuide = -1
	}
	if profSamples > 0 {
		opts.ProfileSamples = profSamples
		opts.UsePosteriorsForProfile = false
	}
	opts.MinPostProb = profMinPost
	opts.ProfileNodeLimit = profMaxStates
	opts.IncludeBestTraceInProfile = !noBest
	opts.KeepGapsOpen = keepGapsOpen
	opts.ReconstructRoot = !noRoot
	opts.Envelope.KmerLen = kmerLen
	opts.Envelope.KmerThreshold = kmerThreshold
	opts.Envelope.BandSize = kmerBand
	opts.Envelope.MaxSize = uint64(maxSizeMb) << 20
	opts.Envelope.Sparse = !kmerOff
	opts.Envelope.Strict = strictEnv

	for _, filename := range autoFiles {
		format, err := detectFormat(filename)
		if err != nil {
			return err
		}
		switch format {
		case fastaFormat:
			seqsFile = filename
		case gappedFastaFormat:
			guideFile = filename
		case newickFormat:
			treeFile = filename
		default:
			return fmt.Errorf("could not detect format of file %v; please specify it explicitly", filename)
		}
	}

	if outputFormat = strings.ToLower(outputFormat); outputFormat != "stockholm" && outputFormat != "fasta" {
		return fmt.Errorf("unrecognized output format: %v", outputFormat)
	}
	if (seqsFile == "") == (guideFile == "") {
		return fmt.Errorf("please specify exactly one of --seqs and --guide")
	}
	if treeFile == "" {
		return fmt.Errorf("must specify a tree")
	}

	m, err := model.NamedModel(presetName)
	if err != nil {
		return err
	}
	utils.LogAt(1, "Loading preset model %v", presetName)
	utils.LogAt(2, "Alphabet: %v; substitution model has %v mixture component(s), expected rate %v; insertion rate %v, expected insertion length %v; deletion rate %v, expected deletion length %v",
		m.Alphabet, m.Components(), m.ExpectedSubstitutionRate(),
		m.InsRate, m.ExpectedInsertionLength(), m.DelRate, m.ExpectedDeletionLength())

	utils.LogAt(1, "Loading tree from %v", treeFile)
	treeText, err := os.ReadFile(treeFile)
	if err != nil {
		return err
	}
	t, err := tree.Parse(string(treeText))
	if err != nil {
		return err
	}

	r, err := recon.New(m, opts)
	if err != nil {
		return err
	}
	var dataset *recon.Dataset
	if guideFile != "" {
		utils.LogAt(1, "Loading guide alignment from %v", guideFile)
		gapped, err := fasta.Read(guideFile)
		if err != nil {
			return err
		}
		dataset = recon.NewGuidedDataset(guideFile, gapped, t)
	} else {
		utils.LogAt(1, "Loading sequences from %v", seqsFile)
		seqs, err := fasta.Read(seqsFile)
		if err != nil {
			return err
		}
		dataset = recon.NewDataset(seqsFile, seqs, t)
	}
	r.AddDataset(dataset)
	if errs := r.ReconstructAll(); len(errs) > 0 {
		return errs[0]
	}

	out := os.Stdout
	if outFile != "" {
		f, err := os.Create(outFile)
		if err != nil {
			return err
		}
		defer func() {
			if nerr := f.Close(); nerr != nil {
				log.Println(nerr)
			}
		}()
		out = f
	}
	return writeReconstruction(out, dataset, outputFormat, leavesOnly)
}

func writeReconstruction(out *os.File, dataset *recon.Dataset, format string, leavesOnly bool) error {
	if len(dataset.GappedRecon) == 0 {
		utils.LogAt(1, "No alignment to write (root reconstruction disabled); forward log-likelihood is %v", dataset.ForwardLogLikelihood())
		return nil
	}
	t := dataset.Tree
	t.AssignInternalNodeNames()
	gapped := dataset.GappedRecon
	if leavesOnly {
		var leaves []fasta.Seq
		for node := 0; node < t.NNodes(); node++ {
			if t.IsLeaf(node) {
				leaves = append(leaves, gapped[node])
			}
		}
		gapped = leaves
	}
	if format == "fasta" {
		return fasta.Write(out, gapped)
	}
	return stockholm.Write(out, gapped, t, dataset.Name)
}
