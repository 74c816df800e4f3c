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

// Package recon drives the progressive profile-alignment reconstruction
// over a phylogenetic tree.
package recon

import (
	"fmt"
	"math"
	"strings"

	"github.com/evoldoers/indelhistorian/align"
	"github.com/evoldoers/indelhistorian/dp"
	"github.com/evoldoers/indelhistorian/envelope"
	"github.com/evoldoers/indelhistorian/fasta"
	"github.com/evoldoers/indelhistorian/internal"
	"github.com/evoldoers/indelhistorian/model"
	"github.com/evoldoers/indelhistorian/profile"
	"github.com/evoldoers/indelhistorian/tree"
	"github.com/evoldoers/indelhistorian/utils"
	"github.com/exascience/pargo/parallel"
	"github.com/google/uuid"
)

// Dataset is one reconstruction problem: a tree, the leaf sequences, and
// optionally a guide alignment. Rows of all alignment paths are tree
// node indices.
type Dataset struct {
	Name string
	ID   uuid.UUID

	Seqs []fasta.Seq
	Tree *tree.Tree

	// Guide is the optional guide alignment path, reindexed by tree
	// node; GappedGuide keeps the original gapped rows.
	Guide       align.Path
	GappedGuide []fasta.Seq

	seqIndex       map[string]int
	nodeToSeqIndex map[int]int

	closestLeaf         []int
	closestLeafDistance []float64

	// Reconstruction is the final alignment, with wildcard residues at
	// the internal nodes; LpFinalFwd and LpFinalTrace are the forward
	// and profile log-likelihoods at the root.
	Reconstruction align.Alignment
	GappedRecon    []fasta.Seq
	LpFinalFwd     float64
	LpFinalTrace   float64

	profiles map[int]*profile.Profile
}

// NewDataset builds a dataset from ungapped sequences.
func NewDataset(name string, seqs []fasta.Seq, t *tree.Tree) *Dataset {
	return &Dataset{
		Name: name,
		ID:   uuid.New(),
		Seqs: seqs,
		Tree: t,
	}
}

// NewGuidedDataset builds a dataset from a gapped guide alignment, using
// its ungapped rows as the sequences and its path for guide banding.
func NewGuidedDataset(name string, gapped []fasta.Seq, t *tree.Tree) *Dataset {
	a := align.FromGapped(gapped)
	d := NewDataset(name, a.Ungapped, t)
	d.GappedGuide = gapped
	d.Guide = a.Path
	return d
}

// Reconstructor runs reconstructions for one rate model and option set.
// The model and options are shared read-only; every dataset gets its own
// random stream seeded from Options.Seed, so datasets may be
// reconstructed concurrently.
type Reconstructor struct {
	Model *model.RateModel
	Opts  Options

	Datasets []*Dataset
}

// New validates the model and options and returns a reconstructor.
func New(m *model.RateModel, opts Options) (*Reconstructor, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, &Error{Kind: ConfigurationError, Msg: err.Error()}
	}
	return &Reconstructor{Model: m, Opts: opts}, nil
}

// AddDataset registers a dataset for reconstruction.
func (r *Reconstructor) AddDataset(d *Dataset) {
	if d.Name == "" {
		d.Name = fmt.Sprintf("#%d", len(r.Datasets)+1)
	}
	r.Datasets = append(r.Datasets, d)
}

// prepare validates the tree, matches sequences to leaves, reindexes the
// guide by tree node, and finds each subtree's closest leaf.
func (d *Dataset) prepare() error {
	t := d.Tree
	if err := t.ValidateBranchLengths(); err != nil {
		return &Error{Kind: ConfigurationError, Dataset: d.Name, Msg: err.Error()}
	}
	if err := t.AssertBinary(); err != nil {
		return &Error{Kind: ConfigurationError, Dataset: d.Name, Msg: err.Error()}
	}
	d.seqIndex = make(map[string]int, len(d.Seqs))
	for n := range d.Seqs {
		if _, dup := d.seqIndex[d.Seqs[n].Name]; dup {
			return &Error{Kind: ConfigurationError, Dataset: d.Name, Msg: fmt.Sprintf("duplicate sequence name %v", d.Seqs[n].Name)}
		}
		d.seqIndex[d.Seqs[n].Name] = n
	}
	d.nodeToSeqIndex = make(map[int]int)
	reorderedGuide := make(align.Path)
	d.closestLeaf = make([]int, t.NNodes())
	d.closestLeafDistance = make([]float64, t.NNodes())
	for node := 0; node < t.NNodes(); node++ {
		if t.IsLeaf(node) {
			name := t.Name(node)
			if name == "" {
				return &Error{Kind: ConfigurationError, Dataset: d.Name, Msg: fmt.Sprintf("leaf node %v is unnamed", node)}
			}
			seqidx, ok := d.seqIndex[name]
			if !ok {
				return &Error{Kind: ConfigurationError, Dataset: d.Name, Msg: fmt.Sprintf("can't find sequence for leaf node %v", name)}
			}
			d.nodeToSeqIndex[node] = seqidx
			if len(d.Guide) > 0 {
				reorderedGuide[node] = d.Guide[seqidx]
			}
			d.closestLeaf[node] = node
			d.closestLeafDistance[node] = 0
		} else {
			for nc, c := range t.Children(node) {
				dc := d.closestLeafDistance[c] + t.BranchLength(c)
				if nc == 0 || dc < d.closestLeafDistance[node] {
					d.closestLeaf[node] = d.closestLeaf[c]
					d.closestLeafDistance[node] = dc
				}
			}
		}
	}
	if len(d.Guide) > 0 {
		d.Guide = reorderedGuide
	}
	return nil
}

// profilingStrategy translates the options into dp strategy flags.
func (r *Reconstructor) profilingStrategy() dp.ProfilingStrategy {
	strategy := dp.CollapseChains
	if r.Opts.KeepGapsOpen {
		strategy |= dp.KeepGapsOpen
	}
	if r.Opts.IncludeBestTraceInProfile {
		strategy |= dp.IncludeBestTrace
	}
	return strategy
}

// buildEnvelope constructs the diagonal envelope for a reference-row
// pair.
func (r *Reconstructor) buildEnvelope(d *Dataset, xRef, yRef fasta.Seq) (*envelope.DiagonalEnvelope, error) {
	xToks, err := r.Model.Tokenize(xRef.Seq)
	if err != nil {
		return nil, &Error{Kind: ConfigurationError, Dataset: d.Name, Msg: err.Error()}
	}
	yToks, err := r.Model.Tokenize(yRef.Seq)
	if err != nil {
		return nil, &Error{Kind: ConfigurationError, Dataset: d.Name, Msg: err.Error()}
	}
	if !r.Opts.Envelope.Sparse {
		return envelope.NewFullEnvelope(len(xToks), len(yToks)), nil
	}
	maxSize, err := r.Opts.Envelope.EffectiveMaxSize()
	if err != nil {
		return nil, &Error{Kind: ConfigurationError, Dataset: d.Name, Msg: err.Error()}
	}
	env, degenerate := envelope.NewSparseEnvelope(xToks, yToks, xRef.Name, yRef.Name, r.Model.AlphabetSize(), r.Opts.Envelope, dp.CellBytes, maxSize)
	if degenerate {
		if r.Opts.Envelope.Strict {
			return nil, &Error{Kind: InsufficientMemory, Dataset: d.Name, Msg: fmt.Sprintf("envelope for %v vs %v does not fit in %v bytes", xRef.Name, yRef.Name, maxSize)}
		}
		utils.LogAt(1, "Warning: proceeding with minimal envelope for %v vs %v; the alignment likelihood may suffer", xRef.Name, yRef.Name)
	}
	return env, nil
}

// Reconstruct runs the progressive reconstruction for one dataset.
func (r *Reconstructor) Reconstruct(d *Dataset) error {
	if err := d.prepare(); err != nil {
		return err
	}
	t := d.Tree
	utils.LogAt(1, "Starting reconstruction on %v-node tree (%v %v)", t.NNodes(), d.Name, d.ID)

	rng := internal.NewRand(r.Opts.Seed)
	strategy := r.profilingStrategy()
	d.profiles = make(map[int]*profile.Profile, t.NNodes())
	d.LpFinalFwd = math.Inf(-1)
	d.LpFinalTrace = math.Inf(-1)
	var rootPath align.Path

	for node := 0; node < t.NNodes(); node++ {
		if t.IsLeaf(node) {
			d.profiles[node] = profile.NewLeafProfile(r.Model.Components(), r.Model.Alphabet, d.Seqs[d.nodeToSeqIndex[node]], node)
			continue
		}
		children := t.Children(node)
		lChild, rChild := children[0], children[1]
		lProf, rProf := d.profiles[lChild], d.profiles[rChild]
		lProbs := model.NewProbModel(r.Model, t.BranchLength(lChild))
		rProbs := model.NewProbModel(r.Model, t.BranchLength(rChild))
		hmm := model.NewPairHMM(r.Model, lProbs, rProbs)

		utils.LogAt(2, "Aligning %v (%v states, %v transitions) and %v (%v states, %v transitions)",
			lProf.Name, lProf.Size(), len(lProf.Trans), rProf.Name, rProf.Size(), len(rProf.Trans))

		x := lProf.LeftMultiply(lProbs.Sub)
		y := rProf.LeftMultiply(rProbs.Sub)
		xRefRow, yRefRow := d.closestLeaf[lChild], d.closestLeaf[rChild]
		env, err := r.buildEnvelope(d, d.Seqs[d.nodeToSeqIndex[xRefRow]], d.Seqs[d.nodeToSeqIndex[yRefRow]])
		if err != nil {
			return err
		}

		var forward *dp.ForwardMatrix
		maxDist := r.Opts.MaxDistanceFromGuide
		for {
			var guide *envelope.GuideAlignmentEnvelope
			if len(d.Guide) > 0 {
				guide = envelope.NewGuideEnvelope(d.Guide, xRefRow, yRefRow, maxDist)
			}
			forward = dp.NewForwardMatrix(x, y, hmm, node, xRefRow, yRefRow, env, guide)
			if !math.IsInf(forward.LpEnd, -1) {
				break
			}
			if maxDist < 0 {
				utils.LogAt(1, "Sample x-path: (%v)\nSample y-path: (%v)",
					pathString(x.ExamplePathToEnd()), pathString(y.ExamplePathToEnd()))
				return &Error{Kind: ZeroLikelihood, Dataset: d.Name,
					Msg: fmt.Sprintf("zero forward likelihood aligning %v and %v even in the absence of guide alignment constraints", lProf.Name, rProf.Name)}
			}
			if maxDist*2 > d.Guide.Columns() {
				utils.LogAt(2, "Zero forward likelihood with guide alignment band %v; removing guide alignment constraint", maxDist)
				maxDist = -1
			} else if maxDist == 0 {
				utils.LogAt(2, "Zero forward likelihood; widening guide alignment band from 0 to 1")
				maxDist = 1
			} else {
				utils.LogAt(2, "Zero forward likelihood; doubling guide alignment band from %v to %v", maxDist, maxDist*2)
				maxDist *= 2
			}
		}

		var backward *dp.BackwardMatrix
		if r.Opts.UsePosteriorsForProfile && node != t.Root() {
			backward = dp.NewBackwardMatrix(forward)
		}

		var nodeProf *profile.Profile
		if node == t.Root() {
			if r.Opts.ReconstructRoot {
				rootPath = forward.BestAlignPath()
				nodeProf = forward.BestProfile(strategy)
			}
			d.LpFinalFwd = forward.LpEnd
		} else if r.Opts.UsePosteriorsForProfile {
			nodeProf = backward.PostProbProfile(r.Opts.MinPostProb, r.Opts.ProfileNodeLimit, strategy)
		} else {
			nodeProf = forward.SampleProfile(rng, r.Opts.ProfileSamples, r.Opts.ProfileNodeLimit, strategy)
		}
		if nodeProf != nil {
			nodeProf.Name = t.SeqName(node)
			d.profiles[node] = nodeProf
			lpTrace := nodeProf.SumPathAbsorbProbs(r.Model.LogCptWeight(), r.Model.RootDist(), "")
			utils.LogAt(3, "Forward log-likelihood is %v, profile log-likelihood is %v with %v states",
				forward.LpEnd, lpTrace, nodeProf.Size())
			if node == t.Root() {
				d.LpFinalTrace = lpTrace
			}
			if utils.LoggingAt(7) {
				utils.LogAt(7, "%v", nodeProf.JSON())
			}
		}
	}

	utils.LogAt(2, "Final Forward log-likelihood is %v, final alignment log-likelihood is %v", d.LpFinalFwd, d.LpFinalTrace)

	if r.Opts.ReconstructRoot {
		d.Reconstruction = d.makeAlignment(rootPath, t.Root())
		d.GappedRecon = d.Reconstruction.Gapped()
	}
	return nil
}

// ReconstructAll reconstructs every dataset, continuing past failed
// datasets and reporting their errors.
func (r *Reconstructor) ReconstructAll() []error {
	errs := make([]error, len(r.Datasets))
	thunks := make([]func(), len(r.Datasets))
	for i := range r.Datasets {
		i := i
		thunks[i] = func() {
			errs[i] = r.Reconstruct(r.Datasets[i])
		}
	}
	parallel.Do(thunks...)
	var failed []error
	for _, err := range errs {
		if err != nil {
			failed = append(failed, err)
		}
	}
	return failed
}

// ProfileAt returns the profile built at a tree node of a dataset, for
// inspection.
func (d *Dataset) ProfileAt(node int) *profile.Profile {
	return d.profiles[node]
}

// ForwardLogLikelihood returns the root forward log-likelihood.
func (d *Dataset) ForwardLogLikelihood() float64 {
	return d.LpFinalFwd
}

// makeAlignment expands an alignment path into a full alignment, with
// wildcard placeholder residues at internal nodes.
func (d *Dataset) makeAlignment(path align.Path, root int) align.Alignment {
	t := d.Tree
	nodes := t.NodeAndDescendants(root)
	cols := path.Columns()
	ungapped := make([]fasta.Seq, t.NNodes())
	for _, node := range nodes {
		if _, ok := path[node]; !ok {
			path[node] = make([]bool, cols)
		}
		if t.IsLeaf(node) {
			ungapped[node] = d.Seqs[d.nodeToSeqIndex[node]]
		} else {
			ungapped[node] = fasta.Seq{
				Name: t.SeqName(node),
				Seq:  strings.Repeat(string(fasta.WildcardChar), align.ResiduesInRow(path[node])),
			}
		}
	}
	return align.New(ungapped, path)
}

func pathString(states []int) string {
	parts := make([]string, len(states))
	for i, s := range states {
		parts[i] = fmt.Sprint(s)
	}
	return strings.Join(parts, ",")
}
