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

package recon

import (
	"math"
	"strings"
	"testing"

	"github.com/evoldoers/indelhistorian/fasta"
	"github.com/evoldoers/indelhistorian/model"
	"github.com/evoldoers/indelhistorian/tree"
)

func parseTree(t *testing.T, newick string) *tree.Tree {
	t.Helper()
	tr, err := tree.Parse(newick)
	if err != nil {
		t.Fatal(err)
	}
	return tr
}

func newReconstructor(t *testing.T, opts Options) *Reconstructor {
	t.Helper()
	m, err := model.NamedModel("jc")
	if err != nil {
		t.Fatal(err)
	}
	r, err := New(m, opts)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestReconstructThreeLeaves(t *testing.T) {
	r := newReconstructor(t, DefaultOptions())
	d := NewDataset("test", []fasta.Seq{
		{Name: "A", Seq: "ACGTACGT"},
		{Name: "B", Seq: "ACGTACG"},
		{Name: "C", Seq: "ACGTCGT"},
	}, parseTree(t, "((A:0.1,B:0.1):0.05,C:0.2);"))
	r.AddDataset(d)
	if errs := r.ReconstructAll(); len(errs) > 0 {
		t.Fatal(errs[0])
	}
	if math.IsInf(d.ForwardLogLikelihood(), -1) {
		t.Fatal("final forward likelihood vanished")
	}
	if len(d.GappedRecon) != 5 {
		t.Fatalf("reconstruction has %v rows, expected 5", len(d.GappedRecon))
	}
	// Leaf rows reproduce the input residues once gaps are removed.
	for node := 0; node < d.Tree.NNodes(); node++ {
		if !d.Tree.IsLeaf(node) {
			continue
		}
		degapped := strings.Map(func(c rune) rune {
			if fasta.IsGap(byte(c)) {
				return -1
			}
			return c
		}, d.GappedRecon[node].Seq)
		if degapped != d.Seqs[d.nodeToSeqIndex[node]].Seq {
			t.Errorf("leaf %v reconstructed as %v", d.Tree.Name(node), d.GappedRecon[node].Seq)
		}
	}
	// Internal rows are wildcard placeholders for a downstream ancestor
	// predictor.
	root := d.Tree.Root()
	for _, c := range d.GappedRecon[root].Seq {
		if byte(c) != fasta.WildcardChar && !fasta.IsGap(byte(c)) {
			t.Errorf("root row contains %c, expected wildcards and gaps only", c)
		}
	}
	// All rows have equal width.
	for i := 1; i < len(d.GappedRecon); i++ {
		if len(d.GappedRecon[i].Seq) != len(d.GappedRecon[0].Seq) {
			t.Error("reconstruction rows have unequal widths")
		}
	}
	if d.ProfileAt(d.Tree.Root()) == nil {
		t.Error("root profile not retained")
	}
}

func TestReconstructDeterministic(t *testing.T) {
	run := func() []string {
		opts := DefaultOptions()
		opts.UsePosteriorsForProfile = false
		opts.ProfileSamples = 5
		r := newReconstructor(t, opts)
		d := NewDataset("det", []fasta.Seq{
			{Name: "A", Seq: "ACGTAC"},
			{Name: "B", Seq: "ACTAC"},
			{Name: "C", Seq: "AGGTAC"},
		}, parseTree(t, "((A:0.2,B:0.3):0.1,C:0.4);"))
		r.AddDataset(d)
		if errs := r.ReconstructAll(); len(errs) > 0 {
			t.Fatal(errs[0])
		}
		rows := make([]string, len(d.GappedRecon))
		for i := range d.GappedRecon {
			rows[i] = d.GappedRecon[i].Seq
		}
		rows = append(rows, d.ProfileAt(2).JSON())
		return rows
	}
	first := run()
	second := run()
	if len(first) != len(second) {
		t.Fatal("runs produced different row counts")
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("row %v differs between identically seeded runs", i)
		}
	}
}

// A guide alignment that misplaces residues makes the first banded
// forward pass fail; the driver widens the band and recovers.
func TestGuideBandRetry(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxDistanceFromGuide = 0
	r := newReconstructor(t, opts)
	// The guide aligns A's residues against gaps, displacing them from
	// B's homologous residues by more than the initial band.
	d := NewGuidedDataset("banded", []fasta.Seq{
		{Name: "A", Seq: "ACGT----"},
		{Name: "B", Seq: "----ACGT"},
		{Name: "C", Seq: "ACGT----"},
	}, parseTree(t, "((A:0.1,B:0.1):0.05,C:0.2);"))
	r.AddDataset(d)
	if errs := r.ReconstructAll(); len(errs) > 0 {
		t.Fatal(errs[0])
	}
	if math.IsInf(d.ForwardLogLikelihood(), -1) {
		t.Error("retry loop failed to recover a finite likelihood")
	}
}

func TestConfigurationErrors(t *testing.T) {
	m, err := model.NamedModel("jc")
	if err != nil {
		t.Fatal(err)
	}
	opts := DefaultOptions()
	opts.MinPostProb = 2
	if _, err := New(m, opts); err == nil {
		t.Error("out-of-range posterior threshold not rejected")
	}
	opts = DefaultOptions()
	opts.Envelope.KmerLen = 2
	if _, err := New(m, opts); err == nil {
		t.Error("out-of-range k-mer length not rejected")
	}
	opts = DefaultOptions()
	opts.Envelope.BandSize = 3
	if _, err := New(m, opts); err == nil {
		t.Error("odd band size not rejected")
	}
}

func TestMissingLeafSequence(t *testing.T) {
	r := newReconstructor(t, DefaultOptions())
	d := NewDataset("missing", []fasta.Seq{
		{Name: "A", Seq: "ACGT"},
		{Name: "B", Seq: "ACGT"},
	}, parseTree(t, "((A:0.1,B:0.1):0.05,C:0.2);"))
	r.AddDataset(d)
	errs := r.ReconstructAll()
	if len(errs) != 1 {
		t.Fatal("missing leaf sequence not reported")
	}
	var rerr *Error
	if e, ok := errs[0].(*Error); ok {
		rerr = e
	}
	if rerr == nil || rerr.Kind != ConfigurationError {
		t.Errorf("unexpected error %v", errs[0])
	}
}
