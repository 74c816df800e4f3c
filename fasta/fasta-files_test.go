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

package fasta

import (
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	seqs, err := Parse(strings.NewReader(">a first\nACGT\nACGT\n\n>b\nTTTT\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(seqs) != 2 {
		t.Fatalf("parsed %v records, expected 2", len(seqs))
	}
	if seqs[0].Name != "a" || seqs[0].Comment != "first" || seqs[0].Seq != "ACGTACGT" {
		t.Errorf("record 0 parsed as %+v", seqs[0])
	}
	if seqs[1].Name != "b" || seqs[1].Seq != "TTTT" {
		t.Errorf("record 1 parsed as %+v", seqs[1])
	}
}

func TestWriteParseRoundTrip(t *testing.T) {
	seqs := []Seq{{Name: "a", Seq: strings.Repeat("ACGT", 40)}, {Name: "b", Seq: "AC-G"}}
	var b strings.Builder
	if err := Write(&b, seqs); err != nil {
		t.Fatal(err)
	}
	back, err := Parse(strings.NewReader(b.String()))
	if err != nil {
		t.Fatal(err)
	}
	for i := range seqs {
		if back[i].Name != seqs[i].Name || back[i].Seq != seqs[i].Seq {
			t.Errorf("round trip record %v failed", i)
		}
	}
}

func TestHasGaps(t *testing.T) {
	if HasGaps([]Seq{{Seq: "ACGT"}}) {
		t.Error("ungapped misdetected")
	}
	if !HasGaps([]Seq{{Seq: "AC-T"}}) {
		t.Error("gapped undetected")
	}
}

func TestTokens(t *testing.T) {
	s := Seq{Name: "s", Seq: "AcG*T"}
	toks, err := s.Tokens("acgt")
	if err != nil {
		t.Fatal(err)
	}
	expected := []int{0, 1, 2, -1, 3}
	for i := range expected {
		if toks[i] != expected[i] {
			t.Errorf("token %v is %v, expected %v", i, toks[i], expected[i])
		}
	}
	if _, err := (&Seq{Name: "bad", Seq: "AZ"}).Tokens("acgt"); err == nil {
		t.Error("expected error for out-of-alphabet character")
	}
}
