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

package align

import (
	"testing"

	"github.com/evoldoers/indelhistorian/fasta"
)

func rowsEqual(a, b []bool) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestResiduesInRow(t *testing.T) {
	if ResiduesInRow(nil) != 0 {
		t.Error("empty row failed")
	}
	if ResiduesInRow([]bool{true, false, true, true}) != 3 {
		t.Error("counting failed")
	}
}

func TestColumns(t *testing.T) {
	p := Path{0: {true, false}, 1: {false, true}}
	if p.Columns() != 2 {
		t.Error("Columns failed")
	}
	if (Path{}).Columns() != 0 {
		t.Error("empty Columns failed")
	}
}

func TestUnion(t *testing.T) {
	u := Union(Path{0: {true}}, Path{1: {false}})
	if len(u) != 2 || !u[0][0] || u[1][0] {
		t.Error("Union failed")
	}
}

func TestConcatPadsMissingRows(t *testing.T) {
	cat := Concat(Path{0: {true}}, Path{1: {true, true}})
	if cat.Columns() != 3 {
		t.Errorf("Concat has %v columns, expected 3", cat.Columns())
	}
	if !rowsEqual(cat[0], []bool{true, false, false}) {
		t.Error("Concat row 0 failed")
	}
	if !rowsEqual(cat[1], []bool{false, true, true}) {
		t.Error("Concat row 1 failed")
	}
}

func TestGappedRoundTrip(t *testing.T) {
	gapped := []fasta.Seq{
		{Name: "x", Seq: "AC-G"},
		{Name: "y", Seq: "A--G"},
	}
	a := FromGapped(gapped)
	if a.Ungapped[0].Seq != "ACG" || a.Ungapped[1].Seq != "AG" {
		t.Error("FromGapped ungapped sequences failed")
	}
	back := a.Gapped()
	for i := range gapped {
		if back[i].Seq != gapped[i].Seq {
			t.Errorf("round trip row %v: got %v, expected %v", i, back[i].Seq, gapped[i].Seq)
		}
	}
}
