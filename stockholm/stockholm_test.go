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

package stockholm

import (
	"strings"
	"testing"

	"github.com/evoldoers/indelhistorian/fasta"
	"github.com/evoldoers/indelhistorian/tree"
)

func TestWrite(t *testing.T) {
	tr, err := tree.Parse("(A:1,B:2);")
	if err != nil {
		t.Fatal(err)
	}
	var b strings.Builder
	err = Write(&b, []fasta.Seq{
		{Name: "A", Seq: "AC-G"},
		{Name: "B", Seq: "ACTG"},
	}, tr, "aln1")
	if err != nil {
		t.Fatal(err)
	}
	out := b.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if lines[0] != "# STOCKHOLM 1.0" {
		t.Errorf("missing Stockholm header: %v", lines[0])
	}
	if !strings.Contains(out, "#=GF ID aln1") {
		t.Error("missing ID annotation")
	}
	if !strings.Contains(out, "#=GF NH (A:1,B:2);") {
		t.Error("missing tree annotation")
	}
	if !strings.Contains(out, "A AC-G") || !strings.Contains(out, "B ACTG") {
		t.Error("missing alignment rows")
	}
	if lines[len(lines)-1] != "//" {
		t.Error("missing terminator")
	}
}
