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

package tree

import "testing"

func TestParsePostOrder(t *testing.T) {
	tr, err := Parse("((A:1,B:2)ab:0.5,C:3);")
	if err != nil {
		t.Fatal(err)
	}
	if tr.NNodes() != 5 {
		t.Fatalf("parsed %v nodes, expected 5", tr.NNodes())
	}
	// Children precede parents; the root is last.
	if tr.Name(0) != "A" || tr.Name(1) != "B" || tr.Name(2) != "ab" || tr.Name(3) != "C" {
		t.Errorf("unexpected node order: %v %v %v %v", tr.Name(0), tr.Name(1), tr.Name(2), tr.Name(3))
	}
	if tr.Root() != 4 {
		t.Errorf("root is %v, expected 4", tr.Root())
	}
	if !tr.IsLeaf(0) || tr.IsLeaf(2) {
		t.Error("leaf detection failed")
	}
	if tr.BranchLength(1) != 2 || tr.BranchLength(2) != 0.5 {
		t.Error("branch lengths failed")
	}
	if err := tr.AssertBinary(); err != nil {
		t.Error(err)
	}
	if err := tr.ValidateBranchLengths(); err != nil {
		t.Error(err)
	}
}

func TestParseStringRoundTrip(t *testing.T) {
	newick := "((A:1,B:2)ab:0.5,C:3);"
	tr, err := Parse(newick)
	if err != nil {
		t.Fatal(err)
	}
	back, err := Parse(tr.String())
	if err != nil {
		t.Fatal(err)
	}
	if back.NNodes() != tr.NNodes() {
		t.Error("round trip changed node count")
	}
	for n := 0; n < tr.NNodes(); n++ {
		if back.Name(n) != tr.Name(n) || back.BranchLength(n) != tr.BranchLength(n) {
			t.Errorf("round trip changed node %v", n)
		}
	}
}

func TestNodeAndDescendants(t *testing.T) {
	tr, err := Parse("((A:1,B:2):0.5,C:3);")
	if err != nil {
		t.Fatal(err)
	}
	sub := tr.NodeAndDescendants(2)
	if len(sub) != 3 || sub[0] != 0 || sub[1] != 1 || sub[2] != 2 {
		t.Errorf("subtree of node 2 is %v", sub)
	}
	all := tr.NodeAndDescendants(tr.Root())
	if len(all) != 5 {
		t.Errorf("full tree traversal has %v nodes", len(all))
	}
}

func TestNonBinary(t *testing.T) {
	tr, err := Parse("(A:1,B:1,C:1);")
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.AssertBinary(); err == nil {
		t.Error("ternary root not rejected")
	}
}
