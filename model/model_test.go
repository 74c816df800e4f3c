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

package model

import (
	"math"
	"testing"
)

func TestNamedModel(t *testing.T) {
	m, err := NamedModel("jc")
	if err != nil {
		t.Fatal(err)
	}
	if m.Alphabet != "acgt" || m.Components() != 1 {
		t.Error("jc preset malformed")
	}
	if err := m.Validate(); err != nil {
		t.Error(err)
	}
	if _, err := NamedModel("nosuch"); err == nil {
		t.Error("unknown preset not rejected")
	}
}

func TestBranchMatrixStochastic(t *testing.T) {
	m, _ := NamedModel("jc")
	for _, bl := range []float64{0, 0.1, 1, 10} {
		sub := m.BranchMatrix(bl)
		for i := 0; i < 4; i++ {
			rowSum := 0.0
			for j := 0; j < 4; j++ {
				p := sub[0].At(i, j)
				if p < 0 || p > 1 {
					t.Errorf("P(%v)[%v][%v] = %v out of range", bl, i, j, p)
				}
				rowSum += p
			}
			if math.Abs(rowSum-1) > 1e-9 {
				t.Errorf("P(%v) row %v sums to %v", bl, i, rowSum)
			}
		}
	}
}

func TestBranchMatrixZeroIsIdentity(t *testing.T) {
	m, _ := NamedModel("jc")
	sub := m.BranchMatrix(0)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			expected := 0.0
			if i == j {
				expected = 1
			}
			if math.Abs(sub[0].At(i, j)-expected) > 1e-12 {
				t.Errorf("P(0)[%v][%v] = %v", i, j, sub[0].At(i, j))
			}
		}
	}
}

func TestBranchMatrixConverges(t *testing.T) {
	// exp(Q t) approaches the equilibrium distribution for large t.
	m, _ := NamedModel("jc")
	sub := m.BranchMatrix(100)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if math.Abs(sub[0].At(i, j)-0.25) > 1e-6 {
				t.Errorf("P(100)[%v][%v] = %v, expected 0.25", i, j, sub[0].At(i, j))
			}
		}
	}
}

func TestValidateRejectsBadRates(t *testing.T) {
	m := Uniform("acgt", 0.5, 0.2, 0.5, 0.5)
	if err := m.Validate(); err == nil {
		t.Error("lambda >= mu not rejected")
	}
}

func TestTokenize(t *testing.T) {
	m, _ := NamedModel("jc")
	toks, err := m.Tokenize("AcGN")
	if err != nil {
		t.Fatal(err)
	}
	expected := []int{0, 1, 2, -1}
	for i := range expected {
		if toks[i] != expected[i] {
			t.Errorf("token %v is %v, expected %v", i, toks[i], expected[i])
		}
	}
}

func TestPairHMMTransitionsNormalised(t *testing.T) {
	m, _ := NamedModel("jc")
	l := NewProbModel(m, 0.3)
	r := NewProbModel(m, 0.7)
	hmm := NewPairHMM(m, l, r)
	for src := SSS; src < EEE; src++ {
		sum := 0.0
		for dest := SSS; dest <= EEE; dest++ {
			sum += math.Exp(hmm.LpTrans(src, dest))
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Errorf("transitions out of %v sum to %v", src, sum)
		}
	}
}

func TestPairHMMOrdering(t *testing.T) {
	// Left-child insertions may not follow right-child insertions, so
	// every alignment has a single state path.
	m, _ := NamedModel("jc")
	hmm := NewPairHMM(m, NewProbModel(m, 0.3), NewProbModel(m, 0.7))
	if !math.IsInf(hmm.LpTrans(III, IMI), -1) {
		t.Error("III -> IMI should be impossible")
	}
}
