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

package profile

import (
	"math"
	"strings"
	"testing"

	"github.com/evoldoers/indelhistorian/fasta"
	"gonum.org/v1/gonum/mat"
)

func leafACG() *Profile {
	return NewLeafProfile(1, "acgt", fasta.Seq{Name: "x", Seq: "ACG"}, 0)
}

// A leaf sequence of length L becomes a chain with L+2 states and L+1
// unit-probability transitions.
func TestLeafChain(t *testing.T) {
	p := leafACG()
	if p.Size() != 5 {
		t.Fatalf("leaf profile has %v states, expected 5", p.Size())
	}
	if len(p.Trans) != 4 {
		t.Fatalf("leaf profile has %v transitions, expected 4", len(p.Trans))
	}
	path := p.ExamplePathToEnd()
	if len(path) != 5 {
		t.Fatalf("example path visits %v states, expected 5", len(path))
	}
	if lp := p.PathLogProb(path); lp != 0 {
		t.Errorf("leaf chain log-probability is %v, expected 0", lp)
	}
	p.AssertSeqCoordsConsistent()
	p.AssertTopological()
	p.AssertAllStatesWaitOrReady()
	if !p.States[0].IsNull() || !p.States[4].IsNull() {
		t.Error("start and end must be null states")
	}
	for s := 1; s <= 3; s++ {
		if p.States[s].IsNull() {
			t.Errorf("state %v should absorb", s)
		}
		if p.States[s].SeqCoords[0] != s {
			t.Errorf("state %v has coordinate %v", s, p.States[s].SeqCoords[0])
		}
	}
	// Emissions: a zero at the observed token, -inf elsewhere.
	if p.States[1].LpAbsorb[0][0] != 0 {
		t.Error("state 1 should emit token a with log-probability 0")
	}
	if !math.IsInf(p.States[1].LpAbsorb[0][1], -1) {
		t.Error("state 1 should not emit token c")
	}
}

func TestLeafWildcard(t *testing.T) {
	p := NewLeafProfile(1, "acgt", fasta.Seq{Name: "x", Seq: "A*G"}, 0)
	for a := 0; a < 4; a++ {
		if p.States[2].LpAbsorb[0][a] != 0 {
			t.Errorf("wildcard emission for token %v is %v, expected 0", a, p.States[2].LpAbsorb[0][a])
		}
	}
}

func TestAlignColumn(t *testing.T) {
	p := leafACG()
	col := p.AlignColumn(2)
	if len(col) != 1 || col[0] != 'C' {
		t.Errorf("align column of state 2 is %v", col)
	}
}

func TestLeftMultiply(t *testing.T) {
	p := leafACG()
	// A uniform substitution matrix smears every emission to log(1/4).
	uniform := mat.NewDense(4, 4, []float64{
		0.25, 0.25, 0.25, 0.25,
		0.25, 0.25, 0.25, 0.25,
		0.25, 0.25, 0.25, 0.25,
		0.25, 0.25, 0.25, 0.25,
	})
	q := p.LeftMultiply([]*mat.Dense{uniform})
	if q.Size() != p.Size() || len(q.Trans) != len(p.Trans) {
		t.Fatal("leftMultiply changed the topology")
	}
	for a := 0; a < 4; a++ {
		if got := q.States[1].LpAbsorb[0][a]; math.Abs(got-math.Log(0.25)) > 1e-12 {
			t.Errorf("smeared emission is %v, expected log(1/4)", got)
		}
	}
	// The original profile is untouched.
	if p.States[1].LpAbsorb[0][0] != 0 {
		t.Error("leftMultiply mutated its receiver")
	}
	q.AssertSeqCoordsConsistent()
}

// buildMixedState returns a profile with a state that has both null and
// absorbing outgoing transitions, which addReadyStates must split.
func buildMixedState() *Profile {
	p := leafACG()
	// Add a null bypass transition from state 1 to END alongside its
	// absorbing transition to state 2.
	ti := len(p.Trans)
	p.Trans = append(p.Trans, Trans{Src: 1, Dest: 4, LpTrans: math.Log(0.5)})
	p.States[1].NullOut = append(p.States[1].NullOut, ti)
	p.States[4].In = append(p.States[4].In, ti)
	return p
}

func TestAddReadyStates(t *testing.T) {
	p := buildMixedState()
	split := p.AddReadyStates()
	split.AssertAllStatesWaitOrReady()
	split.AssertTopological()
	if split.Size() != p.Size()+1 {
		t.Fatalf("split profile has %v states, expected %v", split.Size(), p.Size()+1)
	}
	// The wait and ready halves of the split state keep the coordinates.
	var found bool
	for s := range split.States {
		if strings.HasSuffix(split.States[s].Name, readyStateSuffix) {
			found = true
			if split.States[s].SeqCoords[0] != 1 {
				t.Error("ready half lost its coordinates")
			}
			if !split.States[s].IsReady() {
				t.Error("ready half is not Ready")
			}
		}
	}
	if !found {
		t.Fatal("no ready state created")
	}
}

// Applying addReadyStates twice equals applying it once.
func TestAddReadyStatesIdempotent(t *testing.T) {
	p := buildMixedState()
	once := p.AddReadyStates()
	twice := once.AddReadyStates()
	if once.Size() != twice.Size() || len(once.Trans) != len(twice.Trans) {
		t.Fatalf("second application changed the profile: %v/%v states, %v/%v transitions",
			once.Size(), twice.Size(), len(once.Trans), len(twice.Trans))
	}
	for s := range once.States {
		if once.States[s].Name != twice.States[s].Name {
			t.Errorf("state %v renamed from %v to %v", s, once.States[s].Name, twice.States[s].Name)
		}
	}
}

func TestSumPathAbsorbProbs(t *testing.T) {
	p := leafACG()
	logW := []float64{0}
	uniform := make([]float64, 4)
	for a := range uniform {
		uniform[a] = math.Log(0.25)
	}
	lp := p.SumPathAbsorbProbs(logW, [][]float64{uniform}, "")
	if math.Abs(lp-3*math.Log(0.25)) > 1e-12 {
		t.Errorf("sum-path absorb log-probability is %v, expected 3 log(1/4)", lp)
	}
}

func TestWriteJSON(t *testing.T) {
	p := leafACG()
	dump := p.JSON()
	if !strings.Contains(dump, "\"alphSize\": 4") || !strings.Contains(dump, "START") {
		t.Errorf("JSON dump looks wrong: %v", dump)
	}
}
