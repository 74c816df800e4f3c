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

// Package profile implements the transducer-like profile automaton that
// summarises the likely alignments and residues of a subtree.
package profile

import (
	"fmt"
	"log"
	"math"

	"github.com/evoldoers/indelhistorian/align"
	"github.com/evoldoers/indelhistorian/fasta"
	"github.com/evoldoers/indelhistorian/internal"
	"gonum.org/v1/gonum/mat"
)

// Name suffixes distinguish the halves of a split state.
const (
	waitStateSuffix  = ";"
	readyStateSuffix = "."
)

// State is one node of the profile DAG. A nil LpAbsorb marks a null
// state; an absorbing state emits one alignment column with
// per-component log emission vectors LpAbsorb[cpt][tok]. SeqCoords gives
// the cumulative residue count of each tracked row when the state is
// entered.
type State struct {
	Name      string
	LpAbsorb  [][]float64
	Path      align.Path
	SeqCoords map[int]int
	Meta      map[string]string

	// Outgoing transition indices, split by whether the destination
	// absorbs; In lists the incoming transition indices.
	NullOut   []int
	AbsorbOut []int
	In        []int
}

// IsNull tells whether the state emits nothing.
func (s *State) IsNull() bool {
	return s.LpAbsorb == nil
}

// IsReady tells whether every outgoing transition is absorbing.
func (s *State) IsReady() bool {
	return len(s.NullOut) == 0
}

// IsWait tells whether every outgoing transition is null.
func (s *State) IsWait() bool {
	return len(s.AbsorbOut) == 0
}

// Trans is a weighted edge of the profile DAG. Src and Dest are state
// indices with Src < Dest. Path carries alignment columns collapsed onto
// the transition, and is usually empty.
type Trans struct {
	Src, Dest int
	LpTrans   float64
	Path      align.Path
}

// Profile is a weighted DAG of states in topological order: state 0 is
// the start, the last state is the end. Seqs maps tracked leaf rows to
// their ungapped residues, for rendering alignment columns.
type Profile struct {
	Name       string
	AlphSize   int
	Components int
	States     []State
	Trans      []Trans
	Seqs       map[int]string
}

// Size returns the number of states.
func (p *Profile) Size() int {
	return len(p.States)
}

// Start returns the start state index.
func (p *Profile) Start() int {
	return 0
}

// End returns the end state index.
func (p *Profile) End() int {
	return len(p.States) - 1
}

// NewLeafProfile builds the linear profile of a leaf sequence: a chain
// START -> s_1 -> ... -> s_L -> END with unit-probability transitions.
// Wildcard residues yield all-zero emission vectors.
func NewLeafProfile(components int, alphabet string, seq fasta.Seq, row int) *Profile {
	toks, err := (&seq).Tokens(alphabet)
	if err != nil {
		log.Panic(err)
	}
	alphSize := len(alphabet)
	p := &Profile{
		Name:       seq.Name,
		AlphSize:   alphSize,
		Components: components,
		States:     make([]State, len(toks)+2),
		Trans:      make([]Trans, len(toks)+1),
		Seqs:       map[int]string{row: seq.Seq},
	}
	p.States[0].Name = "START"
	p.States[0].SeqCoords = map[int]int{row: 0}
	p.States[len(toks)+1].Name = "END"
	p.States[len(toks)+1].SeqCoords = map[int]int{row: len(toks)}
	for pos := 0; pos <= len(toks); pos++ {
		p.Trans[pos] = Trans{Src: pos, Dest: pos + 1, LpTrans: 0}
		if pos == len(toks) {
			p.States[pos].NullOut = append(p.States[pos].NullOut, pos)
		} else {
			p.States[pos].AbsorbOut = append(p.States[pos].AbsorbOut, pos)
		}
		p.States[pos+1].In = append(p.States[pos+1].In, pos)
		if pos < len(toks) {
			s := &p.States[pos+1]
			s.Name = fmt.Sprintf("%c%d", seq.Seq[pos], pos+1)
			s.Path = align.Path{row: []bool{true}}
			s.SeqCoords = map[int]int{row: pos + 1}
			s.LpAbsorb = make([][]float64, components)
			for cpt := range s.LpAbsorb {
				s.LpAbsorb[cpt] = make([]float64, alphSize)
				if toks[pos] < 0 {
					continue // wildcard: all-zero emission
				}
				for a := range s.LpAbsorb[cpt] {
					s.LpAbsorb[cpt][a] = math.Inf(-1)
				}
				s.LpAbsorb[cpt][toks[pos]] = 0
			}
		}
	}
	p.AssertSeqCoordsConsistent()
	p.AssertAllStatesWaitOrReady()
	return p
}

// LeftMultiply returns a copy of the profile whose emission vectors have
// been multiplied through the given per-component substitution matrices,
// so that they are conditional on the residue at the parent end of the
// branch. Topology is untouched.
func (p *Profile) LeftMultiply(sub []*mat.Dense) *Profile {
	prof := p.shallowCopy()
	prof.States = append([]State(nil), p.States...)
	for i := range prof.States {
		if prof.States[i].IsNull() {
			continue
		}
		old := prof.States[i].LpAbsorb
		lpAbsorb := make([][]float64, len(old))
		for cpt := range old {
			lpAbsorb[cpt] = make([]float64, p.AlphSize)
			for c := 0; c < p.AlphSize; c++ {
				lp := math.Inf(-1)
				for d := 0; d < p.AlphSize; d++ {
					if prob := sub[cpt].At(c, d); prob > 0 {
						lp = internal.LogAddExp(lp, math.Log(prob)+old[cpt][d])
					}
				}
				lpAbsorb[cpt][c] = lp
			}
		}
		prof.States[i].LpAbsorb = lpAbsorb
	}
	return prof
}

func (p *Profile) shallowCopy() *Profile {
	return &Profile{
		Name:       p.Name,
		AlphSize:   p.AlphSize,
		Components: p.Components,
		Trans:      p.Trans,
		Seqs:       p.Seqs,
	}
}

// GetTrans returns the transition from src to dest, or nil.
func (p *Profile) GetTrans(src, dest int) *Trans {
	for _, ti := range p.States[dest].In {
		if p.Trans[ti].Src == src {
			return &p.Trans[ti]
		}
	}
	return nil
}

// AlignColumn renders the single alignment column of an absorbing state
// as a row-to-character map. Rows without a sequence coordinate show the
// wildcard character.
func (p *Profile) AlignColumn(s int) map[int]byte {
	col := make(map[int]byte)
	for row, bits := range p.States[s].Path {
		if len(bits) > 0 && bits[0] {
			if coord, ok := p.States[s].SeqCoords[row]; ok {
				col[row] = p.Seqs[row][coord-1]
			} else {
				col[row] = fasta.WildcardChar
			}
		}
	}
	return col
}

// SumPathAbsorbProbs returns the log sum over all START-to-END paths of
// the transition probabilities times the absorption likelihoods under
// the given log component weights and log insertion distribution. With a
// non-empty tag, each state's cumulative value is recorded in its Meta.
func (p *Profile) SumPathAbsorbProbs(logCptWeight []float64, logInsProb [][]float64, tag string) float64 {
	lpCumAbs := make([]float64, len(p.States))
	for i := 1; i < len(lpCumAbs); i++ {
		lpCumAbs[i] = math.Inf(-1)
	}
	for pos := 1; pos < len(p.States); pos++ {
		state := &p.States[pos]
		lpAbs := 0.0
		if !state.IsNull() {
			lpAbs = math.Inf(-1)
			for cpt := range logCptWeight {
				lp := math.Inf(-1)
				for a, lpa := range state.LpAbsorb[cpt] {
					lp = internal.LogAddExp(lp, logInsProb[cpt][a]+lpa)
				}
				lpAbs = internal.LogAddExp(lpAbs, logCptWeight[cpt]+lp)
			}
		}
		for _, ti := range state.In {
			t := &p.Trans[ti]
			if t.Src >= pos {
				log.Panicf("transition #%v from %v -> %v is not toposorted", ti, t.Src, t.Dest)
			}
			lpCumAbs[pos] = internal.LogAddExp(lpCumAbs[pos], lpCumAbs[t.Src]+t.LpTrans+lpAbs)
		}
		if tag != "" {
			if state.Meta == nil {
				state.Meta = make(map[string]string)
			}
			state.Meta[tag] = fmt.Sprint(lpCumAbs[pos])
		}
	}
	return lpCumAbs[len(lpCumAbs)-1]
}

// ExamplePathToEnd walks greedily from START to END, preferring null
// transitions, and returns the visited state indices. Used for
// diagnostics when a forward likelihood vanishes.
func (p *Profile) ExamplePathToEnd() []int {
	path := []int{0}
	for s := 0; s != p.End(); {
		var next int
		switch {
		case len(p.States[s].NullOut) > 0:
			next = p.Trans[p.States[s].NullOut[0]].Dest
		case len(p.States[s].AbsorbOut) > 0:
			next = p.Trans[p.States[s].AbsorbOut[0]].Dest
		default:
			return path
		}
		path = append(path, next)
		s = next
	}
	return path
}

// PathLogProb sums the transition log-probabilities along a state path.
func (p *Profile) PathLogProb(path []int) float64 {
	lp := 0.0
	for i := 1; i < len(path); i++ {
		t := p.GetTrans(path[i-1], path[i])
		if t == nil {
			return math.Inf(-1)
		}
		lp += t.LpTrans
	}
	return lp
}

// AssertSeqCoordsConsistent panics unless, for every transition, the
// destination coordinates equal the source coordinates plus the residues
// on the transition path and the destination state path.
func (p *Profile) AssertSeqCoordsConsistent() {
	for ti := range p.Trans {
		t := &p.Trans[ti]
		assertSeqCoordsConsistent(p.States[t.Src].SeqCoords, &p.States[t.Dest], t.Path)
	}
}

func assertSeqCoordsConsistent(srcCoords map[int]int, dest *State, transPath align.Path) {
	seqCoords := make(map[int]int, len(srcCoords))
	for r, c := range srcCoords {
		seqCoords[r] = c
	}
	for r, bits := range transPath {
		seqCoords[r] += align.ResiduesInRow(bits)
	}
	for r, bits := range dest.Path {
		seqCoords[r] += align.ResiduesInRow(bits)
	}
	for r, c := range dest.SeqCoords {
		got, ok := seqCoords[r]
		if !ok {
			log.Panicf("missing coordinate for sequence %v", r)
		}
		if got != c {
			log.Panicf("sequence coord %v: source state + transition path + dest state path (%v) != dest state (%v)", r, got, c)
		}
	}
}

// AssertAllStatesWaitOrReady panics if any state has both null and
// absorbing outgoing transitions.
func (p *Profile) AssertAllStatesWaitOrReady() {
	for i := range p.States {
		s := &p.States[i]
		if !s.IsReady() && !s.IsWait() {
			log.Panicf("state %v has %v null transitions and %v absorbing transitions, so is neither Wait nor Ready", s.Name, len(s.NullOut), len(s.AbsorbOut))
		}
	}
}

// AssertTopological panics unless every transition runs from a lower to
// a higher state index, the start state has no inputs, and the end state
// has no outputs.
func (p *Profile) AssertTopological() {
	for ti := range p.Trans {
		t := &p.Trans[ti]
		if t.Src >= t.Dest {
			log.Panicf("transition #%v from %v -> %v is not toposorted", ti, t.Src, t.Dest)
		}
	}
	if len(p.States[p.Start()].In) > 0 {
		log.Panicf("start state has incoming transitions")
	}
	if end := &p.States[p.End()]; len(end.NullOut)+len(end.AbsorbOut) > 0 {
		log.Panicf("end state has outgoing transitions")
	}
}

// AddReadyStates normalises the profile into wait/ready form. Any state
// with both null and absorbing outgoing transitions is split: the
// original keeps the null transitions and becomes a Wait state, and a
// fresh Ready state inherits the absorbing transitions, linked by a
// unit-probability null transition. States are renumbered to keep the
// topological order. Applying the operation twice equals applying it
// once.
func (p *Profile) AddReadyStates() *Profile {
	prof := p.shallowCopy()
	prof.Trans = append([]Trans(nil), p.Trans...)
	states := append([]State(nil), p.States...)
	// Split states are appended to the state slice as they are created;
	// old2new grows in lockstep and maps pre-renumbering indices to the
	// final topological order.
	old2new := make([]int, len(p.States))
	n := 0
	for s := range p.States {
		old2new[s] = n
		n++
		if !p.States[s].IsReady() && !p.States[s].IsWait() {
			readyTransIdx := len(prof.Trans)
			oldReadyStateIdx := len(states)
			readyState := State{
				Name:      p.States[s].Name + readyStateSuffix,
				Meta:      p.States[s].Meta,
				SeqCoords: p.States[s].SeqCoords,
				AbsorbOut: states[s].AbsorbOut,
				In:        []int{readyTransIdx},
			}
			states[s].Name += waitStateSuffix
			states[s].AbsorbOut = nil
			states[s].NullOut = append(append([]int(nil), states[s].NullOut...), readyTransIdx)
			for _, ti := range readyState.AbsorbOut {
				prof.Trans[ti].Src = oldReadyStateIdx
			}
			prof.Trans = append(prof.Trans, Trans{Src: s, Dest: oldReadyStateIdx, LpTrans: 0})
			states = append(states, readyState)
			old2new = append(old2new, n)
			n++
		}
	}
	prof.States = make([]State, len(states))
	for s := range states {
		prof.States[old2new[s]] = states[s]
	}
	for ti := range prof.Trans {
		prof.Trans[ti].Src = old2new[prof.Trans[ti].Src]
		prof.Trans[ti].Dest = old2new[prof.Trans[ti].Dest]
	}
	return prof
}
