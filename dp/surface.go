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

// Package dp implements the envelope-banded Forward and Backward
// matrices over pairs of profiles and the construction of parent
// profiles from their tracebacks and posteriors.
package dp

import (
	"log"
	"math"

	"github.com/evoldoers/indelhistorian/internal"
	"github.com/evoldoers/indelhistorian/profile"
	"gonum.org/v1/gonum/floats"
)

// effEdge is an effective transition between surface states: the
// log-sum over all null routes from one surface state to the absorbing
// transition into another.
type effEdge struct {
	other int // surface ordinal of the far end
	lp    float64
}

// chainLink is one concrete step of a route between surface states: the
// transition taken and the state it enters. The last link of a chain
// enters an absorbing state; earlier links enter null states.
type chainLink struct {
	trans int
	state int
}

// surface indexes the states of a profile that the pair HMM can rest in:
// the start state and every absorbing state. Null states are collapsed
// into effective transitions, with enough bookkeeping to recover the
// concrete null routes during traceback.
type surface struct {
	prof   *profile.Profile
	refRow int

	states   []int   // surface ordinal -> state index; ordinal 0 is START
	ordOf    []int   // state index -> surface ordinal, or -1
	coord    []int   // surface ordinal -> reference-row coordinate
	maxCoord int     // reference-row sequence length
	statesAt [][]int // coordinate -> surface ordinals, ascending

	// lpNull[state][ord] is the log-sum over null-only routes from
	// surface state ord to the given state.
	lpNull [][]float64

	effIn  [][]effEdge // absorbing ordinal -> aggregated incoming edges
	effOut [][]effEdge // ordinal -> aggregated outgoing edges
	effEnd []float64   // ordinal -> log-sum over null routes to END
}

func newSurface(prof *profile.Profile, refRow int) *surface {
	sf := &surface{prof: prof, refRow: refRow}
	sf.ordOf = make([]int, len(prof.States))
	for si := range prof.States {
		sf.ordOf[si] = -1
	}
	for si := range prof.States {
		if si == prof.Start() || !prof.States[si].IsNull() {
			sf.ordOf[si] = len(sf.states)
			sf.states = append(sf.states, si)
			coord, ok := prof.States[si].SeqCoords[refRow]
			if !ok {
				log.Panicf("profile %v state %v lacks a coordinate for reference row %v", prof.Name, prof.States[si].Name, refRow)
			}
			sf.coord = append(sf.coord, coord)
		}
	}
	endCoord, ok := prof.States[prof.End()].SeqCoords[refRow]
	if !ok {
		log.Panicf("profile %v end state lacks a coordinate for reference row %v", prof.Name, refRow)
	}
	sf.maxCoord = endCoord
	sf.statesAt = make([][]int, sf.maxCoord+1)
	for ord, c := range sf.coord {
		sf.statesAt[c] = append(sf.statesAt[c], ord)
	}

	nSurf := len(sf.states)
	sf.lpNull = make([][]float64, len(prof.States))
	for si := range sf.lpNull {
		sf.lpNull[si] = make([]float64, nSurf)
		for ord := range sf.lpNull[si] {
			sf.lpNull[si][ord] = math.Inf(-1)
		}
	}
	for si := range prof.States {
		if ord := sf.ordOf[si]; ord >= 0 {
			sf.lpNull[si][ord] = 0
		}
		for _, ti := range prof.States[si].NullOut {
			t := &prof.Trans[ti]
			for ord := 0; ord < nSurf; ord++ {
				if lp := sf.lpNull[si][ord]; !math.IsInf(lp, -1) {
					sf.lpNull[t.Dest][ord] = internal.LogAddExp(sf.lpNull[t.Dest][ord], lp+t.LpTrans)
				}
			}
		}
	}

	sf.effIn = make([][]effEdge, nSurf)
	sf.effOut = make([][]effEdge, nSurf)
	acc := make([]float64, nSurf)
	for ord := 1; ord < nSurf; ord++ {
		for src := range acc {
			acc[src] = math.Inf(-1)
		}
		for _, ti := range prof.States[sf.states[ord]].In {
			t := &prof.Trans[ti]
			for src := 0; src < nSurf; src++ {
				if lp := sf.lpNull[t.Src][src]; !math.IsInf(lp, -1) {
					acc[src] = internal.LogAddExp(acc[src], lp+t.LpTrans)
				}
			}
		}
		for src := 0; src < nSurf; src++ {
			if !math.IsInf(acc[src], -1) {
				sf.effIn[ord] = append(sf.effIn[ord], effEdge{other: src, lp: acc[src]})
				sf.effOut[src] = append(sf.effOut[src], effEdge{other: ord, lp: acc[src]})
			}
		}
	}

	sf.effEnd = make([]float64, nSurf)
	for ord := 0; ord < nSurf; ord++ {
		sf.effEnd[ord] = sf.lpNull[prof.End()][ord]
	}
	return sf
}

// chooser picks one index from a slice of log-weights. The best-path
// chooser takes the first maximum; the sampling chooser draws from the
// normalised distribution.
type chooser func(lps []float64) int

func bestChoice(lps []float64) int {
	best := floats.MaxIdx(lps)
	if math.IsInf(lps[best], -1) {
		log.Panicf("no viable choice during traceback")
	}
	return best
}

func sampleChoice(rng *internal.Rand) chooser {
	return func(lps []float64) int {
		total := floats.LogSumExp(lps)
		if math.IsInf(total, -1) {
			log.Panicf("no viable choice during traceback")
		}
		r := rng.Float64()
		cum := 0.0
		for i, lp := range lps {
			cum += math.Exp(lp - total)
			if r < cum {
				return i
			}
		}
		return len(lps) - 1
	}
}

// chain recovers one concrete route from surface state src to the
// absorbing surface state dest: a sequence of null transitions followed
// by the absorbing transition, chosen step by step with the given
// chooser weighted by the null-route mass.
func (sf *surface) chain(src, dest int, choose chooser) []chainLink {
	destState := sf.states[dest]
	inTrans := sf.prof.States[destState].In
	lps := make([]float64, len(inTrans))
	for i, ti := range inTrans {
		t := &sf.prof.Trans[ti]
		lps[i] = sf.lpNull[t.Src][src] + t.LpTrans
	}
	ti := inTrans[choose(lps)]
	links := []chainLink{{trans: ti, state: destState}}
	for u := sf.prof.Trans[ti].Src; u != sf.states[src]; {
		inNull := sf.prof.States[u].In
		lps = lps[:0]
		for _, nti := range inNull {
			t := &sf.prof.Trans[nti]
			lps = append(lps, sf.lpNull[t.Src][src]+t.LpTrans)
		}
		nti := inNull[choose(lps)]
		links = append(links, chainLink{trans: nti, state: u})
		u = sf.prof.Trans[nti].Src
	}
	// Links were collected backwards.
	for lo, hi := 0, len(links)-1; lo < hi; lo, hi = lo+1, hi-1 {
		links[lo], links[hi] = links[hi], links[lo]
	}
	return links
}

// endChain recovers one null-only route from a surface state to END.
func (sf *surface) endChain(src int, choose chooser) []chainLink {
	var links []chainLink
	for u := sf.prof.End(); u != sf.states[src]; {
		inNull := sf.prof.States[u].In
		lps := make([]float64, len(inNull))
		for i, nti := range inNull {
			t := &sf.prof.Trans[nti]
			lps[i] = sf.lpNull[t.Src][src] + t.LpTrans
		}
		nti := inNull[choose(lps)]
		links = append(links, chainLink{trans: nti, state: u})
		u = sf.prof.Trans[nti].Src
	}
	for lo, hi := 0, len(links)-1; lo < hi; lo, hi = lo+1, hi-1 {
		links[lo], links[hi] = links[hi], links[lo]
	}
	return links
}

// chainLp sums the transition log-probabilities along a chain.
func (sf *surface) chainLp(links []chainLink) float64 {
	lp := 0.0
	for _, link := range links {
		lp += sf.prof.Trans[link.trans].LpTrans
	}
	return lp
}
