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

package dp

import (
	"fmt"
	"math"
	"sort"

	"github.com/evoldoers/indelhistorian/align"
	"github.com/evoldoers/indelhistorian/internal"
	"github.com/evoldoers/indelhistorian/model"
	"github.com/evoldoers/indelhistorian/profile"
)

// ProfilingStrategy selects how a parent profile is synthesised from
// the DP output.
type ProfilingStrategy int

const (
	// CollapseChains folds linear runs of null states into transition
	// alignment paths.
	CollapseChains ProfilingStrategy = 1 << iota

	// KeepGapsOpen keeps insertion columns as explicit states so later
	// alignments can reopen the gap.
	KeepGapsOpen

	// IncludeBestTrace always retains the cells of the best traceback.
	IncludeBestTrace
)

// cellKey identifies a DP cell: surface ordinals into the two profiles
// plus the pair-HMM state. The start cell is (0,0,SSS); the end cell is
// the sentinel returned by eeeKey.
type cellKey struct {
	xs, ys int
	h      model.HMMState
}

func (f *ForwardMatrix) sssKey() cellKey {
	return cellKey{0, 0, model.SSS}
}

func (f *ForwardMatrix) eeeKey() cellKey {
	return cellKey{len(f.sx.states), len(f.sy.states), model.EEE}
}

// keyLess orders cells compatibly with the forward fill order, which is
// also a topological order of the constructed profile.
func keyLess(a, b cellKey) bool {
	if a.ys != b.ys {
		return a.ys < b.ys
	}
	if a.xs != b.xs {
		return a.xs < b.xs
	}
	return a.h < b.h
}

// builderEdge is a transition of the profile under construction.
type builderEdge struct {
	src, dest cellKey
	lp        float64
	cols      []align.Path // columns carried by the collapsed child routes
}

// profBuilder accumulates cells and edges before emitting a profile.
type profBuilder struct {
	f     *ForwardMatrix
	cells map[cellKey]bool
	post  map[cellKey]float64 // posterior annotations, when available
	edges map[[2]cellKey]*builderEdge
}

func newProfBuilder(f *ForwardMatrix) *profBuilder {
	b := &profBuilder{
		f:     f,
		cells: make(map[cellKey]bool),
		edges: make(map[[2]cellKey]*builderEdge),
	}
	b.cells[f.sssKey()] = true
	b.cells[f.eeeKey()] = true
	return b
}

func (pb *profBuilder) addEdge(src, dest cellKey, lp float64, cols []align.Path) {
	key := [2]cellKey{src, dest}
	if _, ok := pb.edges[key]; !ok {
		pb.edges[key] = &builderEdge{src: src, dest: dest, lp: lp, cols: cols}
	}
}

// insertEmit returns the emission constant folded into transitions that
// enter an insertion cell, and 0 for other cells.
func (f *ForwardMatrix) insertEmit(key cellKey) float64 {
	switch key.h {
	case model.IMI:
		return f.eIMI[key.xs]
	case model.III:
		return f.eIII[key.ys]
	}
	return 0
}

// addTrace adds all cells and edges of one traced path.
func (pb *profBuilder) addTrace(tr trace) {
	f := pb.f
	prev := f.sssKey()
	for _, step := range tr.steps {
		key := cellKey{step.xs, step.ys, step.h}
		pb.cells[key] = true
		lp := f.HMM.LpTrans(prev.h, key.h) +
			f.sx.chainLp(step.xChain) + f.sy.chainLp(step.yChain) +
			f.insertEmit(key)
		var cols []align.Path
		cols = append(cols, chainColumns(f.X, step.xChain, true)...)
		cols = append(cols, chainColumns(f.Y, step.yChain, true)...)
		pb.addEdge(prev, key, lp, cols)
		prev = key
	}
	lp := f.HMM.LpTrans(prev.h, model.EEE) +
		f.sx.chainLp(tr.xEndChain) + f.sy.chainLp(tr.yEndChain)
	var cols []align.Path
	cols = append(cols, chainColumns(f.X, tr.xEndChain, false)...)
	cols = append(cols, chainColumns(f.Y, tr.yEndChain, false)...)
	pb.addEdge(prev, f.eeeKey(), lp, cols)
}

// build emits the accumulated cells and edges as a profile in wait/ready
// form, applying the given strategy.
func (pb *profBuilder) build(strategy ProfilingStrategy) *profile.Profile {
	f := pb.f
	keys := make([]cellKey, 0, len(pb.cells))
	for key := range pb.cells {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })
	index := make(map[cellKey]int, len(keys))
	for i, key := range keys {
		index[key] = i
	}

	prof := &profile.Profile{
		Name:       fmt.Sprintf("(%s*%s)", f.X.Name, f.Y.Name),
		AlphSize:   f.X.AlphSize,
		Components: f.X.Components,
		States:     make([]profile.State, len(keys)),
		Seqs:       make(map[int]string, len(f.X.Seqs)+len(f.Y.Seqs)),
	}
	for row, seq := range f.X.Seqs {
		prof.Seqs[row] = seq
	}
	for row, seq := range f.Y.Seqs {
		prof.Seqs[row] = seq
	}

	for i, key := range keys {
		state := &prof.States[i]
		switch {
		case key == f.sssKey():
			state.Name = "START"
			state.SeqCoords = unionCoords(
				f.X.States[f.X.Start()].SeqCoords,
				f.Y.States[f.Y.Start()].SeqCoords)
		case key == f.eeeKey():
			state.Name = "END"
			state.SeqCoords = unionCoords(
				f.X.States[f.X.End()].SeqCoords,
				f.Y.States[f.Y.End()].SeqCoords)
		default:
			xState := &f.X.States[f.sx.states[key.xs]]
			yState := &f.Y.States[f.sy.states[key.ys]]
			state.Name = fmt.Sprintf("%v(%s,%s)", key.h, xState.Name, yState.Name)
			state.SeqCoords = unionCoords(xState.SeqCoords, yState.SeqCoords)
			col := align.Path{}
			if key.h.AbsorbsX() {
				col = align.Union(col, xState.Path)
			}
			if key.h.AbsorbsY() {
				col = align.Union(col, yState.Path)
			}
			if key.h.EmitsParent() {
				col = align.Union(col, align.Path{f.ParentRow: []bool{true}})
			}
			state.Path = col
			switch key.h {
			case model.IMM:
				state.LpAbsorb = mergeAbsorb(xState.LpAbsorb, yState.LpAbsorb)
			case model.IMD:
				state.LpAbsorb = cloneAbsorb(xState.LpAbsorb)
			case model.IDM:
				state.LpAbsorb = cloneAbsorb(yState.LpAbsorb)
			}
			if pb.post != nil {
				state.Meta = map[string]string{"postProb": fmt.Sprint(pb.post[key])}
			}
		}
	}

	edges := make([]*builderEdge, 0, len(pb.edges))
	for _, e := range pb.edges {
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].src != edges[j].src {
			return keyLess(edges[i].src, edges[j].src)
		}
		return keyLess(edges[i].dest, edges[j].dest)
	})
	for _, e := range edges {
		src, okSrc := index[e.src]
		dest, okDest := index[e.dest]
		if !okSrc || !okDest {
			continue
		}
		var path align.Path
		if len(e.cols) > 0 {
			path = align.Concat(e.cols...)
		}
		prof.Trans = append(prof.Trans, profile.Trans{Src: src, Dest: dest, LpTrans: e.lp, Path: path})
	}
	wireTransitions(prof)

	if strategy&CollapseChains != 0 {
		collapseChains(prof, strategy)
	}
	prof = prof.AddReadyStates()
	prof.AssertTopological()
	prof.AssertSeqCoordsConsistent()
	prof.AssertAllStatesWaitOrReady()
	return prof
}

func unionCoords(a, b map[int]int) map[int]int {
	u := make(map[int]int, len(a)+len(b))
	for r, c := range a {
		u[r] = c
	}
	for r, c := range b {
		u[r] = c
	}
	return u
}

func cloneAbsorb(lpAbsorb [][]float64) [][]float64 {
	clone := make([][]float64, len(lpAbsorb))
	for cpt := range lpAbsorb {
		clone[cpt] = append([]float64(nil), lpAbsorb[cpt]...)
	}
	return clone
}

func mergeAbsorb(x, y [][]float64) [][]float64 {
	merged := make([][]float64, len(x))
	for cpt := range x {
		merged[cpt] = make([]float64, len(x[cpt]))
		for a := range x[cpt] {
			merged[cpt][a] = x[cpt][a] + y[cpt][a]
		}
	}
	return merged
}

// wireTransitions rebuilds the per-state transition lists from the
// transition slice.
func wireTransitions(prof *profile.Profile) {
	for i := range prof.States {
		prof.States[i].In = nil
		prof.States[i].NullOut = nil
		prof.States[i].AbsorbOut = nil
	}
	for ti := range prof.Trans {
		t := &prof.Trans[ti]
		if prof.States[t.Dest].IsNull() {
			prof.States[t.Src].NullOut = append(prof.States[t.Src].NullOut, ti)
		} else {
			prof.States[t.Src].AbsorbOut = append(prof.States[t.Src].AbsorbOut, ti)
		}
		prof.States[t.Dest].In = append(prof.States[t.Dest].In, ti)
	}
}

// collapseChains removes null states with exactly one incoming and one
// outgoing transition, folding their columns into the surrounding
// transition. With KeepGapsOpen, null states that carry residues are
// kept as explicit states.
func collapseChains(prof *profile.Profile, strategy ProfilingStrategy) {
	for {
		victim := -1
		for s := 1; s < prof.End(); s++ {
			state := &prof.States[s]
			if !state.IsNull() || len(state.In) != 1 || len(state.NullOut)+len(state.AbsorbOut) != 1 {
				continue
			}
			if strategy&KeepGapsOpen != 0 && pathHasResidues(state.Path) {
				continue
			}
			victim = s
			break
		}
		if victim < 0 {
			return
		}
		state := &prof.States[victim]
		tIn := prof.Trans[state.In[0]]
		var tOutIdx int
		if len(state.NullOut) > 0 {
			tOutIdx = state.NullOut[0]
		} else {
			tOutIdx = state.AbsorbOut[0]
		}
		tOut := prof.Trans[tOutIdx]
		merged := profile.Trans{
			Src:     tIn.Src,
			Dest:    tOut.Dest,
			LpTrans: tIn.LpTrans + tOut.LpTrans,
		}
		var cols []align.Path
		if len(tIn.Path) > 0 {
			cols = append(cols, tIn.Path)
		}
		if len(state.Path) > 0 {
			cols = append(cols, state.Path)
		}
		if len(tOut.Path) > 0 {
			cols = append(cols, tOut.Path)
		}
		if len(cols) > 0 {
			merged.Path = align.Concat(cols...)
		}

		var trans []profile.Trans
		for ti := range prof.Trans {
			if ti == state.In[0] || ti == tOutIdx {
				continue
			}
			t := prof.Trans[ti]
			if t.Src > victim {
				t.Src--
			}
			if t.Dest > victim {
				t.Dest--
			}
			trans = append(trans, t)
		}
		if merged.Src > victim {
			merged.Src--
		}
		if merged.Dest > victim {
			merged.Dest--
		}
		trans = append(trans, merged)
		sort.SliceStable(trans, func(i, j int) bool {
			if trans[i].Src != trans[j].Src {
				return trans[i].Src < trans[j].Src
			}
			return trans[i].Dest < trans[j].Dest
		})
		prof.States = append(prof.States[:victim], prof.States[victim+1:]...)
		prof.Trans = trans
		wireTransitions(prof)
	}
}

func pathHasResidues(p align.Path) bool {
	for _, row := range p {
		if align.ResiduesInRow(row) > 0 {
			return true
		}
	}
	return false
}

// BestProfile builds the parent profile from the single best traceback.
func (f *ForwardMatrix) BestProfile(strategy ProfilingStrategy) *profile.Profile {
	pb := newProfBuilder(f)
	pb.addTrace(f.BestTrace())
	return pb.build(strategy)
}

// SampleProfile builds the parent profile from the union of nSamples
// stochastic tracebacks, deduplicated by cell identity, plus the best
// trace when the strategy includes it. A positive nodeLimit caps the
// number of retained absorbing states, ranked by forward mass; the best
// trace's cells are exempt from the cap when the strategy includes it.
func (f *ForwardMatrix) SampleProfile(rng *internal.Rand, nSamples, nodeLimit int, strategy ProfilingStrategy) *profile.Profile {
	pb := newProfBuilder(f)
	var protected map[cellKey]bool
	if strategy&IncludeBestTrace != 0 {
		best := f.BestTrace()
		pb.addTrace(best)
		protected = traceCells(best)
	}
	for n := 0; n < nSamples; n++ {
		pb.addTrace(f.SampleTrace(rng))
	}
	if nodeLimit > 0 {
		rank := func(key cellKey) float64 { return f.table.at(key.xs, key.ys, key.h) }
		pb.applyNodeLimit(nodeLimit, rank, protected)
	}
	return pb.build(strategy)
}

func traceCells(tr trace) map[cellKey]bool {
	cells := make(map[cellKey]bool)
	for _, step := range tr.steps {
		cells[cellKey{step.xs, step.ys, step.h}] = true
	}
	return cells
}

// applyNodeLimit drops the lowest-ranked parent-emitting cells above the
// limit, then prunes edges and cells that lost their connectivity.
func (pb *profBuilder) applyNodeLimit(limit int, rank func(cellKey) float64, protected map[cellKey]bool) {
	var absorbing []cellKey
	for key := range pb.cells {
		if key.h.EmitsParent() {
			absorbing = append(absorbing, key)
		}
	}
	if len(absorbing) <= limit {
		return
	}
	sort.Slice(absorbing, func(i, j int) bool {
		ri, rj := rank(absorbing[i]), rank(absorbing[j])
		if ri != rj {
			return ri > rj
		}
		return keyLess(absorbing[i], absorbing[j])
	})
	kept := 0
	for _, key := range absorbing {
		if protected[key] {
			kept++
		}
	}
	for _, key := range absorbing {
		if protected[key] {
			continue
		}
		if kept < limit {
			kept++
			continue
		}
		delete(pb.cells, key)
	}
	for ekey, e := range pb.edges {
		if !pb.cells[e.src] || !pb.cells[e.dest] {
			delete(pb.edges, ekey)
		}
	}
	pb.pruneUnreachable()
}

// pruneUnreachable removes cells with no path from the start cell or to
// the end cell over the present edges.
func (pb *profBuilder) pruneUnreachable() {
	sss := pb.f.sssKey()
	eee := pb.f.eeeKey()
	fwd := map[cellKey]bool{sss: true}
	for changed := true; changed; {
		changed = false
		for _, e := range pb.edges {
			if fwd[e.src] && !fwd[e.dest] {
				fwd[e.dest] = true
				changed = true
			}
		}
	}
	back := map[cellKey]bool{eee: true}
	for changed := true; changed; {
		changed = false
		for _, e := range pb.edges {
			if back[e.dest] && !back[e.src] {
				back[e.src] = true
				changed = true
			}
		}
	}
	for key := range pb.cells {
		if key == sss || key == eee {
			continue
		}
		if !fwd[key] || !back[key] {
			delete(pb.cells, key)
		}
	}
	for ekey, e := range pb.edges {
		if !pb.cells[e.src] || !pb.cells[e.dest] {
			delete(pb.edges, ekey)
		}
	}
}

// PostProbProfile builds the parent profile from posterior decoding:
// every cell whose posterior probability reaches minPostProb is retained
// (plus the best trace when the strategy includes it), transitions are
// added wherever the DP admits them between retained cells, and a
// positive nodeLimit caps the retained absorbing states by posterior
// mass while preserving reachability.
func (b *BackwardMatrix) PostProbProfile(minPostProb float64, nodeLimit int, strategy ProfilingStrategy) *profile.Profile {
	f := b.F
	pb := newProfBuilder(f)
	pb.post = make(map[cellKey]float64)

	var protected map[cellKey]bool
	if strategy&IncludeBestTrace != 0 {
		best := f.BestTrace()
		protected = traceCells(best)
		for key := range protected {
			pb.cells[key] = true
		}
	}
	for ysOrd := range f.sy.states {
		j := f.sy.coord[ysOrd]
		for _, xsOrd := range f.table.xsAt[j] {
			for _, h := range storableStates {
				if h == model.SSS {
					continue
				}
				key := cellKey{xsOrd, ysOrd, h}
				post := b.CellPostProb(xsOrd, ysOrd, h)
				if post >= minPostProb {
					pb.cells[key] = true
				}
				if pb.cells[key] {
					pb.post[key] = post
				}
			}
		}
	}
	if nodeLimit > 0 {
		rank := func(key cellKey) float64 { return pb.post[key] }
		pb.connectCells()
		pb.applyNodeLimit(nodeLimit, rank, protected)
	} else {
		pb.connectCells()
		pb.pruneUnreachable()
	}
	return pb.build(strategy)
}

// connectCells adds an edge between every retained cell pair linked by a
// pair-HMM transition and effective profile edges, with the concrete
// best route as the transition path.
func (pb *profBuilder) connectCells() {
	f := pb.f
	keys := make([]cellKey, 0, len(pb.cells))
	for key := range pb.cells {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })
	for _, dest := range keys {
		if dest == f.sssKey() {
			continue
		}
		if dest == f.eeeKey() {
			for _, src := range keys {
				if src == f.eeeKey() {
					continue
				}
				lpEnds := f.sx.effEnd[src.xs] + f.sy.effEnd[src.ys]
				if math.IsInf(lpEnds, -1) || math.IsInf(f.HMM.LpTrans(src.h, model.EEE), -1) {
					continue
				}
				var cols []align.Path
				xChain := f.sx.endChain(src.xs, bestChoice)
				yChain := f.sy.endChain(src.ys, bestChoice)
				cols = append(cols, chainColumns(f.X, xChain, false)...)
				cols = append(cols, chainColumns(f.Y, yChain, false)...)
				pb.addEdge(src, dest, f.HMM.LpTrans(src.h, model.EEE)+lpEnds, cols)
			}
			continue
		}
		for _, src := range keys {
			if src == f.eeeKey() || !keyLess(src, dest) {
				continue
			}
			if math.IsInf(f.HMM.LpTrans(src.h, dest.h), -1) {
				continue
			}
			var exLp, eyLp float64
			var xChain, yChain []chainLink
			if dest.h.AbsorbsX() {
				if src.xs == dest.xs {
					continue
				}
				lp, ok := edgeLp(f.sx.effIn[dest.xs], src.xs)
				if !ok {
					continue
				}
				exLp = lp
				xChain = f.sx.chain(src.xs, dest.xs, bestChoice)
			} else if src.xs != dest.xs {
				continue
			}
			if dest.h.AbsorbsY() {
				if src.ys == dest.ys {
					continue
				}
				lp, ok := edgeLp(f.sy.effIn[dest.ys], src.ys)
				if !ok {
					continue
				}
				eyLp = lp
				yChain = f.sy.chain(src.ys, dest.ys, bestChoice)
			} else if src.ys != dest.ys {
				continue
			}
			var cols []align.Path
			cols = append(cols, chainColumns(f.X, xChain, true)...)
			cols = append(cols, chainColumns(f.Y, yChain, true)...)
			lp := f.HMM.LpTrans(src.h, dest.h) + exLp + eyLp + f.insertEmit(dest)
			pb.addEdge(src, dest, lp, cols)
		}
	}
}

func edgeLp(edges []effEdge, src int) (float64, bool) {
	for _, e := range edges {
		if e.other == src {
			return e.lp, true
		}
	}
	return 0, false
}
