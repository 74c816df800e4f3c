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
	"log"
	"math"

	"github.com/evoldoers/indelhistorian/align"
	"github.com/evoldoers/indelhistorian/envelope"
	"github.com/evoldoers/indelhistorian/internal"
	"github.com/evoldoers/indelhistorian/model"
	"github.com/evoldoers/indelhistorian/profile"
	"github.com/exascience/pargo/parallel"
)

// CellBytes is the storage footprint of one envelope cell, used for
// memory budgeting: one float64 per pair-HMM state.
const CellBytes = 8 * model.TotalHMMStates

// cellTable is the envelope-banded storage shared by the Forward and
// Backward matrices: for every surface state pair admitted by the
// diagonal envelope, one log-probability per pair-HMM state.
type cellTable struct {
	sx, sy *surface
	env    *envelope.DiagonalEnvelope
	guide  *envelope.GuideAlignmentEnvelope

	xsAt   [][]int       // column j -> admitted x ordinals, DP order
	xsPos  []map[int]int // column j -> x ordinal -> position in xsAt[j]
	offset []int         // y ordinal -> first cell slot of its row
	cells  []float64
}

func newCellTable(sx, sy *surface, env *envelope.DiagonalEnvelope, guide *envelope.GuideAlignmentEnvelope) *cellTable {
	c := &cellTable{sx: sx, sy: sy, env: env, guide: guide}
	c.xsAt = make([][]int, sy.maxCoord+1)
	c.xsPos = make([]map[int]int, sy.maxCoord+1)
	for j := 0; j <= sy.maxCoord; j++ {
		pos := make(map[int]int)
		for _, i := range env.ForwardI(j) {
			for _, ord := range sx.statesAt[i] {
				pos[ord] = len(c.xsAt[j])
				c.xsAt[j] = append(c.xsAt[j], ord)
			}
		}
		c.xsPos[j] = pos
	}
	c.offset = make([]int, len(sy.states)+1)
	for ysOrd := range sy.states {
		c.offset[ysOrd+1] = c.offset[ysOrd] + len(c.xsAt[sy.coord[ysOrd]])
	}
	c.cells = make([]float64, c.offset[len(sy.states)]*model.TotalHMMStates)
	parallel.Range(0, len(c.cells), 0, func(low, high int) {
		for i := low; i < high; i++ {
			c.cells[i] = math.Inf(-1)
		}
	})
	return c
}

// slot returns the flat index of a cell, or -1 when the pair is outside
// the envelope.
func (c *cellTable) slot(xsOrd, ysOrd int) int {
	j := c.sy.coord[ysOrd]
	pos, ok := c.xsPos[j][xsOrd]
	if !ok {
		return -1
	}
	return (c.offset[ysOrd] + pos) * model.TotalHMMStates
}

// at reads a cell value, treating out-of-envelope cells as -inf.
func (c *cellTable) at(xsOrd, ysOrd int, h model.HMMState) float64 {
	slot := c.slot(xsOrd, ysOrd)
	if slot < 0 {
		return math.Inf(-1)
	}
	return c.cells[slot+int(h)]
}

// ForwardMatrix is the banded forward DP table over a pair of profiles.
type ForwardMatrix struct {
	X, Y      *profile.Profile
	HMM       *model.PairHMM
	ParentRow int

	sx, sy *surface
	table  *cellTable

	// Single-sided emission caches, by surface ordinal.
	eIMD, eIMI, eIDM, eIII []float64

	LpEnd float64
}

// NewForwardMatrix fills the forward matrix for two profiles in
// wait/ready form. refRowX and refRowY are the reference (closest-leaf)
// rows that the diagonal envelope was built on; parentRow is the row
// index of the parent node in the output alignment.
func NewForwardMatrix(x, y *profile.Profile, hmm *model.PairHMM, parentRow, refRowX, refRowY int, env *envelope.DiagonalEnvelope, guide *envelope.GuideAlignmentEnvelope) *ForwardMatrix {
	x.AssertAllStatesWaitOrReady()
	y.AssertAllStatesWaitOrReady()
	f := &ForwardMatrix{
		X:         x,
		Y:         y,
		HMM:       hmm,
		ParentRow: parentRow,
		sx:        newSurface(x, refRowX),
		sy:        newSurface(y, refRowY),
	}
	if f.sx.maxCoord != env.XLen || f.sy.maxCoord != env.YLen {
		log.Panicf("envelope is %vx%v but profile reference rows are %vx%v", env.XLen, env.YLen, f.sx.maxCoord, f.sy.maxCoord)
	}
	f.table = newCellTable(f.sx, f.sy, env, guide)
	f.cacheEmissions()
	f.fill()
	return f
}

// lpEmit computes a single-sided emission: the absorption of one child
// column through the given log distribution.
func lpEmit(dist [][]float64, logCptWeight []float64, lpAbsorb [][]float64) float64 {
	lp := math.Inf(-1)
	for cpt := range logCptWeight {
		cptLp := math.Inf(-1)
		for a, lpa := range lpAbsorb[cpt] {
			cptLp = internal.LogAddExp(cptLp, dist[cpt][a]+lpa)
		}
		lp = internal.LogAddExp(lp, logCptWeight[cpt]+cptLp)
	}
	return lp
}

func (f *ForwardMatrix) cacheEmissions() {
	inf := math.Inf(-1)
	f.eIMD = make([]float64, len(f.sx.states))
	f.eIMI = make([]float64, len(f.sx.states))
	f.eIDM = make([]float64, len(f.sy.states))
	f.eIII = make([]float64, len(f.sy.states))
	f.eIMD[0], f.eIMI[0], f.eIDM[0], f.eIII[0] = inf, inf, inf, inf
	parallel.Do(
		func() {
			for ord := 1; ord < len(f.sx.states); ord++ {
				lpAbsorb := f.X.States[f.sx.states[ord]].LpAbsorb
				f.eIMD[ord] = lpEmit(f.HMM.LogRoot, f.HMM.LogCptWeight, lpAbsorb)
				f.eIMI[ord] = lpEmit(f.HMM.LogIns, f.HMM.LogCptWeight, lpAbsorb)
			}
		},
		func() {
			for ord := 1; ord < len(f.sy.states); ord++ {
				lpAbsorb := f.Y.States[f.sy.states[ord]].LpAbsorb
				f.eIDM[ord] = lpEmit(f.HMM.LogRoot, f.HMM.LogCptWeight, lpAbsorb)
				f.eIII[ord] = lpEmit(f.HMM.LogIns, f.HMM.LogCptWeight, lpAbsorb)
			}
		},
	)
}

// eIMM is the double-sided match emission: a parent residue drawn from
// the root distribution and absorbed by both child columns.
func (f *ForwardMatrix) eIMM(xsOrd, ysOrd int) float64 {
	lpX := f.X.States[f.sx.states[xsOrd]].LpAbsorb
	lpY := f.Y.States[f.sy.states[ysOrd]].LpAbsorb
	lp := math.Inf(-1)
	for cpt := range f.HMM.LogCptWeight {
		cptLp := math.Inf(-1)
		for a := range f.HMM.LogRoot[cpt] {
			cptLp = internal.LogAddExp(cptLp, f.HMM.LogRoot[cpt][a]+lpX[cpt][a]+lpY[cpt][a])
		}
		lp = internal.LogAddExp(lp, f.HMM.LogCptWeight[cpt]+cptLp)
	}
	return lp
}

func (f *ForwardMatrix) fill() {
	table := f.table
	if slot := table.slot(0, 0); slot >= 0 && table.guide.InBand(0, 0) {
		table.cells[slot+int(model.SSS)] = 0
	}
	for ysOrd := 0; ysOrd < len(f.sy.states); ysOrd++ {
		j := f.sy.coord[ysOrd]
		for _, xsOrd := range table.xsAt[j] {
			i := f.sx.coord[xsOrd]
			if !table.guide.InBand(i, j) {
				continue
			}
			slot := table.slot(xsOrd, ysOrd)
			if xsOrd > 0 && ysOrd > 0 {
				lp := math.Inf(-1)
				for _, ex := range f.sx.effIn[xsOrd] {
					for _, ey := range f.sy.effIn[ysOrd] {
						for _, h := range storableStates {
							lp = internal.LogAddExp(lp, table.at(ex.other, ey.other, h)+f.HMM.LpTrans(h, model.IMM)+ex.lp+ey.lp)
						}
					}
				}
				table.cells[slot+int(model.IMM)] = lp + f.eIMM(xsOrd, ysOrd)
			}
			if xsOrd > 0 {
				lpMD, lpMI := math.Inf(-1), math.Inf(-1)
				for _, ex := range f.sx.effIn[xsOrd] {
					for _, h := range storableStates {
						prev := table.at(ex.other, ysOrd, h)
						lpMD = internal.LogAddExp(lpMD, prev+f.HMM.LpTrans(h, model.IMD)+ex.lp)
						lpMI = internal.LogAddExp(lpMI, prev+f.HMM.LpTrans(h, model.IMI)+ex.lp)
					}
				}
				table.cells[slot+int(model.IMD)] = lpMD + f.eIMD[xsOrd]
				table.cells[slot+int(model.IMI)] = lpMI + f.eIMI[xsOrd]
			}
			if ysOrd > 0 {
				lpDM, lpII := math.Inf(-1), math.Inf(-1)
				for _, ey := range f.sy.effIn[ysOrd] {
					for _, h := range storableStates {
						prev := table.at(xsOrd, ey.other, h)
						lpDM = internal.LogAddExp(lpDM, prev+f.HMM.LpTrans(h, model.IDM)+ey.lp)
						lpII = internal.LogAddExp(lpII, prev+f.HMM.LpTrans(h, model.III)+ey.lp)
					}
				}
				table.cells[slot+int(model.IDM)] = lpDM + f.eIDM[ysOrd]
				table.cells[slot+int(model.III)] = lpII + f.eIII[ysOrd]
			}
		}
	}
	f.LpEnd = math.Inf(-1)
	for ysOrd := range f.sy.states {
		j := f.sy.coord[ysOrd]
		for _, xsOrd := range table.xsAt[j] {
			for _, h := range storableStates {
				v := table.at(xsOrd, ysOrd, h)
				if math.IsInf(v, -1) {
					continue
				}
				f.LpEnd = internal.LogAddExp(f.LpEnd, v+f.HMM.LpTrans(h, model.EEE)+f.sx.effEnd[xsOrd]+f.sy.effEnd[ysOrd])
			}
		}
	}
}

// storableStates lists the pair-HMM states that occupy cell storage.
var storableStates = []model.HMMState{model.SSS, model.IMM, model.IMD, model.IDM, model.IMI, model.III}

// traceStep is one event of a traced alignment path: the cell reached
// and the concrete child-profile routes taken to reach it.
type traceStep struct {
	xs, ys int
	h      model.HMMState
	xChain []chainLink
	yChain []chainLink
}

// trace is a complete path from SSS to EEE: the steps in forward order
// plus the final null routes into the profile end states.
type trace struct {
	steps     []traceStep
	xEndChain []chainLink
	yEndChain []chainLink
}

// traceback walks back from EEE using the given chooser at every
// decision point.
func (f *ForwardMatrix) traceback(choose chooser) trace {
	table := f.table

	// Pick the cell that transitions to EEE.
	type endCand struct {
		xs, ys int
		h      model.HMMState
	}
	var endCands []endCand
	var endLps []float64
	for ysOrd := range f.sy.states {
		j := f.sy.coord[ysOrd]
		for _, xsOrd := range table.xsAt[j] {
			for _, h := range storableStates {
				v := table.at(xsOrd, ysOrd, h)
				if math.IsInf(v, -1) {
					continue
				}
				lp := v + f.HMM.LpTrans(h, model.EEE) + f.sx.effEnd[xsOrd] + f.sy.effEnd[ysOrd]
				if math.IsInf(lp, -1) {
					continue
				}
				endCands = append(endCands, endCand{xsOrd, ysOrd, h})
				endLps = append(endLps, lp)
			}
		}
	}
	if len(endCands) == 0 {
		log.Panicf("traceback from a zero-likelihood forward matrix")
	}
	chosen := endCands[choose(endLps)]

	var tr trace
	tr.xEndChain = f.sx.endChain(chosen.xs, choose)
	tr.yEndChain = f.sy.endChain(chosen.ys, choose)

	xs, ys, h := chosen.xs, chosen.ys, chosen.h
	var rev []traceStep
	for !(xs == 0 && ys == 0 && h == model.SSS) {
		step := traceStep{xs: xs, ys: ys, h: h}
		type predCand struct {
			xs, ys int
			h      model.HMMState
			ex, ey int // edge indices into effIn, or -1
		}
		var cands []predCand
		var lps []float64
		add := func(c predCand, lp float64) {
			if !math.IsInf(lp, -1) {
				cands = append(cands, c)
				lps = append(lps, lp)
			}
		}
		switch h {
		case model.IMM:
			for ei, ex := range f.sx.effIn[xs] {
				for ej, ey := range f.sy.effIn[ys] {
					for _, hp := range storableStates {
						add(predCand{ex.other, ey.other, hp, ei, ej},
							table.at(ex.other, ey.other, hp)+f.HMM.LpTrans(hp, h)+ex.lp+ey.lp)
					}
				}
			}
		case model.IMD, model.IMI:
			for ei, ex := range f.sx.effIn[xs] {
				for _, hp := range storableStates {
					add(predCand{ex.other, ys, hp, ei, -1},
						table.at(ex.other, ys, hp)+f.HMM.LpTrans(hp, h)+ex.lp)
				}
			}
		case model.IDM, model.III:
			for ej, ey := range f.sy.effIn[ys] {
				for _, hp := range storableStates {
					add(predCand{xs, ey.other, hp, -1, ej},
						table.at(xs, ey.other, hp)+f.HMM.LpTrans(hp, h)+ey.lp)
				}
			}
		default:
			log.Panicf("unexpected state %v during traceback", h)
		}
		pred := cands[choose(lps)]
		if pred.ex >= 0 {
			step.xChain = f.sx.chain(pred.xs, xs, choose)
		}
		if pred.ey >= 0 {
			step.yChain = f.sy.chain(pred.ys, ys, choose)
		}
		rev = append(rev, step)
		xs, ys, h = pred.xs, pred.ys, pred.h
	}
	for i := len(rev) - 1; i >= 0; i-- {
		tr.steps = append(tr.steps, rev[i])
	}
	return tr
}

// BestTrace returns the highest-probability alignment path, breaking
// ties by predecessor order then pair-HMM state order.
func (f *ForwardMatrix) BestTrace() trace {
	return f.traceback(bestChoice)
}

// SampleTrace draws an alignment path from the forward posterior.
func (f *ForwardMatrix) SampleTrace(rng *internal.Rand) trace {
	return f.traceback(sampleChoice(rng))
}

// chainColumns collects the alignment columns carried by the null states
// and transition paths of a chain, excluding the final absorbed column.
func chainColumns(prof *profile.Profile, links []chainLink, dropLastState bool) []align.Path {
	var cols []align.Path
	for li, link := range links {
		if t := &prof.Trans[link.trans]; len(t.Path) > 0 {
			cols = append(cols, t.Path)
		}
		if dropLastState && li == len(links)-1 {
			continue
		}
		if s := &prof.States[link.state]; len(s.Path) > 0 {
			cols = append(cols, s.Path)
		}
	}
	return cols
}

// alignPath assembles the alignment path of a trace: every event cell
// contributes the merged column of its absorbed child columns plus the
// parent row bit, and the traversed null routes contribute the columns
// they carry.
func (f *ForwardMatrix) alignPath(tr trace) align.Path {
	var cols []align.Path
	for _, step := range tr.steps {
		cols = append(cols, chainColumns(f.X, step.xChain, true)...)
		cols = append(cols, chainColumns(f.Y, step.yChain, true)...)
		col := align.Path{}
		if step.h.AbsorbsX() {
			col = align.Union(col, f.X.States[f.sx.states[step.xs]].Path)
		}
		if step.h.AbsorbsY() {
			col = align.Union(col, f.Y.States[f.sy.states[step.ys]].Path)
		}
		if step.h.EmitsParent() {
			col = align.Union(col, align.Path{f.ParentRow: []bool{true}})
		}
		cols = append(cols, col)
	}
	cols = append(cols, chainColumns(f.X, tr.xEndChain, false)...)
	cols = append(cols, chainColumns(f.Y, tr.yEndChain, false)...)
	path := align.Concat(cols...)
	nCols := path.Columns()
	for row := range f.X.Seqs {
		if _, ok := path[row]; !ok {
			path[row] = make([]bool, nCols)
		}
	}
	for row := range f.Y.Seqs {
		if _, ok := path[row]; !ok {
			path[row] = make([]bool, nCols)
		}
	}
	if _, ok := path[f.ParentRow]; !ok {
		path[f.ParentRow] = make([]bool, nCols)
	}
	return path
}

// BestAlignPath returns the alignment path of the best trace.
func (f *ForwardMatrix) BestAlignPath() align.Path {
	return f.alignPath(f.BestTrace())
}
