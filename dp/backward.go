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
	"math"

	"github.com/evoldoers/indelhistorian/internal"
	"github.com/evoldoers/indelhistorian/model"
)

// BackwardMatrix is the complement of a ForwardMatrix: every cell holds
// the log-probability of completing the alignment from that cell to the
// end, excluding the cell's own emission. F[c] + B[c] is then the total
// log-mass of all paths through c, and B at the start cell equals the
// forward likelihood.
type BackwardMatrix struct {
	F       *ForwardMatrix
	table   *cellTable
	LpStart float64
}

// NewBackwardMatrix fills the backward matrix for a filled forward
// matrix, visiting cells in the reverse of the forward order.
func NewBackwardMatrix(f *ForwardMatrix) *BackwardMatrix {
	b := &BackwardMatrix{F: f}
	b.table = newCellTable(f.sx, f.sy, f.table.env, f.table.guide)
	b.fill()
	return b
}

func (b *BackwardMatrix) fill() {
	f := b.F
	table := b.table
	agg := make([]float64, model.TotalHMMStates)
	for ysOrd := len(f.sy.states) - 1; ysOrd >= 0; ysOrd-- {
		j := f.sy.coord[ysOrd]
		xsList := table.xsAt[j]
		for pos := len(xsList) - 1; pos >= 0; pos-- {
			xsOrd := xsList[pos]
			if !table.guide.InBand(f.sx.coord[xsOrd], j) {
				continue
			}
			// Aggregate the successor mass per destination pair-HMM
			// state, then distribute it over the source states through
			// the transition matrix.
			for dest := range agg {
				agg[dest] = math.Inf(-1)
			}
			agg[model.EEE] = f.sx.effEnd[xsOrd] + f.sy.effEnd[ysOrd]
			for _, ex := range f.sx.effOut[xsOrd] {
				agg[model.IMD] = internal.LogAddExp(agg[model.IMD],
					ex.lp+f.eIMD[ex.other]+table.at(ex.other, ysOrd, model.IMD))
				agg[model.IMI] = internal.LogAddExp(agg[model.IMI],
					ex.lp+f.eIMI[ex.other]+table.at(ex.other, ysOrd, model.IMI))
				for _, ey := range f.sy.effOut[ysOrd] {
					agg[model.IMM] = internal.LogAddExp(agg[model.IMM],
						ex.lp+ey.lp+f.eIMM(ex.other, ey.other)+table.at(ex.other, ey.other, model.IMM))
				}
			}
			for _, ey := range f.sy.effOut[ysOrd] {
				agg[model.IDM] = internal.LogAddExp(agg[model.IDM],
					ey.lp+f.eIDM[ey.other]+table.at(xsOrd, ey.other, model.IDM))
				agg[model.III] = internal.LogAddExp(agg[model.III],
					ey.lp+f.eIII[ey.other]+table.at(xsOrd, ey.other, model.III))
			}
			slot := table.slot(xsOrd, ysOrd)
			for _, h := range storableStates {
				lp := math.Inf(-1)
				for dest, destLp := range agg {
					if !math.IsInf(destLp, -1) {
						lp = internal.LogAddExp(lp, f.HMM.LpTrans(h, model.HMMState(dest))+destLp)
					}
				}
				table.cells[slot+int(h)] = lp
			}
		}
	}
	b.LpStart = table.at(0, 0, model.SSS)
}

// CellPostProb is the posterior probability of a path passing through
// the given cell.
func (b *BackwardMatrix) CellPostProb(xsOrd, ysOrd int, h model.HMMState) float64 {
	return math.Exp(b.F.table.at(xsOrd, ysOrd, h) + b.table.at(xsOrd, ysOrd, h) - b.F.LpEnd)
}

// TransPostProb is the posterior probability of the transition between
// two cells, given the effective profile edges traversed.
func (b *BackwardMatrix) TransPostProb(src, dest cellKey, edgeLp, destEmit float64) float64 {
	return math.Exp(b.F.table.at(src.xs, src.ys, src.h) +
		b.F.HMM.LpTrans(src.h, dest.h) + edgeLp + destEmit +
		b.table.at(dest.xs, dest.ys, dest.h) - b.F.LpEnd)
}
