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

package envelope

import (
	"github.com/evoldoers/indelhistorian/align"
)

// GuideAlignmentEnvelope admits DP cell (i,j) when the guide alignment
// places residue i of row rx and residue j of row ry within band columns
// of each other. A nil envelope admits everything.
type GuideAlignmentEnvelope struct {
	band int
	colX []int // colX[i] = guide column of residue i of row rx (colX[0] = 0)
	colY []int
}

// NewGuideEnvelope builds the envelope for a row pair of a guide
// alignment. It returns nil when the band is negative or the guide does
// not cover both rows, which disables the constraint.
func NewGuideEnvelope(guide align.Path, rowX, rowY, band int) *GuideAlignmentEnvelope {
	if band < 0 {
		return nil
	}
	rx, okX := guide[rowX]
	ry, okY := guide[rowY]
	if !okX || !okY {
		return nil
	}
	return &GuideAlignmentEnvelope{
		band: band,
		colX: residueColumns(rx),
		colY: residueColumns(ry),
	}
}

func residueColumns(row []bool) []int {
	cols := make([]int, 1, align.ResiduesInRow(row)+1)
	for c, bit := range row {
		if bit {
			cols = append(cols, c+1)
		}
	}
	return cols
}

// InBand tells whether cell (i,j) is admitted.
func (g *GuideAlignmentEnvelope) InBand(i, j int) bool {
	if g == nil {
		return true
	}
	d := g.colX[i] - g.colY[j]
	return d <= g.band && d >= -g.band
}
