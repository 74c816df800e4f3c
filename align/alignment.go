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

package align

import (
	"log"

	"github.com/evoldoers/indelhistorian/fasta"
)

// Alignment pairs ungapped sequences with an alignment path over them.
// Row i of the path refers to Ungapped[i].
type Alignment struct {
	Ungapped []fasta.Seq
	Path     Path
}

// New builds an alignment from ungapped sequences and a path.
func New(ungapped []fasta.Seq, path Path) Alignment {
	for r := range ungapped {
		if row, ok := path[r]; ok {
			if got, want := ResiduesInRow(row), len(ungapped[r].Seq); got != want {
				log.Panicf("alignment row %v (%v) has %v residues in its path but %v in its sequence", r, ungapped[r].Name, got, want)
			}
		}
	}
	return Alignment{Ungapped: ungapped, Path: path}
}

// FromGapped decomposes gapped sequences into ungapped sequences plus an
// alignment path.
func FromGapped(gapped []fasta.Seq) Alignment {
	ungapped := make([]fasta.Seq, len(gapped))
	path := make(Path, len(gapped))
	for r, g := range gapped {
		row := make([]bool, len(g.Seq))
		var residues []byte
		for i := 0; i < len(g.Seq); i++ {
			if !fasta.IsGap(g.Seq[i]) {
				row[i] = true
				residues = append(residues, g.Seq[i])
			}
		}
		ungapped[r] = fasta.Seq{Name: g.Name, Comment: g.Comment, Seq: string(residues)}
		path[r] = row
	}
	return Alignment{Ungapped: ungapped, Path: path}
}

// Gapped renders the alignment as gapped sequences.
func (a *Alignment) Gapped() []fasta.Seq {
	cols := a.Path.Columns()
	gapped := make([]fasta.Seq, len(a.Ungapped))
	for r := range a.Ungapped {
		src := &a.Ungapped[r]
		row, ok := a.Path[r]
		if !ok {
			log.Panicf("alignment path is missing row %v (%v)", r, src.Name)
		}
		buf := make([]byte, cols)
		pos := 0
		for c, bit := range row {
			if bit {
				buf[c] = src.Seq[pos]
				pos++
			} else {
				buf[c] = fasta.GapChar
			}
		}
		gapped[r] = fasta.Seq{Name: src.Name, Comment: src.Comment, Seq: string(buf)}
	}
	return gapped
}
