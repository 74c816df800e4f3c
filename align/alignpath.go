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
	"sort"
)

// Path maps a row index (a sequence or tree node) to its residue-present
// bits over a common column axis. In a full alignment all rows have the
// same number of columns; partial paths (single columns on profile states,
// column runs on profile transitions) may mention only some rows.
type Path map[int][]bool

// ResiduesInRow counts the residues (true bits) in one row path.
func ResiduesInRow(row []bool) int {
	n := 0
	for _, bit := range row {
		if bit {
			n++
		}
	}
	return n
}

// Rows returns the row indices of a path in ascending order.
func (p Path) Rows() []int {
	rows := make([]int, 0, len(p))
	for r := range p {
		rows = append(rows, r)
	}
	sort.Ints(rows)
	return rows
}

// Columns returns the common column count of the path.
// All rows must have equal length.
func (p Path) Columns() int {
	cols := -1
	for r, row := range p {
		if cols < 0 {
			cols = len(row)
		} else if len(row) != cols {
			log.Panicf("alignment path row %v has %v columns where %v were expected", r, len(row), cols)
		}
	}
	if cols < 0 {
		return 0
	}
	return cols
}

// Clone makes a deep copy of the path.
func (p Path) Clone() Path {
	c := make(Path, len(p))
	for r, row := range p {
		c[r] = append([]bool(nil), row...)
	}
	return c
}

// Union combines two paths with disjoint row sets.
func Union(p1, p2 Path) Path {
	u := make(Path, len(p1)+len(p2))
	for r, row := range p1 {
		u[r] = row
	}
	for r, row := range p2 {
		if _, dup := u[r]; dup {
			log.Panicf("alignment path union: row %v present on both sides", r)
		}
		u[r] = row
	}
	return u
}

// Concat appends paths lengthwise. Rows missing from one of the paths are
// padded with gap columns so that every row spans all columns.
func Concat(paths ...Path) Path {
	cat := make(Path)
	cols := 0
	for _, p := range paths {
		pcols := p.Columns()
		for r, row := range p {
			if _, ok := cat[r]; !ok {
				cat[r] = make([]bool, cols)
			}
			cat[r] = append(cat[r], row...)
		}
		cols += pcols
		for r, row := range cat {
			for len(row) < cols {
				row = append(row, false)
			}
			cat[r] = row
		}
	}
	return cat
}
