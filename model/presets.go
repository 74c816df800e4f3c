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
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// DefaultModelName is the preset used when none is specified.
const DefaultModelName = "jc"

// Uniform builds a single-component model with a uniform equilibrium in
// which every residue substitutes to every other at equal rate,
// normalized to one expected substitution per unit time (Jukes-Cantor
// for the DNA alphabet).
func Uniform(alphabet string, insRate, delRate, insExt, delExt float64) *RateModel {
	k := len(alphabet)
	q := mat.NewDense(k, k, nil)
	off := 1 / float64(k-1)
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			if i == j {
				q.Set(i, j, -1)
			} else {
				q.Set(i, j, off)
			}
		}
	}
	eqm := make([]float64, k)
	for i := range eqm {
		eqm[i] = 1 / float64(k)
	}
	return &RateModel{
		Alphabet:   alphabet,
		CptWeight:  []float64{1},
		SubRate:    []*mat.Dense{q},
		InsProb:    [][]float64{eqm},
		InsRate:    insRate,
		DelRate:    delRate,
		InsExtProb: insExt,
		DelExtProb: delExt,
	}
}

// NamedModel returns a preset rate model.
func NamedModel(name string) (*RateModel, error) {
	switch name {
	case "jc":
		return Uniform("acgt", 0.01, 0.02, 0.66, 0.66), nil
	case "jcaa":
		return Uniform("acdefghiklmnpqrstvwy", 0.01, 0.02, 0.66, 0.66), nil
	}
	return nil, fmt.Errorf("unknown preset model %v (available: jc, jcaa)", name)
}
