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
	"math"

	"github.com/exascience/pargo/parallel"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// RateModel is a continuous-time Markov substitution model over a finite
// alphabet, with a mixture of rate components and geometric-length indel
// rates. It is immutable after construction and safe to share between
// concurrent reconstructions.
type RateModel struct {
	Alphabet  string       // ordered residue characters, lower case
	CptWeight []float64    // mixture weights, sum to 1
	SubRate   []*mat.Dense // per-component rate generator, rows sum to 0
	InsProb   [][]float64  // per-component insertion (equilibrium) distribution

	InsRate    float64 // lambda
	DelRate    float64 // mu
	InsExtProb float64 // geometric insertion-length extension probability
	DelExtProb float64 // geometric deletion-length extension probability
}

// AlphabetSize returns the number of residue tokens.
func (m *RateModel) AlphabetSize() int {
	return len(m.Alphabet)
}

// Components returns the number of mixture components.
func (m *RateModel) Components() int {
	return len(m.CptWeight)
}

// ExpectedInsertionLength is the mean geometric insertion length.
func (m *RateModel) ExpectedInsertionLength() float64 {
	return 1 / (1 - m.InsExtProb)
}

// ExpectedDeletionLength is the mean geometric deletion length.
func (m *RateModel) ExpectedDeletionLength() float64 {
	return 1 / (1 - m.DelExtProb)
}

// ExpectedSubstitutionRate is the mixture-weighted expected rate of
// substitution away from equilibrium.
func (m *RateModel) ExpectedSubstitutionRate() float64 {
	rate := 0.0
	for cpt := range m.CptWeight {
		for a := 0; a < m.AlphabetSize(); a++ {
			rate -= m.CptWeight[cpt] * m.InsProb[cpt][a] * m.SubRate[cpt].At(a, a)
		}
	}
	return rate
}

// Validate checks the model parameters before any computation.
func (m *RateModel) Validate() error {
	k := m.AlphabetSize()
	if k < 2 {
		return fmt.Errorf("alphabet %q is too small", m.Alphabet)
	}
	if len(m.CptWeight) == 0 || len(m.SubRate) != len(m.CptWeight) || len(m.InsProb) != len(m.CptWeight) {
		return fmt.Errorf("model has inconsistent mixture component counts")
	}
	for _, w := range m.CptWeight {
		if w < 0 {
			return fmt.Errorf("negative mixture weight %v", w)
		}
	}
	if wsum := floats.Sum(m.CptWeight); math.Abs(wsum-1) > 1e-6 {
		return fmt.Errorf("mixture weights sum to %v, not 1", wsum)
	}
	for cpt, q := range m.SubRate {
		r, c := q.Dims()
		if r != k || c != k {
			return fmt.Errorf("component %v rate matrix is %vx%v for alphabet size %v", cpt, r, c, k)
		}
		if len(m.InsProb[cpt]) != k {
			return fmt.Errorf("component %v equilibrium has %v entries for alphabet size %v", cpt, len(m.InsProb[cpt]), k)
		}
	}
	if m.InsRate < 0 || m.DelRate <= 0 {
		return fmt.Errorf("indel rates must satisfy lambda >= 0 and mu > 0 (got lambda=%v mu=%v)", m.InsRate, m.DelRate)
	}
	if m.InsRate >= m.DelRate {
		return fmt.Errorf("insertion rate %v must be below deletion rate %v for sequence lengths to stay finite", m.InsRate, m.DelRate)
	}
	if m.InsExtProb < 0 || m.InsExtProb >= 1 || m.DelExtProb < 0 || m.DelExtProb >= 1 {
		return fmt.Errorf("extension probabilities must lie in [0,1)")
	}
	return nil
}

// Tokenize converts a sequence to alphabet tokens (-1 for wildcards).
func (m *RateModel) Tokenize(seq string) ([]int, error) {
	toks := make([]int, len(seq))
	for i := 0; i < len(seq); i++ {
		c := seq[i]
		if c >= 'A' && c <= 'Z' {
			c = c - 'A' + 'a'
		}
		tok := -1
		for a := 0; a < len(m.Alphabet); a++ {
			if m.Alphabet[a] == c {
				tok = a
				break
			}
		}
		if tok < 0 && !isWildcardByte(seq[i]) {
			return nil, fmt.Errorf("character %c is not in alphabet %v", seq[i], m.Alphabet)
		}
		toks[i] = tok
	}
	return toks, nil
}

func isWildcardByte(c byte) bool {
	switch c {
	case '*', 'x', 'X', 'n', 'N', '?':
		return true
	}
	return false
}

// BranchMatrix computes the per-component substitution matrices exp(Q t).
func (m *RateModel) BranchMatrix(t float64) []*mat.Dense {
	sub := make([]*mat.Dense, m.Components())
	thunks := make([]func(), m.Components())
	for cpt := range thunks {
		cpt := cpt
		thunks[cpt] = func() { sub[cpt] = expm(m.SubRate[cpt], t) }
	}
	parallel.Do(thunks...)
	return sub
}

// RootDist returns the per-component log root distribution, which doubles
// as the insertion distribution.
func (m *RateModel) RootDist() [][]float64 {
	root := make([][]float64, m.Components())
	for cpt := range root {
		root[cpt] = make([]float64, m.AlphabetSize())
		for a, p := range m.InsProb[cpt] {
			root[cpt][a] = math.Log(p)
		}
	}
	return root
}

// LogCptWeight returns the log mixture weights.
func (m *RateModel) LogCptWeight() []float64 {
	logw := make([]float64, m.Components())
	for cpt, w := range m.CptWeight {
		logw[cpt] = math.Log(w)
	}
	return logw
}

// expm computes exp(Q t) by scaling and squaring with a Taylor series.
// Substitution generators are small and well conditioned after scaling,
// so a fixed-order series suffices.
func expm(q *mat.Dense, t float64) *mat.Dense {
	n, _ := q.Dims()
	a := mat.NewDense(n, n, nil)
	a.Scale(t, q)

	norm := 0.0
	for i := 0; i < n; i++ {
		rowSum := 0.0
		for j := 0; j < n; j++ {
			rowSum += math.Abs(a.At(i, j))
		}
		if rowSum > norm {
			norm = rowSum
		}
	}
	squarings := 0
	for norm > 0.5 {
		norm /= 2
		squarings++
	}
	a.Scale(1/math.Pow(2, float64(squarings)), a)

	const order = 12
	result := identity(n)
	term := identity(n)
	for k := 1; k <= order; k++ {
		next := mat.NewDense(n, n, nil)
		next.Mul(term, a)
		next.Scale(1/float64(k), next)
		term = next
		result.Add(result, term)
	}
	for s := 0; s < squarings; s++ {
		sq := mat.NewDense(n, n, nil)
		sq.Mul(result, result)
		result = sq
	}
	return result
}

func identity(n int) *mat.Dense {
	id := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		id.Set(i, i, 1)
	}
	return id
}
