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
	"math"

	"gonum.org/v1/gonum/mat"
)

// ProbModel holds the substitution and indel probabilities for a single
// branch of length Time.
type ProbModel struct {
	Time float64

	// Ins and Del are the probabilities of opening an insertion or of a
	// residue dying along the branch; InsExt and DelExt extend them
	// geometrically.
	Ins, Del, InsExt, DelExt float64

	// Sub are the per-component substitution matrices exp(Q Time);
	// LogSub caches their element-wise logarithms.
	Sub    []*mat.Dense
	LogSub [][][]float64
}

// NewProbModel derives the branch probabilities for a branch length.
func NewProbModel(m *RateModel, t float64) *ProbModel {
	sub := m.BranchMatrix(t)
	k := m.AlphabetSize()
	logSub := make([][][]float64, len(sub))
	for cpt, s := range sub {
		logSub[cpt] = make([][]float64, k)
		for i := 0; i < k; i++ {
			logSub[cpt][i] = make([]float64, k)
			for j := 0; j < k; j++ {
				// Roundoff in the matrix exponential can leave tiny
				// negative entries; treat them as zero probability.
				if p := s.At(i, j); p > 0 {
					logSub[cpt][i][j] = math.Log(p)
				} else {
					logSub[cpt][i][j] = math.Inf(-1)
				}
			}
		}
	}
	return &ProbModel{
		Time:   t,
		Ins:    1 - math.Exp(-m.InsRate*t),
		Del:    1 - math.Exp(-m.DelRate*t),
		InsExt: m.InsExtProb,
		DelExt: m.DelExtProb,
		Sub:    sub,
		LogSub: logSub,
	}
}

// HMMState enumerates the states of the pair HMM that aligns two child
// profiles below a parent node. The three letters stand for the parent,
// the left child and the right child: IMM emits a parent residue matched
// into both children, IMD a parent residue deleted in the right child,
// IDM one deleted in the left child, IMI an insertion in the left child,
// III an insertion in the right child.
type HMMState int

const (
	SSS HMMState = iota
	IMM
	IMD
	IDM
	IMI
	III
	EEE

	// TotalHMMStates counts the states including start and end.
	TotalHMMStates = int(EEE) + 1
)

var hmmStateName = [TotalHMMStates]string{"SSS", "IMM", "IMD", "IDM", "IMI", "III", "EEE"}

func (h HMMState) String() string {
	return hmmStateName[h]
}

// AbsorbsX tells whether the state consumes a column of the left profile.
func (h HMMState) AbsorbsX() bool {
	return h == IMM || h == IMD || h == IMI
}

// AbsorbsY tells whether the state consumes a column of the right profile.
func (h HMMState) AbsorbsY() bool {
	return h == IMM || h == IDM || h == III
}

// EmitsParent tells whether the state corresponds to a parent residue.
func (h HMMState) EmitsParent() bool {
	return h == IMM || h == IMD || h == IDM
}

// PairHMM couples the branch models of two siblings under their parent.
// It is pure: given two child profiles it defines the joint likelihood
// over alignment paths between them.
type PairHMM struct {
	L, R *ProbModel

	// LogCptWeight, LogRoot and LogIns are the log mixture weights and
	// the per-component log root/insertion distributions.
	LogCptWeight []float64
	LogRoot      [][]float64
	LogIns       [][]float64

	lpTrans [TotalHMMStates][TotalHMMStates]float64
}

// NewPairHMM derives the transition matrix for a sibling pair. The parent
// sequence length is geometric with parameter lambda/mu; each parent
// residue survives each child branch independently, and each child opens
// geometric-length insertions between parent residues. Insertions in the
// left child are ordered before insertions in the right child so that
// every alignment has exactly one state path.
func NewPairHMM(m *RateModel, l, r *ProbModel) *PairHMM {
	h := &PairHMM{
		L:            l,
		R:            r,
		LogCptWeight: m.LogCptWeight(),
		LogRoot:      m.RootDist(),
		LogIns:       m.RootDist(),
	}
	g := m.InsRate / m.DelRate
	for src := 0; src < TotalHMMStates; src++ {
		for dest := 0; dest < TotalHMMStates; dest++ {
			h.lpTrans[src][dest] = math.Inf(-1)
		}
	}
	for src := SSS; src < EEE; src++ {
		// Insertion-opening probabilities depend on whether an insertion
		// on the same side is already being extended.
		xIns := l.Ins
		if src == IMI {
			xIns = l.InsExt
		} else if src == III {
			xIns = 0
		}
		yIns := r.Ins
		if src == III {
			yIns = r.InsExt
		}

		// Deletions are sticky: a parent residue following a deleted one
		// dies with the extension probability instead.
		dL, dR := l.Del, r.Del
		if src == IDM {
			dL = l.DelExt
		}
		if src == IMD {
			dR = r.DelExt
		}
		sL, sR := 1-dL, 1-dR

		// Parent residues deleted in both children are invisible; the
		// geometric sum over them renormalizes the visible outcomes.
		denom := 1 - g*dL*dR

		rest := 1 - xIns
		h.lpTrans[src][IMI] = math.Log(xIns)
		h.lpTrans[src][III] = math.Log(rest * yIns)
		rest *= 1 - yIns
		h.lpTrans[src][IMM] = math.Log(rest * g * sL * sR / denom)
		h.lpTrans[src][IMD] = math.Log(rest * g * sL * dR / denom)
		h.lpTrans[src][IDM] = math.Log(rest * g * dL * sR / denom)
		h.lpTrans[src][EEE] = math.Log(rest * (1 - g) / denom)
	}
	return h
}

// LpTrans returns the log transition probability between two states.
func (h *PairHMM) LpTrans(src, dest HMMState) float64 {
	return h.lpTrans[src][dest]
}
