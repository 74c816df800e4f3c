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

import "testing"

// checkSoundness verifies the structural envelope invariants: compute
// diagonals are a subset of the storage diagonals, diagonal 0 is always
// present, and the per-column storage sizes count the intersecting
// storage diagonals.
func checkSoundness(t *testing.T, e *DiagonalEnvelope) {
	t.Helper()
	inStorage := make(map[int]bool)
	for _, d := range e.StorageDiagonals {
		inStorage[d] = true
	}
	for _, d := range e.Diagonals {
		if !inStorage[d] {
			t.Errorf("compute diagonal %v is not a storage diagonal", d)
		}
	}
	found0 := false
	for _, d := range e.Diagonals {
		if d == 0 {
			found0 = true
		}
	}
	if !found0 {
		t.Error("diagonal 0 missing from envelope")
	}
	total := 0
	for j := 0; j <= e.YLen; j++ {
		n := 0
		for _, d := range e.StorageDiagonals {
			if e.intersects(j, d) {
				n++
			}
		}
		if e.StorageSize[j] != n {
			t.Errorf("storageSize[%v] = %v, expected %v", j, e.StorageSize[j], n)
		}
		if e.CumulStorageSize[j] != total {
			t.Errorf("cumulStorageSize[%v] = %v, expected %v", j, e.CumulStorageSize[j], total)
		}
		total += n
	}
	if e.TotalStorageSize != total {
		t.Errorf("totalStorageSize = %v, expected %v", e.TotalStorageSize, total)
	}
}

func TestFullEnvelope(t *testing.T) {
	e := NewFullEnvelope(5, 3)
	checkSoundness(t, e)
	if len(e.Diagonals) != 9 {
		t.Errorf("full envelope has %v diagonals, expected 9", len(e.Diagonals))
	}
	for j := 0; j <= 3; j++ {
		iVec := e.ForwardI(j)
		if len(iVec) != 6 {
			t.Errorf("forwardI(%v) has %v entries, expected 6", j, len(iVec))
		}
		for k := 1; k < len(iVec); k++ {
			if iVec[k] <= iVec[k-1] {
				t.Errorf("forwardI(%v) not ascending", j)
			}
		}
		rVec := e.ReverseI(j)
		for k := range rVec {
			if rVec[k] != iVec[len(iVec)-1-k] {
				t.Errorf("reverseI(%v) is not the reverse of forwardI", j)
			}
		}
	}
}

func TestCellIndexUnique(t *testing.T) {
	e := NewFullEnvelope(4, 4)
	checkSoundness(t, e)
	seen := make(map[int]bool)
	for j := 0; j <= 4; j++ {
		for i := 0; i <= 4; i++ {
			if !e.InStorage(i, j) {
				continue
			}
			idx := e.CellIndex(i, j)
			if idx < 0 || idx >= e.TotalStorageSize {
				t.Fatalf("cell index %v out of range for (%v,%v)", idx, i, j)
			}
			if seen[idx] {
				t.Fatalf("cell index %v reused at (%v,%v)", idx, i, j)
			}
			seen[idx] = true
		}
	}
	if len(seen) != e.TotalStorageSize {
		t.Errorf("indexed %v cells, expected %v", len(seen), e.TotalStorageSize)
	}
}

// Short sequences with no shared k-mers must fall back to the full
// envelope rather than fail.
func TestSparseEnvelopeFallsBackToFull(t *testing.T) {
	xToks := make([]int, 10)
	yToks := make([]int, 10)
	for i := range xToks {
		xToks[i] = 0
		yToks[i] = 1
	}
	p := DefaultParams()
	e, degenerate := NewSparseEnvelope(xToks, yToks, "x", "y", 4, p, 56, 1<<30)
	if degenerate {
		t.Error("short-sequence fallback flagged as degenerate")
	}
	checkSoundness(t, e)
	if len(e.Diagonals) != 21 {
		t.Errorf("fallback envelope has %v diagonals, expected full 21", len(e.Diagonals))
	}
}

func TestSparseEnvelopeSeedsMatchingDiagonal(t *testing.T) {
	// Two long identical token sequences seed diagonal 0 and widen a
	// band around it; a tight memory budget keeps the envelope sparse.
	n := 2000
	xToks := make([]int, n)
	yToks := make([]int, n)
	for i := range xToks {
		tok := (i * 7) % 4
		xToks[i] = tok
		yToks[i] = tok
	}
	p := DefaultParams()
	p.BandSize = 10
	e, degenerate := NewSparseEnvelope(xToks, yToks, "x", "y", 4, p, 56, uint64(n)*56*100)
	if degenerate {
		t.Fatal("matching sequences should find a threshold")
	}
	checkSoundness(t, e)
	if len(e.Diagonals) >= n {
		t.Errorf("envelope with %v diagonals is not sparse", len(e.Diagonals))
	}
	for d := -5; d <= 5; d++ {
		found := false
		for _, dd := range e.Diagonals {
			if dd == d {
				found = true
			}
		}
		if !found {
			t.Errorf("diagonal %v missing from the band around the seeded diagonal", d)
		}
	}
}

func TestSparseEnvelopeDegenerate(t *testing.T) {
	// An impossible memory budget degrades to the minimal diagonal set.
	n := 2000
	xToks := make([]int, n)
	yToks := make([]int, n)
	for i := range xToks {
		tok := (i * 7) % 4
		xToks[i] = tok
		yToks[i] = tok
	}
	p := DefaultParams()
	e, degenerate := NewSparseEnvelope(xToks, yToks, "x", "y", 4, p, 56, 1)
	if !degenerate {
		t.Fatal("impossible budget not flagged as degenerate")
	}
	checkSoundness(t, e)
	if len(e.Diagonals) != 3 {
		t.Errorf("degenerate envelope has %v diagonals, expected 3", len(e.Diagonals))
	}
}

func TestKmerIndex(t *testing.T) {
	toks := []int{0, 1, 2, 3, 0, 1, 2, 3, 0, 1}
	index := NewKmerIndex(toks, 5, 4)
	// The window 0,1,2,3,0 occurs at positions 0 and 4.
	code := uint64(0)
	for _, tok := range []int{0, 1, 2, 3, 0} {
		code = code*4 + uint64(tok)
	}
	locs := index.Locations[code]
	if len(locs) != 2 || locs[0] != 0 || locs[1] != 4 {
		t.Errorf("k-mer locations are %v, expected [0 4]", locs)
	}
}

func TestKmerIndexSkipsWildcards(t *testing.T) {
	toks := []int{0, 1, -1, 3, 0, 1, 2, 3, 0}
	index := NewKmerIndex(toks, 5, 4)
	for code, locs := range index.Locations {
		for _, j := range locs {
			for k := j; k < j+5; k++ {
				if toks[k] < 0 {
					t.Errorf("k-mer %v at %v spans a wildcard", code, j)
				}
			}
		}
	}
}

func TestGuideEnvelope(t *testing.T) {
	// Guide: x = "AC-G", y = "A-TG" as row paths.
	guide := map[int][]bool{
		0: {true, true, false, true},
		1: {true, false, true, true},
	}
	g := NewGuideEnvelope(guide, 0, 1, 1)
	if g == nil {
		t.Fatal("guide envelope unexpectedly disabled")
	}
	if !g.InBand(0, 0) || !g.InBand(3, 3) {
		t.Error("ends should be in band")
	}
	if !g.InBand(1, 1) {
		t.Error("adjacent residues should be in band")
	}
	if g.InBand(0, 3) {
		t.Error("far corners should be out of band")
	}
	if NewGuideEnvelope(guide, 0, 1, -1) != nil {
		t.Error("negative band should disable the envelope")
	}
	var disabled *GuideAlignmentEnvelope
	if !disabled.InBand(0, 3) {
		t.Error("nil envelope should admit everything")
	}
}
