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
	"fmt"
	"sort"

	"github.com/bits-and-blooms/bitset"
	"github.com/evoldoers/indelhistorian/internal"
	"github.com/evoldoers/indelhistorian/utils"
)

// MinKmersForSparseEnvelope is the minimum ratio of sequence length to
// (kmerLen + kmerThreshold) required before sparse seeding is attempted.
const MinKmersForSparseEnvelope = 2

// Defaults for the envelope parameters.
const (
	DefaultKmerLength    = 6
	DefaultKmerThreshold = -1
	DefaultBandSize      = 64
)

// Params configures diagonal envelope construction.
type Params struct {
	Sparse        bool
	KmerLen       int
	KmerThreshold int    // -1 selects the memory-bound mode
	MaxSize       uint64 // bytes; 0 autodetects physical memory
	BandSize      int
	Strict        bool // fail instead of proceeding with a degenerate envelope
}

// DefaultParams returns the default envelope parameters.
func DefaultParams() Params {
	return Params{
		Sparse:        true,
		KmerLen:       DefaultKmerLength,
		KmerThreshold: DefaultKmerThreshold,
		MaxSize:       0,
		BandSize:      DefaultBandSize,
	}
}

// Validate checks the parameter ranges before any computation.
func (p Params) Validate() error {
	if p.KmerLen < 5 || p.KmerLen > 32 {
		return fmt.Errorf("k-mer length %v out of range (try 5 to 32)", p.KmerLen)
	}
	if p.BandSize < 2 || p.BandSize%2 != 0 {
		return fmt.Errorf("band size %v must be even and at least 2", p.BandSize)
	}
	return nil
}

// EffectiveMaxSize resolves the memory budget, falling back to the
// physical memory size when none is configured.
func (p Params) EffectiveMaxSize() (uint64, error) {
	if p.MaxSize > 0 {
		return p.MaxSize, nil
	}
	ms := internal.PhysicalMemory()
	if ms == 0 {
		return 0, fmt.Errorf("can't figure out available system memory; you will need to specify a size")
	}
	utils.LogAt(9, "Effective memory available is %v bytes", ms)
	return ms, nil
}

// DiagonalEnvelope restricts dynamic programming over sequence
// coordinates i (0..XLen) and j (0..YLen) to a set of anti-diagonals
// d = i-j. Storage diagonals add a one-diagonal halo around the compute
// diagonals so that every cell can read its neighbours.
type DiagonalEnvelope struct {
	XLen, YLen int

	Diagonals        []int // compute diagonals, ascending
	StorageDiagonals []int // superset with halo, ascending

	// Flat-indexing tables: StorageIndex maps yLen+d to the ordinal of d
	// among the storage diagonals; columns j then index a flat cell array
	// of TotalStorageSize entries.
	StorageIndex     []int
	StorageOffset    []int
	StorageSize      []int
	CumulStorageSize []int
	TotalStorageSize int

	diagSet    *bitset.BitSet
	storageSet *bitset.BitSet
}

// MinDiagonal is the lowest representable diagonal.
func (e *DiagonalEnvelope) MinDiagonal() int { return -e.YLen }

// MaxDiagonal is the highest representable diagonal.
func (e *DiagonalEnvelope) MaxDiagonal() int { return e.XLen }

func (e *DiagonalEnvelope) intersects(j, d int) bool {
	i := j + d
	return i >= 0 && i <= e.XLen
}

// Contains tells whether cell (i,j) lies on a compute diagonal.
func (e *DiagonalEnvelope) Contains(i, j int) bool {
	if i < 0 || i > e.XLen || j < 0 || j > e.YLen {
		return false
	}
	return e.diagSet.Test(uint(e.YLen + i - j))
}

// InStorage tells whether cell (i,j) lies on a storage diagonal.
func (e *DiagonalEnvelope) InStorage(i, j int) bool {
	if i < 0 || i > e.XLen || j < 0 || j > e.YLen {
		return false
	}
	return e.storageSet.Test(uint(e.YLen + i - j))
}

// CellIndex maps a storage cell (i,j) to its index in a flat array of
// TotalStorageSize entries.
func (e *DiagonalEnvelope) CellIndex(i, j int) int {
	return e.CumulStorageSize[j] + e.StorageIndex[e.YLen+i-j] - e.StorageOffset[j]
}

// ForwardI lists the i coordinates admitted at column j, ascending.
func (e *DiagonalEnvelope) ForwardI(j int) []int {
	iVec := make([]int, 0, len(e.Diagonals))
	for _, d := range e.Diagonals {
		if e.intersects(j, d) {
			iVec = append(iVec, j+d)
		}
	}
	return iVec
}

// ReverseI lists the i coordinates admitted at column j, descending.
func (e *DiagonalEnvelope) ReverseI(j int) []int {
	f := e.ForwardI(j)
	for lo, hi := 0, len(f)-1; lo < hi; lo, hi = lo+1, hi-1 {
		f[lo], f[hi] = f[hi], f[lo]
	}
	return f
}

// NewFullEnvelope materialises every diagonal.
func NewFullEnvelope(xLen, yLen int) *DiagonalEnvelope {
	e := &DiagonalEnvelope{XLen: xLen, YLen: yLen}
	utils.LogAt(5, "Initializing full %v*%v envelope (no kmer-matching heuristic)", xLen, yLen)
	e.Diagonals = make([]int, 0, xLen+yLen+1)
	for d := e.MinDiagonal(); d <= e.MaxDiagonal(); d++ {
		e.Diagonals = append(e.Diagonals, d)
	}
	e.initStorage()
	return e
}

// NewSparseEnvelope builds a k-mer-seeded envelope for the reference
// token sequences of two profiles. The degenerate return value is true
// when no k-mer threshold fitting the memory budget was found and the
// envelope fell back to the minimal diagonal set.
func NewSparseEnvelope(xToks, yToks []int, xName, yName string, alphSize int, p Params, cellSize int, maxSize uint64) (e *DiagonalEnvelope, degenerate bool) {
	xLen, yLen := len(xToks), len(yToks)
	e = &DiagonalEnvelope{XLen: xLen, YLen: yLen}

	if p.KmerThreshold >= 0 {
		minLenForSparse := MinKmersForSparseEnvelope * (p.KmerLen + p.KmerThreshold)
		if xLen < minLenForSparse || yLen < minLenForSparse {
			return NewFullEnvelope(xLen, yLen), false
		}
	} else {
		full := uint64(xLen) * uint64(yLen) * uint64(cellSize)
		utils.LogAt(9, "Required memory for full DP is %v*%v*%v = %v bytes", xLen, yLen, cellSize, full)
		if full < maxSize {
			return NewFullEnvelope(xLen, yLen), false
		}
	}

	yKmerIndex := NewKmerIndex(yToks, p.KmerLen, alphSize)
	diagKmerCount := make(map[int]int)
	scanner := newKmerScanner(xToks, p.KmerLen, alphSize)
	for scanner.pos < len(xToks) {
		i, code, ok := scanner.next()
		if !ok {
			continue
		}
		for _, j := range yKmerIndex.Locations[code] {
			diagKmerCount[i-j]++
		}
	}

	countDistrib := make(map[int][]int)
	var counts []int
	for d, n := range diagKmerCount {
		if len(countDistrib[n]) == 0 {
			counts = append(counts, n)
		}
		countDistrib[n] = append(countDistrib[n], d)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(counts)))
	for _, n := range counts {
		sort.Ints(countDistrib[n])
	}
	if utils.LoggingAt(7) {
		utils.LogAt(7, "Distribution of %v-mer matches per diagonal for %v vs %v:", p.KmerLen, xName, yName)
		for _, n := range counts {
			utils.LogAt(7, "%v diagonal(s) with %v match(es)", len(countDistrib[n]), n)
		}
	}

	// The zeroth diagonal is always seeded so at least one path exists.
	nBits := uint(xLen + yLen + 1)
	diags := bitset.New(nBits)
	storageDiags := bitset.New(nBits)
	diags.Set(uint(yLen))
	storageDiags.Set(uint(yLen))

	halfBandSize := p.BandSize / 2
	diagSize := uint64(min(xLen, yLen)) * uint64(cellSize)
	nPastThreshold := 0

	threshold := -1
	foundThreshold := false
	if p.KmerThreshold >= 0 {
		threshold = p.KmerThreshold
		foundThreshold = true
	} else {
		utils.LogAt(5, "Automatically setting threshold based on memory limit of %v bytes (each diagonal takes %v bytes)", maxSize, diagSize)
	}

	for _, count := range counts {
		if p.KmerThreshold >= 0 && count < p.KmerThreshold {
			break
		}
		moreDiags := diags.Clone()
		moreStorageDiags := storageDiags.Clone()
		moreNPastThreshold := nPastThreshold
		for _, seedDiag := range countDistrib[count] {
			moreNPastThreshold++
			dMin := max(e.MinDiagonal(), seedDiag-halfBandSize)
			dMax := min(e.MaxDiagonal(), seedDiag+halfBandSize)
			for d := dMin; d <= dMax; d++ {
				moreDiags.Set(uint(yLen + d))
			}
			for d := max(e.MinDiagonal(), dMin-1); d <= min(e.MaxDiagonal(), dMax+1); d++ {
				moreStorageDiags.Set(uint(yLen + d))
			}
		}
		if p.KmerThreshold < 0 {
			if uint64(moreStorageDiags.Count())*diagSize >= maxSize {
				break
			}
			threshold = count
			foundThreshold = true
		}
		diags, moreDiags = moreDiags, diags
		storageDiags, moreStorageDiags = moreStorageDiags, storageDiags
		nPastThreshold = moreNPastThreshold
	}

	if foundThreshold {
		utils.LogAt(5, "Threshold # of %v-mer matches for seeding a diagonal is %v; %v diagonal(s) over this threshold", p.KmerLen, threshold, nPastThreshold)
	} else {
		utils.LogAt(5, "Couldn't find a suitable threshold that would fit within memory limit")
		degenerate = true
		diags.ClearAll()
		for d := max(e.MinDiagonal(), -1); d <= min(e.MaxDiagonal(), 1); d++ {
			diags.Set(uint(yLen + d))
		}
	}

	for d, ok := diags.NextSet(0); ok; d, ok = diags.NextSet(d + 1) {
		e.Diagonals = append(e.Diagonals, int(d)-yLen)
	}
	e.initStorage()
	utils.LogAt(5, "%v diagonal(s) in envelope (band size %v); estimated memory <%vMB",
		len(e.Diagonals), p.BandSize, (uint64(storageDiags.Count())*diagSize>>20)+1)
	return e, degenerate
}

// initStorage derives the storage halo and the flat-indexing tables from
// the compute diagonals.
func (e *DiagonalEnvelope) initStorage() {
	nBits := uint(e.XLen + e.YLen + 1)
	e.diagSet = bitset.New(nBits)
	e.storageSet = bitset.New(nBits)
	for _, d := range e.Diagonals {
		e.diagSet.Set(uint(e.YLen + d))
		for dd := max(e.MinDiagonal(), d-1); dd <= min(e.MaxDiagonal(), d+1); dd++ {
			e.storageSet.Set(uint(e.YLen + dd))
		}
	}
	e.StorageDiagonals = e.StorageDiagonals[:0]
	for d, ok := e.storageSet.NextSet(0); ok; d, ok = e.storageSet.NextSet(d + 1) {
		e.StorageDiagonals = append(e.StorageDiagonals, int(d)-e.YLen)
	}
	e.StorageIndex = make([]int, e.XLen+e.YLen+1)
	for i := range e.StorageIndex {
		e.StorageIndex[i] = -1
	}
	for n, d := range e.StorageDiagonals {
		e.StorageIndex[e.YLen+d] = n
	}
	e.StorageOffset = make([]int, e.YLen+1)
	e.StorageSize = make([]int, e.YLen+1)
	e.CumulStorageSize = make([]int, e.YLen+1)
	e.TotalStorageSize = 0
	for j := 0; j <= e.YLen; j++ {
		e.StorageOffset[j] = -1
		// Storage diagonals intersecting column j form a contiguous run
		// of the sorted slice, so ordinals can be used as offsets.
		lo := sort.SearchInts(e.StorageDiagonals, -j)
		hi := sort.SearchInts(e.StorageDiagonals, e.XLen-j+1)
		e.StorageSize[j] = hi - lo
		e.CumulStorageSize[j] = e.TotalStorageSize
		e.TotalStorageSize += e.StorageSize[j]
		if lo < hi {
			e.StorageOffset[j] = lo
		}
	}
	utils.LogAt(6, "Envelope has %v cells", e.TotalStorageSize)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
