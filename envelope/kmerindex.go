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

// KmerIndex maps every length-k token window of a sequence to its start
// positions. Codes are rolled in base alphSize with wrapping uint64
// arithmetic; the indexer and the scanner wrap identically, so lookups
// stay consistent for any alphabet size.
type KmerIndex struct {
	KmerLen   int
	AlphSize  int
	Locations map[uint64][]int
}

// kmerScanner rolls k-mer codes over a token sequence, skipping windows
// that contain wildcard (negative) tokens.
type kmerScanner struct {
	toks     []int
	kmerLen  int
	alphSize uint64
	lead     uint64 // alphSize^(kmerLen-1), wrapped
	code     uint64
	pos      int // next token to consume
	valid    int // tokens since the last wildcard
}

func newKmerScanner(toks []int, kmerLen, alphSize int) *kmerScanner {
	lead := uint64(1)
	for i := 1; i < kmerLen; i++ {
		lead *= uint64(alphSize)
	}
	return &kmerScanner{toks: toks, kmerLen: kmerLen, alphSize: uint64(alphSize), lead: lead}
}

// next advances by one token and reports the k-mer ending at it, with
// ok false while the window is incomplete or contains a wildcard.
func (s *kmerScanner) next() (start int, code uint64, ok bool) {
	tok := s.toks[s.pos]
	s.pos++
	if tok < 0 {
		s.valid = 0
		s.code = 0
		return 0, 0, false
	}
	if s.valid >= s.kmerLen {
		s.code -= uint64(s.toks[s.pos-1-s.kmerLen]) * s.lead
	}
	s.code = s.code*s.alphSize + uint64(tok)
	s.valid++
	if s.valid < s.kmerLen {
		return 0, 0, false
	}
	return s.pos - s.kmerLen, s.code, true
}

// NewKmerIndex indexes all valid k-mers of a token sequence.
func NewKmerIndex(toks []int, kmerLen, alphSize int) *KmerIndex {
	index := &KmerIndex{
		KmerLen:   kmerLen,
		AlphSize:  alphSize,
		Locations: make(map[uint64][]int),
	}
	scanner := newKmerScanner(toks, kmerLen, alphSize)
	for scanner.pos < len(toks) {
		if start, code, ok := scanner.next(); ok {
			index.Locations[code] = append(index.Locations[code], start)
		}
	}
	return index
}
