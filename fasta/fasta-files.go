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

package fasta

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	// GapChar is the canonical gap character in alignments.
	GapChar = '-'

	// WildcardChar represents an unknown residue that matches every
	// alphabet token with log-probability 0.
	WildcardChar = '*'
)

// IsGap tells whether a character denotes an alignment gap.
func IsGap(c byte) bool {
	return c == '-' || c == '.'
}

// IsWildcard tells whether a character denotes an unknown residue.
func IsWildcard(c byte) bool {
	return c == WildcardChar || c == 'x' || c == 'X' || c == 'n' || c == 'N' || c == '?'
}

// Seq is a named sequence, possibly gapped.
type Seq struct {
	Name    string
	Comment string
	Seq     string
}

// Length returns the number of characters in the sequence, gaps included.
func (s *Seq) Length() int {
	return len(s.Seq)
}

// Tokens converts the sequence to alphabet indices. Wildcard characters
// map to -1. Gaps and characters outside the alphabet are an error.
func (s *Seq) Tokens(alphabet string) ([]int, error) {
	toks := make([]int, len(s.Seq))
	for i := 0; i < len(s.Seq); i++ {
		c := s.Seq[i]
		if IsWildcard(c) {
			toks[i] = -1
			continue
		}
		tok := strings.IndexByte(alphabet, lower(c))
		if tok < 0 {
			return nil, fmt.Errorf("character %c in sequence %v is not in alphabet %v", c, s.Name, alphabet)
		}
		toks[i] = tok
	}
	return toks, nil
}

func lower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c - 'A' + 'a'
	}
	return c
}

func headerFields(line string) (name, comment string) {
	header := strings.TrimSpace(line[1:])
	if i := strings.IndexAny(header, " \t"); i >= 0 {
		return header[:i], strings.TrimSpace(header[i+1:])
	}
	return header, ""
}

// Parse reads all FASTA records from a reader.
func Parse(r io.Reader) ([]Seq, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<16), 1<<24)
	var seqs []Seq
	var cur *Seq
	var body strings.Builder
	flush := func() {
		if cur != nil {
			cur.Seq = body.String()
			seqs = append(seqs, *cur)
			body.Reset()
		}
	}
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' {
			flush()
			name, comment := headerFields(line)
			cur = &Seq{Name: name, Comment: comment}
			continue
		}
		if cur == nil {
			return nil, fmt.Errorf("sequence data before first FASTA header")
		}
		body.WriteString(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()
	if len(seqs) == 0 {
		return nil, fmt.Errorf("no FASTA records found")
	}
	return seqs, nil
}

// Read reads all FASTA records from a file.
func Read(filename string) (seqs []Seq, err error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer func() {
		nerr := f.Close()
		if err == nil {
			err = nerr
		}
	}()
	return Parse(f)
}

// Write writes sequences in FASTA format, wrapping rows at 60 columns.
func Write(w io.Writer, seqs []Seq) error {
	bw := bufio.NewWriter(w)
	for i := range seqs {
		s := &seqs[i]
		if s.Comment != "" {
			fmt.Fprintf(bw, ">%s %s\n", s.Name, s.Comment)
		} else {
			fmt.Fprintf(bw, ">%s\n", s.Name)
		}
		for pos := 0; pos < len(s.Seq); pos += 60 {
			end := pos + 60
			if end > len(s.Seq) {
				end = len(s.Seq)
			}
			fmt.Fprintln(bw, s.Seq[pos:end])
		}
	}
	return bw.Flush()
}

// HasGaps tells whether any of the sequences contains a gap character,
// which marks a FASTA file as a guide alignment rather than plain
// sequence input.
func HasGaps(seqs []Seq) bool {
	for i := range seqs {
		for j := 0; j < len(seqs[i].Seq); j++ {
			if IsGap(seqs[i].Seq[j]) {
				return true
			}
		}
	}
	return false
}
