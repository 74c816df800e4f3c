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

package profile

import (
	"encoding/json"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/evoldoers/indelhistorian/align"
	"github.com/evoldoers/indelhistorian/fasta"
)

// logProb is a log-probability that writes non-finite values, which JSON
// numbers cannot hold, as strings such as "-Inf".
type logProb float64

func (lp logProb) MarshalJSON() ([]byte, error) {
	if f := float64(lp); math.IsInf(f, 0) || math.IsNaN(f) {
		return json.Marshal(strconv.FormatFloat(f, 'g', -1, 64))
	}
	return json.Marshal(float64(lp))
}

type transJSON struct {
	To      int               `json:"to"`
	LpTrans logProb           `json:"lpTrans"`
	Path    map[string]string `json:"path,omitempty"`
}

type stateJSON struct {
	N        int               `json:"n"`
	Name     string            `json:"name,omitempty"`
	Meta     map[string]string `json:"meta,omitempty"`
	Path     map[string]string `json:"path,omitempty"`
	SeqPos   map[string]int    `json:"seqPos,omitempty"`
	LpAbsorb [][]logProb       `json:"lpAbsorb,omitempty"`
	Trans    []transJSON       `json:"trans"`
}

type profileJSON struct {
	Name     string      `json:"name,omitempty"`
	AlphSize int         `json:"alphSize"`
	State    []stateJSON `json:"state"`
}

func pathJSON(p align.Path) map[string]string {
	if len(p) == 0 {
		return nil
	}
	rendered := make(map[string]string, len(p))
	for _, row := range p.Rows() {
		buf := make([]byte, len(p[row]))
		for c, bit := range p[row] {
			if bit {
				buf[c] = fasta.WildcardChar
			} else {
				buf[c] = fasta.GapChar
			}
		}
		rendered[strconv.Itoa(row)] = string(buf)
	}
	return rendered
}

// WriteJSON dumps the profile in an inspectable JSON form.
func (p *Profile) WriteJSON(w io.Writer) error {
	dump := profileJSON{Name: p.Name, AlphSize: p.AlphSize}
	for si := range p.States {
		s := &p.States[si]
		sj := stateJSON{
			N:     si,
			Name:  s.Name,
			Meta:  s.Meta,
			Path:  pathJSON(s.Path),
			Trans: []transJSON{},
		}
		for _, row := range s.LpAbsorb {
			lps := make([]logProb, len(row))
			for a, lp := range row {
				lps[a] = logProb(lp)
			}
			sj.LpAbsorb = append(sj.LpAbsorb, lps)
		}
		if len(s.SeqCoords) > 0 {
			sj.SeqPos = make(map[string]int, len(s.SeqCoords))
			for row, coord := range s.SeqCoords {
				sj.SeqPos[strconv.Itoa(row)] = coord
			}
		}
		for _, ti := range append(append([]int(nil), s.NullOut...), s.AbsorbOut...) {
			t := &p.Trans[ti]
			sj.Trans = append(sj.Trans, transJSON{To: t.Dest, LpTrans: logProb(t.LpTrans), Path: pathJSON(t.Path)})
		}
		dump.State = append(dump.State, sj)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", " ")
	return enc.Encode(dump)
}

// JSON returns the profile dump as a string, for logging.
func (p *Profile) JSON() string {
	var b strings.Builder
	_ = p.WriteJSON(&b)
	return b.String()
}
