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

// Package stockholm writes multiple alignments in Stockholm format,
// with the tree embedded as a #=GF NH annotation.
package stockholm

import (
	"bufio"
	"fmt"
	"io"

	"github.com/evoldoers/indelhistorian/fasta"
	"github.com/evoldoers/indelhistorian/tree"
)

// Write writes one gapped alignment as a Stockholm block. The tree and
// the ID annotation are optional.
func Write(w io.Writer, gapped []fasta.Seq, t *tree.Tree, id string) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "# STOCKHOLM 1.0")
	if id != "" {
		fmt.Fprintf(bw, "#=GF ID %s\n", id)
	}
	if t != nil {
		fmt.Fprintf(bw, "#=GF NH %s\n", t.String())
	}
	nameWidth := 0
	for i := range gapped {
		if len(gapped[i].Name) > nameWidth {
			nameWidth = len(gapped[i].Name)
		}
	}
	for i := range gapped {
		fmt.Fprintf(bw, "%-*s %s\n", nameWidth, gapped[i].Name, gapped[i].Seq)
	}
	fmt.Fprintln(bw, "//")
	return bw.Flush()
}
