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

package cmd

import (
	"bufio"
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"runtime"
	"strings"

	"github.com/evoldoers/indelhistorian/fasta"
	"github.com/evoldoers/indelhistorian/utils"
)

// ProgramMessage is the first line printed when the indelhistorian
// binary is called.
var ProgramMessage string

func init() {
	ProgramMessage = fmt.Sprint(
		"\n", utils.ProgramName, " version ", utils.ProgramVersion,
		" compiled with ", runtime.Version(),
		" - see ", utils.ProgramURL, " for more information.\n",
	)
}

// HelpMessage is printed to show the --help flag
const HelpMessage = "Print command details:\n" +
	"[--help]\n"

func parseFlags(flags flag.FlagSet, requiredArgs int, help string) {
	if len(os.Args) < requiredArgs {
		fmt.Fprintln(os.Stderr, "Incorrect number of parameters.")
		fmt.Fprint(os.Stderr, help)
		os.Exit(1)
	}
	flags.SetOutput(ioutil.Discard)
	if err := flags.Parse(os.Args[requiredArgs:]); err != nil {
		x := 0
		if err != flag.ErrHelp {
			fmt.Fprintln(os.Stderr, err)
			x = 1
		}
		fmt.Fprint(os.Stderr, help)
		os.Exit(x)
	}
	if flags.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Cannot parse remaining parameters:", flags.Args())
		fmt.Fprint(os.Stderr, help)
		os.Exit(1)
	}
}

// fileFormat enumerates the recognisable input file formats.
type fileFormat int

const (
	unknownFormat fileFormat = iota
	fastaFormat
	gappedFastaFormat
	newickFormat
)

// detectFormat sniffs the format of an input file: Newick trees start
// with an opening parenthesis, FASTA files with a header, and a FASTA
// file containing gap characters is a guide alignment.
func detectFormat(filename string) (fileFormat, error) {
	f, err := os.Open(filename)
	if err != nil {
		return unknownFormat, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch line[0] {
		case '(':
			return newickFormat, nil
		case '>':
			if err := scanner.Err(); err != nil {
				return unknownFormat, err
			}
			return sniffFasta(filename)
		default:
			return unknownFormat, nil
		}
	}
	return unknownFormat, scanner.Err()
}

func sniffFasta(filename string) (fileFormat, error) {
	seqs, err := fasta.Read(filename)
	if err != nil {
		return unknownFormat, err
	}
	if fasta.HasGaps(seqs) {
		return gappedFastaFormat, nil
	}
	return fastaFormat, nil
}
