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

package recon

import "fmt"

// ErrorKind classifies fatal reconstruction errors. Recoverable
// conditions (degenerate envelopes, tight memory budgets) are retried or
// downgraded locally and never surface as errors unless strict mode is
// requested.
type ErrorKind int

const (
	// ZeroLikelihood means the forward likelihood vanished even without
	// guide-alignment constraints.
	ZeroLikelihood ErrorKind = iota

	// InsufficientMemory means the envelope could not fit the memory
	// budget and strict mode refused the degenerate fallback.
	InsufficientMemory

	// ConfigurationError means an option was out of range.
	ConfigurationError
)

func (k ErrorKind) String() string {
	switch k {
	case ZeroLikelihood:
		return "zero likelihood"
	case InsufficientMemory:
		return "insufficient memory"
	case ConfigurationError:
		return "configuration error"
	}
	return "unknown error"
}

// Error is a fatal reconstruction error for one dataset. Other datasets
// continue when one fails.
type Error struct {
	Kind    ErrorKind
	Dataset string
	Msg     string
}

func (e *Error) Error() string {
	if e.Dataset != "" {
		return fmt.Sprintf("%v (%v): %v", e.Kind, e.Dataset, e.Msg)
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Msg)
}
