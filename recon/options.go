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

import (
	"fmt"

	"github.com/evoldoers/indelhistorian/envelope"
)

// Default option values.
const (
	DefaultProfileSamples       = 100
	DefaultMinPostProb          = 0.1
	DefaultMaxDistanceFromGuide = 40
	DefaultSeed                 = 5489
)

// Options configures a reconstruction run.
type Options struct {
	// Envelope carries the diagonal-envelope parameters (k-mer length
	// and threshold, band size, memory budget, sparse/strict flags).
	Envelope envelope.Params

	// MaxDistanceFromGuide bands the DP around the guide alignment;
	// negative disables the guide constraint.
	MaxDistanceFromGuide int

	// ProfileSamples is the number of stochastic tracebacks used when
	// UsePosteriorsForProfile is off.
	ProfileSamples int

	// ProfileNodeLimit caps the absorbing states retained per profile;
	// 0 means unlimited.
	ProfileNodeLimit int

	// MinPostProb is the posterior-probability threshold for keeping a
	// state in a posterior-decoded profile.
	MinPostProb float64

	IncludeBestTraceInProfile bool
	KeepGapsOpen              bool
	UsePosteriorsForProfile   bool
	ReconstructRoot           bool

	// Seed fixes the random stream; identical seeds give bit-identical
	// output.
	Seed int64
}

// DefaultOptions returns the default reconstruction options.
func DefaultOptions() Options {
	return Options{
		Envelope:                  envelope.DefaultParams(),
		MaxDistanceFromGuide:      DefaultMaxDistanceFromGuide,
		ProfileSamples:            DefaultProfileSamples,
		ProfileNodeLimit:          0,
		MinPostProb:               DefaultMinPostProb,
		IncludeBestTraceInProfile: true,
		KeepGapsOpen:              false,
		UsePosteriorsForProfile:   true,
		ReconstructRoot:           true,
		Seed:                      DefaultSeed,
	}
}

// Validate checks all option ranges before any computation.
func (o *Options) Validate() error {
	if err := o.Envelope.Validate(); err != nil {
		return &Error{Kind: ConfigurationError, Msg: err.Error()}
	}
	if o.MinPostProb < 0 || o.MinPostProb > 1 {
		return &Error{Kind: ConfigurationError, Msg: fmt.Sprintf("minimum posterior probability %v out of range [0,1]", o.MinPostProb)}
	}
	if !o.UsePosteriorsForProfile && o.ProfileSamples < 1 {
		return &Error{Kind: ConfigurationError, Msg: fmt.Sprintf("profile sample count %v must be positive", o.ProfileSamples)}
	}
	if o.ProfileNodeLimit < 0 {
		return &Error{Kind: ConfigurationError, Msg: fmt.Sprintf("profile node limit %v must be non-negative", o.ProfileNodeLimit)}
	}
	return nil
}
