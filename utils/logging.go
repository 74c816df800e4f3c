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

package utils

import (
	"log"
	"sync/atomic"
)

// Verbosity levels: 1 reports per-dataset progress, 2 per-node progress,
// 5 and up envelope and DP detail, 7 and up full profile dumps.
var verbosity int64 = 1

// SetVerbosity sets the global log verbosity level.
func SetVerbosity(level int) {
	atomic.StoreInt64(&verbosity, int64(level))
}

// LoggingAt tells whether messages at the given level are currently logged.
func LoggingAt(level int) bool {
	return atomic.LoadInt64(&verbosity) >= int64(level)
}

// LogAt logs a message if the current verbosity is at least the given level.
func LogAt(level int, format string, args ...interface{}) {
	if LoggingAt(level) {
		log.Printf(format, args...)
	}
}
