// Copyright (c) The Thanos Authors.
// Licensed under the Apache 2.0 license found in the LICENSE file or at:
//     https://opensource.org/licenses/Apache-2.0

package util

// Interval is a half-open time window [Start, End) in unix milliseconds.
type Interval struct {
	Start int64
	End   int64
}

// Valid returns if the interval has positive duration.
func (iv Interval) Valid() bool {
	return iv.Start < iv.End
}

// Duration returns the length of the interval in milliseconds.
func (iv Interval) Duration() int64 {
	return iv.End - iv.Start
}

// Contains returns if iv fully contains other.
func (iv Interval) Contains(other Interval) bool {
	return iv.Start <= other.Start && iv.End >= other.End
}

// Overlaps returns if iv and other share any instant.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start < other.End && other.Start < iv.End
}
