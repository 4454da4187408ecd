// Copyright (c) The Thanos Authors.
// Licensed under the Apache 2.0 license found in the LICENSE file or at:
//     https://opensource.org/licenses/Apache-2.0

package util

// Batch is a half-open index range [Start, End) into a slice that is
// processed as one unit.
type Batch struct {
	Start int
	End   int
}

func (b Batch) Len() int {
	return b.End - b.Start
}

// SplitIntoBatches cuts [0, n) into consecutive batches of at most size
// elements. A non-positive size yields a single batch covering everything.
func SplitIntoBatches(n, size int) []Batch {
	if n <= 0 {
		return nil
	}
	if size <= 0 {
		return []Batch{{Start: 0, End: n}}
	}

	batches := make([]Batch, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		batches = append(batches, Batch{Start: start, End: min(start+size, n)})
	}
	return batches
}
