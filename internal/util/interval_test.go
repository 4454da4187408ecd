// Copyright (c) The Thanos Authors.
// Licensed under the Apache 2.0 license found in the LICENSE file or at:
//     https://opensource.org/licenses/Apache-2.0

package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIntervalContains(t *testing.T) {
	tests := []struct {
		name     string
		outer    Interval
		inner    Interval
		expected bool
	}{
		{
			name:     "identical windows",
			outer:    Interval{Start: 0, End: 100},
			inner:    Interval{Start: 0, End: 100},
			expected: true,
		},
		{
			name:     "strictly inside",
			outer:    Interval{Start: 0, End: 200},
			inner:    Interval{Start: 50, End: 150},
			expected: true,
		},
		{
			name:     "overlapping left edge",
			outer:    Interval{Start: 50, End: 200},
			inner:    Interval{Start: 0, End: 100},
			expected: false,
		},
		{
			name:     "overlapping right edge",
			outer:    Interval{Start: 0, End: 150},
			inner:    Interval{Start: 100, End: 200},
			expected: false,
		},
		{
			name:     "disjoint",
			outer:    Interval{Start: 0, End: 100},
			inner:    Interval{Start: 100, End: 200},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, tt.outer.Contains(tt.inner))
		})
	}
}

func TestIntervalOverlaps(t *testing.T) {
	tests := []struct {
		name     string
		a        Interval
		b        Interval
		expected bool
	}{
		{
			name:     "partial overlap",
			a:        Interval{Start: 0, End: 100},
			b:        Interval{Start: 50, End: 150},
			expected: true,
		},
		{
			name:     "touching half-open edges",
			a:        Interval{Start: 0, End: 100},
			b:        Interval{Start: 100, End: 200},
			expected: false,
		},
		{
			name:     "disjoint",
			a:        Interval{Start: 0, End: 100},
			b:        Interval{Start: 200, End: 300},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, tt.a.Overlaps(tt.b))
			require.Equal(t, tt.expected, tt.b.Overlaps(tt.a))
		})
	}
}

func TestIntervalDuration(t *testing.T) {
	require.Equal(t, int64(100), Interval{Start: 0, End: 100}.Duration())
	require.True(t, Interval{Start: 0, End: 1}.Valid())
	require.False(t, Interval{Start: 0, End: 0}.Valid())
	require.False(t, Interval{Start: 10, End: 0}.Valid())
}

func TestSplitIntoBatches(t *testing.T) {
	tests := []struct {
		name     string
		n        int
		size     int
		expected []Batch
	}{
		{
			name:     "empty input",
			n:        0,
			size:     10,
			expected: nil,
		},
		{
			name:     "single short batch",
			n:        3,
			size:     10,
			expected: []Batch{{Start: 0, End: 3}},
		},
		{
			name:     "exact multiple",
			n:        10,
			size:     5,
			expected: []Batch{{Start: 0, End: 5}, {Start: 5, End: 10}},
		},
		{
			name:     "trailing remainder",
			n:        11,
			size:     5,
			expected: []Batch{{Start: 0, End: 5}, {Start: 5, End: 10}, {Start: 10, End: 11}},
		},
		{
			name:     "unbounded size",
			n:        7,
			size:     0,
			expected: []Batch{{Start: 0, End: 7}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, SplitIntoBatches(tt.n, tt.size))
		})
	}
}
