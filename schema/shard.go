// Copyright (c) The Thanos Authors.
// Licensed under the Apache 2.0 license found in the LICENSE file or at:
//     https://opensource.org/licenses/Apache-2.0

// Package schema defines the naming and layout of access-count shards,
// the reference dimension tables and archived shard objects.
package schema

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tierstore/metastat/internal/util"
)

const (
	// ShardPrefix starts the table name of every access-count shard.
	ShardPrefix = "acc_"

	// RegistryTable records one row per shard: (table_name, start_time, end_time).
	RegistryTable = "access_count_tables"

	FilesTable         = "files"
	CachedFilesTable   = "cached_files"
	OwnersTable        = "owners"
	GroupsTable        = "groups"
	StoragePolicyTable = "storage_policy"
	StoragesTable      = "storages"

	FidColumn   = "fid"
	CountColumn = "count"
)

// Shard is one access-count table holding (fid, count) rows for a fixed
// half-open time window. The table name encodes the window.
type Shard struct {
	Name   string
	Window util.Interval
}

// NewShard returns the shard for the given window.
func NewShard(window util.Interval) Shard {
	return Shard{Name: ShardName(window), Window: window}
}

// ShardName formats the table name for a window, e.g. "acc_0_100".
func ShardName(window util.Interval) string {
	return fmt.Sprintf("%s%d_%d", ShardPrefix, window.Start, window.End)
}

// ParseShardName parses a shard table name back into its window.
func ParseShardName(name string) (Shard, error) {
	rest, ok := strings.CutPrefix(name, ShardPrefix)
	if !ok {
		return Shard{}, fmt.Errorf("shard name %q does not start with %q", name, ShardPrefix)
	}
	startPart, endPart, ok := strings.Cut(rest, "_")
	if !ok {
		return Shard{}, fmt.Errorf("shard name %q has no window separator", name)
	}
	start, err := parseMillis(startPart)
	if err != nil {
		return Shard{}, fmt.Errorf("shard name %q has invalid window start: %w", name, err)
	}
	end, err := parseMillis(endPart)
	if err != nil {
		return Shard{}, fmt.Errorf("shard name %q has invalid window end: %w", name, err)
	}

	s := Shard{Name: name, Window: util.Interval{Start: start, End: end}}
	if !s.Window.Valid() {
		return Shard{}, fmt.Errorf("shard name %q has an empty window", name)
	}
	return s, nil
}

func parseMillis(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty timestamp")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("timestamp %q is not a decimal number", s)
		}
	}
	return strconv.ParseInt(s, 10, 64)
}

// Validate checks that the shard name encodes exactly the shard window.
func (s Shard) Validate() error {
	parsed, err := ParseShardName(s.Name)
	if err != nil {
		return err
	}
	if parsed.Window != s.Window {
		return fmt.Errorf("shard name %q does not match window [%d, %d)", s.Name, s.Window.Start, s.Window.End)
	}
	return nil
}

// ValidateTableName checks that name is a well-formed shard table name.
// Every shard identifier is validated through this before it may appear in a
// synthesized statement; values never pass this path, they are always bound
// as parameters.
func ValidateTableName(name string) error {
	_, err := ParseShardName(name)
	return err
}
