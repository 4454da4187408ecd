// Copyright (c) The Thanos Authors.
// Licensed under the Apache 2.0 license found in the LICENSE file or at:
//     https://opensource.org/licenses/Apache-2.0

package stats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tierstore/metastat/internal/util"
	"github.com/tierstore/metastat/metastore"
	"github.com/tierstore/metastat/schema"
)

// ShardRegistry tracks which access count shards exist and the window each
// one covers.
type ShardRegistry interface {
	// Shards returns every registered shard ordered by window start.
	Shards(ctx context.Context) ([]schema.Shard, error)
	// ShardsWithin returns the shards whose window lies fully inside the
	// given one.
	ShardsWithin(ctx context.Context, window util.Interval) ([]schema.Shard, error)
	// Register records a shard. The shard table itself must already exist.
	Register(ctx context.Context, shard schema.Shard) error
	// Drop removes the shard relation and its registry row.
	Drop(ctx context.Context, name string) error
}

// SQLShardRegistry keeps the registry in a table next to the shards
// themselves, one row per shard.
type SQLShardRegistry struct {
	q metastore.Querier
}

var _ ShardRegistry = (*SQLShardRegistry)(nil)

func NewSQLShardRegistry(q metastore.Querier) *SQLShardRegistry {
	return &SQLShardRegistry{q: q}
}

func (r *SQLShardRegistry) Shards(ctx context.Context) ([]schema.Shard, error) {
	query := fmt.Sprintf(
		"SELECT table_name, start_time, end_time FROM %s ORDER BY start_time, end_time",
		schema.RegistryTable,
	)
	return r.scanShards(ctx, query)
}

// ShardsWithin selects on full containment. Shards merely overlapping a
// window boundary stay out, their counts would leak accesses from outside
// the window.
func (r *SQLShardRegistry) ShardsWithin(ctx context.Context, window util.Interval) ([]schema.Shard, error) {
	query := fmt.Sprintf(
		"SELECT table_name, start_time, end_time FROM %s WHERE start_time >= ? AND end_time <= ? ORDER BY start_time, end_time",
		schema.RegistryTable,
	)
	return r.scanShards(ctx, query, window.Start, window.End)
}

func (r *SQLShardRegistry) scanShards(ctx context.Context, query string, args ...any) ([]schema.Shard, error) {
	var shards []schema.Shard
	err := r.q.Query(ctx, query, args, func(rows *sql.Rows) error {
		for rows.Next() {
			var (
				name       string
				start, end int64
			)
			if err := rows.Scan(&name, &start, &end); err != nil {
				return fmt.Errorf("unable to scan %s row: %w", schema.RegistryTable, err)
			}
			shard := schema.Shard{Name: name, Window: util.Interval{Start: start, End: end}}
			if err := shard.Validate(); err != nil {
				return fmt.Errorf("%w: %s", ErrInvalidRegistryRow, err)
			}
			shards = append(shards, shard)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to list shards: %w", err)
	}
	return shards, nil
}

func (r *SQLShardRegistry) Register(ctx context.Context, shard schema.Shard) error {
	if err := shard.Validate(); err != nil {
		return err
	}
	query := fmt.Sprintf("INSERT INTO %s (table_name, start_time, end_time) VALUES (?, ?, ?)", schema.RegistryTable)
	if err := r.q.Exec(ctx, query, shard.Name, shard.Window.Start, shard.Window.End); err != nil {
		return fmt.Errorf("unable to register shard %s: %w", shard.Name, err)
	}
	return nil
}

// Drop removes a shard and deregisters it. Shards are usually plain tables,
// but proportion views land in the registry too and need DROP VIEW, so a
// failed table drop falls back to dropping a view of that name.
func (r *SQLShardRegistry) Drop(ctx context.Context, name string) error {
	if err := schema.ValidateTableName(name); err != nil {
		return err
	}
	if err := r.q.Exec(ctx, "DROP TABLE IF EXISTS "+name); err != nil {
		if verr := r.q.Exec(ctx, "DROP VIEW IF EXISTS "+name); verr != nil {
			return fmt.Errorf("unable to drop shard %s: %w", name, errors.Join(err, verr))
		}
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE table_name = ?", schema.RegistryTable)
	if _, err := r.q.Update(ctx, query, name); err != nil {
		return fmt.Errorf("unable to deregister shard %s: %w", name, err)
	}
	return nil
}
