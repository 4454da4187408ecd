// Copyright (c) The Thanos Authors.
// Licensed under the Apache 2.0 license found in the LICENSE file or at:
//     https://opensource.org/licenses/Apache-2.0

package stats

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/tierstore/metastat/internal/util"
	"github.com/tierstore/metastat/metastore"
	"github.com/tierstore/metastat/schema"
)

// newStatsDB opens an in-memory database holding the shard registry.
func newStatsDB(t *testing.T) *metastore.Gateway {
	t.Helper()

	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	gw := metastore.NewGateway(db, metastore.DialectDuckDB)
	require.NoError(t, gw.Exec(t.Context(), fmt.Sprintf(
		"CREATE TABLE %s (table_name VARCHAR, start_time BIGINT, end_time BIGINT)", schema.RegistryTable,
	)))
	return gw
}

// createShard creates and registers one access count shard.
func createShard(t *testing.T, gw *metastore.Gateway, registry ShardRegistry, window util.Interval, counts map[int64]int64) schema.Shard {
	t.Helper()

	shard := schema.NewShard(window)
	require.NoError(t, gw.Exec(t.Context(), fmt.Sprintf("CREATE TABLE %s (fid BIGINT, count BIGINT)", shard.Name)))
	for fid, count := range counts {
		require.NoError(t, gw.Exec(t.Context(), fmt.Sprintf("INSERT INTO %s VALUES (?, ?)", shard.Name), fid, count))
	}
	require.NoError(t, registry.Register(t.Context(), shard))
	return shard
}

// mapResolver is a test double for PathResolver.
type mapResolver map[int64]string

func (m mapResolver) Paths(_ context.Context, fids []int64) (map[int64]string, error) {
	res := make(map[int64]string, len(fids))
	for _, fid := range fids {
		if path, ok := m[fid]; ok {
			res[fid] = path
		}
	}
	return res, nil
}

// countingQuerier counts the statements passing through it.
type countingQuerier struct {
	Querier
	queries int
}

func (c *countingQuerier) Query(ctx context.Context, query string, args []any, fn func(*sql.Rows) error) error {
	c.queries++
	return c.Querier.Query(ctx, query, args, fn)
}

func TestAggregate(t *testing.T) {
	t.Run("sums counts across contained shards", func(t *testing.T) {
		gw := newStatsDB(t)
		registry := NewSQLShardRegistry(gw)
		createShard(t, gw, registry, util.Interval{Start: 0, End: 100}, map[int64]int64{1: 5, 2: 3})
		createShard(t, gw, registry, util.Interval{Start: 100, End: 200}, map[int64]int64{1: 2})

		svc := NewService(gw, registry, mapResolver{})
		got, err := svc.Aggregate(t.Context(), AggregateRequest{Start: 0, End: 200})
		require.NoError(t, err)
		require.Equal(t, map[int64]int64{1: 7, 2: 3}, got)
	})

	t.Run("excludes shards overlapping the window boundary", func(t *testing.T) {
		gw := newStatsDB(t)
		registry := NewSQLShardRegistry(gw)
		createShard(t, gw, registry, util.Interval{Start: 0, End: 100}, map[int64]int64{1: 5, 2: 3})
		createShard(t, gw, registry, util.Interval{Start: 150, End: 250}, map[int64]int64{1: 100})

		svc := NewService(gw, registry, mapResolver{})
		got, err := svc.Aggregate(t.Context(), AggregateRequest{Start: 0, End: 200})
		require.NoError(t, err)
		require.Equal(t, map[int64]int64{1: 5, 2: 3}, got)
	})

	t.Run("identical rows are not deduplicated", func(t *testing.T) {
		gw := newStatsDB(t)
		registry := NewSQLShardRegistry(gw)
		first := createShard(t, gw, registry, util.Interval{Start: 0, End: 100}, nil)
		second := createShard(t, gw, registry, util.Interval{Start: 100, End: 200}, map[int64]int64{9: 4})

		require.NoError(t, gw.Exec(t.Context(), fmt.Sprintf("INSERT INTO %s VALUES (9, 4)", first.Name)))
		require.NoError(t, gw.Exec(t.Context(), fmt.Sprintf("INSERT INTO %s VALUES (9, 4)", second.Name)))

		svc := NewService(gw, registry, mapResolver{})
		got, err := svc.Aggregate(t.Context(), AggregateRequest{Start: 0, End: 200})
		require.NoError(t, err)
		require.Equal(t, map[int64]int64{9: 12}, got)
	})

	t.Run("filter restricts totals", func(t *testing.T) {
		gw := newStatsDB(t)
		registry := NewSQLShardRegistry(gw)
		createShard(t, gw, registry, util.Interval{Start: 0, End: 100}, map[int64]int64{1: 5, 2: 3})
		createShard(t, gw, registry, util.Interval{Start: 100, End: 200}, map[int64]int64{1: 2})

		svc := NewService(gw, registry, mapResolver{})
		got, err := svc.Aggregate(t.Context(), AggregateRequest{Start: 0, End: 200, Filter: "> 5"})
		require.NoError(t, err)
		require.Equal(t, map[int64]int64{1: 7}, got)
	})

	t.Run("window without shards aggregates nothing", func(t *testing.T) {
		gw := newStatsDB(t)
		registry := NewSQLShardRegistry(gw)
		createShard(t, gw, registry, util.Interval{Start: 0, End: 100}, map[int64]int64{1: 5})

		counting := &countingQuerier{Querier: gw}
		svc := NewService(counting, registry, mapResolver{})
		got, err := svc.Aggregate(t.Context(), AggregateRequest{Start: 1000, End: 2000})
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Empty(t, got)
		require.Equal(t, 0, counting.queries)
	})

	t.Run("malformed filter is rejected", func(t *testing.T) {
		gw := newStatsDB(t)
		svc := NewService(gw, NewSQLShardRegistry(gw), mapResolver{})

		_, err := svc.Aggregate(t.Context(), AggregateRequest{Start: 0, End: 100, Filter: "~ 5"})
		require.ErrorIs(t, err, ErrMalformedCountFilter)
	})

	t.Run("inverted window is rejected", func(t *testing.T) {
		gw := newStatsDB(t)
		svc := NewService(gw, NewSQLShardRegistry(gw), mapResolver{})

		_, err := svc.Aggregate(t.Context(), AggregateRequest{Start: 100, End: 0})
		require.Error(t, err)
	})
}

func TestHotFiles(t *testing.T) {
	setup := func(t *testing.T) (*metastore.Gateway, ShardRegistry, []string) {
		gw := newStatsDB(t)
		registry := NewSQLShardRegistry(gw)
		a := createShard(t, gw, registry, util.Interval{Start: 0, End: 100}, map[int64]int64{1: 5, 2: 3})
		b := createShard(t, gw, registry, util.Interval{Start: 100, End: 200}, map[int64]int64{1: 2})
		return gw, registry, []string{a.Name, b.Name}
	}

	t.Run("ranks files by total access count", func(t *testing.T) {
		gw, registry, tables := setup(t)
		svc := NewService(gw, registry, mapResolver{1: "/warm/a", 2: "/warm/b"})

		got, err := svc.HotFiles(t.Context(), RankRequest{Tables: tables})
		require.NoError(t, err)
		require.Equal(t, []FileAccessInfo{
			{Fid: 1, Path: "/warm/a", AccessCount: 7},
			{Fid: 2, Path: "/warm/b", AccessCount: 3},
		}, got)
	})

	t.Run("top limits the ranking", func(t *testing.T) {
		gw, registry, tables := setup(t)
		svc := NewService(gw, registry, mapResolver{1: "/warm/a", 2: "/warm/b"})

		got, err := svc.HotFiles(t.Context(), RankRequest{Tables: tables, Top: 1})
		require.NoError(t, err)
		require.Equal(t, []FileAccessInfo{{Fid: 1, Path: "/warm/a", AccessCount: 7}}, got)
	})

	t.Run("ties break on fid", func(t *testing.T) {
		gw := newStatsDB(t)
		registry := NewSQLShardRegistry(gw)
		shard := createShard(t, gw, registry, util.Interval{Start: 0, End: 100}, map[int64]int64{5: 4, 3: 4})

		svc := NewService(gw, registry, mapResolver{3: "/warm/c", 5: "/warm/e"})
		got, err := svc.HotFiles(t.Context(), RankRequest{Tables: []string{shard.Name}})
		require.NoError(t, err)
		require.Equal(t, []FileAccessInfo{
			{Fid: 3, Path: "/warm/c", AccessCount: 4},
			{Fid: 5, Path: "/warm/e", AccessCount: 4},
		}, got)
	})

	t.Run("files without a path drop out", func(t *testing.T) {
		gw, registry, tables := setup(t)
		svc := NewService(gw, registry, mapResolver{2: "/warm/b"})

		got, err := svc.HotFiles(t.Context(), RankRequest{Tables: tables})
		require.NoError(t, err)
		require.Equal(t, []FileAccessInfo{{Fid: 2, Path: "/warm/b", AccessCount: 3}}, got)
	})

	t.Run("duplicate tables count once", func(t *testing.T) {
		gw, registry, tables := setup(t)
		svc := NewService(gw, registry, mapResolver{1: "/warm/a", 2: "/warm/b"})

		doubled := append(slices.Clone(tables), tables...)
		got, err := svc.HotFiles(t.Context(), RankRequest{Tables: doubled})
		require.NoError(t, err)
		require.Equal(t, []FileAccessInfo{
			{Fid: 1, Path: "/warm/a", AccessCount: 7},
			{Fid: 2, Path: "/warm/b", AccessCount: 3},
		}, got)
	})

	t.Run("unregistered tables are rejected", func(t *testing.T) {
		gw, registry, _ := setup(t)
		svc := NewService(gw, registry, mapResolver{})

		_, err := svc.HotFiles(t.Context(), RankRequest{Tables: []string{"acc_700_800"}})
		require.ErrorIs(t, err, ErrUnknownShard)
	})

	t.Run("no tables no ranking", func(t *testing.T) {
		gw, registry, _ := setup(t)
		counting := &countingQuerier{Querier: gw}
		svc := NewService(counting, registry, mapResolver{})

		got, err := svc.HotFiles(t.Context(), RankRequest{})
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Empty(t, got)
		require.Equal(t, 0, counting.queries)
	})

	t.Run("negative top is rejected", func(t *testing.T) {
		gw, registry, tables := setup(t)
		svc := NewService(gw, registry, mapResolver{})

		_, err := svc.HotFiles(t.Context(), RankRequest{Tables: tables, Top: -1})
		require.Error(t, err)
	})
}

func TestCreateProportionView(t *testing.T) {
	t.Run("derives scaled counts for the shorter window", func(t *testing.T) {
		gw := newStatsDB(t)
		registry := NewSQLShardRegistry(gw)
		source := createShard(t, gw, registry, util.Interval{Start: 0, End: 100}, map[int64]int64{1: 5, 2: 3})
		dest := schema.NewShard(util.Interval{Start: 100, End: 150})

		svc := NewService(gw, registry, mapResolver{})
		require.NoError(t, svc.CreateProportionView(t.Context(), dest, source))

		shards, err := registry.Shards(t.Context())
		require.NoError(t, err)
		require.Equal(t, []string{source.Name, dest.Name}, shardNames(shards))

		// Scaled counts floor: 5 * 0.5 -> 2, 3 * 0.5 -> 1.
		got, err := svc.Aggregate(t.Context(), AggregateRequest{Start: 100, End: 150})
		require.NoError(t, err)
		require.Equal(t, map[int64]int64{1: 2, 2: 1}, got)
	})

	t.Run("rejects an empty source window", func(t *testing.T) {
		gw := newStatsDB(t)
		svc := NewService(gw, NewSQLShardRegistry(gw), mapResolver{})

		err := svc.CreateProportionView(t.Context(),
			schema.NewShard(util.Interval{Start: 0, End: 50}),
			schema.Shard{Name: "acc_5_5", Window: util.Interval{Start: 5, End: 5}},
		)
		require.ErrorIs(t, err, ErrEmptySourceWindow)
	})

	t.Run("rejects an unregistered source", func(t *testing.T) {
		gw := newStatsDB(t)
		svc := NewService(gw, NewSQLShardRegistry(gw), mapResolver{})

		err := svc.CreateProportionView(t.Context(),
			schema.NewShard(util.Interval{Start: 100, End: 150}),
			schema.NewShard(util.Interval{Start: 0, End: 100}),
		)
		require.ErrorIs(t, err, ErrUnknownShard)
	})

	t.Run("rejects a dest not matching its window", func(t *testing.T) {
		gw := newStatsDB(t)
		registry := NewSQLShardRegistry(gw)
		source := createShard(t, gw, registry, util.Interval{Start: 0, End: 100}, nil)

		svc := NewService(gw, registry, mapResolver{})
		err := svc.CreateProportionView(t.Context(),
			schema.Shard{Name: "acc_100_150", Window: util.Interval{Start: 100, End: 160}},
			source,
		)
		require.Error(t, err)
	})
}
