// Copyright (c) The Thanos Authors.
// Licensed under the Apache 2.0 license found in the LICENSE file or at:
//     https://opensource.org/licenses/Apache-2.0

// Package stats computes file access statistics from time-windowed access
// count shards: aggregation across shards, hot file rankings and derived
// proportion views.
package stats

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tierstore/metastat/internal/tracing"
	"github.com/tierstore/metastat/internal/util"
	"github.com/tierstore/metastat/metastore"
	"github.com/tierstore/metastat/schema"
)

const (
	DefaultTopFiles = 100
	MaxTopFiles     = 1000
)

type Service interface {
	// Aggregate sums access counts per file over every shard whose window
	// lies fully inside [req.Start, req.End).
	Aggregate(ctx context.Context, req AggregateRequest) (map[int64]int64, error)
	// HotFiles ranks files by total access count over an explicit shard set.
	HotFiles(ctx context.Context, req RankRequest) ([]FileAccessInfo, error)
	// CreateProportionView derives a shard for dest.Window as a view scaling
	// the source shard counts by the window duration ratio.
	CreateProportionView(ctx context.Context, dest, source schema.Shard) error
}

// Querier is the slice of the metastore gateway the service needs: scoped
// statement execution plus the dialect of the backing store.
type Querier interface {
	metastore.Querier
	Dialect() metastore.Dialect
}

// PathResolver maps file ids back to their paths. Ids without a row are
// absent from the result.
type PathResolver interface {
	Paths(ctx context.Context, fids []int64) (map[int64]string, error)
}

type serviceImpl struct {
	q        Querier
	registry ShardRegistry
	resolver PathResolver
}

// NewService returns the statistics service backed by the given store.
func NewService(q Querier, registry ShardRegistry, resolver PathResolver) Service {
	return &loggingService{next: &serviceImpl{
		q:        q,
		registry: registry,
		resolver: resolver,
	}}
}

// AggregateRequest selects the aggregation window and an optional filter on
// the per-file totals, e.g. "> 100".
type AggregateRequest struct {
	Start  int64
	End    int64
	Filter string
}

func (r AggregateRequest) Validate() error {
	if r.End < r.Start {
		return validation.NewError("end", "end must not be before start")
	}
	if r.Filter != "" {
		if _, err := ParseCountFilter(r.Filter); err != nil {
			return err
		}
	}
	return nil
}

// RankRequest selects the shard tables to rank over and how many files to
// return. A zero Top falls back to DefaultTopFiles.
type RankRequest struct {
	Tables []string
	Top    int
}

func (r RankRequest) Validate() error {
	if r.Top < 0 {
		return validation.NewError("top", "top must not be negative")
	}
	for _, name := range r.Tables {
		if err := schema.ValidateTableName(name); err != nil {
			return err
		}
	}
	return nil
}

// FileAccessInfo is one ranked file.
type FileAccessInfo struct {
	Fid         int64  `json:"fid"`
	Path        string `json:"path"`
	AccessCount int64  `json:"access_count"`
}

func (s *serviceImpl) Aggregate(ctx context.Context, req AggregateRequest) (map[int64]int64, error) {
	serviceOperations.WithLabelValues(operationAggregate).Inc()

	ctx, span := tracing.Tracer().Start(ctx, "Aggregate Access Counts")
	defer span.End()
	span.SetAttributes(attribute.Int64("window.start", req.Start))
	span.SetAttributes(attribute.Int64("window.end", req.End))

	if err := req.Validate(); err != nil {
		return nil, err
	}

	var filter *CountFilter
	if req.Filter != "" {
		parsed, err := ParseCountFilter(req.Filter)
		if err != nil {
			return nil, err
		}
		filter = &parsed
	}

	shards, err := s.registry.ShardsWithin(ctx, util.Interval{Start: req.Start, End: req.End})
	if err != nil {
		return nil, fmt.Errorf("unable to resolve shards: %w", err)
	}
	span.SetAttributes(attribute.Int("shards", len(shards)))

	totals := make(map[int64]int64)
	if len(shards) == 0 {
		return totals, nil
	}
	unionedShards.Observe(float64(len(shards)))

	query, args, err := buildAggregateQuery(s.q.Dialect(), shards, filter)
	if err != nil {
		return nil, err
	}
	err = s.q.Query(ctx, query, args, func(rows *sql.Rows) error {
		for rows.Next() {
			var fid, total int64
			if err := rows.Scan(&fid, &total); err != nil {
				return fmt.Errorf("unable to scan total: %w", err)
			}
			totals[fid] = total
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to aggregate access counts: %w", err)
	}
	return totals, nil
}

func (s *serviceImpl) HotFiles(ctx context.Context, req RankRequest) ([]FileAccessInfo, error) {
	serviceOperations.WithLabelValues(operationHotFiles).Inc()

	ctx, span := tracing.Tracer().Start(ctx, "Rank Hot Files")
	defer span.End()
	span.SetAttributes(attribute.Int("tables", len(req.Tables)))
	span.SetAttributes(attribute.Int("top", req.Top))

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if len(req.Tables) == 0 {
		return []FileAccessInfo{}, nil
	}

	top := req.Top
	if top == 0 {
		top = DefaultTopFiles
	}
	if top > MaxTopFiles {
		top = MaxTopFiles
	}

	// A table listed twice must not count its accesses twice.
	tables := util.SortUnique(slices.Clone(req.Tables))

	if err := s.checkRegistered(ctx, tables); err != nil {
		return nil, err
	}

	query, args, err := buildRankQuery(s.q.Dialect(), tables, top)
	if err != nil {
		return nil, err
	}

	type rankedFile struct {
		fid   int64
		total int64
	}
	var ranked []rankedFile
	err = s.q.Query(ctx, query, args, func(rows *sql.Rows) error {
		for rows.Next() {
			var rf rankedFile
			if err := rows.Scan(&rf.fid, &rf.total); err != nil {
				return fmt.Errorf("unable to scan total: %w", err)
			}
			ranked = append(ranked, rf)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to rank files: %w", err)
	}
	if len(ranked) == 0 {
		return []FileAccessInfo{}, nil
	}

	fids := make([]int64, 0, len(ranked))
	for _, rf := range ranked {
		fids = append(fids, rf.fid)
	}
	paths, err := s.resolver.Paths(ctx, fids)
	if err != nil {
		return nil, fmt.Errorf("unable to resolve file paths: %w", err)
	}

	// Files deleted since a shard was written have no path anymore and drop
	// out of the ranking.
	res := make([]FileAccessInfo, 0, len(ranked))
	for _, rf := range ranked {
		path, ok := paths[rf.fid]
		if !ok {
			continue
		}
		res = append(res, FileAccessInfo{Fid: rf.fid, Path: path, AccessCount: rf.total})
	}
	return res, nil
}

func (s *serviceImpl) CreateProportionView(ctx context.Context, dest, source schema.Shard) error {
	serviceOperations.WithLabelValues(operationCreateProportionView).Inc()

	ctx, span := tracing.Tracer().Start(ctx, "Create Proportion View")
	defer span.End()
	span.SetAttributes(attribute.String("view.dest", dest.Name))
	span.SetAttributes(attribute.String("view.source", source.Name))

	if !source.Window.Valid() {
		return fmt.Errorf("source shard %s: %w", source.Name, ErrEmptySourceWindow)
	}
	if err := dest.Validate(); err != nil {
		return err
	}
	if err := source.Validate(); err != nil {
		return err
	}
	if err := s.checkRegistered(ctx, []string{source.Name}); err != nil {
		return err
	}

	scale := float64(dest.Window.Duration()) / float64(source.Window.Duration())
	query, err := buildProportionViewQuery(s.q.Dialect(), dest.Name, source.Name, scale)
	if err != nil {
		return err
	}
	if err := s.q.Exec(ctx, query); err != nil {
		return fmt.Errorf("unable to create view %s: %w", dest.Name, err)
	}
	if err := s.registry.Register(ctx, dest); err != nil {
		return fmt.Errorf("unable to register view %s: %w", dest.Name, err)
	}

	proportionViews.Inc()
	return nil
}

func (s *serviceImpl) checkRegistered(ctx context.Context, tables []string) error {
	shards, err := s.registry.Shards(ctx)
	if err != nil {
		return fmt.Errorf("unable to list shards: %w", err)
	}
	known := make(map[string]struct{}, len(shards))
	for _, shard := range shards {
		known[shard.Name] = struct{}{}
	}
	for _, name := range tables {
		if _, ok := known[name]; !ok {
			return fmt.Errorf("table %s: %w", name, ErrUnknownShard)
		}
	}
	return nil
}
