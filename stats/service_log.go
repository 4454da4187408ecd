// Copyright (c) The Thanos Authors.
// Licensed under the Apache 2.0 license found in the LICENSE file or at:
//     https://opensource.org/licenses/Apache-2.0

package stats

import (
	"context"
	"log/slog"
	"time"

	"github.com/tierstore/metastat/internal/log"
	"github.com/tierstore/metastat/schema"
)

type loggingService struct {
	next Service
}

var _ Service = (*loggingService)(nil)

func (s *loggingService) Aggregate(ctx context.Context, req AggregateRequest) (map[int64]int64, error) {
	l := log.Ctx(ctx).With(
		slog.String("method", "Aggregate"),
		slog.Int64("query.start", req.Start),
		slog.Int64("query.end", req.End),
		slog.String("query.filter", req.Filter),
	)
	l.Info("Starting")
	start := time.Now()

	totals, err := s.next.Aggregate(ctx, req)
	if err != nil {
		l.Error("Failed", "err", err)
		return nil, err
	}

	l.Info("Completed",
		slog.Int("files", len(totals)),
		slog.Duration("duration", time.Since(start)),
	)
	return totals, nil
}

func (s *loggingService) HotFiles(ctx context.Context, req RankRequest) ([]FileAccessInfo, error) {
	l := log.Ctx(ctx).With(
		slog.String("method", "HotFiles"),
		slog.Int("query.tables", len(req.Tables)),
		slog.Int("query.top", req.Top),
	)
	l.Info("Starting")
	start := time.Now()

	files, err := s.next.HotFiles(ctx, req)
	if err != nil {
		l.Error("Failed", "err", err)
		return nil, err
	}

	l.Info("Completed",
		slog.Int("files", len(files)),
		slog.Duration("duration", time.Since(start)),
	)
	return files, nil
}

func (s *loggingService) CreateProportionView(ctx context.Context, dest, source schema.Shard) error {
	l := log.Ctx(ctx).With(
		slog.String("method", "CreateProportionView"),
		slog.String("view.dest", dest.Name),
		slog.String("view.source", source.Name),
	)
	l.Info("Starting")
	start := time.Now()

	if err := s.next.CreateProportionView(ctx, dest, source); err != nil {
		l.Error("Failed", "err", err)
		return err
	}

	l.Info("Completed", slog.Duration("duration", time.Since(start)))
	return nil
}
