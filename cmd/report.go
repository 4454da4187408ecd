// Copyright (c) The Thanos Authors.
// Licensed under the Apache 2.0 license found in the LICENSE file or at:
//     https://opensource.org/licenses/Apache-2.0

package main

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"text/tabwriter"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/tierstore/metastat/internal/slogerrcapture"
	"github.com/tierstore/metastat/metastore"
	"github.com/tierstore/metastat/stats"
)

const (
	outputJSON = "json"
	outputText = "text"
)

type aggregateOpts struct {
	db dbOpts

	start  int64
	end    int64
	filter string
	output string
}

func (opts *aggregateOpts) registerFlags(cmd *kingpin.CmdClause) {
	opts.db.registerFlags(cmd)
	cmd.Flag("query.start", "window start in unix milliseconds, inclusive").Required().Int64Var(&opts.start)
	cmd.Flag("query.end", "window end in unix milliseconds, inclusive").Required().Int64Var(&opts.end)
	cmd.Flag("query.filter", "aggregate count filter, eg. '> 10'").StringVar(&opts.filter)
	cmd.Flag("output", "report format").Default(outputJSON).EnumVar(&opts.output, outputJSON, outputText)
}

type aggregateRow struct {
	Fid   int64 `json:"fid"`
	Count int64 `json:"count"`
}

func registerAggregateApp(app *kingpin.Application) (*kingpin.CmdClause, func(context.Context, *slog.Logger, *prometheus.Registry) error) {
	cmd := app.Command("aggregate", "aggregate access counts over a time window")

	var opts aggregateOpts
	opts.registerFlags(cmd)

	return cmd, func(ctx context.Context, logger *slog.Logger, _ *prometheus.Registry) error {
		ctx = requestContext(ctx, logger)

		gw, closeDB, err := setupDB(ctx, logger, opts.db)
		if err != nil {
			return fmt.Errorf("unable to setup database: %w", err)
		}
		defer slogerrcapture.Do(logger, closeDB, "close database")

		store := metastore.NewStore(gw)
		svc := stats.NewService(gw, stats.NewSQLShardRegistry(gw), store)

		counts, err := svc.Aggregate(ctx, stats.AggregateRequest{
			Start:  opts.start,
			End:    opts.end,
			Filter: opts.filter,
		})
		if err != nil {
			return err
		}

		rows := make([]aggregateRow, 0, len(counts))
		for fid, count := range counts {
			rows = append(rows, aggregateRow{Fid: fid, Count: count})
		}
		slices.SortFunc(rows, func(a, b aggregateRow) int {
			return cmp.Compare(a.Fid, b.Fid)
		})

		if opts.output == outputText {
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "FID\tCOUNT")
			for _, row := range rows {
				fmt.Fprintf(tw, "%d\t%d\n", row.Fid, row.Count)
			}
			return tw.Flush()
		}
		return writeJSONReport(rows)
	}
}

type hotFilesOpts struct {
	db dbOpts

	tables shardNameSlice
	top    int
	output string
}

func (opts *hotFilesOpts) registerFlags(cmd *kingpin.CmdClause) {
	opts.db.registerFlags(cmd)
	ShardNamesVar(cmd.Flag("rank.table", "access count shard to rank over, repeatable").PlaceHolder("TABLE"), &opts.tables)
	cmd.Flag("rank.top", "number of files to report").Default("100").IntVar(&opts.top)
	cmd.Flag("output", "report format").Default(outputJSON).EnumVar(&opts.output, outputJSON, outputText)
}

func registerHotFilesApp(app *kingpin.Application) (*kingpin.CmdClause, func(context.Context, *slog.Logger, *prometheus.Registry) error) {
	cmd := app.Command("hotfiles", "rank the most accessed files across shards")

	var opts hotFilesOpts
	opts.registerFlags(cmd)

	return cmd, func(ctx context.Context, logger *slog.Logger, _ *prometheus.Registry) error {
		ctx = requestContext(ctx, logger)

		gw, closeDB, err := setupDB(ctx, logger, opts.db)
		if err != nil {
			return fmt.Errorf("unable to setup database: %w", err)
		}
		defer slogerrcapture.Do(logger, closeDB, "close database")

		store := metastore.NewStore(gw)
		svc := stats.NewService(gw, stats.NewSQLShardRegistry(gw), store)

		files, err := svc.HotFiles(ctx, stats.RankRequest{
			Tables: opts.tables,
			Top:    opts.top,
		})
		if err != nil {
			return err
		}

		if opts.output == outputText {
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "FID\tPATH\tACCESSES")
			for _, f := range files {
				fmt.Fprintf(tw, "%d\t%s\t%d\n", f.Fid, f.Path, f.AccessCount)
			}
			return tw.Flush()
		}
		return writeJSONReport(files)
	}
}

func writeJSONReport(v any) error {
	enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
