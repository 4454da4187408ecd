// Copyright (c) The Thanos Authors.
// Licensed under the Apache 2.0 license found in the LICENSE file or at:
//     https://opensource.org/licenses/Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/tierstore/metastat/archive"
	"github.com/tierstore/metastat/internal/slogerrcapture"
	"github.com/tierstore/metastat/stats"
)

type archiveOpts struct {
	db          dbOpts
	bucket      bucketOpts
	tracing     tracingOpts
	internalAPI apiOpts

	runInterval time.Duration
	runTimeout  time.Duration
	retention   time.Duration
	concurrency int
}

func (opts *archiveOpts) registerFlags(cmd *kingpin.CmdClause) {
	opts.db.registerFlags(cmd)
	opts.bucket.registerFlags(cmd)
	opts.tracing.registerFlags(cmd)
	opts.internalAPI.registerFlags(cmd)
	cmd.Flag("archive.run-interval", "interval to archive retired shards on").Default("1h").DurationVar(&opts.runInterval)
	cmd.Flag("archive.run-timeout", "timeout for a single archive cycle").Default("30m").DurationVar(&opts.runTimeout)
	cmd.Flag("archive.retention", "shards whose window ended longer ago than this are archived").Default("720h").DurationVar(&opts.retention)
	cmd.Flag("archive.export.concurrency", "concurrency for exporting shards").Default("4").IntVar(&opts.concurrency)
}

func (opts *bucketOpts) registerFlags(cmd *kingpin.CmdClause) {
	cmd.Flag("archive.objstore-config-file", "YAML file that contains object store configuration for shard archives. See format details: https://thanos.io/tip/thanos/storage.md/#configuration").StringVar(&opts.objStoreConfigFile)
	cmd.Flag("archive.objstore-config", "Alternative to 'archive.objstore-config-file'. YAML content for shard archive storage configuration.").StringVar(&opts.objStoreConfig)
}

func registerArchiveApp(app *kingpin.Application) (*kingpin.CmdClause, func(context.Context, *slog.Logger, *prometheus.Registry) error) {
	cmd := app.Command("archive", "periodically export retired access count shards to object storage")

	var opts archiveOpts
	opts.registerFlags(cmd)

	return cmd, func(ctx context.Context, logger *slog.Logger, reg *prometheus.Registry) error {
		var g run.Group

		setupInterrupt(ctx, &g, logger)
		setupInternalAPI(&g, logger, reg, opts.internalAPI)

		if err := setupTracing(ctx, opts.tracing); err != nil {
			return fmt.Errorf("unable to setup tracing: %w", err)
		}

		bkt, err := setupBucket(logger, opts.bucket)
		if err != nil {
			return fmt.Errorf("unable to setup bucket: %w", err)
		}

		gw, closeDB, err := setupDB(ctx, logger, opts.db)
		if err != nil {
			return fmt.Errorf("unable to setup database: %w", err)
		}
		defer slogerrcapture.Do(logger, closeDB, "close database")

		exporter := archive.NewExporter(bkt, gw, stats.NewSQLShardRegistry(gw),
			archive.ExportConcurrency(opts.concurrency),
		)

		loopCtx, cancel := context.WithCancel(context.Background())
		g.Add(func() error {
			logger.Info("Starting archive loop",
				slog.Duration("interval", opts.runInterval),
				slog.Duration("retention", opts.retention),
			)

			ticker := time.NewTicker(opts.runInterval)
			defer ticker.Stop()

			for {
				iterCtx, iterCancel := context.WithTimeout(loopCtx, opts.runTimeout)
				iterCtx = requestContext(iterCtx, logger)

				before := time.Now().Add(-opts.retention).UnixMilli()
				logger.Debug("Archiving retired shards", slog.Int64("before", before))

				objects, err := exporter.ExportRetired(iterCtx, before)
				iterCancel()
				if err != nil {
					logger.Warn("Unable to archive retired shards", slog.Any("err", err))
				} else if len(objects) > 0 {
					logger.Info("Archived retired shards", slog.Int("count", len(objects)))
				}

				select {
				case <-loopCtx.Done():
					return nil
				case <-ticker.C:
				}
			}
		}, func(error) {
			logger.Info("Stopping archive loop")
			cancel()
		})

		return g.Run()
	}
}

type restoreOpts struct {
	db     dbOpts
	bucket bucketOpts

	object string
}

func (opts *restoreOpts) registerFlags(cmd *kingpin.CmdClause) {
	opts.db.registerFlags(cmd)
	opts.bucket.registerFlags(cmd)
	cmd.Flag("archive.object", "name of the archive object to restore, eg. '01ARZ3NDEKTSV4RRFFQ69G5FAV/acc_0_100.parquet'").Required().StringVar(&opts.object)
}

func registerRestoreApp(app *kingpin.Application) (*kingpin.CmdClause, func(context.Context, *slog.Logger, *prometheus.Registry) error) {
	cmd := app.Command("restore", "restore an archived access count shard from object storage")

	var opts restoreOpts
	opts.registerFlags(cmd)

	return cmd, func(ctx context.Context, logger *slog.Logger, _ *prometheus.Registry) error {
		ctx = requestContext(ctx, logger)

		bkt, err := setupBucket(logger, opts.bucket)
		if err != nil {
			return fmt.Errorf("unable to setup bucket: %w", err)
		}

		gw, closeDB, err := setupDB(ctx, logger, opts.db)
		if err != nil {
			return fmt.Errorf("unable to setup database: %w", err)
		}
		defer slogerrcapture.Do(logger, closeDB, "close database")

		restorer := archive.NewRestorer(bkt, gw, stats.NewSQLShardRegistry(gw))

		shard, err := restorer.Restore(ctx, opts.object)
		if err != nil {
			return err
		}
		logger.Info("Restored shard",
			slog.String("table", shard.Name),
			slog.Int64("start", shard.Window.Start),
			slog.Int64("end", shard.Window.End),
		)
		return nil
	}
}

type archivesOpts struct {
	bucket bucketOpts

	concurrency int
	output      string
}

func (opts *archivesOpts) registerFlags(cmd *kingpin.CmdClause) {
	opts.bucket.registerFlags(cmd)
	cmd.Flag("archive.discover.concurrency", "concurrency for reading archive manifests").Default("4").IntVar(&opts.concurrency)
	cmd.Flag("output", "report format").Default(outputJSON).EnumVar(&opts.output, outputJSON, outputText)
}

func registerArchivesApp(app *kingpin.Application) (*kingpin.CmdClause, func(context.Context, *slog.Logger, *prometheus.Registry) error) {
	cmd := app.Command("archives", "list archived access count shards in object storage")

	var opts archivesOpts
	opts.registerFlags(cmd)

	return cmd, func(ctx context.Context, logger *slog.Logger, _ *prometheus.Registry) error {
		ctx = requestContext(ctx, logger)

		bkt, err := setupBucket(logger, opts.bucket)
		if err != nil {
			return fmt.Errorf("unable to setup bucket: %w", err)
		}

		archives, err := archive.NewDiscoverer(bkt, archive.DiscoverConcurrency(opts.concurrency)).Discover(ctx)
		if err != nil {
			return err
		}

		if opts.output == outputText {
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "OBJECT\tSTART\tEND\tROWS\tBYTES")
			for _, a := range archives {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", a.Object, a.Manifest.StartTime, a.Manifest.EndTime, a.Manifest.Rows, a.Manifest.SizeBytes)
			}
			return tw.Flush()
		}
		return writeJSONReport(archives)
	}
}
