// Copyright (c) The Thanos Authors.
// Licensed under the Apache 2.0 license found in the LICENSE file or at:
//     https://opensource.org/licenses/Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/tierstore/metastat/archive"
	"github.com/tierstore/metastat/metastore"
	"github.com/tierstore/metastat/pkg/version"
	"github.com/tierstore/metastat/stats"
)

var logLevelMap = map[string]slog.Level{
	"DEBUG": slog.LevelDebug,
	"INFO":  slog.LevelInfo,
	"WARN":  slog.LevelWarn,
	"ERROR": slog.LevelError,
}

func main() {
	app := kingpin.New("metastat", "access statistics for tiered storage metadata")
	app.Version(version.Print()) // Use proper version information
	memratio := app.Flag("memlimit.ratio", "gomemlimit ratio").Default("0.9").Float()
	logLevel := app.Flag("logger.level", "log level").Default("INFO").Enum("DEBUG", "INFO", "WARN", "ERROR")
	metricsPrefix := app.Flag("metrics.prefix", "prefix for all metrics").Default("metastat_").String()

	aggregate, aggregateF := registerAggregateApp(app)
	hotFiles, hotFilesF := registerHotFilesApp(app)
	archiveRun, archiveRunF := registerArchiveApp(app)
	archives, archivesF := registerArchivesApp(app)
	restore, restoreF := registerRestoreApp(app)
	dropTables, dropTablesF := registerDropTablesApp(app)
	parsed := kingpin.MustParse(app.Parse(os.Args[1:]))

	// Reports print to stdout, logs go to stderr so the two can be separated.
	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevelMap[*logLevel],
	}))

	memlimit.SetGoMemLimitWithOpts(
		memlimit.WithRatio(*memratio),
		memlimit.WithProvider(
			memlimit.ApplyFallback(
				memlimit.FromCgroup,
				memlimit.FromSystem,
			),
		),
	)

	reg, err := setupPrometheusRegistry(*metricsPrefix)
	if err != nil {
		log.Error("Could not setup prometheus", slog.Any("err", err))
		return
	}

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGTERM, syscall.SIGINT)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		s := <-sigC
		log.Warn("Caught signal, canceling context", slog.String("signal", s.String()))
		cancel()
	}()

	switch parsed {
	case aggregate.FullCommand():
		log.Info("Running aggregate")
		if err := aggregateF(ctx, log, reg); err != nil {
			log.Error("Error aggregating access counts", slog.Any("err", err))
			os.Exit(1)
		}
	case hotFiles.FullCommand():
		log.Info("Running hotfiles")
		if err := hotFilesF(ctx, log, reg); err != nil {
			log.Error("Error ranking hot files", slog.Any("err", err))
			os.Exit(1)
		}
	case archiveRun.FullCommand():
		log.Info("Running archive")
		if err := archiveRunF(ctx, log, reg); err != nil {
			log.Error("Error running archive", slog.Any("err", err))
			os.Exit(1)
		}
	case archives.FullCommand():
		log.Info("Running archives")
		if err := archivesF(ctx, log, reg); err != nil {
			log.Error("Error listing archives", slog.Any("err", err))
			os.Exit(1)
		}
	case restore.FullCommand():
		log.Info("Running restore")
		if err := restoreF(ctx, log, reg); err != nil {
			log.Error("Error restoring shard", slog.Any("err", err))
			os.Exit(1)
		}
	case dropTables.FullCommand():
		log.Info("Running drop-tables")
		if err := dropTablesF(ctx, log, reg); err != nil {
			log.Error("Error dropping tables", slog.Any("err", err))
			os.Exit(1)
		}
	}
	log.Info("Done")
}

func setupPrometheusRegistry(metricsPrefix string) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	registerer := prometheus.WrapRegistererWithPrefix(metricsPrefix, reg)

	if err := errors.Join(
		metastore.RegisterMetrics(prometheus.WrapRegistererWithPrefix("metastore_", registerer)),
		stats.RegisterMetrics(prometheus.WrapRegistererWithPrefix("stats_", registerer)),
		archive.RegisterMetrics(prometheus.WrapRegistererWithPrefix("archive_", registerer)),
	); err != nil {
		return nil, fmt.Errorf("unable to register metrics: %w", err)
	}
	return reg, nil
}
