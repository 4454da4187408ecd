// Copyright (c) The Thanos Authors.
// Licensed under the Apache 2.0 license found in the LICENSE file or at:
//     https://opensource.org/licenses/Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/tierstore/metastat/internal/slogerrcapture"
	"github.com/tierstore/metastat/metastore"
)

type dropTablesOpts struct {
	db dbOpts

	force bool
}

func (opts *dropTablesOpts) registerFlags(cmd *kingpin.CmdClause) {
	opts.db.registerFlags(cmd)
	cmd.Flag("force", "actually drop all tables and views").BoolVar(&opts.force)
}

func registerDropTablesApp(app *kingpin.Application) (*kingpin.CmdClause, func(context.Context, *slog.Logger, *prometheus.Registry) error) {
	cmd := app.Command("drop-tables", "drop every table and view from the database")

	var opts dropTablesOpts
	opts.registerFlags(cmd)

	return cmd, func(ctx context.Context, logger *slog.Logger, _ *prometheus.Registry) error {
		if !opts.force {
			return fmt.Errorf("refusing to drop tables without --force")
		}

		ctx = requestContext(ctx, logger)

		gw, closeDB, err := setupDB(ctx, logger, opts.db)
		if err != nil {
			return fmt.Errorf("unable to setup database: %w", err)
		}
		defer slogerrcapture.Do(logger, closeDB, "close database")

		n, err := metastore.NewStore(gw).DropAllTables(ctx)
		if err != nil {
			return err
		}
		logger.Info("Dropped all tables", slog.Int("count", n))
		return nil
	}
}
