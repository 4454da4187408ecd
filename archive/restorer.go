// Copyright (c) The Thanos Authors.
// Licensed under the Apache 2.0 license found in the LICENSE file or at:
//     https://opensource.org/licenses/Apache-2.0

package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/thanos-io/objstore"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tierstore/metastat/internal/log"
	"github.com/tierstore/metastat/internal/slogerrcapture"
	"github.com/tierstore/metastat/internal/tracing"
	"github.com/tierstore/metastat/internal/util"
	"github.com/tierstore/metastat/schema"
	"github.com/tierstore/metastat/stats"
)

const DefaultRestoreBatchSize = 1000

// Restorer recreates archived shards from object storage.
type Restorer struct {
	bkt      objstore.Bucket
	gw       Gateway
	registry stats.ShardRegistry

	batchSize int
}

type RestorerOption func(*Restorer)

func RestoreBatchSize(n int) RestorerOption {
	return func(r *Restorer) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func NewRestorer(bkt objstore.Bucket, gw Gateway, registry stats.ShardRegistry, opts ...RestorerOption) *Restorer {
	r := &Restorer{
		bkt:       bkt,
		gw:        gw,
		registry:  registry,
		batchSize: DefaultRestoreBatchSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Restore downloads an archived shard object, recreates its table and
// registers it again. Table creation and the batched fill run on one
// connection.
func (r *Restorer) Restore(ctx context.Context, object string) (schema.Shard, error) {
	ctx, span := tracing.Tracer().Start(ctx, "Restore Shard")
	defer span.End()
	span.SetAttributes(attribute.String("object", object))

	_, name, err := schema.SplitArchiveObjectName(object)
	if err != nil {
		return schema.Shard{}, err
	}
	shard, err := schema.ParseShardName(name)
	if err != nil {
		return schema.Shard{}, err
	}

	rc, err := r.bkt.Get(ctx, object)
	if err != nil {
		return schema.Shard{}, fmt.Errorf("unable to get %s: %w", object, err)
	}
	defer slogerrcapture.Do(log.Ctx(ctx), rc.Close, "close object reader")

	data, err := io.ReadAll(rc)
	if err != nil {
		return schema.Shard{}, fmt.Errorf("unable to read %s: %w", object, err)
	}
	rows, err := parquet.Read[schema.ArchiveRow](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return schema.Shard{}, fmt.Errorf("unable to decode %s: %w", object, err)
	}

	conn, err := r.gw.Acquire(ctx)
	if err != nil {
		return schema.Shard{}, err
	}
	defer slogerrcapture.Do(log.Ctx(ctx), conn.Close, "release connection")

	create := fmt.Sprintf("CREATE TABLE %s (%s BIGINT, %s BIGINT)", shard.Name, schema.FidColumn, schema.CountColumn)
	if err := conn.Exec(ctx, create); err != nil {
		return schema.Shard{}, fmt.Errorf("unable to create shard %s: %w", shard.Name, err)
	}
	for _, batch := range util.SplitIntoBatches(len(rows), r.batchSize) {
		query, args := buildInsertRows(shard.Name, rows[batch.Start:batch.End])
		if err := conn.Exec(ctx, query, args...); err != nil {
			return schema.Shard{}, fmt.Errorf("unable to fill shard %s: %w", shard.Name, err)
		}
	}

	if err := r.registry.Register(ctx, shard); err != nil {
		return schema.Shard{}, err
	}

	shardsRestored.Inc()
	rowsRestored.Add(float64(len(rows)))
	lastSuccessfulRestore.SetToCurrentTime()

	return shard, nil
}

func buildInsertRows(table string, rows []schema.ArchiveRow) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s, %s) VALUES ", table, schema.FidColumn, schema.CountColumn)

	args := make([]any, 0, 2*len(rows))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?)")
		args = append(args, row.Fid, row.Count)
	}
	return b.String(), args
}
