// Copyright (c) The Thanos Authors.
// Licensed under the Apache 2.0 license found in the LICENSE file or at:
//     https://opensource.org/licenses/Apache-2.0

// Package archive moves retired access count shards between the database
// and object storage, one zstd compressed parquet object plus a manifest
// per shard.
package archive

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/oklog/ulid/v2"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
	"github.com/thanos-io/objstore"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/tierstore/metastat/internal/tracing"
	"github.com/tierstore/metastat/metastore"
	"github.com/tierstore/metastat/schema"
	"github.com/tierstore/metastat/stats"
)

const DefaultExportConcurrency = 4

// Gateway is the slice of the metastore gateway this package needs: scoped
// statement execution plus multi-statement work on one connection.
type Gateway interface {
	metastore.Querier
	Acquire(ctx context.Context) (*metastore.Conn, error)
}

// Manifest describes one archived shard object. It is written next to the
// object so archives are inspectable without reading any parquet.
type Manifest struct {
	Shard     string `json:"shard"`
	StartTime int64  `json:"start_time"`
	EndTime   int64  `json:"end_time"`
	Rows      int    `json:"rows"`
	SizeBytes int    `json:"size_bytes"`
	CreatedAt int64  `json:"created_at"`
}

// Exporter writes shards to object storage.
type Exporter struct {
	bkt      objstore.Bucket
	gw       Gateway
	registry stats.ShardRegistry

	concurrency int
}

type ExporterOption func(*Exporter)

func ExportConcurrency(n int) ExporterOption {
	return func(e *Exporter) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

func NewExporter(bkt objstore.Bucket, gw Gateway, registry stats.ShardRegistry, opts ...ExporterOption) *Exporter {
	e := &Exporter{
		bkt:         bkt,
		gw:          gw,
		registry:    registry,
		concurrency: DefaultExportConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export writes one shard to object storage and returns the object key. The
// export id in the key makes re-exports of the same shard distinct objects,
// an interrupted earlier attempt can never corrupt a later one.
func (e *Exporter) Export(ctx context.Context, shard schema.Shard) (string, error) {
	ctx, span := tracing.Tracer().Start(ctx, "Export Shard")
	defer span.End()
	span.SetAttributes(attribute.String("shard", shard.Name))

	if err := shard.Validate(); err != nil {
		return "", err
	}

	query := fmt.Sprintf(
		"SELECT %s, %s FROM %s ORDER BY %s",
		schema.FidColumn, schema.CountColumn, shard.Name, schema.FidColumn,
	)
	var rows []schema.ArchiveRow
	err := e.gw.Query(ctx, query, nil, func(res *sql.Rows) error {
		for res.Next() {
			var row schema.ArchiveRow
			if err := res.Scan(&row.Fid, &row.Count); err != nil {
				return fmt.Errorf("unable to scan %s row: %w", shard.Name, err)
			}
			rows = append(rows, row)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("unable to read shard %s: %w", shard.Name, err)
	}

	var buf bytes.Buffer
	w := parquet.NewGenericWriter[schema.ArchiveRow](&buf, parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}))
	if len(rows) > 0 {
		if _, err := w.Write(rows); err != nil {
			return "", fmt.Errorf("unable to encode shard %s: %w", shard.Name, err)
		}
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("unable to finalize shard %s: %w", shard.Name, err)
	}

	id := ulid.Make().String()
	object := schema.ArchiveObjectName(id, shard.Name)
	if err := e.bkt.Upload(ctx, object, bytes.NewReader(buf.Bytes())); err != nil {
		return "", fmt.Errorf("unable to upload %s: %w", object, err)
	}

	manifest, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(Manifest{
		Shard:     shard.Name,
		StartTime: shard.Window.Start,
		EndTime:   shard.Window.End,
		Rows:      len(rows),
		SizeBytes: buf.Len(),
		CreatedAt: time.Now().UnixMilli(),
	})
	if err != nil {
		return "", fmt.Errorf("unable to encode manifest for %s: %w", object, err)
	}
	if err := e.bkt.Upload(ctx, schema.ManifestObjectName(id, shard.Name), bytes.NewReader(manifest)); err != nil {
		return "", fmt.Errorf("unable to upload manifest for %s: %w", object, err)
	}

	shardsExported.Inc()
	rowsExported.Add(float64(len(rows)))
	bytesExported.Add(float64(buf.Len()))
	lastSuccessfulExport.SetToCurrentTime()

	return object, nil
}

// ExportRetired exports every registered shard whose window ends at or
// before the cutoff and drops it afterwards. Shards export concurrently;
// the first failure cancels the batch, shards already exported and dropped
// stay that way.
func (e *Exporter) ExportRetired(ctx context.Context, before int64) ([]string, error) {
	ctx, span := tracing.Tracer().Start(ctx, "Export Retired Shards")
	defer span.End()
	span.SetAttributes(attribute.Int64("before", before))

	shards, err := e.registry.Shards(ctx)
	if err != nil {
		return nil, err
	}
	retired := make([]schema.Shard, 0, len(shards))
	for _, shard := range shards {
		if shard.Window.End <= before {
			retired = append(retired, shard)
		}
	}
	span.SetAttributes(attribute.Int("shards", len(retired)))
	if len(retired) == 0 {
		return nil, nil
	}

	var (
		mu      sync.Mutex
		objects []string
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for _, shard := range retired {
		g.Go(func() error {
			object, err := e.Export(ctx, shard)
			if err != nil {
				return err
			}
			if err := e.registry.Drop(ctx, shard.Name); err != nil {
				return fmt.Errorf("unable to drop shard %s after export: %w", shard.Name, err)
			}

			mu.Lock()
			objects = append(objects, object)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return objects, err
	}
	return objects, nil
}
