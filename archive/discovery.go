// Copyright (c) The Thanos Authors.
// Licensed under the Apache 2.0 license found in the LICENSE file or at:
//     https://opensource.org/licenses/Apache-2.0

package archive

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/thanos-io/objstore"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/tierstore/metastat/internal/log"
	"github.com/tierstore/metastat/internal/slogerrcapture"
	"github.com/tierstore/metastat/internal/tracing"
	"github.com/tierstore/metastat/schema"
)

const DefaultDiscoverConcurrency = 4

// Archive is one discovered shard archive.
type Archive struct {
	Object   string   `json:"object"`
	Manifest Manifest `json:"manifest"`
}

// Discoverer lists the shard archives present in the bucket.
type Discoverer struct {
	bkt objstore.Bucket

	concurrency int
}

type DiscovererOption func(*Discoverer)

func DiscoverConcurrency(n int) DiscovererOption {
	return func(d *Discoverer) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

func NewDiscoverer(bkt objstore.Bucket, opts ...DiscovererOption) *Discoverer {
	d := &Discoverer{
		bkt:         bkt,
		concurrency: DefaultDiscoverConcurrency,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Discover walks the bucket and returns every archived shard that has a
// readable manifest, ordered by window start. Unrelated objects are ignored;
// archives without a manifest, e.g. from an interrupted export, are skipped.
func (d *Discoverer) Discover(ctx context.Context) ([]Archive, error) {
	ctx, span := tracing.Tracer().Start(ctx, "Discover Archives")
	defer span.End()

	var objects []string
	err := d.bkt.Iter(ctx, "", func(name string) error {
		if schema.IsArchiveObject(name) {
			objects = append(objects, name)
		}
		return nil
	}, objstore.WithRecursiveIter())
	if err != nil {
		return nil, fmt.Errorf("unable to iterate bucket: %w", err)
	}
	span.SetAttributes(attribute.Int("objects", len(objects)))

	var (
		mu       sync.Mutex
		archives []Archive
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	for _, object := range objects {
		g.Go(func() error {
			archive, err := d.readManifest(ctx, object)
			if d.bkt.IsObjNotFoundErr(err) {
				log.Ctx(ctx).Warn("skipping archive without manifest", slog.String("object", object))
				return nil
			}
			if err != nil {
				return err
			}

			mu.Lock()
			archives = append(archives, archive)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slices.SortFunc(archives, func(a, b Archive) int {
		if c := cmp.Compare(a.Manifest.StartTime, b.Manifest.StartTime); c != 0 {
			return c
		}
		return cmp.Compare(a.Object, b.Object)
	})
	return archives, nil
}

func (d *Discoverer) readManifest(ctx context.Context, object string) (Archive, error) {
	id, shard, err := schema.SplitArchiveObjectName(object)
	if err != nil {
		return Archive{}, err
	}

	rc, err := d.bkt.Get(ctx, schema.ManifestObjectName(id, shard))
	if err != nil {
		return Archive{}, err
	}
	defer slogerrcapture.Do(log.Ctx(ctx), rc.Close, "close manifest reader")

	var manifest Manifest
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.NewDecoder(rc).Decode(&manifest); err != nil {
		return Archive{}, fmt.Errorf("unable to decode manifest for %s: %w", object, err)
	}
	return Archive{Object: object, Manifest: manifest}, nil
}
