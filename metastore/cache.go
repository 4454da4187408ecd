// Copyright (c) The Thanos Authors.
// Licensed under the Apache 2.0 license found in the LICENSE file or at:
//     https://opensource.org/licenses/Apache-2.0

package metastore

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/tierstore/metastat/schema"
)

const (
	dimOwners          = "owners"
	dimGroups          = "groups"
	dimStoragePolicies = "storage_policies"
	dimStorages        = "storages"
)

// StorageCapacity is the capacity snapshot of one storage type.
type StorageCapacity struct {
	Type     string
	Capacity int64
	Free     int64
}

// dimension is one lazily loaded cache map. It is either unloaded or holds a
// full copy of its backing table; invalidation always resets the whole
// dimension, there is no partial patching.
type dimension[K comparable, V any] struct {
	name string
	load func(ctx context.Context) (map[K]V, error)

	group singleflight.Group

	mu     sync.RWMutex
	loaded bool
	m      map[K]V
}

func newDimension[K comparable, V any](name string, load func(ctx context.Context) (map[K]V, error)) *dimension[K, V] {
	return &dimension[K, V]{name: name, load: load}
}

// snapshot returns the loaded map, loading it first if the dimension is
// currently unloaded. The returned map is shared and must not be mutated.
func (d *dimension[K, V]) snapshot(ctx context.Context) (map[K]V, error) {
	d.mu.RLock()
	if d.loaded {
		m := d.m
		d.mu.RUnlock()
		return m, nil
	}
	d.mu.RUnlock()

	// Concurrent first reads share one reload. A reader racing an
	// invalidation may still observe the previous map once; reads are
	// intentionally not serialized against writers.
	v, err, _ := d.group.Do(d.name, func() (any, error) {
		m, err := d.load(ctx)
		if err != nil {
			return nil, err
		}

		d.mu.Lock()
		d.m = m
		d.loaded = true
		d.mu.Unlock()

		cacheReloads.WithLabelValues(d.name).Inc()
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to load %s: %w", d.name, err)
	}
	return v.(map[K]V), nil
}

// invalidate resets the dimension to unloaded. The next read reloads it in
// full.
func (d *dimension[K, V]) invalidate() {
	d.mu.Lock()
	d.loaded = false
	d.m = nil
	d.mu.Unlock()

	cacheInvalidations.WithLabelValues(d.name).Inc()
}

// IdentifierCache caches the small reference dimensions: owner and group
// names by id, the storage policy id to name bijection and storage
// capacities by type. Dimensions load lazily on first use and are reset as a
// whole by the writes that touch their backing tables.
type IdentifierCache struct {
	owners   *dimension[int64, string]
	groups   *dimension[int64, string]
	policies *dimension[int64, string]
	storages *dimension[string, StorageCapacity]
}

func NewIdentifierCache(q Querier) *IdentifierCache {
	return &IdentifierCache{
		owners:   newDimension(dimOwners, loadIDNames(q, schema.OwnersTable, "oid", "owner_name")),
		groups:   newDimension(dimGroups, loadIDNames(q, schema.GroupsTable, "gid", "group_name")),
		policies: newDimension(dimStoragePolicies, loadIDNames(q, schema.StoragePolicyTable, "sid", "policy_name")),
		storages: newDimension(dimStorages, loadCapacities(q)),
	}
}

func loadIDNames(q Querier, table, idColumn, nameColumn string) func(ctx context.Context) (map[int64]string, error) {
	query := fmt.Sprintf("SELECT %s, %s FROM %s", idColumn, nameColumn, table)
	return func(ctx context.Context) (map[int64]string, error) {
		m := make(map[int64]string)
		if err := q.Query(ctx, query, nil, func(rows *sql.Rows) error {
			for rows.Next() {
				var (
					id   int64
					name string
				)
				if err := rows.Scan(&id, &name); err != nil {
					return fmt.Errorf("unable to scan %s row: %w", table, err)
				}
				m[id] = name
			}
			return nil
		}); err != nil {
			return nil, err
		}
		return m, nil
	}
}

func loadCapacities(q Querier) func(ctx context.Context) (map[string]StorageCapacity, error) {
	query := fmt.Sprintf("SELECT type, capacity, free FROM %s", schema.StoragesTable)
	return func(ctx context.Context) (map[string]StorageCapacity, error) {
		m := make(map[string]StorageCapacity)
		if err := q.Query(ctx, query, nil, func(rows *sql.Rows) error {
			for rows.Next() {
				var sc StorageCapacity
				if err := rows.Scan(&sc.Type, &sc.Capacity, &sc.Free); err != nil {
					return fmt.Errorf("unable to scan %s row: %w", schema.StoragesTable, err)
				}
				m[sc.Type] = sc
			}
			return nil
		}); err != nil {
			return nil, err
		}
		return m, nil
	}
}

// OwnerName resolves an owner id to its name.
func (c *IdentifierCache) OwnerName(ctx context.Context, oid int64) (string, error) {
	return lookupName(ctx, c.owners, "owner", oid)
}

// GroupName resolves a group id to its name.
func (c *IdentifierCache) GroupName(ctx context.Context, gid int64) (string, error) {
	return lookupName(ctx, c.groups, "group", gid)
}

// StoragePolicyName resolves a storage policy id to its name.
func (c *IdentifierCache) StoragePolicyName(ctx context.Context, sid int64) (string, error) {
	return lookupName(ctx, c.policies, "storage policy", sid)
}

func lookupName(ctx context.Context, d *dimension[int64, string], kind string, id int64) (string, error) {
	m, err := d.snapshot(ctx)
	if err != nil {
		return "", err
	}
	name, ok := m[id]
	if !ok {
		return "", fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	return name, nil
}

// StoragePolicyID resolves a storage policy name to its id. The name may
// have been created by another writer since the last load, so a miss forces
// one reload before the name is declared unknown.
func (c *IdentifierCache) StoragePolicyID(ctx context.Context, name string) (int64, error) {
	if sid, ok, err := c.scanPolicyID(ctx, name); err != nil || ok {
		return sid, err
	}

	c.policies.invalidate()
	if sid, ok, err := c.scanPolicyID(ctx, name); err != nil || ok {
		return sid, err
	}
	return 0, fmt.Errorf("storage policy %q: %w", name, ErrUnknownStoragePolicy)
}

func (c *IdentifierCache) scanPolicyID(ctx context.Context, name string) (int64, bool, error) {
	m, err := c.policies.snapshot(ctx)
	if err != nil {
		return 0, false, err
	}
	// Policy cardinality is bounded by organizational scale, a linear scan
	// over the id to name map is fine.
	for sid, n := range m {
		if n == name {
			return sid, true, nil
		}
	}
	return 0, false, nil
}

// Capacity returns the capacity snapshot of one storage type.
func (c *IdentifierCache) Capacity(ctx context.Context, storageType string) (StorageCapacity, error) {
	m, err := c.storages.snapshot(ctx)
	if err != nil {
		return StorageCapacity{}, err
	}
	sc, ok := m[storageType]
	if !ok {
		return StorageCapacity{}, fmt.Errorf("storage %q: %w", storageType, ErrNotFound)
	}
	return sc, nil
}

// Capacities returns a copy of the capacity snapshot of all storage types.
func (c *IdentifierCache) Capacities(ctx context.Context) (map[string]StorageCapacity, error) {
	m, err := c.storages.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return maps.Clone(m), nil
}

func (c *IdentifierCache) InvalidateOwners()          { c.owners.invalidate() }
func (c *IdentifierCache) InvalidateGroups()          { c.groups.invalidate() }
func (c *IdentifierCache) InvalidateStoragePolicies() { c.policies.invalidate() }
func (c *IdentifierCache) InvalidateStorages()        { c.storages.invalidate() }
