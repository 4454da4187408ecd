// Copyright (c) The Thanos Authors.
// Licensed under the Apache 2.0 license found in the LICENSE file or at:
//     https://opensource.org/licenses/Apache-2.0

package metastore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tierstore/metastat/internal/util"
	"github.com/tierstore/metastat/schema"
)

// insertBatchSize bounds the row count of one synthesized multi-row INSERT
// so the statement stays within sane parameter limits on both backends.
const insertBatchSize = 500

// File is one tracked file row: its id, path and storage policy id.
type File struct {
	Fid  int64
	Path string
	Sid  int64
}

// Store is the metastore handle: the gateway, the identifier caches and the
// bookkeeping around them. Mutating operations serialize on one coarse lock
// and invalidate the affected cache dimension after the write. Reads,
// including cache reloads, do not take the lock, so a reader may observe
// state from just before a concurrent write. Callers that need
// read-your-write ordering serialize externally.
type Store struct {
	gw  *Gateway
	ids *IdentifierCache

	mu sync.Mutex
}

func NewStore(gw *Gateway) *Store {
	return &Store{
		gw:  gw,
		ids: NewIdentifierCache(gw),
	}
}

// Identifiers exposes the id to name caches.
func (s *Store) Identifiers() *IdentifierCache {
	return s.ids
}

// InsertOwner records an owner and invalidates the owner name cache.
func (s *Store) InsertOwner(ctx context.Context, oid int64, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := fmt.Sprintf("INSERT INTO %s (oid, owner_name) VALUES (?, ?)", schema.OwnersTable)
	if err := s.gw.Exec(ctx, query, oid, name); err != nil {
		return fmt.Errorf("unable to insert owner %d: %w", oid, err)
	}
	s.ids.InvalidateOwners()
	return nil
}

// InsertGroup records a group and invalidates the group name cache.
func (s *Store) InsertGroup(ctx context.Context, gid int64, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := fmt.Sprintf("INSERT INTO %s (gid, group_name) VALUES (?, ?)", schema.GroupsTable)
	if err := s.gw.Exec(ctx, query, gid, name); err != nil {
		return fmt.Errorf("unable to insert group %d: %w", gid, err)
	}
	s.ids.InvalidateGroups()
	return nil
}

// InsertStoragePolicy records a storage policy and invalidates the policy
// cache.
func (s *Store) InsertStoragePolicy(ctx context.Context, sid int64, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := fmt.Sprintf("INSERT INTO %s (sid, policy_name) VALUES (?, ?)", schema.StoragePolicyTable)
	if err := s.gw.Exec(ctx, query, sid, name); err != nil {
		return fmt.Errorf("unable to insert storage policy %d: %w", sid, err)
	}
	s.ids.InvalidateStoragePolicies()
	return nil
}

// UpsertStorageCapacity inserts or replaces the capacity row of one storage
// type and invalidates the capacity cache.
func (s *Store) UpsertStorageCapacity(ctx context.Context, sc StorageCapacity) error {
	if sc.Free < 0 || sc.Free > sc.Capacity {
		return fmt.Errorf("storage %q: free %d outside [0, %d]", sc.Type, sc.Free, sc.Capacity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var query string
	switch s.gw.Dialect() {
	case DialectDuckDB:
		query = fmt.Sprintf("INSERT OR REPLACE INTO %s (type, capacity, free) VALUES (?, ?, ?)", schema.StoragesTable)
	case DialectMySQL:
		query = fmt.Sprintf("REPLACE INTO %s (type, capacity, free) VALUES (?, ?, ?)", schema.StoragesTable)
	default:
		return fmt.Errorf("dialect %q: %w", s.gw.Dialect(), ErrUnsupportedDialect)
	}
	if err := s.gw.Exec(ctx, query, sc.Type, sc.Capacity, sc.Free); err != nil {
		return fmt.Errorf("unable to upsert storage %q: %w", sc.Type, err)
	}
	s.ids.InvalidateStorages()
	return nil
}

// DeleteStorage removes the capacity row of one storage type. False without
// error means there was no such row.
func (s *Store) DeleteStorage(ctx context.Context, storageType string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := fmt.Sprintf("DELETE FROM %s WHERE type = ?", schema.StoragesTable)
	n, err := s.gw.Update(ctx, query, storageType)
	if err != nil {
		return false, fmt.Errorf("unable to delete storage %q: %w", storageType, err)
	}
	s.ids.InvalidateStorages()
	return n > 0, nil
}

// InsertFiles records the given files in batched multi-row statements.
func (s *Store) InsertFiles(ctx context.Context, files ...File) error {
	if len(files) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, batch := range util.SplitIntoBatches(len(files), insertBatchSize) {
		query, args := buildInsertFiles(files[batch.Start:batch.End])
		if err := s.gw.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("unable to insert files: %w", err)
		}
	}
	return nil
}

func buildInsertFiles(files []File) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (fid, path, sid) VALUES ", schema.FilesTable)

	args := make([]any, 0, 3*len(files))
	for i, f := range files {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?)")
		args = append(args, f.Fid, f.Path, f.Sid)
	}
	return b.String(), args
}

// UpdateFileStoragePolicy repoints one file to the named storage policy.
// False without error means no file row matched the path.
func (s *Store) UpdateFileStoragePolicy(ctx context.Context, path, policyName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sid, err := s.ids.StoragePolicyID(ctx, policyName)
	if err != nil {
		return false, err
	}

	query := fmt.Sprintf("UPDATE %s SET sid = ? WHERE path = ?", schema.FilesTable)
	n, err := s.gw.Update(ctx, query, sid, path)
	if err != nil {
		return false, fmt.Errorf("unable to update file %q: %w", path, err)
	}
	return n > 0, nil
}
