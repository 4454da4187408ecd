// Copyright (c) The Thanos Authors.
// Licensed under the Apache 2.0 license found in the LICENSE file or at:
//     https://opensource.org/licenses/Apache-2.0

package metastore_test

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/tierstore/metastat/metastore"
	"github.com/tierstore/metastat/schema"
)

// newTestStore opens an in-memory database holding the full metadata schema.
func newTestStore(t *testing.T) (*metastore.Store, *metastore.Gateway) {
	t.Helper()

	db, err := sql.Open("duckdb", "")
	if err != nil {
		t.Fatalf("unable to open database: %s", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	gw := metastore.NewGateway(db, metastore.DialectDuckDB)
	for _, ddl := range []string{
		fmt.Sprintf("CREATE TABLE %s (oid BIGINT, owner_name VARCHAR)", schema.OwnersTable),
		fmt.Sprintf("CREATE TABLE %s (gid BIGINT, group_name VARCHAR)", schema.GroupsTable),
		fmt.Sprintf("CREATE TABLE %s (sid BIGINT, policy_name VARCHAR)", schema.StoragePolicyTable),
		fmt.Sprintf("CREATE TABLE %s (type VARCHAR PRIMARY KEY, capacity BIGINT, free BIGINT)", schema.StoragesTable),
		fmt.Sprintf("CREATE TABLE %s (fid BIGINT, path VARCHAR, sid BIGINT)", schema.FilesTable),
		fmt.Sprintf("CREATE TABLE %s (fid BIGINT, path VARCHAR, from_time BIGINT, last_access_time BIGINT, num_accessed BIGINT)", schema.CachedFilesTable),
	} {
		if err := gw.Exec(t.Context(), ddl); err != nil {
			t.Fatalf("unable to create table: %s", err)
		}
	}
	return metastore.NewStore(gw), gw
}

func TestInsertOwnersAndGroups(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := t.Context()
	ids := store.Identifiers()

	// Resolve before the insert so the dimensions cache their empty state.
	if _, err := ids.OwnerName(ctx, 1); !errors.Is(err, metastore.ErrNotFound) {
		t.Fatalf("expected %q, got %q", metastore.ErrNotFound, err)
	}
	if _, err := ids.GroupName(ctx, 7); !errors.Is(err, metastore.ErrNotFound) {
		t.Fatalf("expected %q, got %q", metastore.ErrNotFound, err)
	}

	if err := store.InsertOwner(ctx, 1, "alice"); err != nil {
		t.Fatalf("unable to insert owner: %s", err)
	}
	if err := store.InsertGroup(ctx, 7, "analytics"); err != nil {
		t.Fatalf("unable to insert group: %s", err)
	}

	owner, err := ids.OwnerName(ctx, 1)
	if err != nil {
		t.Fatalf("unable to resolve owner: %s", err)
	}
	if owner != "alice" {
		t.Fatalf("expected %q, got %q", "alice", owner)
	}
	group, err := ids.GroupName(ctx, 7)
	if err != nil {
		t.Fatalf("unable to resolve group: %s", err)
	}
	if group != "analytics" {
		t.Fatalf("expected %q, got %q", "analytics", group)
	}
}

func TestUpsertStorageCapacity(t *testing.T) {
	t.Run("insert then replace", func(t *testing.T) {
		store, _ := newTestStore(t)
		ctx := t.Context()
		ids := store.Identifiers()

		if err := store.UpsertStorageCapacity(ctx, metastore.StorageCapacity{Type: "ssd", Capacity: 100, Free: 40}); err != nil {
			t.Fatalf("unable to upsert storage: %s", err)
		}
		sc, err := ids.Capacity(ctx, "ssd")
		if err != nil {
			t.Fatalf("unable to resolve capacity: %s", err)
		}
		if diff := cmp.Diff(metastore.StorageCapacity{Type: "ssd", Capacity: 100, Free: 40}, sc); diff != "" {
			t.Errorf("capacity mismatch (-want +got):\n%s", diff)
		}

		if err := store.UpsertStorageCapacity(ctx, metastore.StorageCapacity{Type: "ssd", Capacity: 100, Free: 10}); err != nil {
			t.Fatalf("unable to upsert storage: %s", err)
		}
		sc, err = ids.Capacity(ctx, "ssd")
		if err != nil {
			t.Fatalf("unable to resolve capacity: %s", err)
		}
		if sc.Free != 10 {
			t.Fatalf("expected free %d, got %d", 10, sc.Free)
		}
	})

	t.Run("rejects free outside the capacity", func(t *testing.T) {
		store, _ := newTestStore(t)
		ctx := t.Context()

		if err := store.UpsertStorageCapacity(ctx, metastore.StorageCapacity{Type: "ssd", Capacity: 100, Free: 101}); err == nil {
			t.Fatalf("expected error for free above capacity")
		}
		if err := store.UpsertStorageCapacity(ctx, metastore.StorageCapacity{Type: "ssd", Capacity: 100, Free: -1}); err == nil {
			t.Fatalf("expected error for negative free")
		}
	})

	t.Run("delete reports whether a row matched", func(t *testing.T) {
		store, _ := newTestStore(t)
		ctx := t.Context()

		if err := store.UpsertStorageCapacity(ctx, metastore.StorageCapacity{Type: "hdd", Capacity: 500, Free: 500}); err != nil {
			t.Fatalf("unable to upsert storage: %s", err)
		}
		deleted, err := store.DeleteStorage(ctx, "hdd")
		if err != nil {
			t.Fatalf("unable to delete storage: %s", err)
		}
		if !deleted {
			t.Fatalf("expected delete to match a row")
		}
		deleted, err = store.DeleteStorage(ctx, "hdd")
		if err != nil {
			t.Fatalf("unable to delete storage: %s", err)
		}
		if deleted {
			t.Fatalf("expected delete to match nothing")
		}
		if _, err := store.Identifiers().Capacity(ctx, "hdd"); !errors.Is(err, metastore.ErrNotFound) {
			t.Fatalf("expected %q, got %q", metastore.ErrNotFound, err)
		}
	})
}

func TestInsertFiles(t *testing.T) {
	t.Run("roundtrips through identity resolution", func(t *testing.T) {
		store, _ := newTestStore(t)
		ctx := t.Context()

		// Large enough to split both the insert and the lookup into
		// several batches.
		const n = 1200

		files := make([]metastore.File, 0, n)
		fids := make([]int64, 0, n)
		wantPaths := make(map[int64]string, n)
		for i := range int64(n) {
			path := fmt.Sprintf("/data/file-%04d", i)
			files = append(files, metastore.File{Fid: i, Path: path, Sid: 1})
			fids = append(fids, i)
			wantPaths[i] = path
		}
		if err := store.InsertFiles(ctx, files...); err != nil {
			t.Fatalf("unable to insert files: %s", err)
		}

		paths, err := store.Paths(ctx, fids)
		if err != nil {
			t.Fatalf("unable to resolve paths: %s", err)
		}
		if diff := cmp.Diff(wantPaths, paths); diff != "" {
			t.Errorf("paths mismatch (-want +got):\n%s", diff)
		}

		resolved, err := store.Fids(ctx, []string{"/data/file-0000", "/data/file-1199", "/data/missing"})
		if err != nil {
			t.Fatalf("unable to resolve fids: %s", err)
		}
		want := map[string]int64{"/data/file-0000": 0, "/data/file-1199": 1199}
		if diff := cmp.Diff(want, resolved); diff != "" {
			t.Errorf("fids mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("unknown ids are absent not errors", func(t *testing.T) {
		store, _ := newTestStore(t)
		ctx := t.Context()

		if err := store.InsertFiles(ctx, metastore.File{Fid: 1, Path: "/a", Sid: 1}); err != nil {
			t.Fatalf("unable to insert files: %s", err)
		}
		paths, err := store.Paths(ctx, []int64{1, 2})
		if err != nil {
			t.Fatalf("unable to resolve paths: %s", err)
		}
		if diff := cmp.Diff(map[int64]string{1: "/a"}, paths); diff != "" {
			t.Errorf("paths mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("no files no statement", func(t *testing.T) {
		store, gw := newTestStore(t)
		ctx := t.Context()

		// With the backing table gone any statement would fail.
		if err := gw.Exec(ctx, fmt.Sprintf("DROP TABLE %s", schema.FilesTable)); err != nil {
			t.Fatalf("unable to drop table: %s", err)
		}
		if err := store.InsertFiles(ctx); err != nil {
			t.Fatalf("expected no error, got %s", err)
		}
		paths, err := store.Paths(ctx, nil)
		if err != nil {
			t.Fatalf("expected no error, got %s", err)
		}
		if len(paths) != 0 {
			t.Fatalf("expected no paths, got %v", paths)
		}
	})
}

func TestUpdateFileStoragePolicy(t *testing.T) {
	setup := func(t *testing.T) (*metastore.Store, *metastore.Gateway) {
		store, gw := newTestStore(t)
		ctx := t.Context()

		if err := store.InsertStoragePolicy(ctx, 1, "hot"); err != nil {
			t.Fatalf("unable to insert storage policy: %s", err)
		}
		if err := store.InsertStoragePolicy(ctx, 2, "cold"); err != nil {
			t.Fatalf("unable to insert storage policy: %s", err)
		}
		if err := store.InsertFiles(ctx, metastore.File{Fid: 1, Path: "/data/a", Sid: 1}); err != nil {
			t.Fatalf("unable to insert files: %s", err)
		}
		return store, gw
	}

	t.Run("repoints a file to the named policy", func(t *testing.T) {
		store, gw := setup(t)
		ctx := t.Context()

		updated, err := store.UpdateFileStoragePolicy(ctx, "/data/a", "cold")
		if err != nil {
			t.Fatalf("unable to update file: %s", err)
		}
		if !updated {
			t.Fatalf("expected update to match a row")
		}

		var sid int64
		err = gw.Query(ctx, fmt.Sprintf("SELECT sid FROM %s WHERE path = ?", schema.FilesTable), []any{"/data/a"}, func(rows *sql.Rows) error {
			for rows.Next() {
				if err := rows.Scan(&sid); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("unable to read file row: %s", err)
		}
		if sid != 2 {
			t.Fatalf("expected sid %d, got %d", 2, sid)
		}
	})

	t.Run("missing path reports false", func(t *testing.T) {
		store, _ := setup(t)

		updated, err := store.UpdateFileStoragePolicy(t.Context(), "/data/missing", "cold")
		if err != nil {
			t.Fatalf("unable to update file: %s", err)
		}
		if updated {
			t.Fatalf("expected update to match nothing")
		}
	})

	t.Run("unknown policy is an error", func(t *testing.T) {
		store, _ := setup(t)

		if _, err := store.UpdateFileStoragePolicy(t.Context(), "/data/a", "glacial"); !errors.Is(err, metastore.ErrUnknownStoragePolicy) {
			t.Fatalf("expected %q, got %q", metastore.ErrUnknownStoragePolicy, err)
		}
	})
}
