// Copyright (c) The Thanos Authors.
// Licensed under the Apache 2.0 license found in the LICENSE file or at:
//     https://opensource.org/licenses/Apache-2.0

package metastore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/tierstore/metastat/internal/log"
	"github.com/tierstore/metastat/internal/slogerrcapture"
	"github.com/tierstore/metastat/internal/util"
	"github.com/tierstore/metastat/schema"
)

// CachedFile is one cache residency row.
type CachedFile struct {
	Fid            int64
	Path           string
	FromTime       int64
	LastAccessTime int64
	NumAccessed    int64
}

// AccessEvent is one observed file access. Events arrive in arbitrary order,
// both across files and within one file.
type AccessEvent struct {
	Path      string
	Timestamp int64
}

// CachedFileUpdate selects which residency fields an update touches. Nil
// fields stay unchanged.
type CachedFileUpdate struct {
	FromTime       *int64
	LastAccessTime *int64
	NumAccessed    *int64
}

// GetCachedFiles returns every cache residency row.
func (s *Store) GetCachedFiles(ctx context.Context) ([]CachedFile, error) {
	return listCachedFiles(ctx, s.gw)
}

func listCachedFiles(ctx context.Context, q Querier) ([]CachedFile, error) {
	query := fmt.Sprintf(
		"SELECT fid, path, from_time, last_access_time, num_accessed FROM %s",
		schema.CachedFilesTable,
	)

	var files []CachedFile
	err := q.Query(ctx, query, nil, func(rows *sql.Rows) error {
		for rows.Next() {
			var cf CachedFile
			if err := rows.Scan(&cf.Fid, &cf.Path, &cf.FromTime, &cf.LastAccessTime, &cf.NumAccessed); err != nil {
				return fmt.Errorf("unable to scan %s row: %w", schema.CachedFilesTable, err)
			}
			files = append(files, cf)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to list cached files: %w", err)
	}
	return files, nil
}

// InsertCachedFiles records cache admissions in batched multi-row
// statements.
func (s *Store) InsertCachedFiles(ctx context.Context, files ...CachedFile) error {
	for _, cf := range files {
		if cf.NumAccessed < 0 {
			return fmt.Errorf("cached file %d: negative access count %d", cf.Fid, cf.NumAccessed)
		}
		if cf.LastAccessTime < cf.FromTime {
			return fmt.Errorf("cached file %d: last access %d before residency start %d", cf.Fid, cf.LastAccessTime, cf.FromTime)
		}
	}
	if len(files) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, batch := range util.SplitIntoBatches(len(files), insertBatchSize) {
		query, args := buildInsertCachedFiles(files[batch.Start:batch.End])
		if err := s.gw.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("unable to insert cached files: %w", err)
		}
	}
	return nil
}

func buildInsertCachedFiles(files []CachedFile) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (fid, path, from_time, last_access_time, num_accessed) VALUES ", schema.CachedFilesTable)

	args := make([]any, 0, 5*len(files))
	for i, cf := range files {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?, ?, ?)")
		args = append(args, cf.Fid, cf.Path, cf.FromTime, cf.LastAccessTime, cf.NumAccessed)
	}
	return b.String(), args
}

// DeleteCachedFile removes the residency row of one file. False without
// error means the row was already gone.
func (s *Store) DeleteCachedFile(ctx context.Context, fid int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := fmt.Sprintf("DELETE FROM %s WHERE fid = ?", schema.CachedFilesTable)
	n, err := s.gw.Update(ctx, query, fid)
	if err != nil {
		return false, fmt.Errorf("unable to delete cached file %d: %w", fid, err)
	}
	return n > 0, nil
}

// UpdateCachedFile applies a partial update to one residency row. False
// without error means no row matched, e.g. the file was evicted
// concurrently.
func (s *Store) UpdateCachedFile(ctx context.Context, fid int64, upd CachedFileUpdate) (bool, error) {
	query, args, err := buildCachedFileUpdate(fid, upd)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.gw.Update(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("unable to update cached file %d: %w", fid, err)
	}
	return n > 0, nil
}

func buildCachedFileUpdate(fid int64, upd CachedFileUpdate) (string, []any, error) {
	var (
		sets []string
		args []any
	)
	if upd.FromTime != nil {
		sets = append(sets, "from_time = ?")
		args = append(args, *upd.FromTime)
	}
	if upd.LastAccessTime != nil {
		sets = append(sets, "last_access_time = ?")
		args = append(args, *upd.LastAccessTime)
	}
	if upd.NumAccessed != nil {
		sets = append(sets, "num_accessed = ?")
		args = append(args, *upd.NumAccessed)
	}
	if len(sets) == 0 {
		return "", nil, ErrNoFieldsToUpdate
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE fid = ?", schema.CachedFilesTable, strings.Join(sets, ", "))
	args = append(args, fid)
	return query, args, nil
}

// TrackAccessEvents reconciles residency rows against a batch of access
// events, given the path to fid resolution for the batch. Only files that
// are currently cache resident are refreshed: their access count grows by
// the number of events seen and their last access time becomes the largest
// event timestamp in the batch. The max accumulates independent of event
// order. Files without a residency row are unaffected no matter how many
// events name them; admission is not decided here.
//
// The scan and all updates run on one connection. Returns the number of rows
// refreshed; updates that match no row count as misses, the row may have
// been evicted between scan and update.
func (s *Store) TrackAccessEvents(ctx context.Context, pathToFid map[string]int64, events []AccessEvent) (int, error) {
	if len(events) == 0 || len(pathToFid) == 0 {
		return 0, nil
	}

	type delta struct {
		count  int64
		latest int64
	}
	deltas := make(map[int64]*delta)
	for _, ev := range events {
		fid, ok := pathToFid[ev.Path]
		if !ok {
			continue
		}
		d, ok := deltas[fid]
		if !ok {
			deltas[fid] = &delta{count: 1, latest: ev.Timestamp}
			continue
		}
		d.count++
		d.latest = max(d.latest, ev.Timestamp)
	}
	if len(deltas) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.gw.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer slogerrcapture.Do(log.Ctx(ctx), conn.Close, "release connection")

	current, err := listCachedFiles(ctx, conn)
	if err != nil {
		return 0, err
	}

	refreshed := 0
	for _, cf := range current {
		d, ok := deltas[cf.Fid]
		if !ok {
			continue
		}

		numAccessed := cf.NumAccessed + d.count
		query, args, err := buildCachedFileUpdate(cf.Fid, CachedFileUpdate{
			LastAccessTime: &d.latest,
			NumAccessed:    &numAccessed,
		})
		if err != nil {
			return refreshed, err
		}
		n, err := conn.Update(ctx, query, args...)
		if err != nil {
			return refreshed, fmt.Errorf("unable to refresh cached file %d: %w", cf.Fid, err)
		}
		if n == 0 {
			residencyMisses.Inc()
			continue
		}
		residencyUpdates.Inc()
		refreshed++
	}
	return refreshed, nil
}
