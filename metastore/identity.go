// Copyright (c) 2025 Cloudflare, Inc.
// Licensed under the Apache 2.0 license found in the LICENSE file or at:
//     https://opensource.org/licenses/Apache-2.0

package metastore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/tierstore/metastat/internal/util"
	"github.com/tierstore/metastat/schema"
)

// lookupBatchSize bounds the parameter count of one synthesized IN clause.
const lookupBatchSize = 500

// Paths resolves file ids to their paths. Ids without a row are absent from
// the result, unresolvable ids are not an error.
func (s *Store) Paths(ctx context.Context, fids []int64) (map[int64]string, error) {
	res := make(map[int64]string, len(fids))
	for _, batch := range util.SplitIntoBatches(len(fids), lookupBatchSize) {
		part := fids[batch.Start:batch.End]
		query := fmt.Sprintf(
			"SELECT fid, path FROM %s WHERE fid IN (%s)",
			schema.FilesTable, placeholders(len(part)),
		)
		args := make([]any, 0, len(part))
		for _, fid := range part {
			args = append(args, fid)
		}
		err := s.gw.Query(ctx, query, args, func(rows *sql.Rows) error {
			for rows.Next() {
				var (
					fid  int64
					path string
				)
				if err := rows.Scan(&fid, &path); err != nil {
					return fmt.Errorf("unable to scan %s row: %w", schema.FilesTable, err)
				}
				res[fid] = path
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("unable to resolve paths: %w", err)
		}
	}
	return res, nil
}

// Fids resolves file paths to their ids, the inverse of Paths.
func (s *Store) Fids(ctx context.Context, paths []string) (map[string]int64, error) {
	res := make(map[string]int64, len(paths))
	for _, batch := range util.SplitIntoBatches(len(paths), lookupBatchSize) {
		part := paths[batch.Start:batch.End]
		query := fmt.Sprintf(
			"SELECT path, fid FROM %s WHERE path IN (%s)",
			schema.FilesTable, placeholders(len(part)),
		)
		args := make([]any, 0, len(part))
		for _, path := range part {
			args = append(args, path)
		}
		err := s.gw.Query(ctx, query, args, func(rows *sql.Rows) error {
			for rows.Next() {
				var (
					path string
					fid  int64
				)
				if err := rows.Scan(&path, &fid); err != nil {
					return fmt.Errorf("unable to scan %s row: %w", schema.FilesTable, err)
				}
				res[path] = fid
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("unable to resolve fids: %w", err)
		}
	}
	return res, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
