// Copyright (c) 2025 Cloudflare, Inc.
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
)

// DropAllTables removes every table and view in the current database and
// reports how many relations were dropped. Views drop first, they may
// reference the tables. Relation names come from the backend catalog, never
// from callers, and are quoted regardless.
func (s *Store) DropAllTables(ctx context.Context) (int, error) {
	var query string
	switch s.gw.Dialect() {
	case DialectDuckDB:
		query = "SELECT table_name, table_type FROM information_schema.tables WHERE table_schema = current_schema()"
	case DialectMySQL:
		query = "SHOW FULL TABLES"
	default:
		return 0, fmt.Errorf("dialect %q: %w", s.gw.Dialect(), ErrUnsupportedDialect)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.gw.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer slogerrcapture.Do(log.Ctx(ctx), conn.Close, "release connection")

	var tables, views []string
	err = conn.Query(ctx, query, nil, func(rows *sql.Rows) error {
		for rows.Next() {
			var name, kind string
			if err := rows.Scan(&name, &kind); err != nil {
				return fmt.Errorf("unable to scan catalog row: %w", err)
			}
			if strings.Contains(strings.ToUpper(kind), "VIEW") {
				views = append(views, name)
			} else {
				tables = append(tables, name)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("unable to list relations: %w", err)
	}

	for _, name := range views {
		if err := conn.Exec(ctx, "DROP VIEW IF EXISTS "+quoteIdent(s.gw.Dialect(), name)); err != nil {
			return 0, fmt.Errorf("unable to drop view %s: %w", name, err)
		}
	}
	for _, name := range tables {
		if err := conn.Exec(ctx, "DROP TABLE IF EXISTS "+quoteIdent(s.gw.Dialect(), name)); err != nil {
			return 0, fmt.Errorf("unable to drop table %s: %w", name, err)
		}
	}

	// The backing tables are gone, and every cached dimension with them.
	s.ids.InvalidateOwners()
	s.ids.InvalidateGroups()
	s.ids.InvalidateStoragePolicies()
	s.ids.InvalidateStorages()

	return len(views) + len(tables), nil
}

func quoteIdent(dialect Dialect, name string) string {
	if dialect == DialectMySQL {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
