// Copyright (c) 2025 Cloudflare, Inc.
// Licensed under the Apache 2.0 license found in the LICENSE file or at:
//     https://opensource.org/licenses/Apache-2.0

package stats

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tierstore/metastat/metastore"
	"github.com/tierstore/metastat/schema"
)

// intCastType returns the dialect spelling of a 64 bit integer cast target.
// duckdb widens SUM over BIGINT to HUGEINT and mysql to DECIMAL, neither of
// which scans into an int64 reliably without the cast.
func intCastType(dialect metastore.Dialect) (string, error) {
	switch dialect {
	case metastore.DialectDuckDB:
		return "BIGINT", nil
	case metastore.DialectMySQL:
		return "SIGNED", nil
	default:
		return "", fmt.Errorf("dialect %q: %w", dialect, metastore.ErrUnsupportedDialect)
	}
}

// writeShardUnion writes the UNION ALL over the given shard tables. UNION
// would deduplicate identical (fid, count) rows across shards and corrupt
// the sums. Every table name must pass shard validation before it may be
// interpolated.
func writeShardUnion(b *strings.Builder, tables []string) error {
	for i, name := range tables {
		if err := schema.ValidateTableName(name); err != nil {
			return err
		}
		if i > 0 {
			b.WriteString(" UNION ALL ")
		}
		fmt.Fprintf(b, "SELECT %s, %s FROM %s", schema.FidColumn, schema.CountColumn, name)
	}
	return nil
}

// buildAggregateQuery synthesizes the per-file aggregation over the given
// shards, optionally restricted by a count filter on the total.
func buildAggregateQuery(dialect metastore.Dialect, shards []schema.Shard, filter *CountFilter) (string, []any, error) {
	cast, err := intCastType(dialect)
	if err != nil {
		return "", nil, err
	}

	tables := make([]string, 0, len(shards))
	for _, shard := range shards {
		tables = append(tables, shard.Name)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s, CAST(SUM(%s) AS %s) AS total FROM (", schema.FidColumn, schema.CountColumn, cast)
	if err := writeShardUnion(&b, tables); err != nil {
		return "", nil, err
	}
	fmt.Fprintf(&b, ") AS shards GROUP BY %s", schema.FidColumn)

	var args []any
	if filter != nil {
		fmt.Fprintf(&b, " HAVING SUM(%s) %s ?", schema.CountColumn, filter.Op)
		args = append(args, filter.Threshold)
	}
	return b.String(), args, nil
}

// buildRankQuery synthesizes the top-N ranking over the given shard tables.
// Ties break on fid to keep the order stable.
func buildRankQuery(dialect metastore.Dialect, tables []string, top int) (string, []any, error) {
	cast, err := intCastType(dialect)
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s, CAST(SUM(%s) AS %s) AS total FROM (", schema.FidColumn, schema.CountColumn, cast)
	if err := writeShardUnion(&b, tables); err != nil {
		return "", nil, err
	}
	fmt.Fprintf(&b, ") AS shards GROUP BY %s ORDER BY total DESC, %s LIMIT ?", schema.FidColumn, schema.FidColumn)

	return b.String(), []any{top}, nil
}

// buildProportionViewQuery synthesizes the view scaling every count of the
// source shard by the window ratio. Scaled counts floor, so a derived short
// window undercounts by at most one access per file.
func buildProportionViewQuery(dialect metastore.Dialect, dest, source string, scale float64) (string, error) {
	cast, err := intCastType(dialect)
	if err != nil {
		return "", err
	}
	if err := schema.ValidateTableName(dest); err != nil {
		return "", err
	}
	if err := schema.ValidateTableName(source); err != nil {
		return "", err
	}

	return fmt.Sprintf(
		"CREATE VIEW %s AS SELECT %s, CAST(FLOOR(%s * %s) AS %s) AS %s FROM %s",
		dest, schema.FidColumn, schema.CountColumn, formatScale(scale), cast, schema.CountColumn, source,
	), nil
}

// formatScale renders the window ratio as a plain decimal literal. The 'f'
// format never produces an exponent, which both dialects accept inside a
// view definition.
func formatScale(scale float64) string {
	return strconv.FormatFloat(scale, 'f', -1, 64)
}
