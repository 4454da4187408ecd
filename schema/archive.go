// Copyright (c) The Thanos Authors.
// Licensed under the Apache 2.0 license found in the LICENSE file or at:
//     https://opensource.org/licenses/Apache-2.0

package schema

import (
	"fmt"
	"strings"
)

const (
	archiveSuffix  = ".parquet"
	manifestSuffix = ".manifest.json"
)

// ArchiveRow is the parquet row format of an archived access-count shard.
type ArchiveRow struct {
	Fid   int64 `parquet:"fid"`
	Count int64 `parquet:"count"`
}

// ArchiveObjectName returns the object key for an archived shard,
// e.g. "01JD.../acc_0_100.parquet".
func ArchiveObjectName(id, shard string) string {
	return fmt.Sprintf("%s/%s%s", id, shard, archiveSuffix)
}

// ManifestObjectName returns the object key of the manifest written next to
// an archived shard.
func ManifestObjectName(id, shard string) string {
	return fmt.Sprintf("%s/%s%s", id, shard, manifestSuffix)
}

// SplitArchiveObjectName splits an archive object key into the export id and
// the shard table name.
func SplitArchiveObjectName(object string) (id, shard string, err error) {
	id, rest, ok := strings.Cut(object, "/")
	if !ok || id == "" {
		return "", "", fmt.Errorf("object %q is not an archived shard", object)
	}
	shard, ok = strings.CutSuffix(rest, archiveSuffix)
	if !ok || strings.ContainsRune(shard, '/') {
		return "", "", fmt.Errorf("object %q is not an archived shard", object)
	}
	if err := ValidateTableName(shard); err != nil {
		return "", "", fmt.Errorf("object %q: %w", object, err)
	}
	return id, shard, nil
}

// IsArchiveObject reports whether the object key names an archived shard
// rather than a manifest or unrelated object.
func IsArchiveObject(object string) bool {
	_, _, err := SplitArchiveObjectName(object)
	return err == nil
}
