// Copyright (c) The Thanos Authors.
// Licensed under the Apache 2.0 license found in the LICENSE file or at:
//     https://opensource.org/licenses/Apache-2.0

package metastore

import "errors"

var (
	ErrUnknownStoragePolicy = errors.New("unknown storage policy name")
	ErrNoFieldsToUpdate     = errors.New("update has no fields to set")
	ErrUnsupportedDialect   = errors.New("unsupported database dialect")
	ErrNotFound             = errors.New("identifier not found")
)
