// Copyright (c) The Thanos Authors.
// Licensed under the Apache 2.0 license found in the LICENSE file or at:
//     https://opensource.org/licenses/Apache-2.0

package stats

import "errors"

var (
	ErrMalformedCountFilter = errors.New("malformed count filter expression")
	ErrUnknownShard         = errors.New("table is not a registered access count shard")
	ErrEmptySourceWindow    = errors.New("source shard window has no duration")
	ErrInvalidRegistryRow   = errors.New("registry row does not describe a valid shard")
)
