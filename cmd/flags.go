// Copyright (c) 2025 Cloudflare, Inc.
// Licensed under the Apache 2.0 license found in the LICENSE file or at:
//     https://opensource.org/licenses/Apache-2.0

package main

import (
	"strings"

	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/tierstore/metastat/schema"
)

type shardNameSlice []string

func (a *shardNameSlice) Set(value string) error {
	for _, name := range strings.Split(value, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if err := schema.ValidateTableName(name); err != nil {
			return err
		}
		*a = append(*a, name)
	}

	return nil
}

func (a *shardNameSlice) String() string {
	return strings.Join(*a, ",")
}

func ShardNamesVar(flags *kingpin.FlagClause, target *shardNameSlice) {
	flags.SetValue((*shardNameSlice)(target))
	return
}
