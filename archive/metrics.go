// Copyright (c) 2025 Cloudflare, Inc.
// Licensed under the Apache 2.0 license found in the LICENSE file or at:
//     https://opensource.org/licenses/Apache-2.0

package archive

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	shardsExported = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shards_exported_total",
		Help: "Total amount of shards exported to object storage",
	})
	rowsExported = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rows_exported_total",
		Help: "Total amount of access count rows exported",
	})
	bytesExported = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bytes_exported_total",
		Help: "Total amount of parquet bytes uploaded",
	})
	shardsRestored = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shards_restored_total",
		Help: "Total amount of shards restored from object storage",
	})
	rowsRestored = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rows_restored_total",
		Help: "Total amount of access count rows restored",
	})
	lastSuccessfulExport = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "last_successful_export_time_unix_seconds",
		Help: "Timestamp of the last successful shard export",
	})
	lastSuccessfulRestore = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "last_successful_restore_time_unix_seconds",
		Help: "Timestamp of the last successful shard restore",
	})
)

func RegisterMetrics(reg prometheus.Registerer) error {
	return errors.Join(
		reg.Register(shardsExported),
		reg.Register(rowsExported),
		reg.Register(bytesExported),
		reg.Register(shardsRestored),
		reg.Register(rowsRestored),
		reg.Register(lastSuccessfulExport),
		reg.Register(lastSuccessfulRestore),
	)
}
