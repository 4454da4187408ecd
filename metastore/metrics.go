// Copyright (c) 2025 Cloudflare, Inc.
// Licensed under the Apache 2.0 license found in the LICENSE file or at:
//     https://opensource.org/licenses/Apache-2.0

package metastore

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	opQuery  = "query"
	opUpdate = "update"
	opExec   = "exec"
)

var (
	gatewayOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_operations_total",
		Help: "Total amount of statements executed through the gateway",
	}, []string{"operation"})
	gatewayOperationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_operation_duration_seconds",
		Help:    "Time spent executing a single statement",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	cacheReloads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "identifier_cache_reloads_total",
		Help: "Total amount of full reloads per cache dimension",
	}, []string{"dimension"})
	cacheInvalidations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "identifier_cache_invalidations_total",
		Help: "Total amount of invalidations per cache dimension",
	}, []string{"dimension"})
	residencyUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cached_file_updates_total",
		Help: "Total amount of cache residency rows refreshed from access events",
	})
	residencyMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cached_file_update_misses_total",
		Help: "Total amount of residency updates that matched no row",
	})
)

func RegisterMetrics(reg prometheus.Registerer) error {
	for _, op := range []string{opQuery, opUpdate, opExec} {
		gatewayOperations.WithLabelValues(op).Add(0)
	}
	for _, d := range []string{dimOwners, dimGroups, dimStoragePolicies, dimStorages} {
		cacheReloads.WithLabelValues(d).Add(0)
		cacheInvalidations.WithLabelValues(d).Add(0)
	}
	residencyUpdates.Add(0)
	residencyMisses.Add(0)

	return errors.Join(
		reg.Register(gatewayOperations),
		reg.Register(gatewayOperationDuration),
		reg.Register(cacheReloads),
		reg.Register(cacheInvalidations),
		reg.Register(residencyUpdates),
		reg.Register(residencyMisses),
	)
}
