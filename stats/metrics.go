// Copyright (c) 2025 Cloudflare, Inc.
// Licensed under the Apache 2.0 license found in the LICENSE file or at:
//     https://opensource.org/licenses/Apache-2.0

package stats

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	operationAggregate            = "aggregate"
	operationHotFiles             = "hot_files"
	operationCreateProportionView = "create_proportion_view"
)

var (
	serviceOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "operations_total",
		Help: "Total amount of statistics operations started",
	}, []string{"operation"})
	unionedShards = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "aggregate_unioned_shards",
		Help:    "Amount of access count shards unioned into one aggregate statement",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
	proportionViews = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "proportion_views_created_total",
		Help: "Total amount of proportion views created",
	})
)

func RegisterMetrics(reg prometheus.Registerer) error {
	for _, op := range []string{operationAggregate, operationHotFiles, operationCreateProportionView} {
		serviceOperations.WithLabelValues(op).Add(0)
	}

	return errors.Join(
		reg.Register(serviceOperations),
		reg.Register(unionedShards),
		reg.Register(proportionViews),
	)
}
