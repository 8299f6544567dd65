package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xquery_engine_requests_total",
			Help: "Total number of query requests",
		},
		[]string{"category", "status"},
	)
	evalDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "xquery_engine_eval_duration_seconds",
			Help:    "Time spent evaluating and applying a query",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"category"},
	)
	updatesApplied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "xquery_engine_updates_applied_total",
			Help: "Total number of update primitives applied",
		},
	)
)
