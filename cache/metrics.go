package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lookupTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xquery_cache_lookups_total",
			Help: "Compiled query lookups by result (hit, miss, exhausted)",
		},
		[]string{"result"},
	)
	compileErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "xquery_cache_compile_errors_total",
			Help: "Queries that failed to compile on a cache miss",
		},
	)
	activeQueries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "xquery_cache_active_queries",
			Help: "Compiled queries currently borrowed",
		},
	)
)
