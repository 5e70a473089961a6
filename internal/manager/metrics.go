package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "adamcp",
			Subsystem: "pool",
			Name:      "requests_total",
			Help:      "Total language-server requests by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "adamcp",
			Subsystem: "pool",
			Name:      "request_duration_seconds",
			Help:      "Duration of language-server requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	poolInstances = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "adamcp",
			Subsystem: "pool",
			Name:      "instances",
			Help:      "Current number of pooled language-server instances",
		},
	)

	poolSpawns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "adamcp",
			Subsystem: "pool",
			Name:      "spawns_total",
			Help:      "Total instance spawns",
		},
	)

	poolEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "adamcp",
			Subsystem: "pool",
			Name:      "evictions_total",
			Help:      "Total LRU evictions of idle instances",
		},
	)

	processCrashes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "adamcp",
			Subsystem: "process",
			Name:      "crashes_total",
			Help:      "Total unexpected language-server exits",
		},
	)

	processRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "adamcp",
			Subsystem: "process",
			Name:      "restarts_total",
			Help:      "Total successful crash recoveries",
		},
	)

	cacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "adamcp",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total response cache hits",
		},
	)

	cacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "adamcp",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total response cache misses",
		},
	)

	cacheEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "adamcp",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Total response cache entries dropped by expiry or invalidation",
		},
	)
)

func init() {
	prometheus.MustRegister(
		requestsTotal, requestDuration,
		poolInstances, poolSpawns, poolEvictions,
		processCrashes, processRestarts,
		cacheHits, cacheMisses, cacheEvictions,
	)
}
