package weekblock

import "github.com/prometheus/client_golang/prometheus"

var LookupCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "weekblock",
	Subsystem: "resolver",
	Name:      "lookups",
}, []string{"tier", "result"})

var SelfHealCount = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "weekblock",
	Subsystem: "resolver",
	Name:      "self_heals",
})

var CacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "weekblock",
	Subsystem: "cache",
	Name:      "hits",
}, []string{"kind"})

var CacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "weekblock",
	Subsystem: "cache",
	Name:      "misses",
}, []string{"kind"})

var StaleIndexPurged = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "weekblock",
	Subsystem: "index",
	Name:      "stale_purged",
})

var BlocksCreated = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "weekblock",
	Subsystem: "layout",
	Name:      "blocks_created",
})

var MalformedRuns = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "weekblock",
	Subsystem: "layout",
	Name:      "malformed_runs",
})

var ValidationMismatches = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "weekblock",
	Subsystem: "validator",
	Name:      "mismatches",
}, []string{"kind"})

var ValidationRuns = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "weekblock",
	Subsystem: "validator",
	Name:      "runs",
})

var RebuildCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "weekblock",
	Subsystem: "validator",
	Name:      "rebuilds",
}, []string{"reason"})

var RebuildDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "weekblock",
	Subsystem: "validator",
	Name:      "rebuild_duration",
	Buckets:   []float64{0, 1, 5, 10, 20, 50, 100, 200, 500},
}, []string{"reason"})

var ProvisionedBlocks = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "weekblock",
	Subsystem: "maintenance",
	Name:      "provisioned_blocks",
})
