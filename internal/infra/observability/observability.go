// Package observability exposes Prometheus metrics for the ledger engine:
// outbound request outcomes, retries, deduplication and cache behavior,
// and settlement operations.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the engine emits. Construct once per
// process with NewMetrics and share by reference.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec // outcome: ok|business_error|transport_error
	RequestDuration  prometheus.Histogram
	RetriesTotal     prometheus.Counter
	RateLimitedTotal prometheus.Counter
	DedupHitsTotal   prometheus.Counter
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
	InFlight         prometheus.Gauge
	SettlementsTotal *prometheus.CounterVec // op: settle|unsettle
	EntriesPosted    prometheus.Counter
}

// NewMetrics registers the engine's collectors on the given registerer.
// Pass prometheus.DefaultRegisterer in production; tests use a fresh
// registry to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hisab_requests_total",
			Help: "Outbound ledger store requests by outcome.",
		}, []string{"outcome"}),
		RequestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "hisab_request_duration_seconds",
			Help:    "Wall-clock duration of ledger store calls, including retries.",
			Buckets: prometheus.DefBuckets,
		}),
		RetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "hisab_request_retries_total",
			Help: "Retry attempts after transient failures.",
		}),
		RateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "hisab_rate_limited_total",
			Help: "Responses that arrived rate-limited (HTTP 429).",
		}),
		DedupHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "hisab_dedup_hits_total",
			Help: "Requests coalesced onto an identical in-flight call.",
		}),
		CacheHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "hisab_cache_hits_total",
			Help: "Read calls served from the TTL response cache.",
		}),
		CacheMissesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "hisab_cache_misses_total",
			Help: "Read calls that went to the network.",
		}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hisab_requests_in_flight",
			Help: "Requests currently holding a concurrency slot.",
		}),
		SettlementsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hisab_settlements_total",
			Help: "Settlement operations by kind.",
		}, []string{"op"}),
		EntriesPosted: factory.NewCounter(prometheus.CounterOpts{
			Name: "hisab_entries_posted_total",
			Help: "Ledger entries successfully written.",
		}),
	}
}
