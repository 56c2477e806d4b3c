package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeFresh               = "fresh"
	outcomeRefreshed           = "refreshed"
	outcomeCreated             = "created"
	outcomeDenied              = "denied"
	outcomeInvalid             = "invalid"
	outcomeUpstreamUnavailable = "upstream_unavailable"
	outcomeProviderError       = "provider_error"
	outcomeStorageError        = "storage_error"

	opAdd    = "add"
	opRemove = "remove"
)

// Metrics holds the Prometheus collectors of a Service. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	lookups     *prometheus.CounterVec
	fetch       prometheus.Histogram
	denyChanges *prometheus.CounterVec
}

// NewMetrics creates the service collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geocache_lookups_total",
			Help: "Single IP lookups by outcome.",
		}, []string{"outcome"}),
		fetch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "geocache_upstream_fetch_seconds",
			Help:    "Latency of upstream provider fetches.",
			Buckets: prometheus.DefBuckets,
		}),
		denyChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geocache_denylist_changes_total",
			Help: "Deny-list additions and removals.",
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(m.lookups, m.fetch, m.denyChanges)
	}
	return m
}

func (m *Metrics) lookup(outcome string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeFetch(d time.Duration) {
	if m == nil {
		return
	}
	m.fetch.Observe(d.Seconds())
}

func (m *Metrics) denyChange(op string) {
	if m == nil {
		return
	}
	m.denyChanges.WithLabelValues(op).Inc()
}
