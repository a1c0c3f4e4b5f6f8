// Package observability exposes the core's structured events as Prometheus
// collectors: swap latency, candidate registry size, and remote sync
// counters. Transport of these metrics (an HTTP exporter, a push gateway)
// is the host's concern, not the core's.
package observability

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every collector the core registers.
type Metrics struct {
	SwapDuration      *prometheus.HistogramVec
	SwapsTotal        *prometheus.CounterVec
	SwapFailuresTotal *prometheus.CounterVec

	ActiveCandidates *prometheus.GaugeVec

	RemoteSyncTotal    *prometheus.CounterVec
	RemoteSyncDuration prometheus.Histogram
	RemoteEntriesTotal *prometheus.CounterVec

	WatcherPollsTotal *prometheus.CounterVec
}

// New creates Metrics and registers every collector with reg.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		SwapDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "oneiric",
			Subsystem: "lifecycle",
			Name:      "swap_duration_seconds",
			Help:      "Duration of lifecycle swap attempts.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"domain", "key", "outcome"}),

		SwapsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oneiric",
			Subsystem: "lifecycle",
			Name:      "swaps_total",
			Help:      "Total successful lifecycle swaps.",
		}, []string{"domain", "key"}),

		SwapFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oneiric",
			Subsystem: "lifecycle",
			Name:      "swap_failures_total",
			Help:      "Total failed lifecycle swaps, by reason.",
		}, []string{"domain", "key", "reason"}),

		ActiveCandidates: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "oneiric",
			Subsystem: "registry",
			Name:      "active_candidates",
			Help:      "Number of active candidates per domain.",
		}, []string{"domain"}),

		RemoteSyncTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oneiric",
			Subsystem: "remote",
			Name:      "sync_total",
			Help:      "Total remote manifest sync attempts, by outcome.",
		}, []string{"outcome"}),

		RemoteSyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "oneiric",
			Subsystem: "remote",
			Name:      "sync_duration_seconds",
			Help:      "Duration of remote manifest sync attempts.",
			Buckets:   prometheus.DefBuckets,
		}),

		RemoteEntriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oneiric",
			Subsystem: "remote",
			Name:      "entries_total",
			Help:      "Total manifest entries processed, by outcome.",
		}, []string{"outcome"}),

		WatcherPollsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oneiric",
			Subsystem: "watcher",
			Name:      "polls_total",
			Help:      "Total selection watcher poll cycles, by domain and event kind.",
		}, []string{"domain", "kind"}),
	}

	reg.MustRegister(
		m.SwapDuration, m.SwapsTotal, m.SwapFailuresTotal,
		m.ActiveCandidates,
		m.RemoteSyncTotal, m.RemoteSyncDuration, m.RemoteEntriesTotal,
		m.WatcherPollsTotal,
	)
	return m
}

// ObserveSwap records one lifecycle swap outcome.
func (m *Metrics) ObserveSwap(domain, key, outcome string, seconds float64) {
	m.SwapDuration.WithLabelValues(domain, key, outcome).Observe(seconds)
	if outcome == "ready" {
		m.SwapsTotal.WithLabelValues(domain, key).Inc()
	}
}

// ObserveSwapFailure records a failed swap with its reason sub-code.
func (m *Metrics) ObserveSwapFailure(domain, key, reason string) {
	m.SwapFailuresTotal.WithLabelValues(domain, key, reason).Inc()
}

// ObserveRemoteSync records one remote manifest sync's outcome, duration,
// and entry counts.
func (m *Metrics) ObserveRemoteSync(outcome string, seconds float64, registered, skipped int) {
	m.RemoteSyncTotal.WithLabelValues(outcome).Inc()
	m.RemoteSyncDuration.Observe(seconds)
	m.RemoteEntriesTotal.WithLabelValues("registered").Add(float64(registered))
	m.RemoteEntriesTotal.WithLabelValues("skipped").Add(float64(skipped))
}

// ObserveWatcherPoll records one watcher event by domain and kind
// ("swapped", "paused", "deferred", "failed").
func (m *Metrics) ObserveWatcherPoll(domain, kind string) {
	m.WatcherPollsTotal.WithLabelValues(domain, kind).Inc()
}
