// Package metrics exposes live operational gauges/counters via
// prometheus/client_golang. This is deliberately thin: it mirrors pool and
// proxy occupancy for a human watching a dashboard, not a persisted
// telemetry store — the evidence vault and recordings remain the only
// durable artifacts per spec.md's Non-goals.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every gauge/counter the core exposes. Construct once per
// process and wire into the components that own the numbers.
type Registry struct {
	Reg *prometheus.Registry

	PoolAvailable   prometheus.Gauge
	PoolAcquired    prometheus.Gauge
	PoolAcquireMiss prometheus.Counter

	PagesActive         prometheus.Gauge
	NavigationsFailed   prometheus.Counter
	RateLimitDelays     prometheus.Counter

	ProxiesHealthy    prometheus.Gauge
	ProxiesBlacklisted prometheus.Gauge

	EvidenceCollected prometheus.Counter
	EvidenceSealed    prometheus.Counter
	VerificationsFailed prometheus.Counter
}

// New builds a Registry with every metric registered under the "corvid_"
// namespace.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		Reg: reg,
		PoolAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "corvid", Subsystem: "window_pool", Name: "available", Help: "Available page hosts.",
		}),
		PoolAcquired: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "corvid", Subsystem: "window_pool", Name: "acquired", Help: "Acquired page hosts.",
		}),
		PoolAcquireMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corvid", Subsystem: "window_pool", Name: "acquire_misses_total", Help: "Acquire calls that found no available host.",
		}),
		PagesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "corvid", Subsystem: "page_manager", Name: "pages_active", Help: "Active managed pages.",
		}),
		NavigationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corvid", Subsystem: "page_manager", Name: "navigations_failed_total", Help: "Failed navigations.",
		}),
		RateLimitDelays: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corvid", Subsystem: "page_manager", Name: "rate_limit_delays_total", Help: "Navigations delayed for domain politeness.",
		}),
		ProxiesHealthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "corvid", Subsystem: "proxy_pool", Name: "healthy", Help: "Proxies currently healthy or degraded.",
		}),
		ProxiesBlacklisted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "corvid", Subsystem: "proxy_pool", Name: "blacklisted", Help: "Proxies currently blacklisted.",
		}),
		EvidenceCollected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corvid", Subsystem: "evidence", Name: "collected_total", Help: "Evidence items collected.",
		}),
		EvidenceSealed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corvid", Subsystem: "evidence", Name: "sealed_total", Help: "Evidence items/packages sealed.",
		}),
		VerificationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corvid", Subsystem: "evidence", Name: "verifications_failed_total", Help: "Evidence verification failures.",
		}),
	}
	reg.MustRegister(
		r.PoolAvailable, r.PoolAcquired, r.PoolAcquireMiss,
		r.PagesActive, r.NavigationsFailed, r.RateLimitDelays,
		r.ProxiesHealthy, r.ProxiesBlacklisted,
		r.EvidenceCollected, r.EvidenceSealed, r.VerificationsFailed,
	)
	return r
}
