// Package metrics exposes Prometheus instrumentation for the sync cycles and
// the embedded artifact server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Cycle results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	cycles          *prometheus.CounterVec
	resolveFailures prometheus.Counter
	httpRequests    *prometheus.CounterVec
	hostsEntries    *prometheus.GaugeVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fgh_cycles_total",
				Help: "How many fetch or resolve cycles ran",
			},
			[]string{"role", "result"},
		),
		resolveFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fgh_resolve_failures_total",
				Help: "How many domains had no IPv4 address during resolution",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fgh_http_requests_total",
				Help: "How many requests the artifact server answered",
			},
			[]string{"route"},
		),
		hostsEntries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fgh_hosts_entries",
				Help: "Number of host entries produced by the last successful cycle",
			},
			[]string{"role"},
		),
	}

	m.registry.MustRegister(
		m.cycles,
		m.resolveFailures,
		m.httpRequests,
		m.hostsEntries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the registry backing these metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveCycle records one finished cycle of role.
func (m *Metrics) ObserveCycle(role string, err error) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	m.cycles.With(prometheus.Labels{"role": role, "result": result}).Inc()
}

// SetEntries records how many entries role produced.
func (m *Metrics) SetEntries(role string, n int) {
	if m == nil {
		return
	}
	m.hostsEntries.WithLabelValues(role).Set(float64(n))
}

// AddResolveFailures counts domains dropped from a resolution pass.
func (m *Metrics) AddResolveFailures(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.resolveFailures.Add(float64(n))
}

// ObserveRequest counts one served request.
func (m *Metrics) ObserveRequest(route string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route).Inc()
}
