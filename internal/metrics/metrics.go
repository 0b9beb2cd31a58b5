// Package metrics exposes Prometheus instrumentation for token exchanges
// and refreshes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result label values.
const (
	ResultSuccess   = "success"
	ResultRejected  = "rejected"
	ResultTransient = "transient"
)

// Metrics groups the collectors recorded by the token manager. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Exchanges       *prometheus.CounterVec
	Refreshes       *prometheus.CounterVec
	RefreshDuration *prometheus.HistogramVec
	StoreErrors     prometheus.Counter
}

// New creates the collectors and registers them on reg, or on the default
// registerer when reg is nil. Collectors already registered are reused.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		Exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mailauth",
			Name:      "token_exchanges_total",
			Help:      "Authorization code exchanges by provider and result.",
		}, []string{"provider", "result"}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mailauth",
			Name:      "token_refreshes_total",
			Help:      "Refresh token grants by provider and result.",
		}, []string{"provider", "result"}),
		RefreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mailauth",
			Name:      "token_refresh_duration_seconds",
			Help:      "Latency of refresh token grants, including the retry.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"provider"}),
		StoreErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mailauth",
			Name:      "account_store_errors_total",
			Help:      "Failed writes to the durable account store.",
		}),
	}

	m.Exchanges = register(reg, m.Exchanges)
	m.Refreshes = register(reg, m.Refreshes)
	m.RefreshDuration = register(reg, m.RefreshDuration)
	m.StoreErrors = register(reg, m.StoreErrors)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

// ObserveExchange records one code exchange.
func (m *Metrics) ObserveExchange(provider, result string) {
	if m == nil {
		return
	}
	m.Exchanges.WithLabelValues(provider, result).Inc()
}

// ObserveRefresh records one refresh and how long it took.
func (m *Metrics) ObserveRefresh(provider, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(provider, result).Inc()
	m.RefreshDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// ObserveStoreError records a failed store write.
func (m *Metrics) ObserveStoreError() {
	if m == nil {
		return
	}
	m.StoreErrors.Inc()
}
