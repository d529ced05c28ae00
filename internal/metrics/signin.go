package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Sign-in pipeline metrics. Standalone package so both the orchestrator and
// the HTTP layer can record without import cycles.

var (
	SignInTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signin_total",
		Help: "Sign-in attempts by provider and outcome",
	}, []string{"provider", "outcome"})

	ExchangeLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "provider_exchange_latency_ms",
		Help:    "Authorization code exchange latency in milliseconds",
		Buckets: prometheus.ExponentialBuckets(5, 2, 10),
	}, []string{"provider"})

	StoreErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "store_errors_total",
		Help: "Identity store operation failures by operation",
	}, []string{"op"})

	SessionsIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sessions_issued_total",
		Help: "Session artifacts issued",
	})
)

// Register registers the sign-in metrics on the given registry (or default if nil).
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{SignInTotal, ExchangeLatency, StoreErrors, SessionsIssued} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
