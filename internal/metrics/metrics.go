// Package metrics defines the Prometheus instruments for the gateway
// subsystem.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OrdersTotal counts order attempts by gateway type and result
	// ("success" or "failure").
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_orders_total",
		Help: "Order creation attempts by gateway and result.",
	}, []string{"gateway", "result"})

	// FailoverExhaustedTotal counts logical requests that exhausted the
	// attempt budget.
	FailoverExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_failover_exhausted_total",
		Help: "Requests for which all failover attempts failed.",
	})

	// SelectionFailuresTotal counts select calls that found no eligible
	// gateway.
	SelectionFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_selection_failures_total",
		Help: "Gateway selections that yielded no eligible candidate.",
	})

	// OrderAttemptSeconds observes per-attempt order creation latency.
	OrderAttemptSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_order_attempt_seconds",
		Help:    "Latency of individual order creation attempts.",
		Buckets: prometheus.DefBuckets,
	}, []string{"gateway"})
)
