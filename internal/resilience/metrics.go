package resilience

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once

	// BreakerState exposes the current state per upstream: 0=closed,1=open,2=half-open.
	BreakerState *prometheus.GaugeVec
	// BreakerTransitions counts state changes per upstream.
	BreakerTransitions *prometheus.CounterVec
	// BreakerOpenedTotal counts how often an upstream tripped its breaker.
	BreakerOpenedTotal *prometheus.CounterVec
	// UpstreamAttempts counts HTTP attempts made through HTTPClient by upstream and result.
	UpstreamAttempts *prometheus.CounterVec
)

// MustRegisterMetrics creates the breaker collectors and registers them with reg.
// Calling it more than once is a no-op.
func MustRegisterMetrics(namespace string, reg prometheus.Registerer) {
	metricsOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Current breaker state: 0=closed,1=open,2=half-open",
		}, []string{"target"})
		BreakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transition_total",
			Help:      "Count of breaker state transitions",
		}, []string{"target", "from", "to"})
		BreakerOpenedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_open_total",
			Help:      "Number of times a breaker transitioned into open state",
		}, []string{"target"})
		UpstreamAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_attempts_total",
			Help:      "HTTP attempts made against upstream dependencies",
		}, []string{"target", "result"})
		reg.MustRegister(BreakerState, BreakerTransitions, BreakerOpenedTotal, UpstreamAttempts)
	})
}

func observeAttempt(target, result string) {
	if UpstreamAttempts == nil {
		return
	}
	UpstreamAttempts.WithLabelValues(target, result).Inc()
}
