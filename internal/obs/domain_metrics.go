package obs

import (
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CouponResolutionsTotal counts coupon resolution outcomes by resolver source.
	CouponResolutionsTotal *prometheus.CounterVec
	// CouponResolveLatency records resolver latency in milliseconds.
	CouponResolveLatency *prometheus.HistogramVec
	// CouponResolutionsDiscarded counts resolutions that arrived for a superseded or closed session.
	CouponResolutionsDiscarded prometheus.Counter
	// CartMutationsTotal counts cart mutations by operation and result.
	CartMutationsTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CouponResolutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coupon_resolutions_total",
			Help:      "Count of coupon resolution outcomes.",
		}, []string{"source", "result"})
		CouponResolveLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "coupon_resolve_duration_ms",
			Help:      "Latency of coupon resolver calls in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}, []string{"source"})
		CouponResolutionsDiscarded = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coupon_resolutions_discarded_total",
			Help:      "Coupon resolutions dropped because the cart session moved on.",
		})
		CartMutationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_mutations_total",
			Help:      "Count of cart mutations by operation and result.",
		}, []string{"op", "result"})

		CouponResolutionsTotal = registerOrReuse(reg, CouponResolutionsTotal)
		CouponResolveLatency = registerOrReuse(reg, CouponResolveLatency)
		CouponResolutionsDiscarded = registerOrReuse(reg, CouponResolutionsDiscarded)
		CartMutationsTotal = registerOrReuse(reg, CartMutationsTotal)
	})
}

// ObserveCouponResolution records an outcome when domain metrics are registered.
func ObserveCouponResolution(source, result string, millis float64) {
	if CouponResolutionsTotal != nil {
		CouponResolutionsTotal.WithLabelValues(source, result).Inc()
	}
	if CouponResolveLatency != nil {
		CouponResolveLatency.WithLabelValues(source).Observe(millis)
	}
}

// ObserveCartMutation records a cart mutation when domain metrics are registered.
func ObserveCartMutation(op string, err error) {
	if CartMutationsTotal == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	CartMutationsTotal.WithLabelValues(op, result).Inc()
}

// registerOrReuse registers c, or returns the collector already registered
// under the same descriptor so repeated wiring in tests shares one series.
func registerOrReuse[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var dup prometheus.AlreadyRegisteredError
	if errors.As(err, &dup) {
		if existing, ok := dup.ExistingCollector.(T); ok {
			return existing
		}
		return c
	}
	panic(fmt.Errorf("register metric: %w", err))
}
