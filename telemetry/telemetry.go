package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures telemetry events emitted while build definitions are
// materialized.
//
// Implementations may forward metrics to Prometheus, loggers or other
// monitoring systems. They should be inexpensive to call because hooks are
// executed inline with configuration loading.
type Collector interface {
	IncTargetMaterialized(pkg string)
	IncValidationFailure(pkg, reason string)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncTargetMaterialized(string)     {}
func (noopCollector) IncValidationFailure(_, _ string) {}

// PrometheusCollector exposes materialization counters via Prometheus.
type PrometheusCollector struct {
	materialized *prometheus.CounterVec
	failures     *prometheus.CounterVec
}

var (
	materializedCounter     *prometheus.CounterVec
	materializedCounterLock sync.Mutex
	failureCounter          *prometheus.CounterVec
	failureCounterLock      sync.Mutex
)

// NewPrometheusCollector registers the required metrics with the provided registerer.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	materializedCounterLock.Lock()
	if materializedCounter == nil {
		counter := prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faasdef_targets_materialized_total",
			Help: "Number of function targets successfully materialized per package.",
		}, []string{"package"})
		if err := reg.Register(counter); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
					counter = existing
				}
			} else {
				materializedCounterLock.Unlock()
				return nil, err
			}
		}
		materializedCounter = counter
	}
	materialized := materializedCounter
	materializedCounterLock.Unlock()

	failureCounterLock.Lock()
	if failureCounter == nil {
		counter := prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faasdef_target_validation_failures_total",
			Help: "Number of rejected function targets per package and failure kind.",
		}, []string{"package", "reason"})
		if err := reg.Register(counter); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
					counter = existing
				}
			} else {
				failureCounterLock.Unlock()
				return nil, err
			}
		}
		failureCounter = counter
	}
	failures := failureCounter
	failureCounterLock.Unlock()

	return &PrometheusCollector{materialized: materialized, failures: failures}, nil
}

// IncTargetMaterialized counts one successfully materialized target.
func (c *PrometheusCollector) IncTargetMaterialized(pkg string) {
	if c == nil || c.materialized == nil {
		return
	}
	c.materialized.WithLabelValues(pkg).Inc()
}

// IncValidationFailure counts one rejected target.
func (c *PrometheusCollector) IncValidationFailure(pkg, reason string) {
	if c == nil || c.failures == nil {
		return
	}
	c.failures.WithLabelValues(pkg, reason).Inc()
}
