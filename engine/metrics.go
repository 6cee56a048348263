package engine

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the engine's prometheus collectors, grounded on the
// distributed-scheduler example's package-level counter set but scoped as
// fields on a struct so multiple Engine instances in tests don't collide on a
// shared default registry.
type Metrics struct {
	triggersAcquired prometheus.Counter
	triggersFired    prometheus.Counter
	misfiresHandled  prometheus.Counter
	acquireErrors    prometheus.Counter
}

// NewMetrics constructs and registers an Engine's counters against reg. Pass
// prometheus.NewRegistry() in tests to avoid the global default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		triggersAcquired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobstore_triggers_acquired_total",
			Help: "Triggers claimed WAITING to ACQUIRED by this instance.",
		}),
		triggersFired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobstore_triggers_fired_total",
			Help: "Triggers moved through the fire transition.",
		}),
		misfiresHandled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobstore_misfires_handled_total",
			Help: "Triggers rescheduled by the misfire handler.",
		}),
		acquireErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobstore_acquire_errors_total",
			Help: "AcquireAndFire calls that returned an error.",
		}),
	}
	reg.MustRegister(m.triggersAcquired, m.triggersFired, m.misfiresHandled, m.acquireErrors)
	return m
}
