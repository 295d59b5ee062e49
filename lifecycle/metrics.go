package lifecycle

import (
	"time"

	dErrors "mrv/domainerrors"
	"mrv/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the lifecycle's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	transitions     *prometheus.CounterVec
	registryAppends prometheus.Counter
	duration        prometheus.Histogram
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mrv_project_transitions_total",
			Help: "Project status transitions by target status and outcome",
		}, []string{"target", "outcome"}),
		registryAppends: factory.NewCounter(prometheus.CounterOpts{
			Name: "mrv_registry_appends_total",
			Help: "Verification records appended to the registry",
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mrv_project_transition_duration_seconds",
			Help:    "Latency of project transitions including lock wait",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) observeTransition(target models.Status, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(dErrors.CodeOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	m.transitions.WithLabelValues(string(target), outcome).Inc()
	m.duration.Observe(d.Seconds())
}

func (m *Metrics) registryAppended() {
	if m == nil {
		return
	}
	m.registryAppends.Inc()
}
