package apmz

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts records flowing through collectors.
type Metrics struct {
	// Queued is the number of records accepted, by collector and kind.
	Queued *prometheus.CounterVec
	// Dropped is the number of records dropped under backpressure.
	Dropped *prometheus.CounterVec
}

// NewMetrics registers the collector counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Queued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apmz",
			Name:      "records_queued_total",
			Help:      "Total records accepted by a collector.",
		}, []string{"collector", "kind"}),
		Dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apmz",
			Name:      "records_dropped_total",
			Help:      "Total records dropped by a collector due to backpressure.",
		}, []string{"collector", "kind"}),
	}
}

func (m *Metrics) queued(collector string, kind EventKind) {
	if m != nil {
		m.Queued.WithLabelValues(collector, kind.String()).Inc()
	}
}

func (m *Metrics) dropped(collector string, kind EventKind) {
	if m != nil {
		m.Dropped.WithLabelValues(collector, kind.String()).Inc()
	}
}
