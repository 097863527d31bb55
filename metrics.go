package asyncq

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "asyncq"

// Metrics records Service activity. A nil *Metrics records nothing.
type Metrics struct {
	operations *prometheus.CounterVec
	inFlight   *prometheus.GaugeVec
	requeued   prometheus.Counter
	dropped    prometheus.Counter
}

// NewMetrics creates Metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "operations_total",
			Help:      "Completed operations by operation and outcome",
		}, []string{"op", "outcome"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "operations_in_flight",
			Help:      "Operations started but not yet finished",
		}, []string{"op"}),
		requeued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "orphans_requeued_total",
			Help:      "Messages taken by a cancelled receive and sent back to the queue",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "orphans_dropped_total",
			Help:      "Messages taken by a cancelled receive that could not be sent back",
		}),
	}
	for _, c := range []prometheus.Collector{m.operations, m.inFlight, m.requeued, m.dropped} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// start marks op as in flight and returns the function that records how it
// finished.
func (m *Metrics) start(op string) func(Outcome) {
	if m == nil {
		return func(Outcome) {}
	}
	g := m.inFlight.WithLabelValues(op)
	g.Inc()
	return func(o Outcome) {
		g.Dec()
		m.operations.WithLabelValues(op, o.String()).Inc()
	}
}

func (m *Metrics) orphan(requeued bool) {
	if m == nil {
		return
	}
	if requeued {
		m.requeued.Inc()
	} else {
		m.dropped.Inc()
	}
}
