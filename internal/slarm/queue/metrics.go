package queue

import "github.com/prometheus/client_golang/prometheus"

type queueMetrics struct {
	enqueued prometheus.Counter
	dequeued prometheus.Counter
	dropped  prometheus.Counter
	depth    prometheus.Gauge
}

func newQueueMetrics(reg prometheus.Registerer, component string) (*queueMetrics, error) {
	labels := prometheus.Labels{"queue": component}
	m := &queueMetrics{
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "slarm",
			Subsystem:   "queue",
			Name:        "enqueued_total",
			ConstLabels: labels,
			Help:        "Events accepted by the queue",
		}),
		dequeued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "slarm",
			Subsystem:   "queue",
			Name:        "dequeued_total",
			ConstLabels: labels,
			Help:        "Events taken by polling consumers",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "slarm",
			Subsystem:   "queue",
			Name:        "dropped_total",
			ConstLabels: labels,
			Help:        "Events lost to the overflow policy",
		}),
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "slarm",
			Subsystem:   "queue",
			Name:        "depth",
			ConstLabels: labels,
			Help:        "Events waiting in the queue",
		}),
	}

	for _, c := range []prometheus.Collector{m.enqueued, m.dequeued, m.dropped, m.depth} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
