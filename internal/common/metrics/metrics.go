package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the KDS collectors. Each instance owns its collectors so
// tests can build one against a throwaway registry.
type Metrics struct {
	IngestRuns          *prometheus.CounterVec
	IngestDuration      prometheus.Histogram
	OrdersCreated       prometheus.Counter
	OrdersPurged        prometheus.Counter
	MalformedAttributes prometheus.Counter
	StatusTransitions   *prometheus.CounterVec
	NotifyFailures      *prometheus.CounterVec
	StreamSubscribers   prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IngestRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kds",
			Name:      "ingest_runs_total",
			Help:      "Ingestion cycles by result (ok, error, skipped).",
		}, []string{"result"}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kds",
			Name:      "ingest_duration_seconds",
			Help:      "Duration of one ingestion cycle.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		OrdersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kds",
			Name:      "orders_created_total",
			Help:      "Kitchen orders created from POS tickets.",
		}),
		OrdersPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kds",
			Name:      "orders_purged_total",
			Help:      "Completed kitchen orders removed by the retention sweep.",
		}),
		MalformedAttributes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kds",
			Name:      "malformed_attributes_total",
			Help:      "Ticket lines whose attribute blob could not be parsed.",
		}),
		StatusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kds",
			Name:      "status_transitions_total",
			Help:      "Accepted status changes by target status.",
		}, []string{"status"}),
		NotifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kds",
			Name:      "notify_failures_total",
			Help:      "Failed order notifications by driver.",
		}, []string{"driver"}),
		StreamSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kds",
			Name:      "stream_subscribers",
			Help:      "Connected event-stream clients.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.IngestRuns, m.IngestDuration, m.OrdersCreated, m.OrdersPurged,
			m.MalformedAttributes, m.StatusTransitions, m.NotifyFailures, m.StreamSubscribers,
		)
	}
	return m
}
