// Package metrics exposes ledger activity to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"casevault/internal/custody"
)

// Custody implements custody.Metrics on its own registry so tests and
// multiple instances never collide on the global one.
type Custody struct {
	registry       *prometheus.Registry
	recorded       *prometheus.CounterVec
	conflicts      prometheus.Counter
	verifications  *prometheus.CounterVec
	verifyDuration prometheus.Histogram
}

func NewCustody() *Custody {
	m := &Custody{
		registry: prometheus.NewRegistry(),
		recorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coc_events_recorded_total",
			Help: "Chain-of-custody events appended, by activity type.",
		}, []string{"activity_type"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coc_append_conflicts_total",
			Help: "Appends rejected because another writer extended the chain first.",
		}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coc_verifications_total",
			Help: "Chain verifications, by result.",
		}, []string{"result"}),
		verifyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "coc_verify_duration_seconds",
			Help:    "Time spent verifying one chain snapshot.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
	}
	m.registry.MustRegister(
		m.recorded,
		m.conflicts,
		m.verifications,
		m.verifyDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Custody) EventRecorded(activity custody.ActivityType) {
	m.recorded.WithLabelValues(string(activity)).Inc()
}

func (m *Custody) AppendConflict() { m.conflicts.Inc() }

func (m *Custody) VerificationCompleted(valid bool, took time.Duration) {
	result := "invalid"
	if valid {
		result = "valid"
	}
	m.verifications.WithLabelValues(result).Inc()
	m.verifyDuration.Observe(took.Seconds())
}

func (m *Custody) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Custody) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
