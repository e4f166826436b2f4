// Package metrics provides Prometheus metrics for retrieval and relocation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mailrows"

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// MessagesRetrieved counts materialized message rows
	MessagesRetrieved prometheus.Counter

	// AttachmentsRetrieved counts attachment rows
	AttachmentsRetrieved prometheus.Counter

	// HeadersRetrieved counts header rows
	HeadersRetrieved prometheus.Counter

	// SeenRestored counts messages whose \Seen flag was reset after download
	SeenRestored prometheus.Counter

	// RetrievalDuration measures whole retrieval calls in seconds
	RetrievalDuration prometheus.Histogram

	// Relocated counts relocated messages by strategy (move, copy)
	Relocated *prometheus.CounterVec

	// Failures counts failed calls by operation (retrieve, relocate)
	Failures *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		MessagesRetrieved: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "messages_total",
			Help:      "Total number of message rows produced",
		}),
		AttachmentsRetrieved: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "attachments_total",
			Help:      "Total number of attachment rows produced",
		}),
		HeadersRetrieved: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "headers_total",
			Help:      "Total number of header rows produced",
		}),
		SeenRestored: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "seen_restored_total",
			Help:      "Total number of messages reset to unseen after download",
		}),
		RetrievalDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "duration_seconds",
			Help:      "Retrieval call duration in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		Relocated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relocation",
			Name:      "messages_total",
			Help:      "Total number of relocated messages by strategy",
		}, []string{"strategy"}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Total number of failed calls by operation",
		}, []string{"operation"}),
	}
}

// Retrieval records the outcome of one retrieval call.
func (m *Metrics) Retrieval(messages, attachments, headers, restored int, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.MessagesRetrieved.Add(float64(messages))
	m.AttachmentsRetrieved.Add(float64(attachments))
	m.HeadersRetrieved.Add(float64(headers))
	m.SeenRestored.Add(float64(restored))
	m.RetrievalDuration.Observe(d.Seconds())
	if err != nil {
		m.Failures.WithLabelValues("retrieve").Inc()
	}
}

// Relocation records the outcome of one relocation call.
func (m *Metrics) Relocation(strategy string, moved int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.Failures.WithLabelValues("relocate").Inc()
		return
	}
	if strategy != "" {
		m.Relocated.WithLabelValues(strategy).Add(float64(moved))
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
