package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements the Recorder interface using Prometheus metrics.
type PrometheusRecorder struct {
	gatherer          prometheus.Gatherer
	assistantTotal    *prometheus.CounterVec
	assistantDuration *prometheus.HistogramVec
	screenerTotal     *prometheus.CounterVec
	documentTotal     *prometheus.CounterVec
	sessionTotal      *prometheus.CounterVec
}

// NewPrometheusRecorder registers the collectors on a private registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		gatherer: reg,
		assistantTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coveragenavigator_assistant_requests_total",
				Help: "Total number of assistant proxy requests by outcome",
			},
			[]string{"outcome"},
		),
		assistantDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coveragenavigator_assistant_request_duration_seconds",
				Help:    "Duration of assistant proxy requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		screenerTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coveragenavigator_screener_events_total",
				Help: "Total number of screener navigation events",
			},
			[]string{"event"},
		),
		documentTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coveragenavigator_document_events_total",
				Help: "Total number of document phase changes by resulting status",
			},
			[]string{"status"},
		),
		sessionTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coveragenavigator_session_events_total",
				Help: "Total number of session lifecycle events",
			},
			[]string{"event"},
		),
	}
}

// ObserveAssistant records one proxy call.
func (p *PrometheusRecorder) ObserveAssistant(outcome string, duration time.Duration) {
	p.assistantTotal.WithLabelValues(outcome).Inc()
	p.assistantDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// IncScreener counts a screener event.
func (p *PrometheusRecorder) IncScreener(event string) {
	p.screenerTotal.WithLabelValues(event).Inc()
}

// IncDocument counts a document phase change.
func (p *PrometheusRecorder) IncDocument(status string) {
	p.documentTotal.WithLabelValues(status).Inc()
}

// IncSession counts a session lifecycle event.
func (p *PrometheusRecorder) IncSession(event string) {
	p.sessionTotal.WithLabelValues(event).Inc()
}

// Handler exposes the registry in the Prometheus text format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})
}
