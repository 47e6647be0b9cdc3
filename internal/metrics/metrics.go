// Package metrics exposes Prometheus instrumentation for recording sessions,
// input levels, outbound API calls and pipeline stages.
//
// Each Metrics value owns its registry so tests and multiple managers never
// collide on the global default registry. Every method is safe on a nil
// receiver, which lets callers run without metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "autorec"

// Metrics holds all collectors.
type Metrics struct {
	registry *prometheus.Registry

	sessionsStarted  *prometheus.CounterVec
	sessionsFinished *prometheus.CounterVec
	sessionActive    prometheus.Gauge
	recordingSeconds prometheus.Histogram
	sourcesLost      *prometheus.CounterVec
	inputLevel       *prometheus.GaugeVec

	apiRequests *prometheus.CounterVec
	apiRetries  *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec

	stageDuration *prometheus.HistogramVec
	historyEvicts prometheus.Counter
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		sessionsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Recording sessions started, by mode",
		}, []string{"mode"}),
		sessionsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finished_total",
			Help:      "Recording sessions finished, by outcome",
		}, []string{"outcome"}),
		sessionActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_active",
			Help:      "1 while a recording session is active",
		}),
		recordingSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recording_duration_seconds",
			Help:      "Length of finished recordings",
			Buckets:   []float64{5, 30, 60, 300, 900, 1800, 3600, 7200},
		}),
		sourcesLost: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sources_lost_total",
			Help:      "Shared sources that disappeared mid-session, by reaction",
		}, []string{"action"}),
		inputLevel: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "input_level_dbfs",
			Help:      "Most recent input peak level per role",
		}, []string{"role"}),
		apiRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Completed outbound API requests, by request and final status",
		}, []string{"request", "status"}),
		apiRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_retries_total",
			Help:      "Scheduled API retries, by request",
		}, []string{"request"}),
		apiLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "Outbound API request duration including retries",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"request"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Pipeline stage duration, by stage and result",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 180},
		}, []string{"stage", "result"}),
		historyEvicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_evictions_total",
			Help:      "History entries evicted by the retention cap",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SessionStarted records a session start.
func (m *Metrics) SessionStarted(mode string) {
	if m == nil {
		return
	}
	m.sessionsStarted.WithLabelValues(mode).Inc()
	m.sessionActive.Set(1)
}

// SessionFinished records a session end. Outcomes are short labels such as
// "saved", "too_short" or "failed".
func (m *Metrics) SessionFinished(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.sessionsFinished.WithLabelValues(outcome).Inc()
	m.sessionActive.Set(0)
	m.inputLevel.Reset()
	if duration > 0 {
		m.recordingSeconds.Observe(duration.Seconds())
	}
}

// SourceLost records a lost shared source and the reaction taken.
func (m *Metrics) SourceLost(action string) {
	if m == nil {
		return
	}
	m.sourcesLost.WithLabelValues(action).Inc()
}

// ObserveLevel records the latest peak for role.
func (m *Metrics) ObserveLevel(role string, dbfs float64) {
	if m == nil {
		return
	}
	m.inputLevel.WithLabelValues(role).Set(dbfs)
}

// HistoryEvicted counts entries dropped by the history cap.
func (m *Metrics) HistoryEvicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.historyEvicts.Add(float64(n))
}

// RequestCompleted implements apiclient.Observer. Status 0 means the request
// never received a response.
func (m *Metrics) RequestCompleted(name string, status int, _ int, elapsed time.Duration) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.apiRequests.WithLabelValues(name, label).Inc()
	m.apiLatency.WithLabelValues(name).Observe(elapsed.Seconds())
}

// RetryScheduled implements apiclient.Observer.
func (m *Metrics) RetryScheduled(name string, _ int, _ time.Duration) {
	if m == nil {
		return
	}
	m.apiRetries.WithLabelValues(name).Inc()
}

// StageCompleted implements transcription.Observer.
func (m *Metrics) StageCompleted(stage string, success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.stageDuration.WithLabelValues(stage, result).Observe(elapsed.Seconds())
}
