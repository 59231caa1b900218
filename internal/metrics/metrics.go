// Package metrics exposes the prometheus collectors shared by the session
// pool, the hook pipeline and the HTTP layer. Every recording method is safe
// to call on a nil *Metrics so collaborators can run without instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rpa_browser"

// Metrics holds all prometheus collectors.
type Metrics struct {
	// Pool metrics
	SessionsActive   prometheus.Gauge
	SessionsRemote   prometheus.Gauge
	Launches         *prometheus.CounterVec
	LaunchDuration   prometheus.Histogram
	Evictions        *prometheus.CounterVec
	TeardownFailures prometheus.Counter

	// Pipeline metrics
	Actions        *prometheus.CounterVec
	ActionDuration *prometheus.HistogramVec
	HookFailures   *prometheus.CounterVec
	Retries        *prometheus.CounterVec
	PagesClosed    prometheus.Counter

	// HTTP / live metrics
	Requests      *prometheus.CounterVec
	LiveSessions  prometheus.Gauge
	StreamFrames  prometheus.Counter
	WSConnections prometheus.Gauge

	registry prometheus.Gatherer
}

// New registers every collector on reg. Passing a fresh prometheus.NewRegistry
// keeps tests isolated from the default registry.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,

		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pool",
			Name: "sessions_active",
			Help: "Number of live browser sessions held by the pool",
		}),
		SessionsRemote: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pool",
			Name: "sessions_remote_controlled",
			Help: "Number of sessions exempt from idle eviction",
		}),
		Launches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pool",
			Name: "launches_total",
			Help: "Browser launches by outcome",
		}, []string{"outcome"}),
		LaunchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "pool",
			Name:    "launch_duration_seconds",
			Help:    "Time spent launching a browser process",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		}),
		Evictions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pool",
			Name: "evictions_total",
			Help: "Sessions removed from the pool by reason",
		}, []string{"reason"}),
		TeardownFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pool",
			Name: "teardown_failures_total",
			Help: "Session teardowns that returned an error or panicked",
		}),

		Actions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pipeline",
			Name: "actions_total",
			Help: "Page actions executed through the hook pipeline",
		}, []string{"action", "outcome"}),
		ActionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "pipeline",
			Name:    "action_duration_seconds",
			Help:    "Page action latency including hooks",
			Buckets: prometheus.DefBuckets,
		}, []string{"action"}),
		HookFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pipeline",
			Name: "hook_failures_total",
			Help: "Hook operations that failed and were contained",
		}, []string{"phase", "plugin"}),
		Retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pipeline",
			Name: "retries_total",
			Help: "Re-invocations performed by the retry plugin",
		}, []string{"action"}),
		PagesClosed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pipeline",
			Name: "pages_closed_total",
			Help: "Pages closed by the page limit plugin",
		}),

		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http",
			Name: "requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"route", "status"}),
		LiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "live",
			Name: "sessions_active",
			Help: "Registered live view sessions",
		}),
		StreamFrames: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "live",
			Name: "stream_frames_total",
			Help: "MJPEG frames written to clients",
		}),
		WSConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "live",
			Name: "ws_connections",
			Help: "Open live control websocket connections",
		}),
	}
}

// Gatherer returns the registry the collectors were registered on.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.DefaultGatherer
	}
	return m.registry
}

func (m *Metrics) SetSessions(active, remote int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(active))
	m.SessionsRemote.Set(float64(remote))
}

func (m *Metrics) ObserveLaunch(d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.Launches.WithLabelValues(outcome).Inc()
	m.LaunchDuration.Observe(d.Seconds())
}

func (m *Metrics) IncEviction(reason string) {
	if m == nil {
		return
	}
	m.Evictions.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncTeardownFailure() {
	if m == nil {
		return
	}
	m.TeardownFailures.Inc()
}

func (m *Metrics) ObserveAction(action string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.Actions.WithLabelValues(action, outcome).Inc()
	m.ActionDuration.WithLabelValues(action).Observe(d.Seconds())
}

func (m *Metrics) IncHookFailure(phase, plugin string) {
	if m == nil {
		return
	}
	m.HookFailures.WithLabelValues(phase, plugin).Inc()
}

func (m *Metrics) IncRetry(action string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(action).Inc()
}

func (m *Metrics) IncPagesClosed() {
	if m == nil {
		return
	}
	m.PagesClosed.Inc()
}

func (m *Metrics) IncRequest(route string, status int) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(route, statusClass(status)).Inc()
}

func (m *Metrics) SetLiveSessions(n int) {
	if m == nil {
		return
	}
	m.LiveSessions.Set(float64(n))
}

func (m *Metrics) IncStreamFrame() {
	if m == nil {
		return
	}
	m.StreamFrames.Inc()
}

func (m *Metrics) AddWSConnections(delta int) {
	if m == nil {
		return
	}
	m.WSConnections.Add(float64(delta))
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
