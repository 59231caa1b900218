package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SetSessions(1, 1)
		m.ObserveLaunch(time.Second, nil)
		m.IncEviction("idle")
		m.IncTeardownFailure()
		m.ObserveAction("click", time.Millisecond, errors.New("boom"))
		m.IncHookFailure("before_exec", "log")
		m.IncRetry("goto")
		m.IncPagesClosed()
		m.IncRequest("/x", 200)
		m.SetLiveSessions(2)
		m.IncStreamFrame()
		m.AddWSConnections(1)
	})
	assert.Equal(t, prometheus.DefaultGatherer, m.Gatherer())
}

func TestCollectorsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetSessions(3, 1)
	m.ObserveLaunch(time.Second, nil)
	m.ObserveLaunch(time.Second, errors.New("no chrome"))
	m.IncEviction("idle")
	m.IncEviction("idle")
	m.ObserveAction("click", 10*time.Millisecond, nil)
	m.IncHookFailure("on_error", "retry")
	m.IncRequest("/open_url", 404)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.SessionsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsRemote))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Launches.WithLabelValues("failure")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Evictions.WithLabelValues("idle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Actions.WithLabelValues("click", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HookFailures.WithLabelValues("on_error", "retry")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("/open_url", "4xx")))

	families, err := m.Gatherer().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	}, "each registry holds its own collectors")
}
