package mcp

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.RecordRequest("tools/call", "ok", 0.01)
		m.RecordSessionEvent("http", "created")
		m.SetActiveSessions(3)
		m.RecordNotificationDropped("socket")
	})
}

func TestMetrics_RecordRequestIncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordRequest("ping", "ok", 0.001)

	got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("ping", "ok"))
	require.Equal(t, float64(1), got)
}

func TestMetrics_RecordSessionEventIncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordSessionEvent("http", "created")
	m.RecordSessionEvent("http", "created")

	got := testutil.ToFloat64(m.SessionsTotal.WithLabelValues("http", "created"))
	require.Equal(t, float64(2), got)
}
