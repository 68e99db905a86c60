package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Request("rest.FetchGuild", "ok")
	m.Request("rest.FetchGuild", "ok")
	m.Retry("rest.FetchGuild")
	m.Event("message-created")
	m.HandlerFailure("message-created")
	m.Reconnect()
	m.State(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("rest.FetchGuild", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retries.WithLabelValues("rest.FetchGuild")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("message-created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconnects))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.state))

	families, err := reg.Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Request("op", "ok")
		m.Retry("op")
		m.Event("ready")
		m.HandlerFailure("ready")
		m.Reconnect()
		m.State(0)
	})
}
