package http

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bitly/go-simplejson"
	"github.com/fuad-daoud/guildkit/cache"
	"github.com/fuad-daoud/guildkit/client"
	"github.com/fuad-daoud/guildkit/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/context"
)

func get(t *testing.T, handler http.Handler, target string) *http.Response {
	t.Helper()
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, target, nil))
	return recorder.Result()
}

func TestStatus(t *testing.T) {
	state := "connected"
	status := func() client.Status {
		return client.Status{State: state, LoggedIn: true, Cache: cache.Stats{Guilds: 2, Messages: 5}}
	}
	handler := NewServer(":0", status, prometheus.NewRegistry()).server.Handler

	resp := get(t, handler, "/status")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	js, err := simplejson.NewJson(body)
	require.NoError(t, err)
	assert.Equal(t, "connected", js.Get("state").MustString())
	assert.True(t, js.Get("logged_in").MustBool())
	assert.Equal(t, 2, js.GetPath("cache", "guilds").MustInt())
	assert.Equal(t, 5, js.GetPath("cache", "messages").MustInt())

	state = "reconnecting"
	resp = get(t, handler, "/status")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRootAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.Request("rest.FetchGuild", "ok")
	handler := NewServer(":0", func() client.Status { return client.Status{} }, reg).server.Handler

	assert.Equal(t, http.StatusOK, get(t, handler, "/").StatusCode)
	assert.Equal(t, http.StatusNotFound, get(t, handler, "/nothing").StatusCode)

	resp := get(t, handler, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `guildkit_rest_requests_total{op="rest.FetchGuild",outcome="ok"} 1`)
}

func TestListenAndServeStops(t *testing.T) {
	s := NewServer("127.0.0.1:0", func() client.Status { return client.Status{} }, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, s.ListenAndServe(ctx))
}
