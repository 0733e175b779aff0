package stats

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
)

func TestNewStatsUpdater(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux)
	assert.NotNil(t, su, "expected StatsUpdater to be non-nil")
	assert.NotNil(t, su.registry, "expected registry to be initialized")
	handler, pattern := mux.Handler(&http.Request{URL: &url.URL{Path: "/metrics"}, Method: http.MethodGet})
	assert.NotNil(t, handler, "expected handler for /metrics to be set")
	assert.Equal(t, "GET /metrics", pattern, "expected handler to be registered for GET method on /metrics")
}

func scrape(t *testing.T, su *StatsUpdater) string {
	t.Helper()
	rec := httptest.NewRecorder()
	promhttp.HandlerFor(su.registry, promhttp.HandlerOpts{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Body.String()
}

func TestStatsUpdater_IncrDecr(t *testing.T) {
	su := NewStatsUpdater(http.NewServeMux())
	su.RegisterMetric(ActiveClients)
	su.RegisterCounter(EventsHandled)

	su.Incr(ActiveClients)
	su.Incr(ActiveClients)
	su.Decr(ActiveClients)
	su.Incr(EventsHandled)

	body := scrape(t, su)
	assert.Contains(t, body, "chat_active_clients 1")
	assert.Contains(t, body, "chat_events_handled_total 1")

	assert.Panics(t, func() { su.Incr("Unknown") }, "expected unknown metric to panic")
	assert.Panics(t, func() { su.Decr(EventsHandled) }, "expected decrementing a counter to panic")
}

func TestStatsUpdater_RegisterTwice(t *testing.T) {
	su := NewStatsUpdater(http.NewServeMux())
	assert.NotPanics(t, func() {
		su.RegisterMetric(OnlineUsers)
		su.RegisterMetric(OnlineUsers)
	}, "expected duplicate registration to be ignored")
}

func TestMetricsEndpoint(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux)
	su.RegisterMetric(ActiveClients)
	su.Incr(ActiveClients)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chat_active_clients 1")
}

func Test_metricName(t *testing.T) {
	assert.Equal(t, "active_clients", metricName("ActiveClients"))
	assert.Equal(t, "dropped_messages", metricName("DroppedMessages"))
}
