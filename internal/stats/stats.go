package stats

import (
	"net/http"
	"regexp"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chat"

// Metric names used by the realtime core.
const (
	ActiveClients   = "ActiveClients"
	OnlineUsers     = "OnlineUsers"
	EventsHandled   = "EventsHandled"
	EventErrors     = "EventErrors"
	DroppedMessages = "DroppedMessages"
)

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	// RegisterMetric registers a gauge that moves both ways.
	RegisterMetric(name string)
	// RegisterCounter registers a monotonically increasing counter.
	RegisterCounter(name string)
}

// StatsUpdater keeps metrics in a private prometheus registry served on
// GET /metrics.
type StatsUpdater struct {
	registry *prometheus.Registry
	mu       sync.RWMutex
	gauges   map[string]prometheus.Gauge
	counters map[string]prometheus.Counter
}

// NewStatsUpdater creates a new stats updater instance and mounts its
// handler on mux.
func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	su := &StatsUpdater{
		registry: prometheus.NewRegistry(),
		gauges:   make(map[string]prometheus.Gauge),
		counters: make(map[string]prometheus.Counter),
	}
	su.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux.Handle("GET /metrics", promhttp.HandlerFor(su.registry, promhttp.HandlerOpts{}))

	return su
}

var camelBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)

// metricName turns ActiveClients into active_clients.
func metricName(name string) string {
	return strings.ToLower(camelBoundary.ReplaceAllString(name, "${1}_${2}"))
}

func (su *StatsUpdater) RegisterMetric(name string) {
	su.mu.Lock()
	defer su.mu.Unlock()

	if _, ok := su.gauges[name]; ok {
		return
	}

	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      metricName(name),
		Help:      name,
	})
	su.registry.MustRegister(g)
	su.gauges[name] = g
}

func (su *StatsUpdater) RegisterCounter(name string) {
	su.mu.Lock()
	defer su.mu.Unlock()

	if _, ok := su.counters[name]; ok {
		return
	}

	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      metricName(name) + "_total",
		Help:      name,
	})
	su.registry.MustRegister(c)
	su.counters[name] = c
}

func (su *StatsUpdater) Incr(name string) {
	su.mu.RLock()
	defer su.mu.RUnlock()

	if g, ok := su.gauges[name]; ok {
		g.Inc()
		return
	}
	if c, ok := su.counters[name]; ok {
		c.Inc()
		return
	}
	panic("metric not found: " + name)
}

func (su *StatsUpdater) Decr(name string) {
	su.mu.RLock()
	defer su.mu.RUnlock()

	g, ok := su.gauges[name]
	if !ok {
		panic("gauge not found: " + name)
	}
	g.Dec()
}
