// Package metrics exposes audiolink's Prometheus instruments.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "audiolink"

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all audiolink metrics on its own Prometheus registry.
type Registry struct {
	reg *prometheus.Registry

	// Reconcile loop
	Polls        *prometheus.CounterVec
	PollDuration prometheus.Histogram
	Actions      *prometheus.CounterVec
	DesiredPairs prometheus.Gauge

	// Topology
	GraphNodes prometheus.Gauge
	GraphLinks prometheus.Gauge
	Available  *prometheus.GaugeVec

	// External tools
	CommandFailures *prometheus.CounterVec

	// State
	Streaming prometheus.Gauge
	HubUp     prometheus.Gauge
	HubGainDB prometheus.Gauge

	// Control API
	APIRequests *prometheus.CounterVec
	APILatency  *prometheus.HistogramVec
}

// Get returns the process-wide registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = NewRegistry()
		registry.reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
	return registry
}

// NewRegistry creates an independent registry. Tests use this to avoid
// sharing counters.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	r := &Registry{reg: reg}

	r.Polls = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "polls_total",
		Help:      "Topology polls by result",
	}, []string{"result"})

	r.PollDuration = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "poll_duration_seconds",
		Help:      "Time to read a snapshot and compute actions",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	r.Actions = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "route_actions_total",
		Help:      "Applied routing actions by op and result",
	}, []string{"op", "result"})

	r.DesiredPairs = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "desired_pairs",
		Help:      "Number of (source, target) pairs in the routing baseline",
	})

	r.GraphNodes = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "graph_nodes",
		Help:      "Nodes in the latest snapshot",
	})

	r.GraphLinks = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "graph_links",
		Help:      "Links in the latest snapshot",
	})

	r.Available = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "available_nodes",
		Help:      "Routable nodes offered per role",
	}, []string{"role"})

	r.CommandFailures = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "command_failures_total",
		Help:      "External tool failures by tool and kind",
	}, []string{"tool", "kind"})

	r.Streaming = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "streaming_active",
		Help:      "1 while routing is on",
	})

	r.HubUp = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "hub_up",
		Help:      "1 while the virtual routing hub is loaded",
	})

	r.HubGainDB = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "hub_gain_db",
		Help:      "Gain offset applied to the hub sink",
	})

	r.APIRequests = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_total",
		Help:      "Control API requests",
	}, []string{"method", "route", "status"})

	r.APILatency = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "api_request_duration_seconds",
		Help:      "Control API request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	return r
}

// Gatherer exposes the underlying registry for scraping and tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// ObserveAction counts one applied routing action.
func (r *Registry) ObserveAction(op string, err error) {
	r.Actions.WithLabelValues(op, result(err)).Inc()
}

// ObservePoll counts one poll and its duration in seconds.
func (r *Registry) ObservePoll(seconds float64, err error) {
	r.Polls.WithLabelValues(result(err)).Inc()
	r.PollDuration.Observe(seconds)
}

// SetBool sets a 0/1 gauge.
func SetBool(g prometheus.Gauge, v bool) {
	if v {
		g.Set(1)
		return
	}
	g.Set(0)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
