package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the Prometheus metrics for one server instance.
// Each collector owns its registry so tests can create as many as they like.
type Collector struct {
	registry *prometheus.Registry

	// HTTP
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Graph
	Merges       prometheus.Counter
	NodesAdded   prometheus.Counter
	NodesUpdated prometheus.Counter
	LinksAdded   prometheus.Counter
	LinksSkipped *prometheus.CounterVec
	GraphNodes   prometheus.Gauge
	GraphLinks   prometheus.Gauge

	// Chat
	ChatTurns     *prometheus.CounterVec
	AnswerLatency prometheus.Histogram
}

// NewCollector creates a collector with metrics under namespace
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		Merges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_merges_total",
			Help:      "Total number of graph fragments merged",
		}),
		NodesAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_nodes_added_total",
			Help:      "Nodes appended by merges",
		}),
		NodesUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_nodes_updated_total",
			Help:      "Existing nodes relabeled by merges",
		}),
		LinksAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_links_added_total",
			Help:      "Links appended by merges",
		}),
		LinksSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "graph_links_skipped_total",
				Help:      "Incoming links dropped by merges",
			},
			[]string{"reason"},
		),
		GraphNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "graph_nodes",
			Help:      "Current number of nodes in the session graph",
		}),
		GraphLinks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "graph_links",
			Help:      "Current number of links in the session graph",
		}),
		ChatTurns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chat_turns_total",
				Help:      "Chat submissions by outcome",
			},
			[]string{"outcome"},
		),
		AnswerLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "answer_generation_seconds",
			Help:      "Time spent generating an answer",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	c.registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.Merges,
		c.NodesAdded,
		c.NodesUpdated,
		c.LinksAdded,
		c.LinksSkipped,
		c.GraphNodes,
		c.GraphLinks,
		c.ChatTurns,
		c.AnswerLatency,
	)
	return c
}

// Registry returns the collector's registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
