package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"popgraph/dag"
)

// Collectors holds the service metrics, registered on their own registry.
type Collectors struct {
	registry *prometheus.Registry

	// Events counts graph hook events.
	// Labels: event (after_commit, after_attach, after_materialize)
	Events *prometheus.CounterVec

	// Nodes is the node count of the main graph.
	Nodes prometheus.Gauge

	// Workspaces is the number of open detached graphs.
	Workspaces prometheus.Gauge

	// MaterializeDuration measures payload reconstruction.
	// Labels: persist (true, false)
	MaterializeDuration *prometheus.HistogramVec
}

func New() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "popgraph",
			Subsystem: "graph",
			Name:      "events_total",
			Help:      "Graph events by kind",
		}, []string{"event"}),
		Nodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "popgraph",
			Subsystem: "graph",
			Name:      "nodes",
			Help:      "Nodes in the main graph",
		}),
		Workspaces: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "popgraph",
			Subsystem: "graph",
			Name:      "workspaces",
			Help:      "Open detached workspaces",
		}),
		MaterializeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "popgraph",
			Subsystem: "graph",
			Name:      "materialize_duration_seconds",
			Help:      "Time to rebuild a payload",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"persist"}),
	}
	c.registry.MustRegister(
		c.Events,
		c.Nodes,
		c.Workspaces,
		c.MaterializeDuration,
		collectors.NewGoCollector(),
	)
	return c
}

// Handler serves the registry in the Prometheus text format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveMaterialize records the time since start.
func (c *Collectors) ObserveMaterialize(start time.Time, persist bool) {
	label := "false"
	if persist {
		label = "true"
	}
	c.MaterializeDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
}

// Hook returns a graph hook that counts events and tracks the node count.
// It never fails.
func Hook[P any](c *Collectors) dag.Hook[P] {
	return dag.HookFunc[P](func(ev dag.Event, g *dag.Graph[P], _ *dag.Node[P]) error {
		if ev == dag.BeforeIdentity {
			return nil
		}
		c.Events.WithLabelValues(ev.String()).Inc()
		c.Nodes.Set(float64(g.Len()))
		return nil
	})
}
