package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RunCollector bundles the Prometheus metrics a Driver.Run call emits
// over its lifetime: per-run totals, labeled by event kind and run
// outcome, plus a handler to expose them.
type RunCollector struct {
	gatherer prometheus.Gatherer

	FiresTotal        *prometheus.CounterVec
	EventsAppliedTotal *prometheus.CounterVec
	RunsCompletedTotal *prometheus.CounterVec

	NodesActive    prometheus.Gauge
	TickIndexGauge prometheus.Gauge
}

// NewRunCollector registers engine run Prometheus metrics against the
// provided registerer, defaulting to the global Prometheus registry
// when nil.
func NewRunCollector(reg prometheus.Registerer) (*RunCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	fires := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "siminf_transitions_fired_total",
		Help: "Total number of SSA transitions fired, labeled by node.",
	}, []string{"node"})
	fires, err := registerCounterVec(reg, fires, "siminf_transitions_fired_total")
	if err != nil {
		return nil, err
	}

	eventsApplied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "siminf_events_applied_total",
		Help: "Total number of scheduled discrete events applied, labeled by kind.",
	}, []string{"kind"})
	eventsApplied, err = registerCounterVec(reg, eventsApplied, "siminf_events_applied_total")
	if err != nil {
		return nil, err
	}

	runsCompleted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "siminf_runs_total",
		Help: "Total number of completed Driver.Run calls, labeled by terminal status.",
	}, []string{"status"})
	runsCompleted, err = registerCounterVec(reg, runsCompleted, "siminf_runs_total")
	if err != nil {
		return nil, err
	}

	nodesActive, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "siminf_nodes_active",
		Help: "Number of nodes in the model currently being run.",
	}), "siminf_nodes_active")
	if err != nil {
		return nil, err
	}
	tickIndex, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "siminf_tick_index",
		Help: "Index into tspan the current run has most recently completed.",
	}), "siminf_tick_index")
	if err != nil {
		return nil, err
	}

	return &RunCollector{
		gatherer:           gatherer,
		FiresTotal:         fires,
		EventsAppliedTotal: eventsApplied,
		RunsCompletedTotal: runsCompleted,
		NodesActive:        nodesActive,
		TickIndexGauge:     tickIndex,
	}, nil
}

// ObserveFires increments the per-node fire counter for node n by count.
func (c *RunCollector) ObserveFires(node int, count int) {
	if c == nil || c.FiresTotal == nil || count <= 0 {
		return
	}
	c.FiresTotal.WithLabelValues(nodeLabel(node)).Add(float64(count))
}

// ObserveEventApplied increments the applied-event counter for kind.
func (c *RunCollector) ObserveEventApplied(kind string) {
	if c == nil || c.EventsAppliedTotal == nil {
		return
	}
	c.EventsAppliedTotal.WithLabelValues(kind).Inc()
}

// ObserveRunCompleted increments the terminal-status counter for status.
func (c *RunCollector) ObserveRunCompleted(status string) {
	if c == nil || c.RunsCompletedTotal == nil {
		return
	}
	c.RunsCompletedTotal.WithLabelValues(status).Inc()
}

// SetNodesActive sets the nodes-active gauge.
func (c *RunCollector) SetNodesActive(n int) {
	if c == nil || c.NodesActive == nil {
		return
	}
	c.NodesActive.Set(float64(n))
}

// SetTickIndex sets the tick-index gauge.
func (c *RunCollector) SetTickIndex(i int) {
	if c == nil || c.TickIndexGauge == nil {
		return
	}
	c.TickIndexGauge.Set(float64(i))
}

// Handler exposes a ready-to-use /metrics handler.
func (c *RunCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func nodeLabel(n int) string {
	return fmt.Sprintf("%d", n)
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
