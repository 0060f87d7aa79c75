package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulerCollector exposes Driver-level Prometheus metrics.
type SchedulerCollector struct {
	gatherer prometheus.Gatherer

	TickAdvanceDuration      prometheus.Histogram
	NodesPendingAdvance      prometheus.Gauge
	RateSumRefreshesTotal    prometheus.Counter
	DependencyRecomputeRatio prometheus.Gauge
}

// NewSchedulerCollector registers driver metrics against the provided registerer.
func NewSchedulerCollector(reg prometheus.Registerer) (*SchedulerCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	tickHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "siminf_tick_advance_duration_seconds",
		Help:    "Wall-clock duration of advancing every node through one tick boundary.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
	})
	tickHistogram, err := registerHistogram(reg, tickHistogram, "siminf_tick_advance_duration_seconds")
	if err != nil {
		return nil, err
	}

	pendingGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "siminf_nodes_pending_advance",
		Help: "Number of nodes not yet advanced to the current tick boundary.",
	})
	pendingGauge, err = registerGauge(reg, pendingGauge, "siminf_nodes_pending_advance")
	if err != nil {
		return nil, err
	}

	refreshes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "siminf_rate_sum_refreshes_total",
		Help: "Cumulative number of full rate_sum recomputations performed to correct floating point drift.",
	})
	refreshes, err = registerCounter(reg, refreshes, "siminf_rate_sum_refreshes_total")
	if err != nil {
		return nil, err
	}

	depRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "siminf_dependency_recompute_ratio",
		Help: "Fraction of propensity recomputations driven by the dependency graph rather than a full node refresh.",
	})
	depRatio, err = registerGauge(reg, depRatio, "siminf_dependency_recompute_ratio")
	if err != nil {
		return nil, err
	}

	return &SchedulerCollector{
		gatherer:                 gatherer,
		TickAdvanceDuration:      tickHistogram,
		NodesPendingAdvance:      pendingGauge,
		RateSumRefreshesTotal:    refreshes,
		DependencyRecomputeRatio: depRatio,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SchedulerCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveTickAdvance records how long one tick's node advancement took.
func (c *SchedulerCollector) ObserveTickAdvance(d time.Duration) {
	if c == nil || c.TickAdvanceDuration == nil {
		return
	}
	c.TickAdvanceDuration.Observe(d.Seconds())
}

// SetNodesPendingAdvance updates the pending-node gauge.
func (c *SchedulerCollector) SetNodesPendingAdvance(count int) {
	if c == nil || c.NodesPendingAdvance == nil {
		return
	}
	c.NodesPendingAdvance.Set(float64(count))
}

// IncRateSumRefreshes increments the rate_sum refresh counter.
func (c *SchedulerCollector) IncRateSumRefreshes() {
	if c == nil || c.RateSumRefreshesTotal == nil {
		return
	}
	c.RateSumRefreshesTotal.Inc()
}

// IncRateSumRefreshesBy increments the rate_sum refresh counter by n,
// for callers that batch up refresh counts between metric reports.
func (c *SchedulerCollector) IncRateSumRefreshesBy(n int) {
	if c == nil || c.RateSumRefreshesTotal == nil || n <= 0 {
		return
	}
	c.RateSumRefreshesTotal.Add(float64(n))
}

// SetDependencyRecomputeRatio sets the dependency-graph-driven recompute ratio.
func (c *SchedulerCollector) SetDependencyRecomputeRatio(ratio float64) {
	if c == nil || c.DependencyRecomputeRatio == nil {
		return
	}
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	c.DependencyRecomputeRatio.Set(ratio)
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
