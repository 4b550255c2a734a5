// Package observability exposes the orchestrator's Prometheus metrics and
// OpenTelemetry tracing, adapted from the teacher's NBI/scheduler collector
// pair to this repo's own domain (SPEC_FULL.md §10).
package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the orchestrator's Prometheus metrics: request
// outcomes, placement timing, topology size, monitor tick duration and
// heartbeat-driven pruning, each recorded through the Collector's own
// methods. No other package in this module calls those methods;
// cmd/orchestrator only serves the registry over /metrics.
type Collector struct {
	gatherer prometheus.Gatherer

	RequestsTotal      *prometheus.CounterVec
	PlacementDuration  prometheus.Histogram
	CandidateAttempts  prometheus.Histogram

	TopologyNodes      prometheus.Gauge
	TopologyLinks      prometheus.Gauge
	TopologyInterfaces prometheus.Gauge

	MonitorTickDuration prometheus.Histogram
	HeartbeatPruned     prometheus.Counter
}

// NewCollector registers the orchestrator's Prometheus metrics against reg,
// defaulting to the global registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_requests_total",
		Help: "Total number of host requests reaching a terminal state, labeled by final RequestState.",
	}, []string{"state"})
	requests, err := registerCounterVec(reg, requests, "orchestrator_requests_total")
	if err != nil {
		return nil, err
	}

	placement := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orchestrator_placement_duration_seconds",
		Help:    "Duration of the placement coroutine from RREQ to HRES or exhaustion.",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})
	placement, err = registerHistogram(reg, placement, "orchestrator_placement_duration_seconds")
	if err != nil {
		return nil, err
	}

	attempts := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orchestrator_candidate_attempts",
		Help:    "Number of RREQ candidates tried per placement before success or exhaustion.",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
	})
	attempts, err = registerHistogram(reg, attempts, "orchestrator_candidate_attempts")
	if err != nil {
		return nil, err
	}

	nodes, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "topology_nodes",
		Help: "Current number of nodes tracked by the Topology.",
	}), "topology_nodes")
	if err != nil {
		return nil, err
	}
	links, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "topology_links",
		Help: "Current number of directed links tracked by the Topology.",
	}), "topology_links")
	if err != nil {
		return nil, err
	}
	ifaces, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "topology_interfaces",
		Help: "Current number of interfaces tracked by the Topology.",
	}), "topology_interfaces")
	if err != nil {
		return nil, err
	}

	monitorTick := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "monitor_tick_duration_seconds",
		Help:    "Duration of one monitor poll tick across all datapaths.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	})
	monitorTick, err = registerHistogram(reg, monitorTick, "monitor_tick_duration_seconds")
	if err != nil {
		return nil, err
	}

	pruned := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "heartbeat_pruned_nodes_total",
		Help: "Cumulative number of nodes pruned from the Topology by the heartbeat checker.",
	})
	pruned, err = registerCounter(reg, pruned, "heartbeat_pruned_nodes_total")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:            gatherer,
		RequestsTotal:       requests,
		PlacementDuration:   placement,
		CandidateAttempts:   attempts,
		TopologyNodes:       nodes,
		TopologyLinks:       links,
		TopologyInterfaces:  ifaces,
		MonitorTickDuration: monitorTick,
		HeartbeatPruned:     pruned,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveRequestTerminal records a request reaching the given terminal
// RequestState string ("HRES", "FAIL", ...).
func (c *Collector) ObserveRequestTerminal(state string) {
	if c == nil || c.RequestsTotal == nil {
		return
	}
	c.RequestsTotal.WithLabelValues(state).Inc()
}

// ObservePlacement records one placement coroutine's duration and how many
// candidates it tried.
func (c *Collector) ObservePlacement(d time.Duration, attempts int) {
	if c == nil {
		return
	}
	if c.PlacementDuration != nil {
		c.PlacementDuration.Observe(d.Seconds())
	}
	if c.CandidateAttempts != nil {
		c.CandidateAttempts.Observe(float64(attempts))
	}
}

// SetTopologyCounts updates the topology size gauges.
func (c *Collector) SetTopologyCounts(nodes, links, interfaces int) {
	if c == nil {
		return
	}
	if c.TopologyNodes != nil {
		c.TopologyNodes.Set(float64(nodes))
	}
	if c.TopologyLinks != nil {
		c.TopologyLinks.Set(float64(links))
	}
	if c.TopologyInterfaces != nil {
		c.TopologyInterfaces.Set(float64(interfaces))
	}
}

// ObserveMonitorTick records one monitor poll tick's duration.
func (c *Collector) ObserveMonitorTick(d time.Duration) {
	if c == nil || c.MonitorTickDuration == nil {
		return
	}
	c.MonitorTickDuration.Observe(d.Seconds())
}

// IncHeartbeatPruned increments the heartbeat-pruned node counter.
func (c *Collector) IncHeartbeatPruned() {
	if c == nil || c.HeartbeatPruned == nil {
		return
	}
	c.HeartbeatPruned.Inc()
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
