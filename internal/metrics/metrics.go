// Package metrics exposes reconciliation and device-call metrics to Prometheus.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dokzlo13/netdevd/internal/device"
	"github.com/dokzlo13/netdevd/internal/eventbus"
)

// Metrics holds every netdevd metric. Create one per registry.
type Metrics struct {
	CyclesTotal       prometheus.Counter
	CycleDuration     prometheus.Histogram
	LastCycleChanged  prometheus.Gauge
	LastCycleFailed   prometheus.Gauge
	LastCycleTime     prometheus.Gauge
	Commits           *prometheus.CounterVec
	DiscoveryFailures *prometheus.CounterVec
	DeviceCalls       *prometheus.CounterVec
	DeviceCallLatency *prometheus.HistogramVec
}

// DurationBuckets covers device calls and cycles from 10ms to 30s.
func DurationBuckets() []float64 {
	return []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0}
}

// New creates all metrics and registers them with registry.
func New(registry prometheus.Registerer) *Metrics {
	f := promauto.With(registry)
	return &Metrics{
		CyclesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "netdevd_cycles_total",
			Help: "Total number of reconcile cycles",
		}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "netdevd_cycle_duration_seconds",
			Help:    "Time spent in reconcile cycles",
			Buckets: DurationBuckets(),
		}),
		LastCycleChanged: f.NewGauge(prometheus.GaugeOpts{
			Name: "netdevd_last_cycle_changed_resources",
			Help: "Resources changed on the device by the last cycle",
		}),
		LastCycleFailed: f.NewGauge(prometheus.GaugeOpts{
			Name: "netdevd_last_cycle_failed_resources",
			Help: "Resources and kinds that failed in the last cycle",
		}),
		LastCycleTime: f.NewGauge(prometheus.GaugeOpts{
			Name: "netdevd_last_cycle_timestamp_seconds",
			Help: "Unix time the last cycle finished",
		}),
		Commits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "netdevd_commits_total",
			Help: "Commits by kind, action and result",
		}, []string{"kind", "action", "result"}),
		DiscoveryFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "netdevd_discovery_failures_total",
			Help: "Failed device reads by kind",
		}, []string{"kind"}),
		DeviceCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "netdevd_device_calls_total",
			Help: "Device gateway calls by kind, operation and result",
		}, []string{"kind", "op", "result"}),
		DeviceCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "netdevd_device_call_duration_seconds",
			Help:    "Device gateway call latency",
			Buckets: DurationBuckets(),
		}, []string{"op"}),
	}
}

// Subscribe updates the metrics from bus events.
func (m *Metrics) Subscribe(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.EventCommit, m.onCommit)
	bus.Subscribe(eventbus.EventCycle, m.onCycle)
	bus.Subscribe(eventbus.EventDiscoveryFailed, func(e eventbus.Event) {
		m.DiscoveryFailures.WithLabelValues(e.String("kind")).Inc()
	})
}

func (m *Metrics) onCommit(e eventbus.Event) {
	result := "ok"
	switch {
	case e.String("error") != "":
		result = "error"
	case e.Data["dry_run"] == true:
		result = "planned"
	}
	m.Commits.WithLabelValues(e.String("kind"), e.String("action"), result).Inc()
}

func (m *Metrics) onCycle(e eventbus.Event) {
	m.CyclesTotal.Inc()
	if ms, ok := e.Data["duration_ms"].(int64); ok {
		m.CycleDuration.Observe(float64(ms) / 1000)
	}
	if n, ok := e.Data["changed"].(int); ok {
		m.LastCycleChanged.Set(float64(n))
	}
	if n, ok := e.Data["failed"].(int); ok {
		m.LastCycleFailed.Set(float64(n))
	}
	m.LastCycleTime.SetToCurrentTime()
}

// Gateway wraps a device gateway and records call counts and latency.
type Gateway struct {
	next    device.Gateway
	metrics *Metrics
}

// InstrumentGateway returns gw wrapped with call metrics.
func (m *Metrics) InstrumentGateway(gw device.Gateway) *Gateway {
	return &Gateway{next: gw, metrics: m}
}

func (g *Gateway) observe(kind device.Kind, op string, start time.Time, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, device.ErrConnection):
		result = "connection_error"
	case errors.Is(err, device.ErrAuth):
		result = "auth_error"
	default:
		result = "error"
	}
	g.metrics.DeviceCalls.WithLabelValues(string(kind), op, result).Inc()
	g.metrics.DeviceCallLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (g *Gateway) List(ctx context.Context, kind device.Kind) ([]device.Entity, error) {
	start := time.Now()
	entities, err := g.next.List(ctx, kind)
	g.observe(kind, device.OpList, start, err)
	return entities, err
}

func (g *Gateway) Set(ctx context.Context, kind device.Kind, id, attr, value string) error {
	start := time.Now()
	err := g.next.Set(ctx, kind, id, attr, value)
	g.observe(kind, device.OpSet, start, err)
	return err
}

func (g *Gateway) Create(ctx context.Context, kind device.Kind, id string, args device.Attributes) error {
	start := time.Now()
	err := g.next.Create(ctx, kind, id, args)
	g.observe(kind, device.OpCreate, start, err)
	return err
}

func (g *Gateway) Delete(ctx context.Context, kind device.Kind, id string, args device.Attributes) error {
	start := time.Now()
	err := g.next.Delete(ctx, kind, id, args)
	g.observe(kind, device.OpDelete, start, err)
	return err
}

func (g *Gateway) Apply(ctx context.Context, kind device.Kind, id string, attrs device.Attributes) error {
	start := time.Now()
	err := g.next.Apply(ctx, kind, id, attrs)
	g.observe(kind, device.OpApply, start, err)
	return err
}
