package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tagwatch"

// Update results recorded by IncUpdate.
const (
	UpdateAccepted = "accepted"
	UpdateRejected = "rejected"
	UpdateFailed   = "failed"
)

// Metrics holds the supervisor's Prometheus collectors on a private
// registry. All methods are safe on a nil *Metrics, which records nothing.
type Metrics struct {
	registry *prometheus.Registry

	scanDuration     prometheus.Histogram
	scansSkipped     prometheus.Counter
	entitiesDown     prometheus.Gauge
	expired          *prometheus.CounterVec
	heartbeats       *prometheus.CounterVec
	alerts           *prometheus.CounterVec
	updates          *prometheus.CounterVec
	qualityChanges   *prometheus.CounterVec
	cascadeFailures  prometheus.Counter
	listenerFailures prometheus.Counter
	ingressErrors    *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors, including the Go runtime
// and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of heartbeat scan cycles.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		scansSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "cycles_skipped_total",
			Help:      "Scan cycles skipped because the previous cycle was still running.",
		}),
		entitiesDown: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "entities_down",
			Help:      "Entities currently down by heartbeat expiry.",
		}),
		expired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "heartbeat",
			Name:      "expired_total",
			Help:      "Heartbeat expiries by entity kind.",
		}, []string{"kind"}),
		heartbeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "heartbeat",
			Name:      "received_total",
			Help:      "Heartbeats received by entity kind.",
		}, []string{"kind"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "alerts_total",
			Help:      "Down-count alert edges by state (raised, cleared).",
		}, []string{"state"}),
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tag",
			Name:      "updates_total",
			Help:      "Tag updates by outcome (accepted, rejected, failed).",
		}, []string{"result"}),
		qualityChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tag",
			Name:      "quality_changes_total",
			Help:      "Supervision-driven quality flag changes by flag.",
		}, []string{"flag"}),
		cascadeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervision",
			Name:      "cascade_failures_total",
			Help:      "Supervision events whose fault or state tag update failed.",
		}),
		listenerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "listener_failures_total",
			Help:      "Listener invocations that returned an error or panicked.",
		}),
		ingressErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "ingress_errors_total",
			Help:      "Inbound bus messages that failed to decode or apply, by subject.",
		}, []string{"subject"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.scanDuration,
		m.scansSkipped,
		m.entitiesDown,
		m.expired,
		m.heartbeats,
		m.alerts,
		m.updates,
		m.qualityChanges,
		m.cascadeFailures,
		m.listenerFailures,
		m.ingressErrors,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RegisterGaugeFunc exposes a value sampled at scrape time, such as the
// bus drop counter.
func (m *Metrics) RegisterGaugeFunc(name, help string, fn func() float64) error {
	if m == nil {
		return nil
	}
	return m.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

func (m *Metrics) ObserveScan(d time.Duration) {
	if m == nil {
		return
	}
	m.scanDuration.Observe(d.Seconds())
}

func (m *Metrics) IncScanSkipped() {
	if m == nil {
		return
	}
	m.scansSkipped.Inc()
}

func (m *Metrics) SetDownCount(n int) {
	if m == nil {
		return
	}
	m.entitiesDown.Set(float64(n))
}

func (m *Metrics) IncExpired(kind string) {
	if m == nil {
		return
	}
	m.expired.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncHeartbeat(kind string) {
	if m == nil {
		return
	}
	m.heartbeats.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncAlert(state string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(state).Inc()
}

func (m *Metrics) IncUpdate(result string) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(result).Inc()
}

func (m *Metrics) IncQualityChange(flag string) {
	if m == nil {
		return
	}
	m.qualityChanges.WithLabelValues(flag).Inc()
}

func (m *Metrics) IncCascadeFailure() {
	if m == nil {
		return
	}
	m.cascadeFailures.Inc()
}

func (m *Metrics) IncListenerFailure() {
	if m == nil {
		return
	}
	m.listenerFailures.Inc()
}

func (m *Metrics) IncIngressError(subject string) {
	if m == nil {
		return
	}
	m.ingressErrors.WithLabelValues(subject).Inc()
}
