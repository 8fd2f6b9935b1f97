package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/autobridge/internal/emitter"
	"github.com/rickgao/autobridge/internal/history"
	"github.com/rickgao/autobridge/internal/reconnect"
	"github.com/rickgao/autobridge/internal/version"
)

const namespace = "autobridge"

// ErrAlreadyObserved is returned when a second source is attached.
var ErrAlreadyObserved = errors.New("metrics source already registered")

// Source is what the metrics read from a reconnect manager.
type Source interface {
	OnStatus(fn func(reconnect.Status)) emitter.Subscription
	Status() reconnect.Status
	Stats() reconnect.Stats
}

// Metrics owns a private registry and the bridge collectors.
type Metrics struct {
	Registry *prometheus.Registry

	Status         *prometheus.GaugeVec
	Transitions    *prometheus.CounterVec
	LastTransition prometheus.Gauge
	Subscribers    prometheus.Gauge
	BuildInfo      *prometheus.GaugeVec
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		Status: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "bridge_status",
				Help:      "Current bridge status (1 for the active status, 0 otherwise)",
			},
			[]string{"status"},
		),
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "status_transitions_total",
				Help:      "Total number of status transitions by target status",
			},
			[]string{"status"},
		),
		LastTransition: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_transition_timestamp_seconds",
			Help:      "Unix time of the most recent status transition",
		}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_subscribers",
			Help:      "Number of connected live status stream clients",
		}),
		BuildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "build_info",
				Help:      "Build information",
			},
			[]string{"version", "commit", "go_version"},
		),
	}

	m.Registry.MustRegister(
		m.Status,
		m.Transitions,
		m.LastTransition,
		m.Subscribers,
		m.BuildInfo,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	info := version.Info()
	m.BuildInfo.WithLabelValues(info.Version, info.Commit, info.GoVersion).Set(1)

	for _, s := range reconnect.Statuses {
		m.Status.WithLabelValues(s.String()).Set(0)
		m.Transitions.WithLabelValues(s.String())
	}

	return m
}

// Observe follows src: status gauges are updated on every transition and
// the manager counters are read at scrape time.
func (m *Metrics) Observe(src Source) (emitter.Subscription, error) {
	funcs := []prometheus.Collector{
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Total number of Connect calls, manual and automatic",
		}, func() float64 { return float64(src.Stats().ConnectAttempts) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduled_reconnects_total",
			Help:      "Total number of reconnect timers scheduled after a close",
		}, func() float64 { return float64(src.Stats().ScheduledReconnects) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_reconnects",
			Help:      "Reconnect timers scheduled but not yet fired",
		}, func() float64 { return float64(src.Stats().PendingReconnects) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reconnect_timeout_seconds",
			Help:      "Fixed delay between a close and the automatic retry",
		}, func() float64 { return src.Stats().ReconnectTimeout.Seconds() }),
	}

	for _, c := range funcs {
		if err := m.Registry.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				return 0, ErrAlreadyObserved
			}
			return 0, err
		}
	}

	m.setStatus(src.Status())
	return src.OnStatus(m.RecordTransition), nil
}

// RecordTransition updates the status gauges for one transition.
func (m *Metrics) RecordTransition(s reconnect.Status) {
	m.setStatus(s)
	m.Transitions.WithLabelValues(s.String()).Inc()
	m.LastTransition.SetToCurrentTime()
}

func (m *Metrics) setStatus(current reconnect.Status) {
	for _, s := range reconnect.Statuses {
		v := 0.0
		if s == current {
			v = 1
		}
		m.Status.WithLabelValues(s.String()).Set(v)
	}
}

// ObserveHistory exports the history writer counters, read at scrape time.
func (m *Metrics) ObserveHistory(stats func() history.Stats) error {
	counter := func(name, help string, get func(history.Stats) int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(get(stats())) })
	}

	return registerAll(m.Registry,
		counter("inserts_total", "Status events written", func(s history.Stats) int64 { return s.Inserts }),
		counter("conflicts_total", "Status events skipped as duplicates", func(s history.Stats) int64 { return s.Conflicts }),
		counter("flushes_total", "Batches flushed", func(s history.Stats) int64 { return s.Flushes }),
		counter("errors_total", "Batches that failed to write", func(s history.Stats) int64 { return s.Errors }),
		counter("dropped_total", "Status events dropped on a full buffer", func(s history.Stats) int64 { return s.Dropped }),
	)
}

func registerAll(r *prometheus.Registry, cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
