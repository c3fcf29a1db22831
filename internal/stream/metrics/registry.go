package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry encapsulates all metrics and provides a clean interface
// for recording metrics without global state. It satisfies stream.Observer.
type Registry struct {
	registry *prometheus.Registry

	// Subscription metrics
	subscriptionsActive  prometheus.Gauge
	subscriptionsTotal   *prometheus.CounterVec
	subscriptionLifetime *prometheus.HistogramVec
	eventsDelivered      *prometheus.CounterVec
	callbackFailures     *prometheus.CounterVec
	getTotal             *prometheus.CounterVec

	// Source metrics
	sourceEvents       *prometheus.CounterVec
	sourceErrors       *prometheus.CounterVec
	sourceOpenDuration *prometheus.HistogramVec

	// System health metrics
	systemInfo *prometheus.GaugeVec
	startTime  prometheus.Gauge
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	registry := prometheus.NewRegistry()

	r := &Registry{
		registry: registry,

		subscriptionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "stream_subscriptions_active",
				Help: "Number of subscriptions whose producer goroutine is running",
			},
		),

		subscriptionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stream_subscriptions_total",
				Help: "Total number of finished subscriptions by terminal state",
			},
			[]string{"topic", "state"}, // state: closed, errored, stopped
		),

		subscriptionLifetime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stream_subscription_lifetime_seconds",
				Help:    "Time from subscribe until the producer goroutine exited",
				Buckets: []float64{0.01, 0.1, 1, 10, 60, 300, 1800, 3600},
			},
			[]string{"topic"},
		),

		eventsDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stream_events_delivered_total",
				Help: "Total number of events handed to the callback and queue",
			},
			[]string{"topic"},
		),

		callbackFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stream_callback_failures_total",
				Help: "Total number of callback invocations that failed or panicked",
			},
			[]string{"topic"},
		),

		getTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stream_get_total",
				Help: "Total number of Get calls by outcome",
			},
			[]string{"topic", "outcome"}, // outcome: event, timeout, closed, error, canceled
		),

		sourceEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stream_source_events_total",
				Help: "Total number of events yielded by sources",
			},
			[]string{"topic"},
		),

		sourceErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stream_source_errors_total",
				Help: "Total number of source failures while opening or iterating",
			},
			[]string{"topic", "phase"}, // phase: open, iterate
		),

		sourceOpenDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stream_source_open_duration_seconds",
				Help:    "Time spent opening a source sequence",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"topic"},
		),

		systemInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stream_system_info",
				Help: "System information (value is always 1, labels contain info)",
			},
			[]string{"version", "build_time"},
		),

		startTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "stream_start_time_seconds",
				Help: "Unix timestamp when the application started",
			},
		),
	}

	// add default Go metrics (memory, GC, goroutines, etc.)
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	registry.MustRegister(
		r.subscriptionsActive,
		r.subscriptionsTotal,
		r.subscriptionLifetime,
		r.eventsDelivered,
		r.callbackFailures,
		r.getTotal,
		r.sourceEvents,
		r.sourceErrors,
		r.sourceOpenDuration,
		r.systemInfo,
		r.startTime,
	)

	r.startTime.SetToCurrentTime()

	return r
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          r.registry,
	})
}

func (r *Registry) SubscriptionStarted(string) {
	r.subscriptionsActive.Inc()
}

func (r *Registry) SubscriptionEnded(topic, state string, lifetime time.Duration) {
	r.subscriptionsActive.Dec()
	r.subscriptionsTotal.WithLabelValues(topic, state).Inc()
	r.subscriptionLifetime.WithLabelValues(topic).Observe(lifetime.Seconds())
}

func (r *Registry) EventDelivered(topic string) {
	r.eventsDelivered.WithLabelValues(topic).Inc()
}

func (r *Registry) CallbackFailed(topic string) {
	r.callbackFailures.WithLabelValues(topic).Inc()
}

func (r *Registry) GetCompleted(topic, outcome string) {
	r.getTotal.WithLabelValues(topic, outcome).Inc()
}

// RecordSourceOpen records how long opening a source took and whether it failed
func (r *Registry) RecordSourceOpen(topic string, duration time.Duration, err error) {
	r.sourceOpenDuration.WithLabelValues(topic).Observe(duration.Seconds())
	if err != nil {
		r.sourceErrors.WithLabelValues(topic, "open").Inc()
	}
}

// RecordSourceItem records one step of a source sequence
func (r *Registry) RecordSourceItem(topic string, err error) {
	if err != nil {
		r.sourceErrors.WithLabelValues(topic, "iterate").Inc()
		return
	}
	r.sourceEvents.WithLabelValues(topic).Inc()
}

// SetSystemInfo sets system information metrics
func (r *Registry) SetSystemInfo(version, buildTime string) {
	r.systemInfo.WithLabelValues(version, buildTime).Set(1)
}
