package metrics

import (
	"sync"

	"clinicqueue/internal/events"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "clinicqueue"

var (
	once sync.Once

	tokensBooked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_booked_total",
			Help:      "Count of tokens booked.",
		},
	)

	queueAdvanced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_advanced_total",
			Help:      "Count of serving pointer advances.",
		},
	)

	queueResets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_resets_total",
			Help:      "Count of explicit queue resets.",
		},
	)

	epochsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "epochs_closed_total",
			Help:      "Count of finished epochs by reason.",
		},
		[]string{"reason"},
	)

	waitingTokens = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "waiting_tokens",
			Help:      "Tokens currently waiting to be served.",
		},
	)

	currentNumber = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_number",
			Help:      "Token number currently being served.",
		},
	)

	snapshotWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_writes_total",
			Help:      "Count of queue snapshot writes by status.",
		},
		[]string{"status"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Count of API requests by handler.",
		},
		[]string{"handler"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request latency by route and status code.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"route", "code"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			tokensBooked, queueAdvanced, queueResets, epochsClosed,
			waitingTokens, currentNumber, snapshotWrites,
			httpRequests, httpDuration,
		)
	})
}

// Subscribe keeps the queue collectors in step with events published on bus.
func Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.TokenBooked, func(e events.Event) error {
		tokensBooked.Inc()
		waitingTokens.Set(float64(e.Waiting))
		return nil
	})
	bus.Subscribe(events.QueueAdvanced, func(e events.Event) error {
		queueAdvanced.Inc()
		waitingTokens.Set(float64(e.Waiting))
		currentNumber.Set(float64(e.CurrentNumber))
		return nil
	})
	bus.Subscribe(events.EpochClosed, func(e events.Event) error {
		epochsClosed.WithLabelValues(e.Reason).Inc()
		return nil
	})
	bus.Subscribe(events.QueueReset, func(e events.Event) error {
		queueResets.Inc()
		waitingTokens.Set(0)
		currentNumber.Set(float64(e.CurrentNumber))
		return nil
	})
}

// SetQueue seeds the gauges, e.g. after restoring state at startup.
func SetQueue(current, waiting int) {
	currentNumber.Set(float64(current))
	waitingTokens.Set(float64(waiting))
}

func IncSnapshotWrite(status string) {
	snapshotWrites.WithLabelValues(status).Inc()
}

func IncHTTP(handler string) {
	httpRequests.WithLabelValues(handler).Inc()
}

func ObserveHTTP(route, code string, seconds float64) {
	httpDuration.WithLabelValues(route, code).Observe(seconds)
}
