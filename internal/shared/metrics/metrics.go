package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Metrics owns the collectors shared by the engines and workers.
type Metrics struct {
	registry *prometheus.Registry

	ReservationsCreated   *prometheus.CounterVec
	ReservationConflicts  prometheus.Counter
	ReservationsExpired   prometheus.Counter
	SeatsReleased         prometheus.Counter
	SweepDuration         prometheus.Histogram
	OutboxScanned         prometheus.Counter
	OutboxSent            prometheus.Counter
	OutboxFailed          prometheus.Counter
	OutboxDead            prometheus.Counter
	OutboxCycleDuration   prometheus.Histogram
	PaymentCreateSuccess  prometheus.Counter
	PaymentCreateFailure  prometheus.Counter
	WebhookProcessed      *prometheus.CounterVec
	WebhookFailed         *prometheus.CounterVec
	FinalizeOutcomes      *prometheus.CounterVec
	ConsumerProcessed     prometheus.Counter
	ConsumerRetries       prometheus.Counter
	ConsumerDeadLettered  prometheus.Counter
	ConsumerDropped       *prometheus.CounterVec
	RealtimePublishErrors prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		ReservationsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reservation_created_total",
			Help: "Seat reservations created, by claim path",
		}, []string{"path"}),
		ReservationConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reservation_conflict_total",
			Help: "Seat reservation attempts rejected with a conflict",
		}),
		ReservationsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reservation_expired_total",
			Help: "Reservations expired by the sweeper",
		}),
		SeatsReleased: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reservation_seats_released_total",
			Help: "Seats released back to AVAILABLE by the sweeper",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reservation_sweep_duration_seconds",
			Help:    "Duration of reservation expiry sweeps in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		OutboxScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outbox_publish_scanned_total",
			Help: "Total outbox events scanned by publisher",
		}),
		OutboxSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outbox_publish_sent_total",
			Help: "Total outbox events sent to Kafka",
		}),
		OutboxFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outbox_publish_failed_total",
			Help: "Total outbox publish failures",
		}),
		OutboxDead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outbox_publish_dead_total",
			Help: "Outbox events marked FAILED after exhausting attempts",
		}),
		OutboxCycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "outbox_publish_cycle_duration_seconds",
			Help:    "Duration of outbox publish cycles in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		PaymentCreateSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payment_create_success_total",
			Help: "Count of successful payment intent creations",
		}),
		PaymentCreateFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payment_create_failure_total",
			Help: "Count of failed payment creations",
		}),
		WebhookProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_webhook_processed_total",
			Help: "Count of successfully processed payment webhooks",
		}, []string{"provider", "status"}),
		WebhookFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_webhook_failed_total",
			Help: "Count of failed payment webhook processing attempts",
		}, []string{"provider"}),
		FinalizeOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_finalize_total",
			Help: "Payment finalization outcomes",
		}, []string{"outcome"}),
		ConsumerProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_payment_succeeded_processed_total",
			Help: "payment.succeeded messages processed",
		}),
		ConsumerRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_payment_succeeded_retry_total",
			Help: "payment.succeeded processing retries",
		}),
		ConsumerDeadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_payment_succeeded_dlq_total",
			Help: "payment.succeeded messages routed to the dead-letter topic",
		}),
		ConsumerDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kafka_payment_succeeded_dropped_total",
			Help: "payment.succeeded messages dropped without processing",
		}, []string{"reason"}),
		RealtimePublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "realtime_publish_errors_total",
			Help: "Seat update fanout failures",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ReservationsCreated,
		m.ReservationConflicts,
		m.ReservationsExpired,
		m.SeatsReleased,
		m.SweepDuration,
		m.OutboxScanned,
		m.OutboxSent,
		m.OutboxFailed,
		m.OutboxDead,
		m.OutboxCycleDuration,
		m.PaymentCreateSuccess,
		m.PaymentCreateFailure,
		m.WebhookProcessed,
		m.WebhookFailed,
		m.FinalizeOutcomes,
		m.ConsumerProcessed,
		m.ConsumerRetries,
		m.ConsumerDeadLettered,
		m.ConsumerDropped,
		m.RealtimePublishErrors,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Total sums every counter series of a collector.
func Total(c prometheus.Collector) float64 {
	ch := make(chan prometheus.Metric, 16)
	go func() {
		c.Collect(ch)
		close(ch)
	}()

	var total float64
	for metric := range ch {
		var pb dto.Metric
		if err := metric.Write(&pb); err != nil {
			continue
		}
		if pb.Counter != nil {
			total += pb.Counter.GetValue()
		}
	}
	return total
}
