// Package app wires the engines, workers and their infrastructure. The API
// server and the worker binary build the same graph and differ only in what
// they run.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"boxoffice/internal/events"
	"boxoffice/internal/health"
	"boxoffice/internal/messaging"
	"boxoffice/internal/outbox"
	"boxoffice/internal/payments"
	"boxoffice/internal/realtime"
	"boxoffice/internal/reservations"
	"boxoffice/internal/seats"
	"boxoffice/internal/shared/config"
	"boxoffice/internal/shared/database"
	"boxoffice/internal/shared/metrics"
	"boxoffice/internal/shared/worker"
	"boxoffice/internal/tickets"
	"boxoffice/pkg/cache"
	"boxoffice/pkg/logger"

	"golang.org/x/sync/errgroup"
)

type App struct {
	Config  *config.Config
	DB      *database.DB
	Log     *logger.Logger
	Metrics *metrics.Metrics

	Cache    cache.Service
	Realtime *realtime.Publisher
	// Producer is nil when no broker is configured.
	Producer *messaging.Producer

	Events       events.Service
	Seats        seats.Service
	Reservations reservations.Service
	Payments     payments.Service
	Tickets      tickets.Service

	Sweeper *reservations.Sweeper
	Relay   *outbox.Relay
	// Consumer is nil when no broker is configured.
	Consumer *messaging.Consumer

	health health.Service
}

func New(cfg *config.Config, db *database.DB, log *logger.Logger) (*App, error) {
	if log == nil {
		log = logger.GetDefault()
	}
	a := &App{
		Config:  cfg,
		DB:      db,
		Log:     log,
		Metrics: metrics.New(),
	}

	pg := db.GetPostgreSQL()
	runner := database.NewTxRunner(pg, database.RetryPolicy{
		MaxAttempts: cfg.TxRetry.MaxAttempts,
		BaseDelay:   cfg.TxRetry.BaseDelay,
		MaxDelay:    cfg.TxRetry.MaxDelay,
	}, log)

	a.Cache = cache.NewService(db.GetRedis(), log)
	a.Realtime = realtime.NewPublisher(db.GetRedis(), a.Cache, cfg.Realtime.ChannelPrefix, log, a.Metrics)

	if cfg.KafkaEnabled() {
		producer, err := messaging.NewProducer(messaging.ProducerConfigFrom(cfg), log)
		if err != nil {
			return nil, fmt.Errorf("create kafka producer: %w", err)
		}
		a.Producer = producer
	} else {
		log.Warn("No Kafka brokers configured; outbox relay stays paused and payment.succeeded is not consumed")
	}

	a.Events = events.NewService(events.NewRepository(pg), a.Cache)
	a.Seats = seats.NewService(seats.NewRepository(pg), a.Cache, cfg.Redis.SeatMapTTL, log)
	a.Reservations = reservations.NewService(
		reservations.NewRepository(pg, runner),
		reservations.ServiceConfig{
			TTL:          cfg.Reservation.TTL,
			LockAttempts: cfg.Reservation.LockAttempts,
			LockBackoff:  cfg.Reservation.LockBackoff,
		},
		a.Realtime, log, a.Metrics,
	)
	registry := payments.NewRegistry(cfg.Payments.DefaultProvider, payments.NewManualProvider(cfg.Payments.WebhookSecret))
	a.Payments = payments.NewService(payments.NewRepository(pg, runner), registry, log, a.Metrics)
	a.Tickets = tickets.NewService(tickets.NewRepository(pg, runner), a.Realtime, log, a.Metrics)

	a.Sweeper = reservations.NewSweeper(a.Reservations, &reservations.SweeperConfig{
		Interval:  cfg.Reservation.SweepInterval,
		BatchSize: cfg.Reservation.SweepBatch,
	}, log, a.Metrics)

	relayConfig := &outbox.RelayConfig{
		Interval:    cfg.Outbox.Interval,
		BatchSize:   cfg.Outbox.BatchSize,
		Lease:       cfg.Outbox.Lease,
		MaxAttempts: cfg.Outbox.MaxAttempts,
		MaxLoops:    cfg.Outbox.MaxLoops,
	}
	if a.Producer != nil {
		a.Relay = outbox.NewRelay(outbox.NewRepository(pg), a.Producer, relayConfig, log, a.Metrics)
	} else {
		a.Relay = outbox.NewRelay(outbox.NewRepository(pg), nil, relayConfig, log, a.Metrics)
	}
	return a, nil
}

// EnableConsumer joins the payment.succeeded consumer group. Only processes
// that run workers call it.
func (a *App) EnableConsumer() error {
	if a.Producer == nil || a.Consumer != nil {
		return nil
	}
	handler := tickets.NewPaymentSucceededHandler(a.Tickets, a.Producer, tickets.PaymentSucceededConfig{
		MaxAttempts:     a.Config.Consumer.MaxAttempts,
		RetryBackoff:    a.Config.Consumer.RetryBackoff,
		DeadLetterTopic: a.Config.DeadLetterTopic(a.Config.Kafka.PaymentTopic),
	}, a.Log, a.Metrics)

	consumer, err := messaging.NewConsumer(messaging.ConsumerConfigFrom(a.Config), handler, a.Log)
	if err != nil {
		return fmt.Errorf("create payment.succeeded consumer: %w", err)
	}
	a.Consumer = consumer
	return nil
}

// RunWorkers blocks until ctx is cancelled or a worker fails.
func (a *App) RunWorkers(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Sweeper.Run(ctx) })
	g.Go(func() error { return a.Relay.Run(ctx) })
	if a.Consumer != nil {
		g.Go(func() error { return a.Consumer.Run(ctx) })
	}
	a.Log.Info("Workers started", slog.Bool("consumer", a.Consumer != nil))
	return g.Wait()
}

// Health builds the readiness and alert service. Worker checks are only
// registered when this process runs the workers.
func (a *App) Health(workersRunning bool) health.Service {
	if a.health != nil {
		return a.health
	}
	deps := health.Dependencies{
		Postgres: a.DB.PingPostgreSQL,
		Redis:    a.DB.PingRedis,
	}
	if a.Producer != nil {
		deps.Producer = a.Producer
	}
	if workersRunning {
		deps.Sweeper = a.Sweeper.HealthStatus
		deps.Relay = a.Relay.HealthStatus
		if a.Consumer != nil {
			deps.Consumer = a.Consumer.HealthStatus
		}
	}

	options := health.DefaultOptions()
	options.Alerts = a.Config.Alerts
	a.health = health.NewService(deps, options, a.Metrics)
	return a.health
}

// WorkerStatuses is a snapshot for logs and diagnostics.
func (a *App) WorkerStatuses() []worker.Status {
	return []worker.Status{a.Sweeper.HealthStatus(), a.Relay.HealthStatus()}
}

func (a *App) Close() error {
	var errs []error
	a.Sweeper.Stop()
	a.Relay.Stop()
	if a.Consumer != nil {
		if err := a.Consumer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Producer != nil {
		if err := a.Producer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
