package app

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/vladislavdragonenkov/ordersaga/internal/eventbus"
	healthcheck "github.com/vladislavdragonenkov/ordersaga/internal/health"
	"github.com/vladislavdragonenkov/ordersaga/internal/metrics"
	"github.com/vladislavdragonenkov/ordersaga/internal/resilience"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/catalog"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/graceperiod"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/idempotency"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/ordering"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/payment"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/saga"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/shipping"
)

// sagaComponents — сервисы саги, подписанные на шину.
type sagaComponents struct {
	Publisher   *eventbus.RetryingPublisher
	Breaker     *gobreaker.CircuitBreaker
	Coordinator *saga.Coordinator
	Ordering    *ordering.Service
	Watchdog    *graceperiod.Watchdog
	Sweeper     *idempotency.ExpirySweeper
	Gateway     *payment.MockGateway
}

// createOrchestrator собирает координатор саги, команды, watchdog и, при необходимости,
// симулированных участников. Все обработчики подписываются на bus до её запуска.
func createOrchestrator(cfg Config, st *Storage, bus eventbus.Bus, sagaMetrics *metrics.SagaMetrics, logger *log.Entry) *sagaComponents {
	breaker := resilience.NewBreaker(resilience.BreakerSettings{Name: "event-publisher"}, logger)
	publisher := eventbus.NewRetryingPublisher(bus, resilience.RetryConfig{
		MaxAttempts:   cfg.PublishMaxAttempts,
		InitialDelay:  cfg.PublishInitialDelay,
		BackoffFactor: 2,
	},
		eventbus.WithBreaker(breaker),
		eventbus.WithPublisherLogger(logger.WithField("component", "event-publisher")),
	)

	guard := idempotency.NewGuard(st.Processed,
		idempotency.WithTTL(cfg.IdempotencyTTL),
		idempotency.WithLease(cfg.IdempotencyLease),
		idempotency.WithGuardLogger(logger.WithField("component", "idempotency-guard")),
	)
	transitioner := saga.NewTransitioner(st.Orders, st.Timeline, publisher, sagaMetrics, logger.WithField("component", "saga-transitioner"))

	coordinator := saga.NewCoordinator(saga.Dependencies{
		Transitioner: transitioner,
		Guard:        guard,
		Metrics:      sagaMetrics,
		Logger:       logger.WithField("component", "saga"),
	})
	coordinator.Register(bus)

	watchdog := graceperiod.New(st.Orders, st.Grace, publisher, graceperiod.Options{
		GracePeriod:   cfg.GracePeriod,
		CheckInterval: cfg.GraceCheckInterval,
		Logger:        logger.WithField("component", "grace-period"),
		Metrics:       sagaMetrics,
	})
	watchdog.Register(bus)

	components := &sagaComponents{
		Publisher:   publisher,
		Breaker:     breaker,
		Coordinator: coordinator,
		Watchdog:    watchdog,
		Ordering: ordering.NewService(ordering.Dependencies{
			Orders:       st.Orders,
			Timeline:     st.Timeline,
			Transitioner: transitioner,
			Guard:        guard,
			Logger:       logger.WithField("component", "ordering-service"),
		}),
		Sweeper: idempotency.NewExpirySweeper(st.Processed,
			idempotency.WithSweepInterval(cfg.IdempotencyCleanupInterval),
			idempotency.WithSweepBatches(cfg.IdempotencyCleanupBatchSize, cfg.IdempotencyCleanupMaxBatches),
			idempotency.WithSweepLogger(logger.WithField("component", "processed-requests-sweeper")),
		),
	}

	if cfg.SimulateParticipants {
		gateway := payment.NewMockGateway()
		gateway.DeclineAboveMinor = cfg.PaymentDeclineAbove
		components.Gateway = gateway

		catalog.NewStockService(st.Stock, publisher, guard, logger.WithField("component", "catalog-stock")).Register(bus)
		payment.NewService(gateway, publisher, guard, logger.WithField("component", "payment")).Register(bus)
		shipping.NewService(publisher, guard, cfg.ShippingAutoDeliver, logger.WithField("component", "shipping")).Register(bus)
		logger.Info("simulated saga participants registered")
	}

	return components
}

// publisherChecker сообщает о деградации, пока breaker публикации открыт.
func publisherChecker(breaker *gobreaker.CircuitBreaker) healthcheck.Checker {
	return healthcheck.Degraded(healthcheck.NewPingChecker("event-publisher", func(context.Context) error {
		if breaker.State() == gobreaker.StateOpen {
			return errors.New("publish circuit breaker is open")
		}
		return nil
	}))
}
