package saga

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/eventbus"
	"github.com/vladislavdragonenkov/ordersaga/internal/metrics"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/idempotency"
)

// ServiceName — имя сервиса ordering в request id и метриках.
const ServiceName = "ordering"

// Результаты обработки события для метрик и логов.
const (
	ResultApplied           = "applied"
	ResultDuplicate         = "duplicate"
	ResultInvalidTransition = "invalid_transition"
	ResultRetry             = "retry"
	ResultMalformed         = "malformed"
	ResultDropped           = "dropped"
)

// RequestID строит идентификатор идемпотентности для пары (сервис, событие).
func RequestID(service, eventID string) string {
	return service + ":" + eventID
}

// Dependencies — явные зависимости обработчиков саги.
type Dependencies struct {
	Transitioner *Transitioner
	Guard        *idempotency.Guard
	Metrics      *metrics.SagaMetrics
	Logger       *log.Entry
}

// Coordinator — обработчики интеграционных событий, которые двигают заказ по саге.
type Coordinator struct {
	service      string
	transitioner *Transitioner
	guard        *idempotency.Guard
	metrics      *metrics.SagaMetrics
	logger       *log.Entry
	tracer       trace.Tracer
}

// NewCoordinator создаёт обработчики сервиса ordering.
func NewCoordinator(deps Dependencies) *Coordinator {
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "saga")
	}
	return &Coordinator{
		service:      ServiceName,
		transitioner: deps.Transitioner,
		guard:        deps.Guard,
		metrics:      deps.Metrics,
		logger:       logger,
		tracer:       otel.Tracer("ordersaga/saga"),
	}
}

// Register подписывает обработчики на шину. Каждое имя регистрируется один раз.
func (c *Coordinator) Register(sub eventbus.Subscriber) {
	sub.Subscribe(eventbus.GracePeriodConfirmed, c.HandleGracePeriodConfirmed)
	sub.Subscribe(eventbus.OrderStockConfirmed, c.HandleStockConfirmed)
	sub.Subscribe(eventbus.OrderStockRejected, c.HandleStockRejected)
	sub.Subscribe(eventbus.OrderPaymentSucceeded, c.HandlePaymentSucceeded)
	sub.Subscribe(eventbus.OrderPaymentFailed, c.HandlePaymentFailed)
	sub.Subscribe(eventbus.OrderShipped, c.HandleShipped)
	sub.Subscribe(eventbus.OrderDelivered, c.HandleDelivered)
}

// HandleGracePeriodConfirmed переводит заказ в AwaitingValidation.
func (c *Coordinator) HandleGracePeriodConfirmed(ctx context.Context, ev eventbus.IntegrationEvent) error {
	var payload eventbus.GracePeriodConfirmedPayload
	return c.handle(ctx, ev, &payload, func() int64 { return payload.OrderID }, func(o *domain.Order) (domain.DomainEvent, error) {
		return o.SetAwaitingValidationStatus()
	})
}

// HandleStockConfirmed переводит заказ в StockConfirmed.
func (c *Coordinator) HandleStockConfirmed(ctx context.Context, ev eventbus.IntegrationEvent) error {
	var payload eventbus.OrderStockConfirmedPayload
	return c.handle(ctx, ev, &payload, func() int64 { return payload.OrderID }, func(o *domain.Order) (domain.DomainEvent, error) {
		return o.SetStockConfirmedStatus()
	})
}

// HandleStockRejected отменяет заказ и записывает товары без остатка.
func (c *Coordinator) HandleStockRejected(ctx context.Context, ev eventbus.IntegrationEvent) error {
	var payload eventbus.OrderStockRejectedPayload
	return c.handle(ctx, ev, &payload, func() int64 { return payload.OrderID }, func(o *domain.Order) (domain.DomainEvent, error) {
		return o.SetStockRejectedStatus(payload.RejectedProductIDs())
	})
}

// HandlePaymentSucceeded переводит заказ в Paid.
func (c *Coordinator) HandlePaymentSucceeded(ctx context.Context, ev eventbus.IntegrationEvent) error {
	var payload eventbus.OrderPaymentSucceededPayload
	return c.handle(ctx, ev, &payload, func() int64 { return payload.OrderID }, func(o *domain.Order) (domain.DomainEvent, error) {
		return o.SetPaidStatus(payload.PaymentRef)
	})
}

// HandlePaymentFailed отменяет заказ.
func (c *Coordinator) HandlePaymentFailed(ctx context.Context, ev eventbus.IntegrationEvent) error {
	var payload eventbus.OrderPaymentFailedPayload
	return c.handle(ctx, ev, &payload, func() int64 { return payload.OrderID }, func(o *domain.Order) (domain.DomainEvent, error) {
		reason := "payment failed"
		if payload.Reason != "" {
			reason += ": " + payload.Reason
		}
		return o.SetCancelledStatus(reason)
	})
}

// HandleShipped переводит заказ в Shipped.
func (c *Coordinator) HandleShipped(ctx context.Context, ev eventbus.IntegrationEvent) error {
	var payload eventbus.OrderShippedPayload
	return c.handle(ctx, ev, &payload, func() int64 { return payload.OrderID }, func(o *domain.Order) (domain.DomainEvent, error) {
		return o.SetShippedStatus()
	})
}

// HandleDelivered завершает сагу.
func (c *Coordinator) HandleDelivered(ctx context.Context, ev eventbus.IntegrationEvent) error {
	var payload eventbus.OrderDeliveredPayload
	return c.handle(ctx, ev, &payload, func() int64 { return payload.OrderID }, func(o *domain.Order) (domain.DomainEvent, error) {
		return o.SetCompletedStatus()
	})
}

// handle — общий конвейер: разбор, идемпотентность, команда над агрегатом, сохранение, публикация.
// Возвращает ошибку только когда сообщение нужно доставить повторно.
func (c *Coordinator) handle(
	ctx context.Context,
	ev eventbus.IntegrationEvent,
	payload any,
	orderIDOf func() int64,
	command Command,
) error {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "saga.handle "+ev.Name, trace.WithAttributes(
		attribute.String("event.id", ev.ID),
		attribute.String("event.name", ev.Name),
	))
	defer span.End()

	logger := c.logger.WithFields(log.Fields{
		"event_id":   ev.ID,
		"event_name": ev.Name,
	})

	if err := ev.Decode(payload); err != nil {
		logger.WithError(err).Error("malformed integration event dropped")
		c.finish(span, ev, ResultMalformed, start)
		return nil
	}
	orderID := orderIDOf()
	if orderID == 0 {
		orderID = ev.OrderID
	}
	span.SetAttributes(attribute.Int64("order.id", orderID))
	logger = logger.WithField("order_id", orderID)

	err := c.guard.Run(ctx, RequestID(c.service, ev.ID), ev.Name, func(ctx context.Context) error {
		_, err := c.transitioner.Apply(ctx, orderID, command)
		return err
	})

	result, redeliver := Disposition(err)
	switch result {
	case ResultApplied:
		logger.Debug("integration event applied")
	case ResultDuplicate:
		logger.Debug("duplicate integration event acknowledged")
	case ResultInvalidTransition:
		logger.WithError(err).Warn("stale integration event dropped: invalid transition")
	case ResultRetry:
		if errors.Is(err, domain.ErrUnknownOrder) {
			logger.WithError(err).Warn("integration event references unknown order, will retry")
		} else {
			logger.WithError(err).Warn("transient failure, integration event will be redelivered")
		}
	default:
		logger.WithError(err).WithField("kind", domain.Kind(err)).Error("integration event dropped")
	}

	if result == ResultRetry || result == ResultDropped {
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.Kind(err))
	}
	c.finish(span, ev, result, start)
	if redeliver {
		return err
	}
	return nil
}

func (c *Coordinator) finish(span trace.Span, ev eventbus.IntegrationEvent, result string, start time.Time) {
	span.SetAttributes(attribute.String("saga.result", result))
	c.metrics.RecordHandled(c.service, ev.Name, result, time.Since(start))
}
