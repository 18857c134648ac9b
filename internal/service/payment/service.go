package payment

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/eventbus"
	"github.com/vladislavdragonenkov/ordersaga/internal/resilience"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/idempotency"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/saga"
)

// ServiceName — имя платёжного сервиса в request id.
const ServiceName = "payment"

// Service списывает оплату за заказ с подтверждёнными остатками.
type Service struct {
	gateway   domain.PaymentGateway
	breaker   *gobreaker.CircuitBreaker
	publisher eventbus.Publisher
	guard     *idempotency.Guard
	logger    *log.Entry
}

// NewService создаёт платёжный сервис. Отказ банка (decline) не открывает breaker.
func NewService(gateway domain.PaymentGateway, publisher eventbus.Publisher, guard *idempotency.Guard, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "payment")
	}
	return &Service{
		gateway:   gateway,
		publisher: publisher,
		guard:     guard,
		logger:    logger,
		breaker: resilience.NewBreaker(resilience.BreakerSettings{
			Name: "payment-gateway",
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, domain.ErrPaymentDeclined)
			},
		}, logger),
	}
}

// Register подписывает сервис на шину.
func (s *Service) Register(sub eventbus.Subscriber) {
	sub.Subscribe(eventbus.OrderStatusChangedToStockConfirmed, s.HandleStockConfirmed)
}

// HandleStockConfirmed списывает сумму заказа и публикует результат.
// Временная ошибка банка или открытый breaker возвращают сообщение на повторную доставку.
func (s *Service) HandleStockConfirmed(ctx context.Context, ev eventbus.IntegrationEvent) error {
	var payload eventbus.OrderStatusChangedPayload
	if err := ev.Decode(&payload); err != nil {
		s.logger.WithError(err).WithField("event_id", ev.ID).Error("malformed payment request dropped")
		return nil
	}
	logger := s.logger.WithFields(log.Fields{"event_id": ev.ID, "order_id": payload.OrderID})

	err := s.guard.Run(ctx, saga.RequestID(ServiceName, ev.ID), ev.Name, func(ctx context.Context) error {
		payment, err := resilience.ExecuteWithBreaker(s.breaker, func() (domain.Payment, error) {
			return s.gateway.Charge(ctx, payload.OrderID, payload.TotalMinor, payload.PaymentRef)
		})

		var reply eventbus.IntegrationEvent
		switch {
		case err == nil:
			logger.WithField("payment_ref", payment.Reference).Info("payment captured")
			reply, err = eventbus.NewEventWithID(eventbus.DerivedID(ServiceName, ev.ID), eventbus.OrderPaymentSucceeded, payload.OrderID,
				eventbus.OrderPaymentSucceededPayload{OrderID: payload.OrderID, PaymentRef: payment.Reference})
		case errors.Is(err, domain.ErrPaymentDeclined):
			logger.Info("payment declined")
			reply, err = eventbus.NewEventWithID(eventbus.DerivedID(ServiceName, ev.ID), eventbus.OrderPaymentFailed, payload.OrderID,
				eventbus.OrderPaymentFailedPayload{OrderID: payload.OrderID, Reason: "declined by bank"})
		case resilience.IsOpen(err):
			return fmt.Errorf("%w: %w", domain.ErrPaymentTemporary, err)
		default:
			if !domain.IsTransient(err) {
				return fmt.Errorf("%w: %w", domain.ErrPaymentTemporary, err)
			}
			return err
		}
		if err != nil {
			return err
		}
		return s.publisher.Publish(ctx, reply)
	})

	result, redeliver := saga.Disposition(err)
	if err != nil && result != saga.ResultDuplicate {
		logger.WithError(err).WithField("result", result).Warn("payment handler failed")
	}
	if redeliver {
		return err
	}
	return nil
}
