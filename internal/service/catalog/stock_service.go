package catalog

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/eventbus"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/idempotency"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/saga"
)

// ServiceName — имя склада в request id.
const ServiceName = "catalog"

// StockService — склад: проверяет и резервирует остатки под заказ, снимает резерв при отмене.
type StockService struct {
	stock     domain.StockRepository
	publisher eventbus.Publisher
	guard     *idempotency.Guard
	logger    *log.Entry
}

// NewStockService создаёт склад поверх репозитория остатков.
func NewStockService(stock domain.StockRepository, publisher eventbus.Publisher, guard *idempotency.Guard, logger *log.Entry) *StockService {
	if logger == nil {
		logger = log.WithField("component", "catalog-stock")
	}
	return &StockService{
		stock:     stock,
		publisher: publisher,
		guard:     guard,
		logger:    logger,
	}
}

// Register подписывает склад на шину.
func (s *StockService) Register(sub eventbus.Subscriber) {
	sub.Subscribe(eventbus.OrderStatusChangedToAwaitingValidation, s.HandleAwaitingValidation)
	sub.Subscribe(eventbus.OrderStatusChangedToCancelled, s.HandleCancelled)
}

// HandleAwaitingValidation резервирует все позиции заказа или ни одной
// и отвечает OrderStockConfirmed либо OrderStockRejected.
func (s *StockService) HandleAwaitingValidation(ctx context.Context, ev eventbus.IntegrationEvent) error {
	var payload eventbus.OrderStatusChangedPayload
	if err := ev.Decode(&payload); err != nil {
		s.logger.WithError(err).WithField("event_id", ev.ID).Error("malformed stock validation request dropped")
		return nil
	}

	err := s.guard.Run(ctx, saga.RequestID(ServiceName, ev.ID), ev.Name, func(ctx context.Context) error {
		checked, err := s.stock.Reserve(ctx, payload.OrderID, payload.OrderStockItems)
		if err != nil {
			return fmt.Errorf("%w: reserve stock for order %d: %w", domain.ErrPersistenceUnavailable, payload.OrderID, err)
		}

		reply, err := s.reply(ev.ID, payload.OrderID, checked)
		if err != nil {
			return err
		}
		return s.publisher.Publish(ctx, reply)
	})
	return s.settle(ev, payload.OrderID, err)
}

func (s *StockService) reply(sourceID string, orderID int64, checked []domain.ConfirmedOrderStockItem) (eventbus.IntegrationEvent, error) {
	for _, item := range checked {
		if !item.HasStock {
			s.logger.WithField("order_id", orderID).Info("stock rejected")
			return eventbus.NewEventWithID(eventbus.DerivedID(ServiceName, sourceID), eventbus.OrderStockRejected, orderID,
				eventbus.OrderStockRejectedPayload{OrderID: orderID, OrderStockItems: checked})
		}
	}
	s.logger.WithField("order_id", orderID).Info("stock confirmed")
	return eventbus.NewEventWithID(eventbus.DerivedID(ServiceName, sourceID), eventbus.OrderStockConfirmed, orderID,
		eventbus.OrderStockConfirmedPayload{OrderID: orderID})
}

// HandleCancelled снимает резерв, если он был. Повторный вызов ничего не меняет.
func (s *StockService) HandleCancelled(ctx context.Context, ev eventbus.IntegrationEvent) error {
	var payload eventbus.OrderStatusChangedPayload
	if err := ev.Decode(&payload); err != nil {
		s.logger.WithError(err).WithField("event_id", ev.ID).Error("malformed cancellation dropped")
		return nil
	}

	if err := s.stock.Release(ctx, payload.OrderID); err != nil {
		return s.settle(ev, payload.OrderID, fmt.Errorf("%w: release stock: %w", domain.ErrPersistenceUnavailable, err))
	}
	s.logger.WithField("order_id", payload.OrderID).Debug("stock reservation released")
	return nil
}

func (s *StockService) settle(ev eventbus.IntegrationEvent, orderID int64, err error) error {
	result, redeliver := saga.Disposition(err)
	if err != nil && result != saga.ResultDuplicate {
		s.logger.WithError(err).WithFields(log.Fields{
			"event_id": ev.ID,
			"order_id": orderID,
			"result":   result,
		}).Warn("stock handler failed")
	}
	if redeliver {
		return err
	}
	return nil
}
