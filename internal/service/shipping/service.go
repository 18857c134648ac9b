package shipping

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/eventbus"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/idempotency"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/saga"
)

// ServiceName — имя службы доставки в request id.
const ServiceName = "shipping"

// Service отгружает оплаченные заказы. С AutoDeliver сразу подтверждает доставку отгруженных.
type Service struct {
	publisher   eventbus.Publisher
	guard       *idempotency.Guard
	autoDeliver bool
	logger      *log.Entry
}

func NewService(publisher eventbus.Publisher, guard *idempotency.Guard, autoDeliver bool, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "shipping")
	}
	return &Service{
		publisher:   publisher,
		guard:       guard,
		autoDeliver: autoDeliver,
		logger:      logger,
	}
}

// Register подписывает службу на шину.
// Доставка подтверждается только после OrderStatusChangedToShipped: иначе Delivered может обогнать Shipped.
func (s *Service) Register(sub eventbus.Subscriber) {
	sub.Subscribe(eventbus.OrderStatusChangedToPaid, s.HandlePaid)
	if s.autoDeliver {
		sub.Subscribe(eventbus.OrderStatusChangedToShipped, s.HandleShipped)
	}
}

// HandlePaid публикует OrderShipped с номером отслеживания.
func (s *Service) HandlePaid(ctx context.Context, ev eventbus.IntegrationEvent) error {
	return s.emit(ctx, ev, "shipped", func(orderID int64) (string, any) {
		return eventbus.OrderShipped, eventbus.OrderShippedPayload{OrderID: orderID, TrackingNumber: TrackingNumber(ev.ID)}
	})
}

// HandleShipped публикует OrderDelivered.
func (s *Service) HandleShipped(ctx context.Context, ev eventbus.IntegrationEvent) error {
	return s.emit(ctx, ev, "delivered", func(orderID int64) (string, any) {
		return eventbus.OrderDelivered, eventbus.OrderDeliveredPayload{OrderID: orderID}
	})
}

func (s *Service) emit(ctx context.Context, ev eventbus.IntegrationEvent, step string, build func(orderID int64) (string, any)) error {
	var payload eventbus.OrderStatusChangedPayload
	if err := ev.Decode(&payload); err != nil {
		s.logger.WithError(err).WithField("event_id", ev.ID).Error("malformed shipping request dropped")
		return nil
	}
	logger := s.logger.WithFields(log.Fields{"event_id": ev.ID, "order_id": payload.OrderID, "step": step})

	err := s.guard.Run(ctx, saga.RequestID(ServiceName, ev.ID), ev.Name, func(ctx context.Context) error {
		name, body := build(payload.OrderID)
		reply, err := eventbus.NewEventWithID(eventbus.DerivedID(ServiceName+"-"+step, ev.ID), name, payload.OrderID, body)
		if err != nil {
			return fmt.Errorf("build %s: %w", name, err)
		}
		return s.publisher.Publish(ctx, reply)
	})

	result, redeliver := saga.Disposition(err)
	switch {
	case err == nil:
		logger.Info("order " + step)
	case result != saga.ResultDuplicate:
		logger.WithError(err).WithField("result", result).Warn("shipping handler failed")
	}
	if redeliver {
		return err
	}
	return nil
}

// TrackingNumber выводит номер отслеживания из id события оплаты.
func TrackingNumber(sourceID string) string {
	id := strings.ReplaceAll(eventbus.DerivedID("tracking", sourceID), "-", "")
	return "TRK-" + strings.ToUpper(id[:12])
}
