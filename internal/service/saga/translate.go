package saga

import (
	"fmt"
	"strconv"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/eventbus"
)

// Translate отображает доменное событие в интеграционные. OrderStarted дает два события:
// факт создания заказа и смену статуса на Submitted.
// Каждый статус заказ проходит не больше одного раза, поэтому id события выводится из
// имени и заказа: повторная публикация того же перехода получает тот же id.
func Translate(ev domain.DomainEvent) ([]eventbus.IntegrationEvent, error) {
	switch ev.Type {
	case domain.EventOrderStarted:
		started, err := eventbus.NewEventWithID(EventID(eventbus.OrderStarted, ev), eventbus.OrderStarted, ev.OrderID,
			eventbus.OrderStartedPayload{BuyerID: ev.BuyerID})
		if err != nil {
			return nil, err
		}
		submitted, err := statusChanged(eventbus.OrderStatusChangedToSubmitted, ev, domain.OrderStatusSubmitted)
		if err != nil {
			return nil, err
		}
		return []eventbus.IntegrationEvent{started, submitted}, nil

	case domain.EventOrderStatusChangedToAwaitingValidation:
		return single(statusChanged(eventbus.OrderStatusChangedToAwaitingValidation, ev, ev.To))
	case domain.EventOrderStatusChangedToStockConfirmed:
		return single(statusChanged(eventbus.OrderStatusChangedToStockConfirmed, ev, ev.To))
	case domain.EventOrderStatusChangedToPaid:
		return single(statusChanged(eventbus.OrderStatusChangedToPaid, ev, ev.To))
	case domain.EventOrderStatusChangedToShipped:
		return single(statusChanged(eventbus.OrderStatusChangedToShipped, ev, ev.To))
	case domain.EventOrderStatusChangedToCompleted:
		return single(statusChanged(eventbus.OrderStatusChangedToCompleted, ev, ev.To))
	case domain.EventOrderStatusChangedToCancelled:
		return single(statusChanged(eventbus.OrderStatusChangedToCancelled, ev, ev.To))
	default:
		return nil, fmt.Errorf("no integration mapping for domain event %q", ev.Type)
	}
}

// TranslateAll переводит пачку доменных событий, сохраняя порядок.
func TranslateAll(events []domain.DomainEvent) ([]eventbus.IntegrationEvent, error) {
	out := make([]eventbus.IntegrationEvent, 0, len(events))
	for _, ev := range events {
		translated, err := Translate(ev)
		if err != nil {
			return nil, err
		}
		out = append(out, translated...)
	}
	return out, nil
}

// EventID — детерминированный id интеграционного события name для заказа из ev.
func EventID(name string, ev domain.DomainEvent) string {
	return eventbus.DerivedID(name, strconv.FormatInt(ev.OrderID, 10)+"@"+strconv.FormatInt(ev.OrderDate.UnixMicro(), 10))
}

func statusChanged(name string, ev domain.DomainEvent, status domain.OrderStatus) (eventbus.IntegrationEvent, error) {
	return eventbus.NewEventWithID(EventID(name, ev), name, ev.OrderID, eventbus.OrderStatusChangedPayload{
		OrderID:            ev.OrderID,
		BuyerID:            ev.BuyerID,
		OrderStatus:        status,
		Description:        ev.Reason,
		OrderStockItems:    ev.StockItems,
		PaymentRef:         ev.PaymentRef,
		TotalMinor:         ev.TotalMinor,
		RejectedProductIDs: ev.RejectedProductIDs,
	})
}

func single(ev eventbus.IntegrationEvent, err error) ([]eventbus.IntegrationEvent, error) {
	if err != nil {
		return nil, err
	}
	return []eventbus.IntegrationEvent{ev}, nil
}
