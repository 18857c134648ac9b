package domain

import "time"

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  int64
	Type     string
	From     OrderStatus
	To       OrderStatus
	Reason   string
	Occurred time.Time
}

// TimelineFromEvent строит запись истории из доменного события.
func TimelineFromEvent(ev DomainEvent) TimelineEvent {
	return TimelineEvent{
		OrderID:  ev.OrderID,
		Type:     string(ev.Type),
		From:     ev.From,
		To:       ev.To,
		Reason:   ev.Reason,
		Occurred: ev.OccurredAt,
	}
}
