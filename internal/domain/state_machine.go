package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// transitions — единственный источник правды о допустимых переходах статусов.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusSubmitted:          {OrderStatusAwaitingValidation, OrderStatusCancelled},
	OrderStatusAwaitingValidation: {OrderStatusStockConfirmed, OrderStatusCancelled},
	OrderStatusStockConfirmed:     {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:               {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:            {OrderStatusCompleted},
	OrderStatusCompleted:          {},
	OrderStatusCancelled:          {},
}

// statusEvents сопоставляет целевой статус с событием, которое поднимает переход.
var statusEvents = map[OrderStatus]DomainEventType{
	OrderStatusAwaitingValidation: EventOrderStatusChangedToAwaitingValidation,
	OrderStatusStockConfirmed:     EventOrderStatusChangedToStockConfirmed,
	OrderStatusPaid:               EventOrderStatusChangedToPaid,
	OrderStatusShipped:            EventOrderStatusChangedToShipped,
	OrderStatusCompleted:          EventOrderStatusChangedToCompleted,
	OrderStatusCancelled:          EventOrderStatusChangedToCancelled,
}

// now вынесен в переменную, чтобы тесты могли зафиксировать время.
var now = func() time.Time { return time.Now().UTC() }

// CanTransition сообщает, разрешён ли переход from -> to.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AllowedTransitions возвращает копию списка разрешённых целевых статусов.
func AllowedTransitions(from OrderStatus) []OrderStatus {
	return append([]OrderStatus(nil), transitions[from]...)
}

// ApplyStatusChange переводит заказ в новый статус и поднимает ровно одно доменное событие.
// При недопустимом переходе заказ не меняется, возвращается *TransitionError.
func (o *Order) ApplyStatusChange(to OrderStatus, reason string) (DomainEvent, error) {
	if !CanTransition(o.Status, to) {
		return DomainEvent{}, &TransitionError{OrderID: o.ID, From: o.Status, To: to}
	}

	ts := now()
	ev := DomainEvent{
		Type:       statusEvents[to],
		OrderID:    o.ID,
		BuyerID:    o.BuyerID,
		From:       o.Status,
		To:         to,
		Reason:     reason,
		StockItems: o.StockItems(),
		PaymentRef: o.PaymentRef,
		TotalMinor: o.TotalMinor(),
		OrderDate:  o.OrderDate,
		OccurredAt: ts,
	}

	o.Status = to
	o.UpdatedAt = ts
	if reason != "" {
		o.Description = reason
	}
	o.raise(ev)
	return ev, nil
}

// StatusEvent восстанавливает событие перехода в текущий статус, не меняя заказ.
// Для Submitted такого события нет: его заменяет OrderStarted.
// RejectedProductIDs в заказе не хранится, поэтому в восстановленной отмене его нет.
func (o *Order) StatusEvent() (DomainEvent, bool) {
	typ, ok := statusEvents[o.Status]
	if !ok {
		return DomainEvent{}, false
	}
	return DomainEvent{
		Type:       typ,
		OrderID:    o.ID,
		BuyerID:    o.BuyerID,
		To:         o.Status,
		Reason:     o.Description,
		StockItems: o.StockItems(),
		PaymentRef: o.PaymentRef,
		TotalMinor: o.TotalMinor(),
		OrderDate:  o.OrderDate,
		OccurredAt: o.UpdatedAt,
	}, true
}

// SetAwaitingValidationStatus срабатывает после окончания grace period.
func (o *Order) SetAwaitingValidationStatus() (DomainEvent, error) {
	return o.ApplyStatusChange(OrderStatusAwaitingValidation, "")
}

// SetStockConfirmedStatus фиксирует подтверждение остатков.
func (o *Order) SetStockConfirmedStatus() (DomainEvent, error) {
	return o.ApplyStatusChange(OrderStatusStockConfirmed, "All the items were confirmed with available stock.")
}

// SetStockRejectedStatus отменяет заказ и записывает, каких позиций не хватило.
func (o *Order) SetStockRejectedStatus(rejectedProductIDs []int64) (DomainEvent, error) {
	if o.Status != OrderStatusAwaitingValidation {
		return DomainEvent{}, &TransitionError{OrderID: o.ID, From: o.Status, To: OrderStatusCancelled}
	}

	rejected := make(map[int64]struct{}, len(rejectedProductIDs))
	for _, id := range rejectedProductIDs {
		rejected[id] = struct{}{}
	}
	names := make([]string, 0, len(rejected))
	for _, item := range o.Items {
		if _, ok := rejected[item.ProductID]; !ok {
			continue
		}
		name := item.ProductName
		if name == "" {
			name = fmt.Sprintf("#%d", item.ProductID)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	reason := "insufficient stock"
	if len(names) > 0 {
		reason = fmt.Sprintf("insufficient stock: %s", strings.Join(names, ", "))
	}

	ev, err := o.ApplyStatusChange(OrderStatusCancelled, reason)
	if err != nil {
		return DomainEvent{}, err
	}
	ids := append([]int64(nil), rejectedProductIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	ev.RejectedProductIDs = ids
	o.events[len(o.events)-1] = ev
	return ev, nil
}

// SetPaidStatus фиксирует успешную оплату и ссылку на платёж.
func (o *Order) SetPaidStatus(paymentRef string) (DomainEvent, error) {
	prev := o.PaymentRef
	if paymentRef != "" {
		o.PaymentRef = paymentRef
	}
	ev, err := o.ApplyStatusChange(OrderStatusPaid, "The payment was performed at a simulated bank.")
	if err != nil {
		o.PaymentRef = prev
		return DomainEvent{}, err
	}
	return ev, nil
}

// SetShippedStatus переводит оплаченный заказ в доставку.
func (o *Order) SetShippedStatus() (DomainEvent, error) {
	return o.ApplyStatusChange(OrderStatusShipped, "The order was shipped.")
}

// SetCompletedStatus завершает сагу после доставки.
func (o *Order) SetCompletedStatus() (DomainEvent, error) {
	return o.ApplyStatusChange(OrderStatusCompleted, "The order was delivered.")
}

// SetCancelledStatus отменяет заказ с указанной причиной.
func (o *Order) SetCancelledStatus(reason string) (DomainEvent, error) {
	if reason == "" {
		reason = "The order was cancelled."
	}
	return o.ApplyStatusChange(OrderStatusCancelled, reason)
}

// ProjectStatus проецирует статус для сервисов, в перечислении которых нет Shipped:
// там отгруженный заказ виден как оплаченный. Граф переходов при этом общий.
func ProjectStatus(s OrderStatus, withShipping bool) OrderStatus {
	if !withShipping && s == OrderStatusShipped {
		return OrderStatusPaid
	}
	return s
}
