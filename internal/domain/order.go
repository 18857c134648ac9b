package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// OrderStatus описывает жизненный цикл заказа в саге оформления.
type OrderStatus string

const (
	// OrderStatusSubmitted — заказ создан, идёт grace period для отмены покупателем.
	OrderStatusSubmitted OrderStatus = "submitted"
	// OrderStatusAwaitingValidation — заказ ждёт подтверждения остатков складом.
	OrderStatusAwaitingValidation OrderStatus = "awaiting_validation"
	// OrderStatusStockConfirmed — склад подтвердил наличие всех позиций.
	OrderStatusStockConfirmed OrderStatus = "stock_confirmed"
	// OrderStatusPaid — оплата подтверждена платёжным сервисом.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusShipped — заказ передан в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusCompleted — заказ доставлен, сага завершена.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled — заказ отменён (покупателем, складом или оплатой).
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal сообщает, что из статуса нет переходов.
func (s OrderStatus) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// ParseOrderStatus разбирает строковое представление статуса.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	s := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown order status %q", ErrValidation, raw)
	}
	return s, nil
}

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	ProductID   int64
	ProductName string
	// UnitPriceMinor — цена за единицу в минимальных денежных единицах.
	UnitPriceMinor int64
	Units          int32
	PictureURL     string
}

// Address — адрес доставки.
type Address struct {
	Street  string
	City    string
	State   string
	Country string
	ZipCode string
}

// OrderStockItem — позиция для проверки остатков на складе.
type OrderStockItem struct {
	ProductID int64 `json:"productId"`
	Units     int32 `json:"units"`
}

// Order агрегирует состояние заказа и его позиции.
// Агрегат не обращается к хранилищу: репозитории работают с копиями.
type Order struct {
	ID          int64
	BuyerID     string
	OrderDate   time.Time
	Status      OrderStatus
	Description string
	Address     Address
	PaymentRef  string
	Items       []OrderItem
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time

	events []DomainEvent
}

// NewOrder создаёт заказ в статусе Submitted и поднимает событие OrderStarted.
// Повторяющиеся товары схлопываются в одну позицию.
func NewOrder(buyerID string, address Address, paymentRef string, items []OrderItem, now time.Time) (*Order, error) {
	o := &Order{
		BuyerID:    buyerID,
		OrderDate:  now,
		Status:     OrderStatusSubmitted,
		Address:    address,
		PaymentRef: paymentRef,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, item := range items {
		if err := o.AddItem(item); err != nil {
			return nil, err
		}
	}
	if errs := o.ValidateInvariants(); len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	o.raise(DomainEvent{
		Type:       EventOrderStarted,
		BuyerID:    buyerID,
		To:         OrderStatusSubmitted,
		StockItems: o.StockItems(),
		PaymentRef: paymentRef,
		TotalMinor: o.TotalMinor(),
		OrderDate:  now,
		OccurredAt: now,
	})
	return o, nil
}

// AddItem добавляет позицию или увеличивает количество уже добавленного товара.
func (o *Order) AddItem(item OrderItem) error {
	if o.itemsLocked() {
		return fmt.Errorf("%w: status %s", ErrItemsLocked, o.Status)
	}
	if item.Units <= 0 {
		return ErrItemUnitsInvalid
	}
	if item.UnitPriceMinor < 0 {
		return ErrItemPriceInvalid
	}

	for i := range o.Items {
		if o.Items[i].ProductID != item.ProductID {
			continue
		}
		if o.Items[i].UnitPriceMinor != item.UnitPriceMinor {
			return fmt.Errorf("%w: product %d", ErrItemPriceMismatch, item.ProductID)
		}
		o.Items[i].Units += item.Units
		return nil
	}

	o.Items = append(o.Items, item)
	return nil
}

func (o *Order) itemsLocked() bool {
	return o.Status != "" && o.Status != OrderStatusSubmitted && o.Status != OrderStatusAwaitingValidation
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if strings.TrimSpace(o.BuyerID) == "" {
		errs = append(errs, ErrBuyerRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	for _, item := range o.Items {
		if item.Units <= 0 {
			errs = append(errs, ErrItemUnitsInvalid)
		}
		if item.UnitPriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}
	if o.Status != "" && !o.Status.Valid() {
		errs = append(errs, fmt.Errorf("%w: unknown status %q", ErrValidation, o.Status))
	}

	return errs
}

// TotalMinor возвращает сумму заказа в минимальных денежных единицах.
func (o *Order) TotalMinor() int64 {
	var total int64
	for _, item := range o.Items {
		total += int64(item.Units) * item.UnitPriceMinor
	}
	return total
}

// StockItems возвращает позиции в формате, который нужен складу.
func (o *Order) StockItems() []OrderStockItem {
	out := make([]OrderStockItem, 0, len(o.Items))
	for _, item := range o.Items {
		out = append(out, OrderStockItem{ProductID: item.ProductID, Units: item.Units})
	}
	return out
}

// Clone возвращает глубокую копию заказа без накопленных событий.
func (o Order) Clone() Order {
	out := o
	out.Items = append([]OrderItem(nil), o.Items...)
	out.events = nil
	return out
}

// PullDomainEvents забирает накопленные доменные события и очищает очередь.
// Идентификатор заказа проставляется в момент выборки: до Create его ещё нет.
func (o *Order) PullDomainEvents() []DomainEvent {
	events := o.events
	o.events = nil
	for i := range events {
		events[i].OrderID = o.ID
	}
	return events
}

func (o *Order) raise(ev DomainEvent) {
	o.events = append(o.events, ev)
}
