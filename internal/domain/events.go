package domain

import "time"

// DomainEventType — тип доменного события заказа.
type DomainEventType string

const (
	EventOrderStarted                           DomainEventType = "OrderStarted"
	EventOrderStatusChangedToAwaitingValidation DomainEventType = "OrderStatusChangedToAwaitingValidation"
	EventOrderStatusChangedToStockConfirmed     DomainEventType = "OrderStatusChangedToStockConfirmed"
	EventOrderStatusChangedToPaid               DomainEventType = "OrderStatusChangedToPaid"
	EventOrderStatusChangedToShipped            DomainEventType = "OrderStatusChangedToShipped"
	EventOrderStatusChangedToCompleted          DomainEventType = "OrderStatusChangedToCompleted"
	EventOrderStatusChangedToCancelled          DomainEventType = "OrderStatusChangedToCancelled"
)

// DomainEvent описывает факт изменения агрегата.
// Поля заполняются по необходимости: StockItems нужны складу, PaymentRef нужен оплате.
// Пара OrderID и OrderDate однозначно определяет заказ даже после перезапуска с пустым хранилищем.
type DomainEvent struct {
	Type               DomainEventType
	OrderID            int64
	BuyerID            string
	From               OrderStatus
	To                 OrderStatus
	Reason             string
	StockItems         []OrderStockItem
	RejectedProductIDs []int64
	PaymentRef         string
	TotalMinor         int64
	OrderDate          time.Time
	OccurredAt         time.Time
}
