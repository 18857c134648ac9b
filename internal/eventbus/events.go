package eventbus

import "github.com/vladislavdragonenkov/ordersaga/internal/domain"

// Имена интеграционных событий. Имя определяет и схему полезной нагрузки, и топик.
const (
	OrderStarted                           = "OrderStartedIntegrationEvent"
	GracePeriodConfirmed                   = "GracePeriodConfirmedIntegrationEvent"
	OrderStatusChangedToSubmitted          = "OrderStatusChangedToSubmittedIntegrationEvent"
	OrderStatusChangedToAwaitingValidation = "OrderStatusChangedToAwaitingValidationIntegrationEvent"
	OrderStockConfirmed                    = "OrderStockConfirmedIntegrationEvent"
	OrderStockRejected                     = "OrderStockRejectedIntegrationEvent"
	OrderStatusChangedToStockConfirmed     = "OrderStatusChangedToStockConfirmedIntegrationEvent"
	OrderPaymentSucceeded                  = "OrderPaymentSucceededIntegrationEvent"
	OrderPaymentFailed                     = "OrderPaymentFailedIntegrationEvent"
	OrderStatusChangedToPaid               = "OrderStatusChangedToPaidIntegrationEvent"
	OrderShipped                           = "OrderShippedIntegrationEvent"
	OrderStatusChangedToShipped            = "OrderStatusChangedToShippedIntegrationEvent"
	OrderDelivered                         = "OrderDeliveredIntegrationEvent"
	OrderStatusChangedToCompleted          = "OrderStatusChangedToCompletedIntegrationEvent"
	OrderStatusChangedToCancelled          = "OrderStatusChangedToCancelledIntegrationEvent"
)

// AllEventNames перечисляет все известные имена событий. Используется для создания топиков.
func AllEventNames() []string {
	return []string{
		OrderStarted,
		GracePeriodConfirmed,
		OrderStatusChangedToSubmitted,
		OrderStatusChangedToAwaitingValidation,
		OrderStockConfirmed,
		OrderStockRejected,
		OrderStatusChangedToStockConfirmed,
		OrderPaymentSucceeded,
		OrderPaymentFailed,
		OrderStatusChangedToPaid,
		OrderShipped,
		OrderStatusChangedToShipped,
		OrderDelivered,
		OrderStatusChangedToCompleted,
		OrderStatusChangedToCancelled,
	}
}

type OrderStartedPayload struct {
	BuyerID string `json:"userId"`
}

type GracePeriodConfirmedPayload struct {
	OrderID int64 `json:"orderId"`
}

// OrderStatusChangedPayload — общая схема событий OrderStatusChangedTo*.
// Поля, не относящиеся к конкретному статусу, остаются пустыми.
type OrderStatusChangedPayload struct {
	OrderID            int64                   `json:"orderId"`
	BuyerID            string                  `json:"buyerIdentityGuid"`
	OrderStatus        domain.OrderStatus      `json:"orderStatus"`
	Description        string                  `json:"description,omitempty"`
	OrderStockItems    []domain.OrderStockItem `json:"orderStockItems,omitempty"`
	PaymentRef         string                  `json:"paymentRef,omitempty"`
	TotalMinor         int64                   `json:"totalMinor,omitempty"`
	RejectedProductIDs []int64                 `json:"rejectedProductIds,omitempty"`
}

type OrderStockConfirmedPayload struct {
	OrderID int64 `json:"orderId"`
}

type OrderStockRejectedPayload struct {
	OrderID         int64                            `json:"orderId"`
	OrderStockItems []domain.ConfirmedOrderStockItem `json:"orderStockItems"`
}

// RejectedProductIDs возвращает товары, которых не хватило на складе.
func (p OrderStockRejectedPayload) RejectedProductIDs() []int64 {
	ids := make([]int64, 0, len(p.OrderStockItems))
	for _, item := range p.OrderStockItems {
		if !item.HasStock {
			ids = append(ids, item.ProductID)
		}
	}
	return ids
}

type OrderPaymentSucceededPayload struct {
	OrderID    int64  `json:"orderId"`
	PaymentRef string `json:"paymentRef"`
}

type OrderPaymentFailedPayload struct {
	OrderID int64  `json:"orderId"`
	Reason  string `json:"reason"`
}

type OrderShippedPayload struct {
	OrderID        int64  `json:"orderId"`
	TrackingNumber string `json:"trackingNumber"`
}

type OrderDeliveredPayload struct {
	OrderID int64 `json:"orderId"`
}
