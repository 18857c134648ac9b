package domain

import "time"

// PaymentStatus описывает результат списания у провайдера.
type PaymentStatus string

const (
	// PaymentStatusCaptured — деньги списаны.
	PaymentStatusCaptured PaymentStatus = "captured"
	// PaymentStatusDeclined — провайдер отклонил платёж.
	PaymentStatusDeclined PaymentStatus = "declined"
)

// Payment описывает попытку оплаты заказа.
type Payment struct {
	OrderID     int64
	Reference   string
	Provider    string
	ExternalID  string // Может быть пустым, если провайдер не возвращает идентификатор.
	Status      PaymentStatus
	AmountMinor int64
	CreatedAt   time.Time
}
