package domain

import (
	"context"
	"time"
)

// ProcessedRequestRepository хранит записи идемпотентности.
type ProcessedRequestRepository interface {
	// Insert атомарно вставляет запись, если её ещё нет. false — идентификатор уже встречался.
	Insert(ctx context.Context, rec ProcessedRequest) (bool, error)
	MarkDone(ctx context.Context, id string, at time.Time) error
	// Reclaim атомарно перехватывает запись в статусе processing, если её ProcessedAt не позже
	// staleBefore, и ставит ProcessedAt=now. false — записи нет, она завершена или ещё свежая.
	Reclaim(ctx context.Context, id string, staleBefore, now time.Time) (bool, error)
	// Delete снимает запись, чтобы повторная доставка смогла выполнить обработку.
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID int64) ([]TimelineEvent, error)
}

// GraceScheduleRepository хранит отложенные проверки grace period.
type GraceScheduleRepository interface {
	// Schedule ставит заказ в очередь; повторная постановка не сдвигает срок.
	Schedule(ctx context.Context, orderID int64, dueAt time.Time) error
	// Due возвращает записи со сроком не позже now, старые первыми.
	Due(ctx context.Context, now time.Time, limit int) ([]GraceEntry, error)
	Remove(ctx context.Context, orderID int64) error
}

// StockRepository описывает остатки склада.
type StockRepository interface {
	// Reserve резервирует все позиции или ни одной; возвращает список товаров без остатка.
	Reserve(ctx context.Context, orderID int64, items []OrderStockItem) ([]ConfirmedOrderStockItem, error)
	// Release возвращает остатки по резерву заказа. Повторный вызов ничего не меняет.
	Release(ctx context.Context, orderID int64) error
	Available(ctx context.Context, productID int64) (int32, error)
}

// PaymentGateway описывает платёжного провайдера.
type PaymentGateway interface {
	// Charge списывает сумму; ErrPaymentDeclined — бизнес-отказ, ErrPaymentTemporary — можно повторить.
	Charge(ctx context.Context, orderID int64, amountMinor int64, paymentRef string) (Payment, error)
}
