package domain

import "context"

// OrderRepository описывает требования к хранилищу заказов.
// Недоступность хранилища оборачивается в ErrPersistenceUnavailable.
type OrderRepository interface {
	// Create сохраняет новый заказ и присваивает ему ID. Версия нового заказа равна 0.
	Create(ctx context.Context, order *Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id int64) (Order, error)
	// ListByBuyer возвращает заказы покупателя с опциональным ограничением на количество.
	ListByBuyer(ctx context.Context, buyerID string, limit int) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking и увеличивает order.Version.
	Save(ctx context.Context, order *Order) error
}
