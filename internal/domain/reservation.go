package domain

import "time"

// ReservationStatus отражает статус резерва остатков под заказ.
type ReservationStatus string

const (
	// ReservationStatusReserved — остатки списаны под заказ.
	ReservationStatusReserved ReservationStatus = "reserved"
	// ReservationStatusReleased — резерв снят после отмены заказа.
	ReservationStatusReleased ReservationStatus = "released"
)

// StockReservation — резерв склада по одному заказу.
type StockReservation struct {
	OrderID   int64
	Items     []OrderStockItem
	Status    ReservationStatus
	CreatedAt time.Time
}

// ConfirmedOrderStockItem — результат проверки одной позиции.
type ConfirmedOrderStockItem struct {
	ProductID int64 `json:"productId"`
	HasStock  bool  `json:"hasStock"`
}

// GraceEntry — заказ, ожидающий окончания grace period.
type GraceEntry struct {
	OrderID int64
	DueAt   time.Time
}
