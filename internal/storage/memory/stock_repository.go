package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// StockRepository — склад в памяти с резервами по заказам.
type StockRepository struct {
	mu           sync.Mutex
	available    map[int64]int32
	reservations map[int64]domain.StockReservation
}

// NewStockRepository создаёт склад с начальными остатками productID -> units.
func NewStockRepository(initial map[int64]int32) *StockRepository {
	available := make(map[int64]int32, len(initial))
	for id, units := range initial {
		available[id] = units
	}
	return &StockRepository{
		available:    available,
		reservations: make(map[int64]domain.StockReservation),
	}
}

// Reserve списывает остатки по всем позициям либо не трогает ни одну.
// Повторный вызов для того же заказа возвращает прежний результат без повторного списания.
func (r *StockRepository) Reserve(_ context.Context, orderID int64, items []domain.OrderStockItem) ([]domain.ConfirmedOrderStockItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if res, ok := r.reservations[orderID]; ok && res.Status == domain.ReservationStatusReserved {
		out := make([]domain.ConfirmedOrderStockItem, 0, len(res.Items))
		for _, item := range res.Items {
			out = append(out, domain.ConfirmedOrderStockItem{ProductID: item.ProductID, HasStock: true})
		}
		return out, nil
	}

	need := make(map[int64]int32, len(items))
	for _, item := range items {
		need[item.ProductID] += item.Units
	}

	out := make([]domain.ConfirmedOrderStockItem, 0, len(items))
	ok := true
	for _, item := range items {
		has := r.available[item.ProductID] >= need[item.ProductID]
		if !has {
			ok = false
		}
		out = append(out, domain.ConfirmedOrderStockItem{ProductID: item.ProductID, HasStock: has})
	}
	if !ok {
		return out, nil
	}

	for id, units := range need {
		r.available[id] -= units
	}
	r.reservations[orderID] = domain.StockReservation{
		OrderID:   orderID,
		Items:     append([]domain.OrderStockItem(nil), items...),
		Status:    domain.ReservationStatusReserved,
		CreatedAt: time.Now().UTC(),
	}
	return out, nil
}

// Release возвращает остатки по резерву заказа.
func (r *StockRepository) Release(_ context.Context, orderID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.reservations[orderID]
	if !ok || res.Status != domain.ReservationStatusReserved {
		return nil
	}
	for _, item := range res.Items {
		r.available[item.ProductID] += item.Units
	}
	res.Status = domain.ReservationStatusReleased
	r.reservations[orderID] = res
	return nil
}

func (r *StockRepository) Available(_ context.Context, productID int64) (int32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.available[productID], nil
}

var _ domain.StockRepository = (*StockRepository)(nil)
