package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// GraceScheduleRepository — очередь отложенных проверок grace period в памяти.
type GraceScheduleRepository struct {
	mu      sync.Mutex
	entries map[int64]time.Time
}

func NewGraceScheduleRepository() *GraceScheduleRepository {
	return &GraceScheduleRepository{entries: make(map[int64]time.Time)}
}

// Schedule не сдвигает уже назначенный срок: повторная доставка OrderStarted ничего не меняет.
func (r *GraceScheduleRepository) Schedule(_ context.Context, orderID int64, dueAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[orderID]; !ok {
		r.entries[orderID] = dueAt
	}
	return nil
}

func (r *GraceScheduleRepository) Due(_ context.Context, now time.Time, limit int) ([]domain.GraceEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.GraceEntry, 0)
	for id, due := range r.entries {
		if due.After(now) {
			continue
		}
		out = append(out, domain.GraceEntry{OrderID: id, DueAt: due})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueAt.Equal(out[j].DueAt) {
			return out[i].DueAt.Before(out[j].DueAt)
		}
		return out[i].OrderID < out[j].OrderID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *GraceScheduleRepository) Remove(_ context.Context, orderID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, orderID)
	return nil
}

// Len возвращает количество ожидающих записей.
func (r *GraceScheduleRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

var _ domain.GraceScheduleRepository = (*GraceScheduleRepository)(nil)
