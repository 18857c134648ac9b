package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// TimelineRepository хранит историю статусов в памяти (для разработки/тестов).
type TimelineRepository struct {
	mu     sync.RWMutex
	events map[int64][]domain.TimelineEvent
}

// NewTimelineRepository создаёт in-memory реализацию TimelineRepository.
func NewTimelineRepository() *TimelineRepository {
	return &TimelineRepository{events: make(map[int64][]domain.TimelineEvent)}
}

// Append добавляет событие в хранилище.
func (r *TimelineRepository) Append(_ context.Context, event domain.TimelineEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := append(r.events[event.OrderID], event)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Occurred.Before(list[j].Occurred)
	})
	r.events[event.OrderID] = list

	return nil
}

// List возвращает события заказа в хронологическом порядке.
func (r *TimelineRepository) List(_ context.Context, orderID int64) ([]domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := r.events[orderID]
	result := make([]domain.TimelineEvent, len(events))
	copy(result, events)
	return result, nil
}

var _ domain.TimelineRepository = (*TimelineRepository)(nil)
