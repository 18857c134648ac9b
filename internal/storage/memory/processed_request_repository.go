package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// ProcessedRequestRepository хранит записи идемпотентности в памяти.
type ProcessedRequestRepository struct {
	mu    sync.Mutex
	items map[string]domain.ProcessedRequest
}

// NewProcessedRequestRepository создаёт in-memory реализацию ProcessedRequestRepository.
func NewProcessedRequestRepository() *ProcessedRequestRepository {
	return &ProcessedRequestRepository{
		items: make(map[string]domain.ProcessedRequest),
	}
}

// Insert вставляет запись, если идентификатора ещё нет. Проверка и вставка под одним локом.
func (r *ProcessedRequestRepository) Insert(ctx context.Context, rec domain.ProcessedRequest) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	rec.ID = strings.TrimSpace(rec.ID)
	if rec.ID == "" {
		return false, domain.ErrRequestIDRequired
	}
	if rec.Status == "" {
		rec.Status = domain.ProcessedRequestProcessing
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[rec.ID]; ok {
		return false, nil
	}
	r.items[rec.ID] = rec
	return true, nil
}

func (r *ProcessedRequestRepository) MarkDone(ctx context.Context, id string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.items[id]
	if !ok {
		return nil
	}
	rec.Status = domain.ProcessedRequestDone
	rec.ProcessedAt = at
	r.items[id] = rec
	return nil
}

func (r *ProcessedRequestRepository) Reclaim(ctx context.Context, id string, staleBefore, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.items[id]
	if !ok || rec.Status != domain.ProcessedRequestProcessing || rec.ProcessedAt.After(staleBefore) {
		return false, nil
	}
	rec.ProcessedAt = now
	r.items[id] = rec
	return true, nil
}

func (r *ProcessedRequestRepository) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.items, id)
	return nil
}

func (r *ProcessedRequestRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if before.IsZero() {
		before = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, rec := range r.items {
		if rec.ExpiresAt.IsZero() || rec.ExpiresAt.After(before) {
			continue
		}

		delete(r.items, id)
		removed++
		if limit > 0 && removed >= limit {
			break
		}
	}

	return removed, nil
}

// Get возвращает запись для тестов и диагностики.
func (r *ProcessedRequestRepository) Get(id string) (domain.ProcessedRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.items[id]
	return rec, ok
}

var _ domain.ProcessedRequestRepository = (*ProcessedRequestRepository)(nil)
