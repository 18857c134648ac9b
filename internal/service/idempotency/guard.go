package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

const (
	// DefaultTTL — сколько хранится запись об обработанном запросе.
	// Должно превышать окно повторной доставки брокера.
	DefaultTTL = 7 * 24 * time.Hour
	// DefaultLease — сколько запись может оставаться в processing. Дольше обработка не идёт,
	// значит процесс упал между TryBegin и Complete, и запись можно перехватить.
	DefaultLease = 5 * time.Minute
)

var guardChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ordering_idempotency_checks_total",
	Help: "Total number of idempotency checks grouped by command type and result.",
}, []string{"command", "result"})

// Guard гарантирует, что команда с данным request id применяется не более одного раза.
type Guard struct {
	repo   domain.ProcessedRequestRepository
	ttl    time.Duration
	lease  time.Duration
	now    func() time.Time
	logger *log.Entry
}

// GuardOption настраивает Guard.
type GuardOption func(*Guard)

// WithTTL задает срок хранения записей.
func WithTTL(ttl time.Duration) GuardOption {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithLease задает срок, после которого зависшую запись processing можно перехватить.
// Неположительное значение отключает перехват.
func WithLease(lease time.Duration) GuardOption {
	return func(g *Guard) {
		g.lease = lease
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// WithGuardLogger задает logger.
func WithGuardLogger(logger *log.Entry) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGuard создает Guard поверх репозитория обработанных запросов.
func NewGuard(repo domain.ProcessedRequestRepository, opts ...GuardOption) *Guard {
	g := &Guard{
		repo:   repo,
		ttl:    DefaultTTL,
		lease:  DefaultLease,
		now:    func() time.Time { return time.Now().UTC() },
		logger: log.WithField("component", "idempotency-guard"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// TryBegin атомарно записывает request id. true — запрос новый, false — уже встречался.
// Если хранилище недоступно, возвращается ErrPersistenceUnavailable, а не "новый запрос".
// Запись, зависшая в processing дольше lease, перехватывается и считается новой.
func (g *Guard) TryBegin(ctx context.Context, requestID, commandType string) (bool, error) {
	now := g.now()
	inserted, err := g.repo.Insert(ctx, domain.ProcessedRequest{
		ID:          requestID,
		CommandType: commandType,
		Status:      domain.ProcessedRequestProcessing,
		ProcessedAt: now,
		ExpiresAt:   now.Add(g.ttl),
	})
	if err != nil {
		guardChecksTotal.WithLabelValues(commandType, "error").Inc()
		if errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrPersistenceUnavailable) {
			return false, err
		}
		return false, fmt.Errorf("%w: %w", domain.ErrPersistenceUnavailable, err)
	}

	if !inserted {
		return g.reclaim(ctx, requestID, commandType, now)
	}
	guardChecksTotal.WithLabelValues(commandType, "new").Inc()
	return true, nil
}

// reclaim перехватывает запись, застрявшую в processing дольше lease.
// Завершённые записи не перехватываются никогда.
func (g *Guard) reclaim(ctx context.Context, requestID, commandType string, now time.Time) (bool, error) {
	if g.lease <= 0 {
		guardChecksTotal.WithLabelValues(commandType, "duplicate").Inc()
		return false, nil
	}

	reclaimed, err := g.repo.Reclaim(ctx, requestID, now.Add(-g.lease), now)
	if err != nil {
		guardChecksTotal.WithLabelValues(commandType, "error").Inc()
		if errors.Is(err, domain.ErrPersistenceUnavailable) {
			return false, err
		}
		return false, fmt.Errorf("%w: %w", domain.ErrPersistenceUnavailable, err)
	}
	if !reclaimed {
		guardChecksTotal.WithLabelValues(commandType, "duplicate").Inc()
		return false, nil
	}

	guardChecksTotal.WithLabelValues(commandType, "reclaimed").Inc()
	g.logger.WithFields(log.Fields{
		"request_id": requestID,
		"command":    commandType,
		"lease":      g.lease,
	}).Warn("processing record outlived its lease, reclaimed")
	return true, nil
}

// Complete помечает запрос обработанным.
func (g *Guard) Complete(ctx context.Context, requestID string) error {
	return g.repo.MarkDone(ctx, requestID, g.now())
}

// Release снимает запись после временной ошибки, чтобы повторная доставка выполнила обработку.
func (g *Guard) Release(ctx context.Context, requestID string) error {
	return g.repo.Delete(ctx, requestID)
}

// Run выполняет fn не более одного раза на requestID.
// Повтор возвращает ErrDuplicateRequest; временная ошибка fn снимает запись.
func (g *Guard) Run(ctx context.Context, requestID, commandType string, fn func(context.Context) error) error {
	begun, err := g.TryBegin(ctx, requestID, commandType)
	if err != nil {
		return err
	}
	if !begun {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateRequest, requestID)
	}

	if err := fn(ctx); err != nil {
		if domain.IsTransient(err) || errors.Is(err, context.Canceled) {
			// Отмена ctx не должна помешать снять запись.
			if relErr := g.Release(context.WithoutCancel(ctx), requestID); relErr != nil {
				g.logger.WithError(relErr).WithField("request_id", requestID).
					Error("failed to release processed request; redelivery will be dropped")
			}
			return err
		}
		g.complete(ctx, requestID)
		return err
	}

	g.complete(ctx, requestID)
	return nil
}

func (g *Guard) complete(ctx context.Context, requestID string) {
	// Запись в статусе processing тоже блокирует повторы, поэтому ошибка здесь не фатальна.
	if err := g.Complete(context.WithoutCancel(ctx), requestID); err != nil {
		g.logger.WithError(err).WithField("request_id", requestID).Warn("failed to mark request done")
	}
}
