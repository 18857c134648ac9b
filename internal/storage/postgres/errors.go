package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

const (
	opTimeout = 5 * time.Second

	pgUniqueViolation = "23505"
)

// unavailable помечает инфраструктурную ошибку как ErrPersistenceUnavailable.
// Отмена контекста вызывающей стороной пробрасывается как есть.
func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrPersistenceUnavailable, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}
