package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// GraceScheduleRepository хранит очередь grace period в таблице grace_period_schedule.
type GraceScheduleRepository struct {
	db *sql.DB
}

func NewGraceScheduleRepository(store *Store) *GraceScheduleRepository {
	return &GraceScheduleRepository{db: store.DB()}
}

func (r *GraceScheduleRepository) Schedule(ctx context.Context, orderID int64, dueAt time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO grace_period_schedule (order_id, due_at)
		VALUES ($1,$2)
		ON CONFLICT (order_id) DO NOTHING
	`, orderID, dueAt); err != nil {
		return unavailable("schedule grace period", err)
	}
	return nil
}

func (r *GraceScheduleRepository) Due(ctx context.Context, now time.Time, limit int) ([]domain.GraceEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id, due_at
		FROM grace_period_schedule
		WHERE due_at <= $1
		ORDER BY due_at ASC, order_id ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, unavailable("select due grace periods", err)
	}
	defer rows.Close()

	out := make([]domain.GraceEntry, 0)
	for rows.Next() {
		var entry domain.GraceEntry
		if err := rows.Scan(&entry.OrderID, &entry.DueAt); err != nil {
			return nil, unavailable("scan grace period", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate grace periods", err)
	}
	return out, nil
}

func (r *GraceScheduleRepository) Remove(ctx context.Context, orderID int64) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM grace_period_schedule WHERE order_id = $1`, orderID); err != nil {
		return unavailable("remove grace period", err)
	}
	return nil
}

var _ domain.GraceScheduleRepository = (*GraceScheduleRepository)(nil)
