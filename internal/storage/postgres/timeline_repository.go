package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// TimelineRepository хранит историю статусов в order_status_history.
type TimelineRepository struct {
	db *sql.DB
}

// NewTimelineRepository создаёт PostgreSQL-реализацию TimelineRepository.
func NewTimelineRepository(store *Store) *TimelineRepository {
	return &TimelineRepository{db: store.DB()}
}

func (r *TimelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO order_status_history (order_id, type, from_status, to_status, reason, occurred)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, event.OrderID, event.Type, string(event.From), string(event.To), event.Reason, event.Occurred); err != nil {
		return unavailable("append status history", err)
	}

	return nil
}

func (r *TimelineRepository) List(ctx context.Context, orderID int64) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id, type, from_status, to_status, reason, occurred
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY occurred ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, unavailable("list status history", err)
	}
	defer rows.Close()

	events := make([]domain.TimelineEvent, 0)
	for rows.Next() {
		var (
			event    domain.TimelineEvent
			from, to string
		)
		if err := rows.Scan(&event.OrderID, &event.Type, &from, &to, &event.Reason, &event.Occurred); err != nil {
			return nil, unavailable("scan status history", err)
		}
		event.From = domain.OrderStatus(from)
		event.To = domain.OrderStatus(to)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate status history", err)
	}

	return events, nil
}

var _ domain.TimelineRepository = (*TimelineRepository)(nil)
