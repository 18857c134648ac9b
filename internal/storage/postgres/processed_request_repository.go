package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// ProcessedRequestRepository — PostgreSQL-реализация хранилища идемпотентности.
type ProcessedRequestRepository struct {
	db *sql.DB
}

func NewProcessedRequestRepository(store *Store) *ProcessedRequestRepository {
	return &ProcessedRequestRepository{db: store.DB()}
}

// Insert опирается на PRIMARY KEY: ON CONFLICT DO NOTHING делает проверку и вставку одной операцией.
func (r *ProcessedRequestRepository) Insert(ctx context.Context, rec domain.ProcessedRequest) (bool, error) {
	rec.ID = strings.TrimSpace(rec.ID)
	if rec.ID == "" {
		return false, domain.ErrRequestIDRequired
	}
	if rec.Status == "" {
		rec.Status = domain.ProcessedRequestProcessing
	}
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var expiresAt sql.NullTime
	if !rec.ExpiresAt.IsZero() {
		expiresAt = sql.NullTime{Time: rec.ExpiresAt, Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO processed_requests (id, command_type, status, processed_at, expires_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO NOTHING
	`, rec.ID, rec.CommandType, string(rec.Status), rec.ProcessedAt, expiresAt)
	if err != nil {
		return false, unavailable("insert processed request", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("processed request rows affected", err)
	}
	return affected == 1, nil
}

func (r *ProcessedRequestRepository) MarkDone(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		UPDATE processed_requests
		SET status = $1, processed_at = $2
		WHERE id = $3
	`, string(domain.ProcessedRequestDone), at, id); err != nil {
		return unavailable("mark processed request done", err)
	}
	return nil
}

// Reclaim — условный UPDATE: перехватить запись может только один из конкурентов.
func (r *ProcessedRequestRepository) Reclaim(ctx context.Context, id string, staleBefore, now time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE processed_requests
		SET processed_at = $1
		WHERE id = $2
		  AND status = $3
		  AND processed_at <= $4
	`, now, id, string(domain.ProcessedRequestProcessing), staleBefore)
	if err != nil {
		return false, unavailable("reclaim processed request", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("processed request rows affected", err)
	}
	return affected == 1, nil
}

func (r *ProcessedRequestRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM processed_requests WHERE id = $1`, id); err != nil {
		return unavailable("delete processed request", err)
	}
	return nil
}

func (r *ProcessedRequestRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		res sql.Result
		err error
	)
	if limit > 0 {
		res, err = r.db.ExecContext(ctx, `
			DELETE FROM processed_requests
			WHERE id IN (
				SELECT id
				FROM processed_requests
				WHERE expires_at IS NOT NULL AND expires_at <= $1
				ORDER BY expires_at ASC
				LIMIT $2
			)
		`, before, limit)
	} else {
		res, err = r.db.ExecContext(ctx, `
			DELETE FROM processed_requests
			WHERE expires_at IS NOT NULL AND expires_at <= $1
		`, before)
	}
	if err != nil {
		return 0, unavailable("delete expired processed requests", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("processed requests rows affected: %w", err)
	}
	return int(affected), nil
}

var _ domain.ProcessedRequestRepository = (*ProcessedRequestRepository)(nil)
