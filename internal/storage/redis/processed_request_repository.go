package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

type processedValue struct {
	CommandType string    `json:"command_type"`
	Status      string    `json:"status"`
	ProcessedAt time.Time `json:"processed_at"`
}

// ProcessedRequestRepository хранит записи идемпотентности в Redis (SET NX с TTL).
// Просроченные записи удаляет сам Redis, поэтому DeleteExpired ничего не делает.
type ProcessedRequestRepository struct {
	rdb goredis.UniversalClient
}

func NewProcessedRequestRepository(rdb goredis.UniversalClient) *ProcessedRequestRepository {
	return &ProcessedRequestRepository{rdb: rdb}
}

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

	ttl := DefaultProcessedTTL
	if !rec.ExpiresAt.IsZero() {
		ttl = time.Until(rec.ExpiresAt)
		if ttl <= 0 {
			ttl = time.Second
		}
	}

	payload, err := json.Marshal(processedValue{
		CommandType: rec.CommandType,
		Status:      string(rec.Status),
		ProcessedAt: rec.ProcessedAt,
	})
	if err != nil {
		return false, fmt.Errorf("marshal processed request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	ok, err := r.rdb.SetNX(ctx, fmt.Sprintf(keyProcessed, rec.ID), payload, ttl).Result()
	if err != nil {
		return false, unavailable("setnx processed request", err)
	}
	return ok, nil
}

func (r *ProcessedRequestRepository) MarkDone(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	key := fmt.Sprintf(keyProcessed, id)
	raw, err := r.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil
	}
	if err != nil {
		return unavailable("get processed request", err)
	}

	var value processedValue
	if err := json.Unmarshal(raw, &value); err != nil {
		return fmt.Errorf("decode processed request %s: %w", id, err)
	}
	value.Status = string(domain.ProcessedRequestDone)
	value.ProcessedAt = at

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal processed request: %w", err)
	}
	if err := r.rdb.SetArgs(ctx, key, payload, goredis.SetArgs{Mode: "XX", KeepTTL: true}).Err(); err != nil && err != goredis.Nil {
		return unavailable("mark processed request done", err)
	}
	return nil
}

// Reclaim читает и переписывает запись под WATCH: если ключ изменился между чтением и записью,
// транзакция не проходит и перехват достаётся другому.
func (r *ProcessedRequestRepository) Reclaim(ctx context.Context, id string, staleBefore, now time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	key := fmt.Sprintf(keyProcessed, id)
	reclaimed := false
	err := r.rdb.Watch(ctx, func(tx *goredis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}

		var value processedValue
		if err := json.Unmarshal(raw, &value); err != nil {
			return fmt.Errorf("decode processed request %s: %w", id, err)
		}
		if value.Status != string(domain.ProcessedRequestProcessing) || value.ProcessedAt.After(staleBefore) {
			return nil
		}

		value.ProcessedAt = now
		payload, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal processed request: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.SetArgs(ctx, key, payload, goredis.SetArgs{Mode: "XX", KeepTTL: true})
			return nil
		})
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		reclaimed = true
		return nil
	}, key)
	if errors.Is(err, goredis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, unavailable("reclaim processed request", err)
	}
	return reclaimed, nil
}

func (r *ProcessedRequestRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := r.rdb.Del(ctx, fmt.Sprintf(keyProcessed, id)).Err(); err != nil {
		return unavailable("delete processed request", err)
	}
	return nil
}

func (r *ProcessedRequestRepository) DeleteExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

// Status возвращает статус записи, ok=false если записи нет.
func (r *ProcessedRequestRepository) Status(ctx context.Context, id string) (domain.ProcessedRequestStatus, bool, error) {
	raw, err := r.rdb.Get(ctx, fmt.Sprintf(keyProcessed, id)).Bytes()
	if err == goredis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("get processed request", err)
	}
	var value processedValue
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", false, fmt.Errorf("decode processed request %s: %w", id, err)
	}
	return domain.ProcessedRequestStatus(value.Status), true, nil
}

var _ domain.ProcessedRequestRepository = (*ProcessedRequestRepository)(nil)
