package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

const (
	opTimeout = 2 * time.Second

	// keyProcessed — запись идемпотентности: ordering:processed:{request_id}.
	keyProcessed = "ordering:processed:%s"
	// keyGrace — sorted set с order_id и сроком окончания grace period в score.
	keyGrace = "ordering:grace"
)

// DefaultProcessedTTL применяется, если у записи не задан ExpiresAt.
var DefaultProcessedTTL = 7 * 24 * time.Hour

// Open создаёт клиента и проверяет доступность Redis.
func Open(ctx context.Context, addr string) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		DialTimeout:  opTimeout,
		ReadTimeout:  opTimeout,
		WriteTimeout: opTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrPersistenceUnavailable, err)
}
