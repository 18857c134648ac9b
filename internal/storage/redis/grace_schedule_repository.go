package redis

import (
	"context"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// GraceScheduleRepository держит очередь grace period в sorted set, в score лежит срок в unix-миллисекундах.
type GraceScheduleRepository struct {
	rdb goredis.UniversalClient
	key string
}

func NewGraceScheduleRepository(rdb goredis.UniversalClient) *GraceScheduleRepository {
	return &GraceScheduleRepository{rdb: rdb, key: keyGrace}
}

func (r *GraceScheduleRepository) Schedule(ctx context.Context, orderID int64, dueAt time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	err := r.rdb.ZAddNX(ctx, r.key, goredis.Z{
		Score:  float64(dueAt.UnixMilli()),
		Member: strconv.FormatInt(orderID, 10),
	}).Err()
	if err != nil {
		return unavailable("zadd grace period", err)
	}
	return nil
}

func (r *GraceScheduleRepository) Due(ctx context.Context, now time.Time, limit int) ([]domain.GraceEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	items, err := r.rdb.ZRangeByScoreWithScores(ctx, r.key, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, unavailable("zrangebyscore grace period", err)
	}

	out := make([]domain.GraceEntry, 0, len(items))
	for _, item := range items {
		member, ok := item.Member.(string)
		if !ok {
			continue
		}
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, domain.GraceEntry{OrderID: id, DueAt: time.UnixMilli(int64(item.Score)).UTC()})
	}
	return out, nil
}

func (r *GraceScheduleRepository) Remove(ctx context.Context, orderID int64) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := r.rdb.ZRem(ctx, r.key, strconv.FormatInt(orderID, 10)).Err(); err != nil {
		return unavailable("zrem grace period", err)
	}
	return nil
}

var _ domain.GraceScheduleRepository = (*GraceScheduleRepository)(nil)
