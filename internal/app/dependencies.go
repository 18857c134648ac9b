package app

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/ordersaga/internal/health"
	"github.com/vladislavdragonenkov/ordersaga/internal/storage/memory"
	"github.com/vladislavdragonenkov/ordersaga/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/ordersaga/internal/storage/redis"
)

// Storage содержит репозитории, выбранные конфигурацией.
type Storage struct {
	Orders    domain.OrderRepository
	Timeline  domain.TimelineRepository
	Processed domain.ProcessedRequestRepository
	Grace     domain.GraceScheduleRepository
	Stock     domain.StockRepository

	checks  map[string]healthcheck.Checker
	closers []func() error
}

// openStorage создаёт репозитории: заказы и журнал в памяти или PostgreSQL,
// идемпотентность и расписание grace period в Redis, если задан ORDERING_REDIS_ADDR.
// Склад симулированных участников всегда в памяти.
func openStorage(ctx context.Context, cfg Config, logger *log.Entry) (*Storage, error) {
	stock, err := cfg.StockLevels()
	if err != nil {
		return nil, err
	}
	st := &Storage{
		Stock:  memory.NewStockRepository(stock),
		checks: make(map[string]healthcheck.Checker),
	}

	switch cfg.StorageDriver {
	case StorageDriverPostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		st.closers = append(st.closers, store.Close)
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = st.Close()
				return nil, fmt.Errorf("migrate postgres: %w", err)
			}
			logger.Info("postgres schema is up to date")
		}
		st.Orders = postgres.NewOrderRepository(store)
		st.Timeline = postgres.NewTimelineRepository(store)
		st.Processed = postgres.NewProcessedRequestRepository(store)
		st.Grace = postgres.NewGraceScheduleRepository(store)
		st.checks["postgres"] = healthcheck.NewPingChecker("postgres", store.Ping)
	default:
		st.Orders = memory.NewOrderRepository()
		st.Timeline = memory.NewTimelineRepository()
		st.Processed = memory.NewProcessedRequestRepository()
		st.Grace = memory.NewGraceScheduleRepository()
	}

	if cfg.RedisAddr != "" {
		client, err := redisstore.Open(ctx, cfg.RedisAddr)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("open redis: %w", err)
		}
		st.closers = append(st.closers, client.Close)
		st.Processed = redisstore.NewProcessedRequestRepository(client)
		st.Grace = redisstore.NewGraceScheduleRepository(client)
		st.checks["redis"] = healthcheck.NewPingChecker("redis", redisPing(client))
	}

	logger.WithFields(log.Fields{
		"storage": cfg.StorageDriver,
		"redis":   cfg.RedisAddr != "",
	}).Info("storage initialized")
	return st, nil
}

func redisPing(client *goredis.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

// Close закрывает подключения в обратном порядке.
func (s *Storage) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}
