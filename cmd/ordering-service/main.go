package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/app"
	"github.com/vladislavdragonenkov/ordersaga/internal/logging"
	"github.com/vladislavdragonenkov/ordersaga/internal/tracing"
	"github.com/vladislavdragonenkov/ordersaga/internal/version"
)

const serviceName = "ordering-service"

// setupObservability настраивает логгер и трассировку по конфигурации.
func setupObservability(ctx context.Context, cfg app.Config) (tracing.ShutdownFunc, error) {
	if err := logging.Setup(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		return nil, err
	}
	shutdown, err := tracing.Init(ctx, serviceName, version.GetVersion(), cfg.OTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	return shutdown, nil
}

func main() {
	// .env нужен только для локального запуска.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("не удалось прочитать .env")
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("некорректная конфигурация")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := setupObservability(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("не удалось настроить наблюдаемость")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.WithError(err).Warn("tracer provider shutdown failed")
		}
	}()

	log.WithFields(log.Fields{
		"version":        version.GetVersion(),
		"grpc_addr":      cfg.GRPCAddr,
		"http_addr":      cfg.HTTPAddr,
		"storage_driver": cfg.StorageDriver,
		"bus_driver":     cfg.BusDriver,
	}).Info("запускаем ordering-service")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("приложение завершилось с ошибкой")
		stop()
		os.Exit(1)
	}

	log.Info("ordering-service остановлен")
}
