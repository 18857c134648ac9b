package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/ordersaga/internal/health"
	"github.com/vladislavdragonenkov/ordersaga/internal/metrics"
	grpcsvc "github.com/vladislavdragonenkov/ordersaga/internal/service/grpc"
	"github.com/vladislavdragonenkov/ordersaga/internal/version"
)

// application — собранный сервис до запуска серверов.
type application struct {
	cfg     Config
	logger  *log.Entry
	storage *Storage
	bus     *busHandle
	saga    *sagaComponents
	health  *healthcheck.Handler

	grpcServer  *grpc.Server
	grpcHealth  *health.Server
	grpcMetrics *promgrpc.ServerMetrics
	httpHandler http.Handler
}

// newApplication открывает хранилища и шину, подписывает обработчики и готовит серверы.
func newApplication(ctx context.Context, cfg Config) (*application, error) {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	st, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	bus, err := openBus(cfg, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	components := createOrchestrator(cfg, st, bus, metrics.NewSagaMetrics(), logger)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	for name, checker := range st.checks {
		healthHandler.RegisterChecker(name, checker)
	}
	healthHandler.RegisterChecker("event-publisher", publisherChecker(components.Breaker))

	a := &application{
		cfg:         cfg,
		logger:      logger,
		storage:     st,
		bus:         bus,
		saga:        components,
		health:      healthHandler,
		grpcMetrics: registerGRPCMetrics(logger),
		grpcHealth:  health.NewServer(),
	}

	a.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(a.grpcMetrics.UnaryServerInterceptor()))
	grpcsvc.Register(a.grpcServer, grpcsvc.NewServer(components.Ordering, logger.WithField("layer", "grpc")))
	a.grpcMetrics.InitializeMetrics(a.grpcServer)
	healthpb.RegisterHealthServer(a.grpcServer, a.grpcHealth)
	// reflection нужен grpcurl: сообщения передаются как google.protobuf.Struct.
	reflection.Register(a.grpcServer)

	a.httpHandler = newOpsRouter(prometheus.DefaultGatherer, healthHandler, components.Ordering, logger.WithField("layer", "http"))
	return a, nil
}

// registerGRPCMetrics регистрирует метрики gRPC; при повторном запуске в том же процессе берёт уже зарегистрированные.
func registerGRPCMetrics(logger *log.Entry) *promgrpc.ServerMetrics {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				return existing
			}
		}
		logger.WithError(err).Warn("failed to register grpc metrics")
	}
	return grpcMetrics
}

// Run собирает сервис и работает до отмены ctx или падения одного из компонентов.
func Run(ctx context.Context, cfg Config) error {
	a, err := newApplication(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()
	return a.run(ctx)
}

func (a *application) run(ctx context.Context) error {
	lis, err := net.Listen("tcp", a.cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc %s: %w", a.cfg.GRPCAddr, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if err := a.bus.start(gctx); err != nil {
		_ = lis.Close()
		return fmt.Errorf("start event bus: %w", err)
	}

	g.Go(func() error {
		return a.serveGRPC(gctx, lis)
	})
	g.Go(func() error {
		srv := &http.Server{Addr: a.cfg.HTTPAddr, Handler: a.httpHandler, ReadHeaderTimeout: 5 * time.Second}
		return serveHTTP(gctx, srv, a.cfg.ShutdownTimeout, a.logger)
	})
	g.Go(func() error {
		a.saga.Watchdog.Run(gctx)
		return nil
	})
	g.Go(func() error {
		a.saga.Sweeper.Run(gctx)
		return nil
	})

	a.grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	a.grpcHealth.SetServingStatus(grpcsvc.ServiceName, healthpb.HealthCheckResponse_SERVING)

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// serveGRPC обслуживает команды до отмены ctx; GracefulStop ограничен ShutdownTimeout.
func (a *application) serveGRPC(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Infof("gRPC сервер слушает %s", lis.Addr())
		errCh <- a.grpcServer.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info("получен сигнал остановки, останавливаем gRPC сервер")
	a.grpcHealth.Shutdown()
	stopped := make(chan struct{})
	go func() {
		a.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(a.cfg.ShutdownTimeout):
		a.logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		a.grpcServer.Stop()
	}
	return nil
}

// close останавливает шину, дожидаясь доставок, затем закрывает хранилища.
func (a *application) close() {
	a.bus.close(a.logger)
	if err := a.storage.Close(); err != nil {
		a.logger.WithError(err).Warn("failed to close storage")
	}
}
