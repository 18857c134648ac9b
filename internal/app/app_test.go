package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

func TestRun_MemoryGracefulShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	if err := Run(ctx, testConfig()); err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}
}

func TestRun_InvalidStorageDriver(t *testing.T) {
	cfg := testConfig()
	cfg.StorageDriver = "invalid-driver"

	err := Run(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "unknown storage driver") {
		t.Fatalf("expected unknown storage driver error, got %v", err)
	}
}

func TestRun_ListenError(t *testing.T) {
	cfg := testConfig()
	cfg.GRPCAddr = "256.0.0.1:bad"

	err := Run(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "listen grpc") {
		t.Fatalf("expected listen error, got %v", err)
	}
}

func drive(t *testing.T, a *application, orderID int64) domain.Order {
	t.Helper()
	ctx := context.Background()

	a.bus.memory.Wait()
	time.Sleep(5 * time.Millisecond)
	emitted, err := a.saga.Watchdog.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, emitted)
	a.bus.memory.Wait()

	order, err := a.saga.Ordering.GetOrder(ctx, orderID)
	require.NoError(t, err)
	return order
}

func TestApplication_SagaCompletesOverMemoryBus(t *testing.T) {
	a := newTestApplication(t, nil)
	ctx := context.Background()

	order, err := a.saga.Ordering.CreateOrderDraft(ctx, "req-1", newTestOrderCommand(1, 2))
	require.NoError(t, err)

	final := drive(t, a, order.ID)
	require.Equal(t, domain.OrderStatusCompleted, final.Status)
	require.NotEmpty(t, final.PaymentRef)

	history, err := a.saga.Ordering.History(ctx, order.ID)
	require.NoError(t, err)
	statuses := make([]domain.OrderStatus, 0, len(history))
	for _, ev := range history {
		statuses = append(statuses, ev.To)
	}
	require.Equal(t, []domain.OrderStatus{
		domain.OrderStatusSubmitted,
		domain.OrderStatusAwaitingValidation,
		domain.OrderStatusStockConfirmed,
		domain.OrderStatusPaid,
		domain.OrderStatusShipped,
		domain.OrderStatusCompleted,
	}, statuses)

	left, err := a.storage.Stock.Available(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int32(98), left)
	require.Empty(t, a.bus.memory.DeadLetters())
}

func TestApplication_StockRejectionCancels(t *testing.T) {
	a := newTestApplication(t, nil)
	ctx := context.Background()

	order, err := a.saga.Ordering.CreateOrderDraft(ctx, "req-1", newTestOrderCommand(1, 1000))
	require.NoError(t, err)

	final := drive(t, a, order.ID)
	require.Equal(t, domain.OrderStatusCancelled, final.Status)
	require.Contains(t, final.Description, "insufficient stock")

	left, err := a.storage.Stock.Available(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int32(100), left)
}

func TestApplication_PaymentDeclineReleasesStock(t *testing.T) {
	a := newTestApplication(t, func(cfg *Config) { cfg.PaymentDeclineAbove = 100 })
	ctx := context.Background()

	order, err := a.saga.Ordering.CreateOrderDraft(ctx, "req-1", newTestOrderCommand(2, 3))
	require.NoError(t, err)

	final := drive(t, a, order.ID)
	require.Equal(t, domain.OrderStatusCancelled, final.Status)
	require.Contains(t, final.Description, "payment failed")

	left, err := a.storage.Stock.Available(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, int32(100), left)
}

func TestApplication_BuyerCancelsDuringGracePeriod(t *testing.T) {
	a := newTestApplication(t, func(cfg *Config) { cfg.GracePeriod = time.Hour })
	ctx := context.Background()

	order, err := a.saga.Ordering.CreateOrderDraft(ctx, "req-1", newTestOrderCommand(1, 1))
	require.NoError(t, err)
	a.bus.memory.Wait()

	cancelled, err := a.saga.Ordering.CancelOrder(ctx, "req-2", order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	a.bus.memory.Wait()

	emitted, err := a.saga.Watchdog.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, emitted)
}
