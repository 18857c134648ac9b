package eventbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/resilience"
)

var errBrokerDown = errors.New("broker down")

// flakyTransport отказывает первые failures раз, затем передает сообщение дальше.
type flakyTransport struct {
	mu       sync.Mutex
	failures int
	calls    int
	next     Publisher
}

func (f *flakyTransport) Publish(ctx context.Context, ev IntegrationEvent) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return errBrokerDown
	}
	if f.next == nil {
		return nil
	}
	return f.next.Publish(ctx, ev)
}

func fastRetry(attempts int) resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffFactor: 2}
}

func TestRetryingPublisherTwoFailuresThenSuccessDeliversOnce(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	var delivered atomic.Int32
	bus.Subscribe(OrderStockConfirmed, func(context.Context, IntegrationEvent) error {
		delivered.Add(1)
		return nil
	})

	transport := &flakyTransport{failures: 2, next: bus}
	pub := NewRetryingPublisher(transport, fastRetry(5))

	ev, err := NewEvent(OrderStockConfirmed, 1, OrderStockConfirmedPayload{OrderID: 1})
	require.NoError(t, err)
	require.NoError(t, pub.Publish(context.Background(), ev))

	bus.Wait()
	require.Equal(t, 3, transport.calls)
	require.Equal(t, int32(1), delivered.Load())
}

func TestRetryingPublisherExhaustedReturnsPublishFailure(t *testing.T) {
	transport := &flakyTransport{failures: 100}
	pub := NewRetryingPublisher(transport, fastRetry(3))

	ev, err := NewEvent(OrderShipped, 9, OrderShippedPayload{OrderID: 9})
	require.NoError(t, err)

	err = pub.Publish(context.Background(), ev)
	require.ErrorIs(t, err, domain.ErrPublishFailure)
	require.ErrorIs(t, err, errBrokerDown)
	require.True(t, domain.IsTransient(err))
	require.Equal(t, 3, transport.calls)
}

func TestRetryingPublisherOpenBreakerSkipsTransport(t *testing.T) {
	transport := &flakyTransport{failures: 100}
	cb := resilience.NewBreaker(resilience.BreakerSettings{Name: "test", MinRequests: 1, FailureRatio: 0.1, Timeout: time.Hour}, nil)
	pub := NewRetryingPublisher(transport, fastRetry(4), WithBreaker(cb))

	ev, err := NewEvent(OrderShipped, 9, OrderShippedPayload{OrderID: 9})
	require.NoError(t, err)

	err = pub.Publish(context.Background(), ev)
	require.ErrorIs(t, err, domain.ErrPublishFailure)
	// Первая попытка открыла breaker, остальные до транспорта не дошли.
	require.Equal(t, 1, transport.calls)
}

func TestRetryingPublisherStopsOnContextCancel(t *testing.T) {
	transport := &flakyTransport{failures: 100}
	pub := NewRetryingPublisher(transport, resilience.RetryConfig{MaxAttempts: 10, InitialDelay: time.Hour, MaxDelay: time.Hour, BackoffFactor: 2})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ev, err := NewEvent(OrderShipped, 9, OrderShippedPayload{OrderID: 9})
	require.NoError(t, err)
	require.ErrorIs(t, pub.Publish(ctx, ev), domain.ErrPublishFailure)
	require.Equal(t, 1, transport.calls)
}

func TestPublishAllStopsOnFirstError(t *testing.T) {
	var names []string
	pub := PublisherFunc(func(_ context.Context, ev IntegrationEvent) error {
		names = append(names, ev.Name)
		if ev.Name == OrderShipped {
			return errBrokerDown
		}
		return nil
	})

	events := []IntegrationEvent{{ID: "1", Name: OrderStarted}, {ID: "2", Name: OrderShipped}, {ID: "3", Name: OrderDelivered}}
	require.ErrorIs(t, PublishAll(context.Background(), pub, events), errBrokerDown)
	require.Equal(t, []string{OrderStarted, OrderShipped}, names)
}
