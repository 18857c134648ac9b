package graceperiod

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/eventbus"
	"github.com/vladislavdragonenkov/ordersaga/internal/storage/memory"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type publisherStub struct {
	mu     sync.Mutex
	events []eventbus.IntegrationEvent
	err    error
}

func (p *publisherStub) Publish(_ context.Context, ev eventbus.IntegrationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *publisherStub) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type setup struct {
	clock     *clock
	orders    *memory.OrderRepository
	schedule  *memory.GraceScheduleRepository
	publisher *publisherStub
	watchdog  *Watchdog
}

func newSetup(t *testing.T) *setup {
	t.Helper()
	s := &setup{
		clock:     &clock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)},
		orders:    memory.NewOrderRepository(),
		schedule:  memory.NewGraceScheduleRepository(),
		publisher: &publisherStub{},
	}
	s.watchdog = New(s.orders, s.schedule, s.publisher, Options{
		GracePeriod: 30 * time.Second,
		Now:         s.clock.Now,
	})
	return s
}

func (s *setup) submit(t *testing.T) int64 {
	t.Helper()
	ctx := context.Background()

	order, err := domain.NewOrder("buyer", domain.Address{}, "", []domain.OrderItem{{ProductID: 1, UnitPriceMinor: 10, Units: 1}}, s.clock.Now())
	require.NoError(t, err)
	require.NoError(t, s.orders.Create(ctx, order))
	order.PullDomainEvents()

	ev, err := eventbus.NewEvent(eventbus.OrderStarted, order.ID, eventbus.OrderStartedPayload{BuyerID: "buyer"})
	require.NoError(t, err)
	ev.CreatedAt = s.clock.Now()
	require.NoError(t, s.watchdog.HandleOrderStarted(ctx, ev))
	return order.ID
}

func TestEventIDIsDeterministic(t *testing.T) {
	require.Equal(t, EventID(42), EventID(42))
	require.NotEqual(t, EventID(42), EventID(43))
}

func TestSweep_EmitsOnceAfterGracePeriod(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()
	id := s.submit(t)

	emitted, err := s.watchdog.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, emitted, "grace period has not elapsed yet")

	s.clock.Advance(31 * time.Second)
	emitted, err = s.watchdog.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, emitted)

	emitted, err = s.watchdog.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, emitted)

	require.Equal(t, 1, s.publisher.count())
	ev := s.publisher.events[0]
	require.Equal(t, eventbus.GracePeriodConfirmed, ev.Name)
	require.Equal(t, EventID(id), ev.ID)

	var payload eventbus.GracePeriodConfirmedPayload
	require.NoError(t, ev.Decode(&payload))
	require.Equal(t, id, payload.OrderID)
	require.Zero(t, s.schedule.Len())
}

func TestSweep_CancelledOrderIsNotAdvanced(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()
	id := s.submit(t)

	order, err := s.orders.Get(ctx, id)
	require.NoError(t, err)
	_, err = order.SetCancelledStatus("cancelled by buyer")
	require.NoError(t, err)
	require.NoError(t, s.orders.Save(ctx, &order))

	s.clock.Advance(time.Minute)
	emitted, err := s.watchdog.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, emitted)
	require.Zero(t, s.publisher.count())
	require.Zero(t, s.schedule.Len())
}

func TestSweep_PublishFailureKeepsEntry(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()
	s.submit(t)
	s.publisher.err = errors.New("broker down")

	s.clock.Advance(time.Minute)
	emitted, err := s.watchdog.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, emitted)
	require.Equal(t, 1, s.schedule.Len())

	s.publisher.err = nil
	emitted, err = s.watchdog.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, emitted)
	require.Zero(t, s.schedule.Len())
}

func TestSweep_UnknownOrderKept(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()
	require.NoError(t, s.schedule.Schedule(ctx, 777, s.clock.Now()))

	emitted, err := s.watchdog.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, emitted)
	require.Equal(t, 1, s.schedule.Len())
}

func TestHandleOrderStarted_RedeliveryKeepsDueTime(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()
	id := s.submit(t)

	s.clock.Advance(20 * time.Second)
	ev, err := eventbus.NewEvent(eventbus.OrderStarted, id, eventbus.OrderStartedPayload{BuyerID: "buyer"})
	require.NoError(t, err)
	ev.CreatedAt = s.clock.Now()
	require.NoError(t, s.watchdog.HandleOrderStarted(ctx, ev))

	s.clock.Advance(11 * time.Second)
	emitted, err := s.watchdog.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, emitted)
}

func TestRunStopsOnCancel(t *testing.T) {
	s := newSetup(t)
	w := New(s.orders, s.schedule, s.publisher, Options{CheckInterval: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not stop")
	}
}
