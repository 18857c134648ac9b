package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordersaga/internal/eventbus"
)

type mockConsumerGroup struct {
	consumeFn func(context.Context, []string, sarama.ConsumerGroupHandler) error
	errorsCh  chan error
	closeFn   func() error
}

func (m *mockConsumerGroup) Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error {
	if m.consumeFn != nil {
		return m.consumeFn(ctx, topics, handler)
	}
	return nil
}

func (m *mockConsumerGroup) Errors() <-chan error {
	return m.errorsCh
}

func (m *mockConsumerGroup) Close() error {
	if m.closeFn != nil {
		return m.closeFn()
	}
	if m.errorsCh != nil {
		close(m.errorsCh)
	}
	return nil
}

func (m *mockConsumerGroup) Pause(map[string][]int32)  {}
func (m *mockConsumerGroup) Resume(map[string][]int32) {}
func (m *mockConsumerGroup) PauseAll()                 {}
func (m *mockConsumerGroup) ResumeAll()                {}

type mockSession struct {
	ctx context.Context

	mu      sync.Mutex
	marked  []*sarama.ConsumerMessage
	offsets []int64
}

func (m *mockSession) Claims() map[string][]int32               { return nil }
func (m *mockSession) MemberID() string                         { return "member" }
func (m *mockSession) GenerationID() int32                      { return 1 }
func (m *mockSession) Commit()                                  {}
func (m *mockSession) ResetOffset(string, int32, int64, string) {}
func (m *mockSession) Context() context.Context                 { return m.ctx }

func (m *mockSession) MarkOffset(_ string, _ int32, offset int64, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offsets = append(m.offsets, offset)
}

func (m *mockSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marked = append(m.marked, msg)
}

func (m *mockSession) markedOffsets() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.offsets...)
}

type mockClaim struct {
	topic     string
	partition int32
	messages  chan *sarama.ConsumerMessage
}

func (m *mockClaim) Topic() string                            { return m.topic }
func (m *mockClaim) Partition() int32                         { return m.partition }
func (m *mockClaim) InitialOffset() int64                     { return 0 }
func (m *mockClaim) HighWaterMarkOffset() int64               { return 0 }
func (m *mockClaim) Messages() <-chan *sarama.ConsumerMessage { return m.messages }

func newTestConsumer(t *testing.T, group sarama.ConsumerGroup, maxDeliveries int) (*Consumer, *mocks.SyncProducer) {
	t.Helper()
	mockProducer := mocks.NewSyncProducer(t, nil)
	c := newConsumer(group, NewProducerFromSarama(mockProducer), ConsumerOptions{MaxDeliveries: maxDeliveries, RetryDelay: time.Millisecond})
	return c, mockProducer
}

func eventMessage(t *testing.T, name string, retries string) *sarama.ConsumerMessage {
	t.Helper()
	ev, err := eventbus.NewEvent(name, 42, map[string]int64{"orderId": 42})
	require.NoError(t, err)
	value, err := ev.Marshal()
	require.NoError(t, err)

	msg := &sarama.ConsumerMessage{Topic: TopicFor(name), Partition: 0, Offset: 7, Key: []byte("42"), Value: value}
	if retries != "" {
		msg.Headers = []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte(retries)}}
	}
	return msg
}

func TestConsumerStartRequiresSubscriptions(t *testing.T) {
	c, mockProducer := newTestConsumer(t, &mockConsumerGroup{}, 3)
	defer mockProducer.Close()

	require.Error(t, c.Start(context.Background()))
}

func TestConsumerStartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var consumedTopics []string
	errorsCh := make(chan error, 1)
	group := &mockConsumerGroup{
		errorsCh: errorsCh,
		consumeFn: func(_ context.Context, topics []string, _ sarama.ConsumerGroupHandler) error {
			consumedTopics = topics
			cancel()
			return nil
		},
	}

	c, mockProducer := newTestConsumer(t, group, 3)
	defer mockProducer.Close()
	c.Subscribe(eventbus.OrderShipped, func(context.Context, eventbus.IntegrationEvent) error { return nil })

	errorsCh <- errors.New("background error")
	require.NoError(t, c.Start(ctx))
	<-ctx.Done()
	require.NoError(t, c.Stop())
	require.Equal(t, []string{TopicFor(eventbus.OrderShipped)}, consumedTopics)
}

func TestConsumerStopError(t *testing.T) {
	errorsCh := make(chan error)
	group := &mockConsumerGroup{errorsCh: errorsCh, closeFn: func() error {
		close(errorsCh)
		return errors.New("close failed")
	}}
	c, mockProducer := newTestConsumer(t, group, 3)
	defer mockProducer.Close()

	require.Error(t, c.Stop())
}

func TestConsumeClaimAcksHandledMessage(t *testing.T) {
	c, mockProducer := newTestConsumer(t, &mockConsumerGroup{}, 3)
	defer mockProducer.Close()

	var got eventbus.IntegrationEvent
	c.Subscribe(eventbus.OrderShipped, func(_ context.Context, ev eventbus.IntegrationEvent) error {
		got = ev
		return nil
	})

	session := &mockSession{ctx: context.Background()}
	claim := &mockClaim{topic: TopicFor(eventbus.OrderShipped), messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- eventMessage(t, eventbus.OrderShipped, "")
	close(claim.messages)

	require.NoError(t, c.ConsumeClaim(session, claim))
	require.Len(t, session.marked, 1)
	require.Equal(t, int64(42), got.OrderID)
}

func TestConsumeClaimRequeuesFailedMessage(t *testing.T) {
	c, mockProducer := newTestConsumer(t, &mockConsumerGroup{}, 3)
	defer mockProducer.Close()

	c.Subscribe(eventbus.OrderShipped, func(context.Context, eventbus.IntegrationEvent) error {
		return errors.New("temporary")
	})
	mockProducer.ExpectSendMessageAndSucceed()

	msg := eventMessage(t, eventbus.OrderShipped, "1")
	require.NoError(t, c.handleMessage(context.Background(), msg))
}

func TestConsumeClaimSendsToDLQAfterMaxDeliveries(t *testing.T) {
	c, mockProducer := newTestConsumer(t, &mockConsumerGroup{}, 3)
	defer mockProducer.Close()

	var calls atomic.Int32
	c.Subscribe(eventbus.OrderShipped, func(context.Context, eventbus.IntegrationEvent) error {
		calls.Add(1)
		return errors.New("permanent")
	})
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var dlq DLQMessage
		if err := json.Unmarshal(val, &dlq); err != nil {
			return err
		}
		if dlq.OriginalTopic != TopicFor(eventbus.OrderShipped) || dlq.RetryCount != 2 || dlq.ErrorMessage != "permanent" {
			return errors.New("unexpected dlq payload")
		}
		return nil
	})

	session := &mockSession{ctx: context.Background()}
	claim := &mockClaim{messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- eventMessage(t, eventbus.OrderShipped, "2")
	close(claim.messages)

	require.NoError(t, c.ConsumeClaim(session, claim))
	require.Len(t, session.marked, 1)
	require.Equal(t, int32(1), calls.Load())
}

func TestConsumeClaimMalformedMessageGoesToDLQ(t *testing.T) {
	c, mockProducer := newTestConsumer(t, &mockConsumerGroup{}, 3)
	defer mockProducer.Close()
	c.Subscribe(eventbus.OrderShipped, func(context.Context, eventbus.IntegrationEvent) error { return nil })
	mockProducer.ExpectSendMessageAndSucceed()

	msg := &sarama.ConsumerMessage{Topic: TopicFor(eventbus.OrderShipped), Value: []byte("{")}
	require.NoError(t, c.handleMessage(context.Background(), msg))
}

func TestConsumeClaimUnroutableMessageGoesToDLQ(t *testing.T) {
	c, mockProducer := newTestConsumer(t, &mockConsumerGroup{}, 3)
	defer mockProducer.Close()
	c.Subscribe(eventbus.OrderShipped, func(context.Context, eventbus.IntegrationEvent) error { return nil })
	mockProducer.ExpectSendMessageAndSucceed()

	require.NoError(t, c.handleMessage(context.Background(), eventMessage(t, eventbus.OrderDelivered, "")))
}

func TestConsumeClaimStopsWhenRequeueFails(t *testing.T) {
	c, mockProducer := newTestConsumer(t, &mockConsumerGroup{}, 3)
	defer mockProducer.Close()
	c.Subscribe(eventbus.OrderShipped, func(context.Context, eventbus.IntegrationEvent) error {
		return errors.New("temporary")
	})
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	session := &mockSession{ctx: context.Background()}
	claim := &mockClaim{messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- eventMessage(t, eventbus.OrderShipped, "")
	close(claim.messages)

	require.Error(t, c.ConsumeClaim(session, claim))
	require.Empty(t, session.marked)
}

func TestConsumeClaimRecoversHandlerPanic(t *testing.T) {
	c, mockProducer := newTestConsumer(t, &mockConsumerGroup{}, 3)
	defer mockProducer.Close()
	c.Subscribe(eventbus.OrderShipped, func(context.Context, eventbus.IntegrationEvent) error {
		panic("boom")
	})
	mockProducer.ExpectSendMessageAndSucceed()

	require.NoError(t, c.handleMessage(context.Background(), eventMessage(t, eventbus.OrderShipped, "")))
}

func TestConsumeClaimStopsOnContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c, mockProducer := newTestConsumer(t, &mockConsumerGroup{}, 3)
	defer mockProducer.Close()

	session := &mockSession{ctx: ctx}
	claim := &mockClaim{messages: make(chan *sarama.ConsumerMessage)}

	done := make(chan struct{})
	go func() {
		_ = c.ConsumeClaim(session, claim)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not stop after context cancellation")
	}
}

func keyedMessage(t *testing.T, offset, orderID int64, seq int) *sarama.ConsumerMessage {
	t.Helper()
	ev, err := eventbus.NewEvent(eventbus.OrderShipped, orderID, map[string]int64{"orderId": orderID, "seq": int64(seq)})
	require.NoError(t, err)
	value, err := ev.Marshal()
	require.NoError(t, err)
	return &sarama.ConsumerMessage{
		Topic:  TopicFor(eventbus.OrderShipped),
		Offset: offset,
		Key:    []byte(strconv.FormatInt(orderID, 10)),
		Value:  value,
	}
}

func TestConsumeClaimByKeyKeepsPerOrderSequence(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	defer mockProducer.Close()
	c := newConsumer(&mockConsumerGroup{}, NewProducerFromSarama(mockProducer), ConsumerOptions{Concurrency: 4})

	var (
		mu   sync.Mutex
		seen = map[int64][]int64{}
	)
	c.Subscribe(eventbus.OrderShipped, func(_ context.Context, ev eventbus.IntegrationEvent) error {
		var payload map[string]int64
		if err := ev.Decode(&payload); err != nil {
			return err
		}
		mu.Lock()
		seen[ev.OrderID] = append(seen[ev.OrderID], payload["seq"])
		mu.Unlock()
		return nil
	})

	const total = 60
	claim := &mockClaim{messages: make(chan *sarama.ConsumerMessage, total)}
	for i := 0; i < total; i++ {
		claim.messages <- keyedMessage(t, int64(100+i), int64(i%5+1), i)
	}
	close(claim.messages)

	session := &mockSession{ctx: context.Background()}
	require.NoError(t, c.ConsumeClaim(session, claim))

	require.Len(t, seen, 5)
	for orderID, seqs := range seen {
		require.Len(t, seqs, total/5)
		require.IsIncreasing(t, seqs, "order %d processed out of sequence", orderID)
	}

	offsets := session.markedOffsets()
	require.NotEmpty(t, offsets)
	require.Equal(t, int64(100+total), slices.Max(offsets))
	require.Empty(t, session.marked)
}

func TestConsumeClaimByKeyDoesNotCommitPastUnhandledMessage(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	defer mockProducer.Close()
	c := newConsumer(&mockConsumerGroup{}, NewProducerFromSarama(mockProducer), ConsumerOptions{
		RetryDelay:  time.Millisecond,
		Concurrency: 2,
	})
	c.Subscribe(eventbus.OrderShipped, func(_ context.Context, ev eventbus.IntegrationEvent) error {
		if ev.OrderID == 1 {
			return errors.New("temporary")
		}
		return nil
	})
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	claim := &mockClaim{messages: make(chan *sarama.ConsumerMessage, 2)}
	claim.messages <- keyedMessage(t, 0, 1, 0)
	claim.messages <- keyedMessage(t, 1, 2, 1)
	close(claim.messages)

	session := &mockSession{ctx: context.Background()}
	require.Error(t, c.ConsumeClaim(session, claim))
	require.Empty(t, session.markedOffsets())
}

func TestConsumeClaimByKeyStopsOnContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mockProducer := mocks.NewSyncProducer(t, nil)
	defer mockProducer.Close()
	c := newConsumer(&mockConsumerGroup{}, NewProducerFromSarama(mockProducer), ConsumerOptions{Concurrency: 3})

	session := &mockSession{ctx: ctx}
	claim := &mockClaim{messages: make(chan *sarama.ConsumerMessage)}

	done := make(chan error, 1)
	go func() { done <- c.ConsumeClaim(session, claim) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not stop after context cancellation")
	}
}

func TestOffsetTrackerCommitsContiguousPrefix(t *testing.T) {
	tracker := newOffsetTracker()
	for _, offset := range []int64{5, 6, 8} {
		tracker.add(offset)
	}

	_, ok := tracker.complete(6)
	require.False(t, ok)

	next, ok := tracker.complete(5)
	require.True(t, ok)
	require.Equal(t, int64(7), next)

	next, ok = tracker.complete(8)
	require.True(t, ok)
	require.Equal(t, int64(9), next, "gaps in offsets are not waited for")
}

func TestLaneForIsStablePerKey(t *testing.T) {
	for _, key := range []string{"1", "42", "order-9", ""} {
		lane := laneFor([]byte(key), 8)
		require.GreaterOrEqual(t, lane, 0)
		require.Less(t, lane, 8)
		require.Equal(t, lane, laneFor([]byte(key), 8))
	}
}

func TestBusDelegates(t *testing.T) {
	group := &mockConsumerGroup{errorsCh: make(chan error)}
	c, mockProducer := newTestConsumer(t, group, 3)
	bus := NewBus(c.producer, c)

	bus.Subscribe(eventbus.OrderShipped, func(context.Context, eventbus.IntegrationEvent) error { return nil })
	require.Equal(t, []string{TopicFor(eventbus.OrderShipped)}, c.Topics())

	mockProducer.ExpectSendMessageAndSucceed()
	ev, err := eventbus.NewEvent(eventbus.OrderShipped, 1, eventbus.OrderShippedPayload{OrderID: 1})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), ev))
	require.NoError(t, bus.Close())
}
