package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/ordersaga/internal/eventbus"
	"github.com/vladislavdragonenkov/ordersaga/internal/resilience"
)

const (
	defaultMaxDeliveries = 5
	defaultRetryDelay    = 200 * time.Millisecond
	laneBuffer           = 16
)

var consumedMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ordering_kafka_consumed_messages_total",
	Help: "Total number of consumed kafka messages grouped by event name and outcome.",
}, []string{"event", "outcome"})

// DLQMessage — содержимое сообщения в ordering.dlq.
type DLQMessage struct {
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	OriginalKey       string    `json:"original_key"`
	OriginalValue     string    `json:"original_value"`
	EventID           string    `json:"event_id,omitempty"`
	EventName         string    `json:"event_name,omitempty"`
	ErrorMessage      string    `json:"error_message"`
	FailedAt          time.Time `json:"failed_at"`
	RetryCount        int       `json:"retry_count"`
}

// ConsumerOptions — параметры повторной доставки.
type ConsumerOptions struct {
	// MaxDeliveries — сколько раз сообщение передается обработчику до отправки в DLQ.
	MaxDeliveries int
	// RetryDelay — пауза перед повторной публикацией упавшего сообщения.
	RetryDelay time.Duration
	// Concurrency — число параллельных обработчиков на одну партицию.
	// Сообщения с одинаковым ключом (id заказа) всегда обрабатываются по порядку.
	// 0 или 1 — последовательная обработка.
	Concurrency int
}

// Consumer читает топики зарегистрированных событий и передает их обработчикам.
// Nack реализован как повторная публикация в тот же топик с увеличенным x-retry-count,
// поэтому offset исходного сообщения всегда коммитится и партиция не блокируется.
type Consumer struct {
	consumer      sarama.ConsumerGroup
	registry      *eventbus.Registry
	producer      *Producer
	logger        *log.Entry
	tracer        trace.Tracer
	wg            sync.WaitGroup
	maxDeliveries int
	retryDelay    time.Duration
	concurrency   int
}

// NewConsumer создает consumer group. producer используется для повторной доставки и DLQ.
func NewConsumer(brokers []string, groupID string, producer *Producer, opts ConsumerOptions) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	return newConsumer(group, producer, opts), nil
}

func newConsumer(group sarama.ConsumerGroup, producer *Producer, opts ConsumerOptions) *Consumer {
	if opts.MaxDeliveries <= 0 {
		opts.MaxDeliveries = defaultMaxDeliveries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Consumer{
		consumer:      group,
		registry:      eventbus.NewRegistry(),
		producer:      producer,
		logger:        log.WithField("component", "kafka-consumer"),
		tracer:        otel.Tracer("ordersaga/kafka"),
		maxDeliveries: opts.MaxDeliveries,
		retryDelay:    opts.RetryDelay,
		concurrency:   opts.Concurrency,
	}
}

// Subscribe регистрирует обработчик. Вызывать до Start.
func (c *Consumer) Subscribe(name string, h eventbus.Handler) {
	c.registry.Register(name, h)
}

// Topics возвращает топики, на которые подписан consumer.
func (c *Consumer) Topics() []string {
	names := c.registry.Names()
	topics := make([]string, 0, len(names))
	for _, name := range names {
		topics = append(topics, TopicFor(name))
	}
	return topics
}

// Start запускает consumer
func (c *Consumer) Start(ctx context.Context) error {
	topics := c.Topics()
	if len(topics) == 0 {
		return errors.New("kafka consumer has no subscriptions")
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			// Consume должен вызываться в цикле, так как при rebalance он завершается
			if err := c.consumer.Consume(ctx, topics, c); err != nil {
				c.logger.WithError(err).Error("error from consumer")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.consumer.Errors() {
			c.logger.WithError(err).Error("consumer error")
		}
	}()

	c.logger.WithField("topics", topics).Info("kafka consumer started")
	return nil
}

// Stop останавливает consumer
func (c *Consumer) Stop() error {
	if err := c.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

// Setup вызывается при старте consumer session
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup вызывается при завершении consumer session
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim обрабатывает сообщения из partition.
// Если сообщение не удалось ни обработать, ни переотправить, claim завершается без коммита:
// после rebalance чтение продолжится с последнего закоммиченного offset.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	if c.concurrency > 1 {
		return c.consumeByKey(session, claim)
	}

	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			if err := c.handleMessage(session.Context(), message); err != nil {
				c.logUnhandled(message, err)
				return err
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// consumeByKey раскладывает сообщения партиции по lane'ам по хешу ключа.
// Внутри lane порядок сохраняется, lane'ы работают параллельно.
// Offset коммитится только для непрерывного префикса обработанных сообщений;
// sarama игнорирует MarkOffset меньше уже отмеченного, так что порядок вызовов из разных lane'ов не важен.
func (c *Consumer) consumeByKey(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	g, ctx := errgroup.WithContext(session.Context())
	tracker := newOffsetTracker()

	lanes := make([]chan *sarama.ConsumerMessage, c.concurrency)
	for i := range lanes {
		lane := make(chan *sarama.ConsumerMessage, laneBuffer)
		lanes[i] = lane

		g.Go(func() error {
			for message := range lane {
				if ctx.Err() != nil {
					return nil
				}
				if err := c.handleMessage(ctx, message); err != nil {
					c.logUnhandled(message, err)
					return err
				}
				if next, ok := tracker.complete(message.Offset); ok {
					session.MarkOffset(message.Topic, message.Partition, next, "")
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		defer func() {
			for _, lane := range lanes {
				close(lane)
			}
		}()

		for {
			select {
			case message, ok := <-claim.Messages():
				if !ok || message == nil {
					return nil
				}
				tracker.add(message.Offset)
				select {
				case lanes[laneFor(message.Key, len(lanes))] <- message:
				case <-ctx.Done():
					return nil
				}
			case <-ctx.Done():
				return nil
			}
		}
	})

	return g.Wait()
}

func (c *Consumer) logUnhandled(message *sarama.ConsumerMessage, err error) {
	c.logger.WithError(err).WithFields(log.Fields{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
	}).Error("message could not be handled nor requeued")
}

func laneFor(key []byte, lanes int) int {
	h := fnv.New32a()
	_, _ = h.Write(key)
	return int(h.Sum32() % uint32(lanes))
}

// offsetTracker выдаёт offset для коммита, только когда обработаны все сообщения до него.
type offsetTracker struct {
	mu      sync.Mutex
	pending []int64
	done    map[int64]struct{}
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{done: make(map[int64]struct{})}
}

func (t *offsetTracker) add(offset int64) {
	t.mu.Lock()
	t.pending = append(t.pending, offset)
	t.mu.Unlock()
}

// complete отмечает offset обработанным и возвращает следующий offset для коммита,
// если непрерывный префикс продвинулся.
func (t *offsetTracker) complete(offset int64) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.done[offset] = struct{}{}
	advanced := false
	var last int64
	for len(t.pending) > 0 {
		head := t.pending[0]
		if _, ok := t.done[head]; !ok {
			break
		}
		delete(t.done, head)
		t.pending = t.pending[1:]
		last = head
		advanced = true
	}
	if !advanced {
		return 0, false
	}
	return last + 1, true
}

// handleMessage возвращает ошибку только если сообщение нельзя коммитить.
func (c *Consumer) handleMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	ev, err := eventbus.Unmarshal(message.Value)
	if err != nil {
		consumedMessagesTotal.WithLabelValues("unknown", "malformed").Inc()
		return c.sendToDLQ(message, "", "", err)
	}

	handler, ok := c.registry.Lookup(ev.Name)
	if !ok {
		consumedMessagesTotal.WithLabelValues(ev.Name, "unroutable").Inc()
		return c.sendToDLQ(message, ev.ID, ev.Name, fmt.Errorf("no handler for %s", ev.Name))
	}

	ctx, span := c.startSpan(ctx, message, ev)
	defer span.End()

	handleErr := c.invoke(ctx, handler, ev)
	if handleErr == nil {
		consumedMessagesTotal.WithLabelValues(ev.Name, "ack").Inc()
		return nil
	}
	span.RecordError(handleErr)

	delivery := retryCount(message.Headers) + 1
	logger := c.logger.WithError(handleErr).WithFields(log.Fields{
		"event_id":       ev.ID,
		"event_name":     ev.Name,
		"order_id":       ev.OrderID,
		"delivery":       delivery,
		"max_deliveries": c.maxDeliveries,
	})

	if delivery < c.maxDeliveries {
		consumedMessagesTotal.WithLabelValues(ev.Name, "nack").Inc()
		logger.Warn("message processing failed, will retry")
		return c.requeue(ctx, message, delivery)
	}

	consumedMessagesTotal.WithLabelValues(ev.Name, "dead_letter").Inc()
	logger.Error("message processing failed after max deliveries")
	return c.sendToDLQ(message, ev.ID, ev.Name, handleErr)
}

func (c *Consumer) invoke(ctx context.Context, h eventbus.Handler, ev eventbus.IntegrationEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %s panicked: %v", ev.Name, r)
		}
	}()
	return h(ctx, ev)
}

func (c *Consumer) startSpan(ctx context.Context, message *sarama.ConsumerMessage, ev eventbus.IntegrationEvent) (context.Context, trace.Span) {
	carrier := propagation.MapCarrier{}
	for _, header := range message.Headers {
		if header != nil {
			carrier[string(header.Key)] = string(header.Value)
		}
	}
	ctx = otel.GetTextMapPropagator().Extract(ctx, carrier)

	return c.tracer.Start(ctx, "kafka.consume "+ev.Name,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination", message.Topic),
			attribute.Int64("messaging.kafka.offset", message.Offset),
			attribute.String("event.id", ev.ID),
			attribute.Int64("order.id", ev.OrderID),
		),
	)
}

// requeue публикует копию сообщения в тот же топик с увеличенным счетчиком доставок.
func (c *Consumer) requeue(ctx context.Context, message *sarama.ConsumerMessage, retries int) error {
	if c.producer == nil {
		return errors.New("kafka consumer has no producer for redelivery")
	}
	if err := resilience.Sleep(ctx, c.retryDelay); err != nil {
		return err
	}

	return c.producer.SendMessage(&sarama.ProducerMessage{
		Topic:   message.Topic,
		Key:     sarama.ByteEncoder(message.Key),
		Value:   sarama.ByteEncoder(message.Value),
		Headers: copyHeaders(message.Headers, map[string]string{HeaderRetryCount: strconv.Itoa(retries)}),
	})
}

// sendToDLQ отправляет failed message в Dead Letter Queue
func (c *Consumer) sendToDLQ(message *sarama.ConsumerMessage, eventID, eventName string, processingErr error) error {
	if c.producer == nil {
		return fmt.Errorf("kafka consumer has no producer for dlq: %w", processingErr)
	}

	failedAt := time.Now().UTC()
	payload, err := json.Marshal(DLQMessage{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		EventID:           eventID,
		EventName:         eventName,
		ErrorMessage:      processingErr.Error(),
		FailedAt:          failedAt,
		RetryCount:        retryCount(message.Headers),
	})
	if err != nil {
		return fmt.Errorf("marshal dlq message: %w", err)
	}

	if err := c.producer.SendMessage(&sarama.ProducerMessage{
		Topic: TopicDeadLetterQueue,
		Key:   sarama.ByteEncoder(message.Key),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte(HeaderOriginalTopic), Value: []byte(message.Topic)},
			{Key: []byte(HeaderErrorMessage), Value: []byte(processingErr.Error())},
			{Key: []byte(HeaderFailedAt), Value: []byte(failedAt.Format(time.RFC3339))},
		},
	}); err != nil {
		return fmt.Errorf("failed to send to DLQ: %w", err)
	}

	c.logger.WithFields(log.Fields{
		"topic":      message.Topic,
		"event_id":   eventID,
		"event_name": eventName,
	}).Warn("message sent to DLQ")
	return nil
}
