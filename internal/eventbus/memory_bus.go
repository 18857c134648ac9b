package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/resilience"
)

const (
	defaultMaxDeliveries = 5
	defaultConcurrency   = 16
)

var memoryDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ordering_bus_deliveries_total",
	Help: "Total number of in-process bus deliveries grouped by event name and result.",
}, []string{"event", "result"})

// DeadLetter — сообщение, которое так и не удалось обработать.
type DeadLetter struct {
	Event      IntegrationEvent
	Deliveries int
	Err        error
	FailedAt   time.Time
}

// MemoryBus — внутрипроцессная шина с семантикой at-least-once.
// Каждое сообщение доставляется в отдельной горутине; ошибка обработчика приводит к повторной доставке
// с задержкой, после MaxDeliveries сообщение попадает в dead letters и журнал.
type MemoryBus struct {
	registry      *Registry
	logger        *log.Entry
	maxDeliveries int
	backoff       resilience.RetryConfig
	sem           chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	closed      bool
	deadLetters []DeadLetter
}

// MemoryBusOption настраивает MemoryBus.
type MemoryBusOption func(*MemoryBus)

// WithMaxDeliveries задает число доставок одного сообщения.
func WithMaxDeliveries(n int) MemoryBusOption {
	return func(b *MemoryBus) {
		if n > 0 {
			b.maxDeliveries = n
		}
	}
}

// WithConcurrency ограничивает число одновременно работающих обработчиков.
func WithConcurrency(n int) MemoryBusOption {
	return func(b *MemoryBus) {
		if n > 0 {
			b.sem = make(chan struct{}, n)
		}
	}
}

// WithRedeliveryBackoff задает задержки между повторными доставками.
func WithRedeliveryBackoff(cfg resilience.RetryConfig) MemoryBusOption {
	return func(b *MemoryBus) {
		b.backoff = cfg.Normalize()
	}
}

// WithBusLogger задает logger.
func WithBusLogger(logger *log.Entry) MemoryBusOption {
	return func(b *MemoryBus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewMemoryBus создает внутрипроцессную шину.
func NewMemoryBus(opts ...MemoryBusOption) *MemoryBus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &MemoryBus{
		registry:      NewRegistry(),
		logger:        log.WithField("component", "memory-bus"),
		maxDeliveries: defaultMaxDeliveries,
		backoff: resilience.RetryConfig{
			MaxAttempts:   defaultMaxDeliveries,
			InitialDelay:  50 * time.Millisecond,
			MaxDelay:      2 * time.Second,
			BackoffFactor: 2,
		},
		sem:    make(chan struct{}, defaultConcurrency),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe регистрирует обработчик. Повторная подписка на то же имя вызывает panic.
func (b *MemoryBus) Subscribe(name string, h Handler) {
	b.registry.Register(name, h)
}

// Publish ставит сообщение в доставку и сразу возвращает управление.
// Событие без подписчика не является ошибкой: у части событий слушателей нет.
func (b *MemoryBus) Publish(ctx context.Context, ev IntegrationEvent) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("%w: memory bus is closed", domain.ErrPublishFailure)
	}
	h, ok := b.registry.Lookup(ev.Name)
	if !ok {
		b.mu.Unlock()
		b.logger.WithFields(log.Fields{"event_id": ev.ID, "event_name": ev.Name}).Debug("No subscribers for event")
		return nil
	}
	b.wg.Add(1)
	b.mu.Unlock()

	// Доставка живет дольше запроса издателя, но наследует его trace.
	deliveryCtx := trace.ContextWithSpanContext(b.ctx, trace.SpanContextFromContext(ctx))
	go b.deliver(deliveryCtx, h, ev)
	return nil
}

func (b *MemoryBus) deliver(ctx context.Context, h Handler, ev IntegrationEvent) {
	defer b.wg.Done()

	logger := b.logger.WithFields(log.Fields{
		"event_id":   ev.ID,
		"event_name": ev.Name,
		"order_id":   ev.OrderID,
	})

	var lastErr error
	for delivery := 1; delivery <= b.maxDeliveries; delivery++ {
		select {
		case b.sem <- struct{}{}:
		case <-ctx.Done():
			logger.Warn("Bus closed, delivery abandoned")
			return
		}
		lastErr = b.invoke(ctx, h, ev)
		<-b.sem

		if lastErr == nil {
			memoryDeliveriesTotal.WithLabelValues(ev.Name, "ack").Inc()
			return
		}
		memoryDeliveriesTotal.WithLabelValues(ev.Name, "nack").Inc()

		if delivery == b.maxDeliveries {
			break
		}
		delay := b.backoff.Delay(delivery)
		logger.WithError(lastErr).WithFields(log.Fields{
			"delivery": delivery,
			"delay":    delay,
		}).Warn("Handler failed, message will be redelivered")

		if err := resilience.Sleep(ctx, delay); err != nil {
			logger.Warn("Bus closed, redelivery abandoned")
			return
		}
	}

	memoryDeliveriesTotal.WithLabelValues(ev.Name, "dead_letter").Inc()
	logger.WithError(lastErr).WithField("deliveries", b.maxDeliveries).Error("Message dropped after max deliveries")

	b.mu.Lock()
	b.deadLetters = append(b.deadLetters, DeadLetter{
		Event:      ev,
		Deliveries: b.maxDeliveries,
		Err:        lastErr,
		FailedAt:   time.Now().UTC(),
	})
	b.mu.Unlock()
}

// invoke вызывает обработчик; panic превращается в ошибку и означает nack.
func (b *MemoryBus) invoke(ctx context.Context, h Handler, ev IntegrationEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.WithFields(log.Fields{
				"event_id":   ev.ID,
				"event_name": ev.Name,
				"panic":      r,
			}).Error("Handler panicked")
			err = fmt.Errorf("handler %s panicked: %v", ev.Name, r)
		}
	}()
	return h(ctx, ev)
}

// Wait блокируется, пока не завершатся все доставки, включая порожденные обработчиками.
func (b *MemoryBus) Wait() {
	b.wg.Wait()
}

// DeadLetters возвращает копию списка непрошедших сообщений.
func (b *MemoryBus) DeadLetters() []DeadLetter {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]DeadLetter(nil), b.deadLetters...)
}

// Close перестает принимать сообщения, прерывает ожидающие повторы и ждет текущие доставки.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	return nil
}

var _ Bus = (*MemoryBus)(nil)
