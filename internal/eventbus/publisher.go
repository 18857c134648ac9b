package eventbus

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/resilience"
)

var publishAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ordering_publish_attempts_total",
	Help: "Total number of integration event publish attempts grouped by event name and result.",
}, []string{"event", "result"})

var publishFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ordering_publish_failures_total",
	Help: "Total number of integration events that could not be published after all attempts.",
}, []string{"event"})

// RetryingPublisher повторяет публикацию с экспоненциальной задержкой.
// Транспорт вызывается через circuit breaker: при открытом breaker попытка считается неудачной без обращения к брокеру.
type RetryingPublisher struct {
	next    Publisher
	cfg     resilience.RetryConfig
	breaker *gobreaker.CircuitBreaker
	logger  *log.Entry
	tracer  trace.Tracer
}

// PublisherOption настраивает RetryingPublisher.
type PublisherOption func(*RetryingPublisher)

// WithBreaker подменяет circuit breaker.
func WithBreaker(cb *gobreaker.CircuitBreaker) PublisherOption {
	return func(p *RetryingPublisher) {
		if cb != nil {
			p.breaker = cb
		}
	}
}

// WithPublisherLogger задает logger.
func WithPublisherLogger(logger *log.Entry) PublisherOption {
	return func(p *RetryingPublisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewRetryingPublisher оборачивает транспорт retry-логикой.
func NewRetryingPublisher(next Publisher, cfg resilience.RetryConfig, opts ...PublisherOption) *RetryingPublisher {
	p := &RetryingPublisher{
		next:   next,
		cfg:    cfg.Normalize(),
		logger: log.WithField("component", "event-publisher"),
		tracer: otel.Tracer("ordersaga/eventbus"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.breaker == nil {
		p.breaker = resilience.NewBreaker(resilience.BreakerSettings{Name: "event-publisher"}, p.logger)
	}
	return p
}

// Publish доставляет событие в транспорт. После исчерпания попыток возвращает ошибку, оборачивающую ErrPublishFailure.
func (p *RetryingPublisher) Publish(ctx context.Context, ev IntegrationEvent) error {
	ctx, span := p.tracer.Start(ctx, "eventbus.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("event.name", ev.Name),
			attribute.String("event.id", ev.ID),
			attribute.Int64("order.id", ev.OrderID),
		),
	)
	defer span.End()

	logger := p.logger.WithFields(log.Fields{
		"event_id":   ev.ID,
		"event_name": ev.Name,
		"order_id":   ev.OrderID,
	})

	attempts, err := resilience.Retry(ctx, p.cfg, logger, "publish", nil, func(ctx context.Context) error {
		_, err := resilience.ExecuteWithBreaker(p.breaker, func() (struct{}, error) {
			return struct{}{}, p.next.Publish(ctx, ev)
		})
		switch {
		case err == nil:
			publishAttemptsTotal.WithLabelValues(ev.Name, "success").Inc()
		case resilience.IsOpen(err):
			publishAttemptsTotal.WithLabelValues(ev.Name, "breaker_open").Inc()
		default:
			publishAttemptsTotal.WithLabelValues(ev.Name, "error").Inc()
		}
		return err
	})
	if err != nil {
		publishFailuresTotal.WithLabelValues(ev.Name).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		return fmt.Errorf("%w: %s (%s) after %d attempts: %w", domain.ErrPublishFailure, ev.Name, ev.ID, attempts, err)
	}
	return nil
}

// PublishAll публикует события по порядку и останавливается на первой ошибке.
func PublishAll(ctx context.Context, pub Publisher, events []IntegrationEvent) error {
	for _, ev := range events {
		if err := pub.Publish(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}
