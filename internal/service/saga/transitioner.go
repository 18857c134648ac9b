package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/eventbus"
	"github.com/vladislavdragonenkov/ordersaga/internal/metrics"
	"github.com/vladislavdragonenkov/ordersaga/internal/resilience"
)

// Command — доменная команда над агрегатом, например (*domain.Order).SetPaidStatus.
type Command func(order *domain.Order) (domain.DomainEvent, error)

// Transitioner загружает заказ, применяет команду, сохраняет его с проверкой версии
// и публикует получившиеся интеграционные события.
type Transitioner struct {
	orders    domain.OrderRepository
	timeline  domain.TimelineRepository
	publisher eventbus.Publisher
	metrics   *metrics.SagaMetrics
	logger    *log.Entry
	conflicts resilience.RetryConfig
}

// NewTransitioner создаёт Transitioner. timeline и sagaMetrics могут быть nil.
func NewTransitioner(
	orders domain.OrderRepository,
	timeline domain.TimelineRepository,
	publisher eventbus.Publisher,
	sagaMetrics *metrics.SagaMetrics,
	logger *log.Entry,
) *Transitioner {
	if logger == nil {
		logger = log.WithField("component", "saga-transitioner")
	}
	return &Transitioner{
		orders:    orders,
		timeline:  timeline,
		publisher: publisher,
		metrics:   sagaMetrics,
		logger:    logger,
		conflicts: resilience.RetryConfig{
			MaxAttempts:   3,
			InitialDelay:  10 * time.Millisecond,
			MaxDelay:      100 * time.Millisecond,
			BackoffFactor: 2,
		},
	}
}

// Apply применяет команду к свежей версии заказа. Конфликт версий повторяется с перезагрузкой;
// исчерпанный конфликт возвращается как временная ошибка, чтобы сообщение доставили ещё раз.
//
// Если заказ уже стоит в целевом статусе команды, переход был сохранён раньше, а публикация
// могла не дойти. Тогда событие текущего статуса публикуется повторно под тем же id,
// а вызывающему возвращается исходная ошибка перехода.
func (t *Transitioner) Apply(ctx context.Context, orderID int64, command Command) (domain.Order, error) {
	var (
		order    domain.Order
		repeated bool
	)
	_, err := resilience.Retry(ctx, t.conflicts, t.logger.WithField("order_id", orderID), "apply status change", domain.IsVersionConflict,
		func(ctx context.Context) error {
			repeated = false
			fresh, err := t.orders.Get(ctx, orderID)
			if err != nil {
				return err
			}
			if _, err := command(&fresh); err != nil {
				var transitionErr *domain.TransitionError
				if errors.As(err, &transitionErr) && transitionErr.To == fresh.Status {
					repeated = true
					order = fresh
				}
				return err
			}
			if err := t.orders.Save(ctx, &fresh); err != nil {
				return err
			}
			order = fresh
			return nil
		})
	if err != nil {
		if repeated {
			if pubErr := t.Republish(ctx, order); pubErr != nil {
				return domain.Order{}, pubErr
			}
		}
		return domain.Order{}, err
	}

	if err := t.Publish(ctx, &order); err != nil {
		return order, err
	}
	return order, nil
}

// Republish публикует событие текущего статуса заказа ещё раз. История и метрики не пишутся:
// переход уже учтён. Получатели отбрасывают копию по id события.
func (t *Transitioner) Republish(ctx context.Context, order domain.Order) error {
	ev, ok := order.StatusEvent()
	if !ok {
		return nil
	}
	integration, err := Translate(ev)
	if err != nil {
		return fmt.Errorf("translate status event of order %d: %w", order.ID, err)
	}
	if err := eventbus.PublishAll(ctx, t.publisher, integration); err != nil {
		return err
	}
	t.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"status":   order.Status,
	}).Info("status event republished")
	return nil
}

// Publish забирает доменные события заказа, пишет их в историю и публикует.
// Ошибка публикации возвращается вызывающему: состояние уже сохранено, это известный риск двойной записи.
func (t *Transitioner) Publish(ctx context.Context, order *domain.Order) error {
	events := order.PullDomainEvents()
	if len(events) == 0 {
		return nil
	}

	for _, ev := range events {
		t.record(ctx, ev)
	}

	integration, err := TranslateAll(events)
	if err != nil {
		return fmt.Errorf("translate events of order %d: %w", order.ID, err)
	}
	return eventbus.PublishAll(ctx, t.publisher, integration)
}

func (t *Transitioner) record(ctx context.Context, ev domain.DomainEvent) {
	if ev.Type == domain.EventOrderStarted {
		t.metrics.RecordSagaStarted()
	} else {
		t.metrics.RecordTransition(string(ev.From), string(ev.To), ev.To.Terminal())
	}

	if t.timeline == nil {
		return
	}
	if err := t.timeline.Append(ctx, domain.TimelineFromEvent(ev)); err != nil {
		t.logger.WithError(err).WithFields(log.Fields{
			"order_id": ev.OrderID,
			"event":    ev.Type,
		}).Warn("append timeline event failed")
		return
	}
	t.metrics.RecordTimelineEvent()
}
