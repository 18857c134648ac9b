package graceperiod

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/eventbus"
	"github.com/vladislavdragonenkov/ordersaga/internal/metrics"
)

const (
	DefaultGracePeriod   = time.Minute
	DefaultCheckInterval = 10 * time.Second
	defaultBatchSize     = 100
)

// Options задаёт параметры watchdog. Нулевые значения заменяются дефолтами.
type Options struct {
	GracePeriod   time.Duration
	CheckInterval time.Duration
	BatchSize     int
	Logger        *log.Entry
	Metrics       *metrics.SagaMetrics
	Now           func() time.Time
}

// Watchdog откладывает проверку остатков на grace period, в течение которого покупатель может отменить заказ.
// Вместо блокирующего ожидания заказ ставится в расписание, а периодический Sweep выпускает GracePeriodConfirmed.
type Watchdog struct {
	orders    domain.OrderRepository
	schedule  domain.GraceScheduleRepository
	publisher eventbus.Publisher

	period    time.Duration
	interval  time.Duration
	batchSize int
	logger    *log.Entry
	metrics   *metrics.SagaMetrics
	now       func() time.Time
}

// New создаёт watchdog.
func New(orders domain.OrderRepository, schedule domain.GraceScheduleRepository, publisher eventbus.Publisher, opts Options) *Watchdog {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = DefaultCheckInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "grace-period-watchdog")
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Watchdog{
		orders:    orders,
		schedule:  schedule,
		publisher: publisher,
		period:    opts.GracePeriod,
		interval:  opts.CheckInterval,
		batchSize: opts.BatchSize,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		now:       opts.Now,
	}
}

// Register подписывает watchdog на создание заказов.
func (w *Watchdog) Register(sub eventbus.Subscriber) {
	sub.Subscribe(eventbus.OrderStarted, w.HandleOrderStarted)
}

// HandleOrderStarted ставит заказ в расписание. Повторная доставка срок не сдвигает.
func (w *Watchdog) HandleOrderStarted(ctx context.Context, ev eventbus.IntegrationEvent) error {
	if ev.OrderID <= 0 {
		w.logger.WithField("event_id", ev.ID).Error("OrderStarted without order id dropped")
		return nil
	}

	startedAt := ev.CreatedAt
	if startedAt.IsZero() {
		startedAt = w.now()
	}
	dueAt := startedAt.Add(w.period)

	if err := w.schedule.Schedule(ctx, ev.OrderID, dueAt); err != nil {
		return fmt.Errorf("schedule grace period for order %d: %w", ev.OrderID, err)
	}
	w.logger.WithFields(log.Fields{
		"order_id": ev.OrderID,
		"due_at":   dueAt,
	}).Debug("grace period scheduled")
	return nil
}

// EventID — детерминированный идентификатор GracePeriodConfirmed для заказа.
// Повторный выпуск после сбоя получает тот же id и отсекается идемпотентностью получателя.
func EventID(orderID int64) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:ordering:grace-period:"+strconv.FormatInt(orderID, 10))).String()
}

// Sweep обрабатывает созревшие записи и возвращает число выпущенных событий.
// Заказ, уже ушедший из Submitted, снимается с расписания без события.
// Неизвестный заказ и ошибка публикации оставляют запись до следующего прохода.
func (w *Watchdog) Sweep(ctx context.Context) (int, error) {
	due, err := w.schedule.Due(ctx, w.now(), w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("load due grace entries: %w", err)
	}

	emitted := 0
	for _, entry := range due {
		if err := ctx.Err(); err != nil {
			return emitted, err
		}

		logger := w.logger.WithField("order_id", entry.OrderID)
		ok, err := w.confirm(ctx, entry)
		if err != nil {
			if errors.Is(err, domain.ErrOrderNotFound) {
				logger.WithError(err).Warn("grace entry references unknown order, keeping for retry")
			} else {
				logger.WithError(err).Warn("grace confirmation failed, keeping for retry")
			}
			continue
		}
		if ok {
			emitted++
		}
	}
	return emitted, nil
}

func (w *Watchdog) confirm(ctx context.Context, entry domain.GraceEntry) (bool, error) {
	order, err := w.orders.Get(ctx, entry.OrderID)
	if err != nil {
		return false, err
	}

	if order.Status != domain.OrderStatusSubmitted {
		w.logger.WithFields(log.Fields{
			"order_id": entry.OrderID,
			"status":   order.Status,
		}).Debug("grace period elapsed for order that already moved on")
		return false, w.schedule.Remove(ctx, entry.OrderID)
	}

	ev, err := eventbus.NewEventWithID(EventID(order.ID), eventbus.GracePeriodConfirmed, order.ID,
		eventbus.GracePeriodConfirmedPayload{OrderID: order.ID})
	if err != nil {
		return false, err
	}
	if err := w.publisher.Publish(ctx, ev); err != nil {
		return false, err
	}
	w.metrics.RecordGraceConfirmed()

	if err := w.schedule.Remove(ctx, entry.OrderID); err != nil {
		// Событие уже выпущено; повторный выпуск с тем же id будет отброшен получателем.
		w.logger.WithError(err).WithField("order_id", entry.OrderID).Warn("remove grace entry failed")
	}
	w.logger.WithField("order_id", order.ID).Info("grace period confirmed")
	return true, nil
}

// Run периодически вызывает Sweep до отмены ctx.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.WithError(err).Warn("grace sweep failed")
			}
		}
	}
}
