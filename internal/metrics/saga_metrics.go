package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SagaMetrics содержит метрики саги заказа. Методы безопасны для nil-получателя.
type SagaMetrics struct {
	// Счётчики жизненного цикла
	sagaStarted   prometheus.Counter
	sagaCompleted prometheus.Counter
	sagaCancelled prometheus.Counter

	// Обработка интеграционных событий
	handledEvents  *prometheus.CounterVec
	handleDuration *prometheus.HistogramVec

	// Переходы статусов
	transitions *prometheus.CounterVec

	timelineEvents prometheus.Counter
	graceConfirmed prometheus.Counter

	// Gauge для активных саг
	activeSagas prometheus.Gauge
}

// NewSagaMetrics создаёт метрики в DefaultRegisterer.
func NewSagaMetrics() *SagaMetrics {
	return NewSagaMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewSagaMetricsWithRegisterer создаёт метрики в заданном реестре. Повторная регистрация возвращает существующие коллекторы.
func NewSagaMetricsWithRegisterer(registerer prometheus.Registerer) *SagaMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &SagaMetrics{
		sagaStarted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ordering_saga_started_total",
			Help: "Total number of orders submitted into the saga",
		}),
		sagaCompleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ordering_saga_completed_total",
			Help: "Total number of orders that reached Completed",
		}),
		sagaCancelled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ordering_saga_cancelled_total",
			Help: "Total number of orders that reached Cancelled",
		}),
		handledEvents: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ordering_saga_handled_events_total",
			Help: "Total number of integration events handled grouped by service, event and result",
		}, []string{"service", "event", "result"}),
		handleDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "ordering_saga_handle_duration_seconds",
			Help:    "Duration of integration event handling in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"event"}),
		transitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ordering_order_transitions_total",
			Help: "Total number of applied order status transitions",
		}, []string{"from", "to"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ordering_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		graceConfirmed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ordering_grace_period_confirmed_total",
			Help: "Total number of GracePeriodConfirmed events emitted by the watchdog",
		}),
		activeSagas: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "ordering_active_sagas",
			Help: "Number of orders that are not in a terminal status",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordSagaStarted отмечает новый заказ.
func (m *SagaMetrics) RecordSagaStarted() {
	if m == nil {
		return
	}
	m.sagaStarted.Inc()
	m.activeSagas.Inc()
}

// RecordTransition учитывает переход и закрывает сагу, если статус терминальный.
func (m *SagaMetrics) RecordTransition(from, to string, terminal bool) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
	if !terminal {
		return
	}
	switch to {
	case "completed":
		m.sagaCompleted.Inc()
	case "cancelled":
		m.sagaCancelled.Inc()
	}
	m.activeSagas.Dec()
}

// RecordHandled учитывает обработанное событие и время обработки.
func (m *SagaMetrics) RecordHandled(service, event, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.handledEvents.WithLabelValues(service, event, result).Inc()
	m.handleDuration.WithLabelValues(event).Observe(duration.Seconds())
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *SagaMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordGraceConfirmed увеличивает счётчик срабатываний grace period.
func (m *SagaMetrics) RecordGraceConfirmed() {
	if m == nil {
		return
	}
	m.graceConfirmed.Inc()
}
