package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/eventbus"
	"github.com/vladislavdragonenkov/ordersaga/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ordersaga/internal/resilience"
)

// busHandle — шина сообщений вместе с её жизненным циклом.
type busHandle struct {
	eventbus.Bus

	// memory заполнен только для внутрипроцессной шины.
	memory *eventbus.MemoryBus
	kafka  *kafka.Bus
}

// openBus создаёт шину по ORDERING_BUS_DRIVER.
func openBus(cfg Config, logger *log.Entry) (*busHandle, error) {
	if cfg.BusDriver == BusDriverKafka {
		return initKafkaBus(cfg, logger)
	}

	bus := eventbus.NewMemoryBus(
		eventbus.WithMaxDeliveries(cfg.MaxDeliveries),
		eventbus.WithConcurrency(cfg.ConsumerConcurrency),
		eventbus.WithRedeliveryBackoff(resilience.RetryConfig{
			MaxAttempts:   cfg.MaxDeliveries,
			InitialDelay:  cfg.PublishInitialDelay,
			BackoffFactor: 2,
		}),
		eventbus.WithBusLogger(logger.WithField("component", "memory-bus")),
	)
	logger.Info("in-process event bus initialized")
	return &busHandle{Bus: bus, memory: bus}, nil
}

// initKafkaBus создаёт producer и consumer group. Consumer запускается после подписки обработчиков.
func initKafkaBus(cfg Config, logger *log.Entry) (*busHandle, error) {
	producer, err := kafka.NewProducer(cfg.KafkaBrokers)
	if err != nil {
		return nil, fmt.Errorf("init kafka producer: %w", err)
	}
	consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroup, producer, kafka.ConsumerOptions{
		MaxDeliveries: cfg.MaxDeliveries,
		RetryDelay:    cfg.PublishInitialDelay,
		Concurrency:   cfg.ConsumerConcurrency,
	})
	if err != nil {
		closeKafka(producer, logger)
		return nil, fmt.Errorf("init kafka consumer: %w", err)
	}

	bus := kafka.NewBus(producer, consumer)
	logger.WithFields(log.Fields{
		"brokers": cfg.KafkaBrokers,
		"group":   cfg.KafkaGroup,
	}).Info("kafka bus initialized")
	return &busHandle{Bus: bus, kafka: bus}, nil
}

// start начинает потребление. Для внутрипроцессной шины ничего не делает.
func (b *busHandle) start(ctx context.Context) error {
	if b.kafka == nil {
		return nil
	}
	return b.kafka.Start(ctx)
}

// close останавливает шину; in-flight доставки дожидаются завершения.
func (b *busHandle) close(logger *log.Entry) {
	if b == nil {
		return
	}
	var err error
	switch {
	case b.kafka != nil:
		err = b.kafka.Close()
	case b.memory != nil:
		err = b.memory.Close()
	}
	if err != nil {
		logger.WithError(err).Warn("failed to close event bus")
		return
	}
	logger.Info("event bus closed")
}

// closeKafka закрывает producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	}
}
