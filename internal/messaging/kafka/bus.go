package kafka

import (
	"context"
	"errors"

	"github.com/vladislavdragonenkov/ordersaga/internal/eventbus"
)

// Bus — реализация eventbus.Bus поверх Kafka.
type Bus struct {
	producer *Producer
	consumer *Consumer
}

// NewBus связывает producer и consumer в одну шину.
func NewBus(producer *Producer, consumer *Consumer) *Bus {
	return &Bus{producer: producer, consumer: consumer}
}

func (b *Bus) Publish(ctx context.Context, ev eventbus.IntegrationEvent) error {
	return b.producer.Publish(ctx, ev)
}

func (b *Bus) Subscribe(name string, h eventbus.Handler) {
	b.consumer.Subscribe(name, h)
}

// Start запускает чтение подписанных топиков.
func (b *Bus) Start(ctx context.Context) error {
	return b.consumer.Start(ctx)
}

// Close останавливает consumer, затем producer.
func (b *Bus) Close() error {
	return errors.Join(b.consumer.Stop(), b.producer.Close())
}

var _ eventbus.Bus = (*Bus)(nil)
