package eventbus

import "context"

// Handler обрабатывает одно событие. Ошибка означает nack: сообщение будет доставлено повторно.
type Handler func(ctx context.Context, ev IntegrationEvent) error

// Publisher публикует интеграционные события.
type Publisher interface {
	Publish(ctx context.Context, ev IntegrationEvent) error
}

// Subscriber регистрирует обработчик на имя события.
type Subscriber interface {
	Subscribe(name string, h Handler)
}

// Bus объединяет публикацию и подписку.
type Bus interface {
	Publisher
	Subscriber
}

// PublisherFunc позволяет использовать функцию как Publisher.
type PublisherFunc func(ctx context.Context, ev IntegrationEvent) error

func (f PublisherFunc) Publish(ctx context.Context, ev IntegrationEvent) error {
	return f(ctx, ev)
}
