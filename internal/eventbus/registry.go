package eventbus

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Registry — таблица соответствия имени события и обработчика.
// Повторная регистрация и диспетчеризация без обработчика считаются ошибкой программиста и вызывают panic.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register добавляет обработчик для имени события.
func (r *Registry) Register(name string, h Handler) {
	if name == "" || h == nil {
		panic("eventbus: register requires name and handler")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		panic(fmt.Sprintf("eventbus: handler for %s already registered", name))
	}
	r.handlers[name] = h
}

// Lookup возвращает обработчик, если он зарегистрирован.
func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Dispatch вызывает обработчик события. Без обработчика будет panic.
func (r *Registry) Dispatch(ctx context.Context, ev IntegrationEvent) error {
	h, ok := r.Lookup(ev.Name)
	if !ok {
		panic(fmt.Sprintf("eventbus: no handler registered for %s", ev.Name))
	}
	return h(ctx, ev)
}

// Names возвращает отсортированный список зарегистрированных имен.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
