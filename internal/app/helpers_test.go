package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/eventbus"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/ordering"
)

// testConfig — конфигурация в памяти с коротким grace period и свободными портами.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.GracePeriod = time.Millisecond
	cfg.GraceCheckInterval = 10 * time.Millisecond
	cfg.PublishInitialDelay = time.Millisecond
	return cfg
}

func newTestApplication(t *testing.T, mutate func(*Config)) *application {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := newApplication(context.Background(), cfg)
	if err != nil {
		t.Fatalf("newApplication failed: %v", err)
	}
	t.Cleanup(a.close)
	return a
}

func newTestOrderCommand(productID int64, units int32) ordering.CreateOrderCommand {
	return ordering.CreateOrderCommand{
		BuyerID:    "buyer-1",
		PaymentRef: "card-4242",
		Address:    domain.Address{Street: "Main 1", City: "Riga", Country: "LV", ZipCode: "1010"},
		Items: []ordering.ItemInput{
			{ProductID: productID, ProductName: "Mug", UnitPriceMinor: 1500, Units: units},
		},
	}
}

// recordingSubscriber запоминает имена событий, на которые подписались.
type recordingSubscriber struct {
	mu    sync.Mutex
	names []string
}

func (s *recordingSubscriber) Subscribe(name string, _ eventbus.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = append(s.names, name)
}

func (s *recordingSubscriber) Publish(context.Context, eventbus.IntegrationEvent) error {
	return nil
}
