package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

func TestOrderRepository_PostgresCreateGetListAndSave(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)
	ctx := context.Background()

	now := time.Now().UTC().Round(time.Microsecond)
	order1 := sampleOrder(t, "buyer-1", now.Add(-2*time.Minute))
	order2 := sampleOrder(t, "buyer-1", now.Add(-time.Minute))

	if err := repo.Create(ctx, order1); err != nil {
		t.Fatalf("create order1: %v", err)
	}
	if err := repo.Create(ctx, order2); err != nil {
		t.Fatalf("create order2: %v", err)
	}
	if order1.ID == 0 || order2.ID <= order1.ID {
		t.Fatalf("expected sequential ids, got %d and %d", order1.ID, order2.ID)
	}

	got, err := repo.Get(ctx, order1.ID)
	if err != nil {
		t.Fatalf("get order1: %v", err)
	}
	if got.BuyerID != order1.BuyerID || got.Status != domain.OrderStatusSubmitted || got.Address.City != "Kazan" {
		t.Fatalf("unexpected order payload: %+v", got)
	}
	if len(got.Items) != 2 || got.Items[0].ProductID != 1 {
		t.Fatalf("unexpected items: %+v", got.Items)
	}

	listed, err := repo.ListByBuyer(ctx, "buyer-1", 1)
	if err != nil {
		t.Fatalf("list by buyer with limit: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != order2.ID {
		t.Fatalf("unexpected list result with limit: %+v", listed)
	}

	if _, err := got.SetAwaitingValidationStatus(); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := repo.Save(ctx, &got); err != nil {
		t.Fatalf("save order: %v", err)
	}
	if got.Version != 1 {
		t.Fatalf("expected version 1 after save, got %d", got.Version)
	}

	updated, err := repo.Get(ctx, order1.ID)
	if err != nil {
		t.Fatalf("get updated order: %v", err)
	}
	if updated.Status != domain.OrderStatusAwaitingValidation || updated.Version != 1 {
		t.Fatalf("unexpected order after save: status=%s version=%d", updated.Status, updated.Version)
	}
}

func TestOrderRepository_PostgresExplicitID(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)
	ctx := context.Background()

	order := sampleOrder(t, "buyer-42", time.Now().UTC())
	order.ID = 42
	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create explicit id: %v", err)
	}

	next := sampleOrder(t, "buyer-42", time.Now().UTC())
	if err := repo.Create(ctx, next); err != nil {
		t.Fatalf("create after explicit id: %v", err)
	}
	if next.ID <= 42 {
		t.Fatalf("sequence must move past explicit id, got %d", next.ID)
	}
}

func TestOrderRepository_PostgresErrors(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)
	ctx := context.Background()

	if _, err := repo.Get(ctx, 999999); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}

	missing := sampleOrder(t, "buyer-2", time.Now().UTC())
	missing.ID = 999999
	if err := repo.Save(ctx, missing); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound on save missing, got %v", err)
	}

	base := sampleOrder(t, "buyer-2", time.Now().UTC())
	if err := repo.Create(ctx, base); err != nil {
		t.Fatalf("create base order: %v", err)
	}
	dup := sampleOrder(t, "buyer-2", time.Now().UTC())
	dup.ID = base.ID
	if err := repo.Create(ctx, dup); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected ErrOrderVersionConflict on duplicate create, got %v", err)
	}

	stale, err := repo.Get(ctx, base.ID)
	if err != nil {
		t.Fatalf("get base: %v", err)
	}
	stale.Version = 42
	if _, err := stale.SetCancelledStatus("stale"); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := repo.Save(ctx, &stale); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected ErrOrderVersionConflict on stale save, got %v", err)
	}
}

func TestOrderRepository_PostgresClosedStoreIsUnavailable(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)
	_ = store.Close()

	_, err := repo.Get(context.Background(), 1)
	if !errors.Is(err, domain.ErrPersistenceUnavailable) {
		t.Fatalf("expected ErrPersistenceUnavailable, got %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Fatal("expected unique violation for code 23505")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "22001"}) {
		t.Fatal("unexpected unique violation for non-unique code")
	}
	if isUniqueViolation(errors.New("plain error")) {
		t.Fatal("plain error must not be unique violation")
	}
}

func TestUnavailableKeepsCancellation(t *testing.T) {
	err := unavailable("op", context.Canceled)
	if errors.Is(err, domain.ErrPersistenceUnavailable) {
		t.Fatal("caller cancellation must not look like an outage")
	}
	if !errors.Is(unavailable("op", errors.New("conn refused")), domain.ErrPersistenceUnavailable) {
		t.Fatal("infrastructure error must be marked unavailable")
	}
}

func sampleOrder(t *testing.T, buyerID string, createdAt time.Time) *domain.Order {
	t.Helper()

	order, err := domain.NewOrder(buyerID, domain.Address{City: "Kazan", Country: "RU"}, "card-1", []domain.OrderItem{
		{ProductID: 1, ProductName: "A", UnitPriceMinor: 150, Units: 2},
		{ProductID: 2, ProductName: "B", UnitPriceMinor: 300, Units: 1},
	}, createdAt)
	if err != nil {
		t.Fatalf("new order: %v", err)
	}
	return order
}
