package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/storage/memory"
)

func TestStockRepository_ReserveAllOrNothing(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStockRepository(map[int64]int32{1: 5, 2: 1})

	result, err := repo.Reserve(ctx, 10, []domain.OrderStockItem{{ProductID: 1, Units: 2}, {ProductID: 2, Units: 3}})
	require.NoError(t, err)
	require.Equal(t, []domain.ConfirmedOrderStockItem{{ProductID: 1, HasStock: true}, {ProductID: 2, HasStock: false}}, result)

	left, _ := repo.Available(ctx, 1)
	require.Equal(t, int32(5), left, "rejected reservation must not touch stock")
}

func TestStockRepository_ReserveIsIdempotentAndReleasable(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStockRepository(map[int64]int32{1: 5})
	items := []domain.OrderStockItem{{ProductID: 1, Units: 2}}

	_, err := repo.Reserve(ctx, 10, items)
	require.NoError(t, err)
	_, err = repo.Reserve(ctx, 10, items)
	require.NoError(t, err)

	left, _ := repo.Available(ctx, 1)
	require.Equal(t, int32(3), left)

	require.NoError(t, repo.Release(ctx, 10))
	require.NoError(t, repo.Release(ctx, 10))
	left, _ = repo.Available(ctx, 1)
	require.Equal(t, int32(5), left)
}
