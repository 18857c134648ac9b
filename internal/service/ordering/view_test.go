package ordering

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

func TestNewOrderView_Projection(t *testing.T) {
	order := domain.Order{
		ID:      3,
		BuyerID: "b",
		Status:  domain.OrderStatusShipped,
		Items:   []domain.OrderItem{{ProductID: 1, UnitPriceMinor: 250, Units: 4}},
	}
	timeline := []domain.TimelineEvent{{Type: "OrderStatusChangedToShipped", From: domain.OrderStatusPaid, To: domain.OrderStatusShipped, Occurred: time.Now()}}

	full := NewOrderView(order, timeline, true)
	require.Equal(t, "shipped", full.Status)
	require.Equal(t, int64(1000), full.TotalMinor)
	require.Equal(t, "shipped", full.Timeline[0].To)

	projected := NewOrderView(order, timeline, false)
	require.Equal(t, "paid", projected.Status)
	require.Equal(t, "paid", projected.Timeline[0].To)
}
