package payment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

func TestMockGateway(t *testing.T) {
	ctx := context.Background()
	gw := NewMockGateway()

	p, err := gw.Charge(ctx, 1, 500, "card")
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusCaptured, p.Status)
	require.NotEmpty(t, p.Reference)

	again, err := gw.Charge(ctx, 1, 500, "card")
	require.NoError(t, err)
	require.Equal(t, p.Reference, again.Reference)

	gw.DeclineAboveMinor = 100
	_, err = gw.Charge(ctx, 2, 500, "card")
	require.ErrorIs(t, err, domain.ErrPaymentDeclined)

	gw.FailTimes = 1
	_, err = gw.Charge(ctx, 3, 50, "card")
	require.ErrorIs(t, err, domain.ErrPaymentTemporary)
	_, err = gw.Charge(ctx, 3, 50, "card")
	require.NoError(t, err)
	require.Equal(t, 5, gw.Calls)
}
