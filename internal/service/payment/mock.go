package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// MockGateway — симулированный банк для разработки и тестов.
// Повторное списание по тому же заказу возвращает прежний результат.
type MockGateway struct {
	mu sync.Mutex

	// DeclineAboveMinor — суммы больше порога отклоняются. 0 отключает проверку.
	DeclineAboveMinor int64
	// FailTimes — сколько ближайших вызовов завершатся временной ошибкой.
	FailTimes int

	Calls    int
	payments map[int64]domain.Payment
}

// NewMockGateway возвращает банк, который принимает любые платежи.
func NewMockGateway() *MockGateway {
	return &MockGateway{payments: make(map[int64]domain.Payment)}
}

// Charge списывает amountMinor по заказу.
func (m *MockGateway) Charge(ctx context.Context, orderID int64, amountMinor int64, paymentRef string) (domain.Payment, error) {
	if err := ctx.Err(); err != nil {
		return domain.Payment{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++

	if m.FailTimes > 0 {
		m.FailTimes--
		return domain.Payment{}, fmt.Errorf("%w: simulated bank timeout", domain.ErrPaymentTemporary)
	}
	if p, ok := m.payments[orderID]; ok {
		if p.Status == domain.PaymentStatusDeclined {
			return p, domain.ErrPaymentDeclined
		}
		return p, nil
	}

	p := domain.Payment{
		OrderID:     orderID,
		Reference:   "pay-" + uuid.NewString(),
		Provider:    "simulated-bank",
		ExternalID:  paymentRef,
		Status:      domain.PaymentStatusCaptured,
		AmountMinor: amountMinor,
		CreatedAt:   time.Now().UTC(),
	}
	if m.DeclineAboveMinor > 0 && amountMinor > m.DeclineAboveMinor {
		p.Status = domain.PaymentStatusDeclined
	}
	m.payments[orderID] = p

	if p.Status == domain.PaymentStatusDeclined {
		return p, domain.ErrPaymentDeclined
	}
	return p, nil
}

var _ domain.PaymentGateway = (*MockGateway)(nil)
