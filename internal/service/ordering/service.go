package ordering

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/idempotency"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/saga"
)

// commandService — префикс request id команд, пришедших через API.
const commandService = "ordering-api"

const (
	defaultListLimit = 100
	maxListLimit     = 1000

	// CancelledByBuyerReason записывается в описание заказа при отмене покупателем.
	CancelledByBuyerReason = "cancelled by buyer"
	// SubmitFailedReason — причина отмены заказа, о создании которого не удалось сообщить.
	SubmitFailedReason = "order submission was not published"
)

// Имена команд для журнала идемпотентности и метрик.
const (
	CommandCreateOrderDraft            = "CreateOrderDraft"
	CommandCancelOrder                 = "CancelOrder"
	CommandSetStockRejectedOrderStatus = "SetStockRejectedOrderStatus"
	CommandShipOrder                   = "ShipOrder"
)

// ItemInput — позиция корзины, из которой создаётся заказ.
type ItemInput struct {
	ProductID      int64  `validate:"gt=0"`
	ProductName    string `validate:"max=256"`
	UnitPriceMinor int64  `validate:"gte=0"`
	Units          int32  `validate:"gt=0"`
	PictureURL     string `validate:"omitempty,url"`
}

// CreateOrderCommand — оформление корзины. В хранилище не попадает, из неё строится заказ.
type CreateOrderCommand struct {
	BuyerID    string      `validate:"required"`
	Items      []ItemInput `validate:"required,min=1,dive"`
	Address    domain.Address
	PaymentRef string
}

// Dependencies — зависимости сервиса команд.
type Dependencies struct {
	Orders       domain.OrderRepository
	Timeline     domain.TimelineRepository
	Transitioner *saga.Transitioner
	Guard        *idempotency.Guard
	Logger       *log.Entry
	Now          func() time.Time
}

// Service исполняет входящие команды над заказами.
type Service struct {
	orders       domain.OrderRepository
	timeline     domain.TimelineRepository
	transitioner *saga.Transitioner
	guard        *idempotency.Guard
	validate     *validator.Validate
	logger       *log.Entry
	now          func() time.Time
}

// NewService создаёт сервис команд. Timeline может быть nil, тогда History пустая.
func NewService(deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "ordering-service")
	}
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		orders:       deps.Orders,
		timeline:     deps.Timeline,
		transitioner: deps.Transitioner,
		guard:        deps.Guard,
		validate:     newValidator(),
		logger:       logger,
		now:          now,
	}
}

// CreateOrderDraft создаёт заказ в статусе Submitted и публикует OrderStarted.
// Любая ошибка возвращается вызывающему сразу; повтор requestID даёт ErrDuplicateRequest.
// Если OrderStarted не опубликован, заказ отменяется, а запись идемпотентности снимается:
// повтор с тем же requestID создаст новый заказ.
func (s *Service) CreateOrderDraft(ctx context.Context, requestID string, cmd CreateOrderCommand) (domain.Order, error) {
	requestID, err := normalizeRequestID(requestID)
	if err != nil {
		return domain.Order{}, err
	}
	if err := s.validate.StructCtx(ctx, cmd); err != nil {
		return domain.Order{}, validationError(err)
	}

	var created domain.Order
	err = s.guard.Run(ctx, saga.RequestID(commandService, requestID), CommandCreateOrderDraft, func(ctx context.Context) error {
		items := make([]domain.OrderItem, 0, len(cmd.Items))
		for _, item := range cmd.Items {
			items = append(items, domain.OrderItem{
				ProductID:      item.ProductID,
				ProductName:    item.ProductName,
				UnitPriceMinor: item.UnitPriceMinor,
				Units:          item.Units,
				PictureURL:     item.PictureURL,
			})
		}

		order, err := domain.NewOrder(cmd.BuyerID, cmd.Address, cmd.PaymentRef, items, s.now())
		if err != nil {
			return err
		}
		if err := s.orders.Create(ctx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		created = order.Clone()

		if err := s.transitioner.Publish(ctx, order); err != nil {
			s.abandonDraft(ctx, order.ID, err)
			return err
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.logger.WithFields(log.Fields{
		"order_id": created.ID,
		"buyer_id": created.BuyerID,
		"items":    len(created.Items),
	}).Info("order submitted")
	return created, nil
}

// abandonDraft отменяет сохранённый заказ, о создании которого сага так и не узнала.
// Без этого заказ остался бы в Submitted без проверки grace period.
func (s *Service) abandonDraft(ctx context.Context, orderID int64, cause error) {
	logger := s.logger.WithFields(log.Fields{
		"order_id": orderID,
		"cause":    cause.Error(),
	})

	cancelled, err := s.transitioner.Apply(context.WithoutCancel(ctx), orderID, func(o *domain.Order) (domain.DomainEvent, error) {
		return o.SetCancelledStatus(SubmitFailedReason)
	})
	if cancelled.Status != domain.OrderStatusCancelled {
		logger.WithError(err).Error("order persisted but neither published nor cancelled")
		return
	}
	if err != nil {
		logger.WithError(err).Warn("unpublished order cancelled, cancellation event not published")
		return
	}
	logger.Warn("unpublished order cancelled")
}

// CancelOrder отменяет заказ по запросу покупателя. Из Shipped и терминальных статусов отмена запрещена.
func (s *Service) CancelOrder(ctx context.Context, requestID string, orderID int64) (domain.Order, error) {
	return s.apply(ctx, requestID, CommandCancelOrder, orderID, func(o *domain.Order) (domain.DomainEvent, error) {
		return o.SetCancelledStatus(CancelledByBuyerReason)
	})
}

// SetStockRejectedOrderStatus отменяет заказ, для которого склад не подтвердил позиции.
func (s *Service) SetStockRejectedOrderStatus(ctx context.Context, requestID string, orderNumber int64, rejectedItemIDs []int64) (domain.Order, error) {
	return s.apply(ctx, requestID, CommandSetStockRejectedOrderStatus, orderNumber, func(o *domain.Order) (domain.DomainEvent, error) {
		return o.SetStockRejectedStatus(rejectedItemIDs)
	})
}

// ShipOrder — административная команда отгрузки оплаченного заказа.
func (s *Service) ShipOrder(ctx context.Context, requestID string, orderID int64) (domain.Order, error) {
	return s.apply(ctx, requestID, CommandShipOrder, orderID, func(o *domain.Order) (domain.DomainEvent, error) {
		return o.SetShippedStatus()
	})
}

func (s *Service) apply(ctx context.Context, requestID, command string, orderID int64, fn saga.Command) (domain.Order, error) {
	requestID, err := normalizeRequestID(requestID)
	if err != nil {
		return domain.Order{}, err
	}
	if orderID <= 0 {
		return domain.Order{}, fmt.Errorf("%w: order id must be positive", domain.ErrValidation)
	}

	logger := s.logger.WithFields(log.Fields{
		"command":    command,
		"order_id":   orderID,
		"request_id": requestID,
	})

	var updated domain.Order
	err = s.guard.Run(ctx, saga.RequestID(commandService, requestID), command, func(ctx context.Context) error {
		order, err := s.transitioner.Apply(ctx, orderID, fn)
		if err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		logger.WithError(err).WithField("kind", domain.Kind(err)).Warn("command rejected")
		return domain.Order{}, err
	}

	logger.WithField("status", updated.Status).Info("command applied")
	return updated, nil
}

// GetOrder возвращает текущее состояние заказа.
func (s *Service) GetOrder(ctx context.Context, orderID int64) (domain.Order, error) {
	return s.orders.Get(ctx, orderID)
}

// ListOrders возвращает заказы покупателя, новые первыми.
func (s *Service) ListOrders(ctx context.Context, buyerID string, limit int) ([]domain.Order, error) {
	if strings.TrimSpace(buyerID) == "" {
		return nil, domain.ErrBuyerRequired
	}
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	return s.orders.ListByBuyer(ctx, buyerID, limit)
}

// History возвращает историю статусов заказа.
func (s *Service) History(ctx context.Context, orderID int64) ([]domain.TimelineEvent, error) {
	if _, err := s.orders.Get(ctx, orderID); err != nil {
		return nil, err
	}
	if s.timeline == nil {
		return nil, nil
	}
	return s.timeline.List(ctx, orderID)
}

func normalizeRequestID(requestID string) (string, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return "", domain.ErrRequestIDRequired
	}
	return requestID, nil
}
