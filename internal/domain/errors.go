package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrValidation — общий предок ошибок валидации входных данных.
	ErrValidation = errors.New("validation failed")
	// Ошибка отсутствующего идентификатора покупателя.
	ErrBuyerRequired = fmt.Errorf("%w: buyer_id is required", ErrValidation)
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = fmt.Errorf("%w: order must contain at least one item", ErrValidation)
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemUnitsInvalid = fmt.Errorf("%w: item units must be greater than zero", ErrValidation)
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = fmt.Errorf("%w: item price must be non-negative", ErrValidation)
	// Ошибка, если один товар добавлен с разной ценой.
	ErrItemPriceMismatch = fmt.Errorf("%w: item price differs for the same product", ErrValidation)
	// ErrItemsLocked — позиции нельзя менять после проверки остатков.
	ErrItemsLocked = fmt.Errorf("%w: order items are immutable in this status", ErrValidation)
	// ErrRequestIDRequired — команда пришла без идентификатора запроса.
	ErrRequestIDRequired = fmt.Errorf("%w: request id is required", ErrValidation)

	// ErrInvalidTransition — переход запрещён таблицей статусов. Не ретраится.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrDuplicateRequest — запрос с таким идентификатором уже обрабатывался.
	ErrDuplicateRequest = errors.New("duplicate request")
	// ErrPersistenceUnavailable — хранилище недоступно, операцию можно повторить.
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
	// ErrPublishFailure — событие не удалось опубликовать после всех попыток.
	ErrPublishFailure = errors.New("publish failure")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrUnknownOrder — событие ссылается на несуществующий заказ.
	ErrUnknownOrder = ErrOrderNotFound
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrStockUnavailable — склад не может покрыть позицию (бизнес-ошибка).
	ErrStockUnavailable = errors.New("stock unavailable")
	// ErrPaymentDeclined — платёж отклонён провайдером (бизнес-ошибка).
	ErrPaymentDeclined = errors.New("payment declined")
	// ErrPaymentTemporary — временная ошибка платёжного провайдера.
	ErrPaymentTemporary = errors.New("payment temporary error")
)

// TransitionError описывает конкретный отвергнутый переход.
type TransitionError struct {
	OrderID int64
	From    OrderStatus
	To      OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %d: %s -> %s: %s", e.OrderID, e.From, e.To, ErrInvalidTransition)
}

// Is позволяет сравнивать через errors.Is(err, ErrInvalidTransition).
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsTransient сообщает, имеет ли смысл повторная доставка сообщения.
// Неизвестный заказ считается временной ошибкой: запись могла ещё не стать видимой.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrPersistenceUnavailable),
		errors.Is(err, ErrPublishFailure),
		errors.Is(err, ErrOrderVersionConflict),
		errors.Is(err, ErrUnknownOrder),
		errors.Is(err, ErrPaymentTemporary),
		errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		return false
	}
}

// Kind возвращает стабильное имя класса ошибки для метрик, логов и кодов gRPC.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrDuplicateRequest):
		return "duplicate_request"
	case errors.Is(err, ErrPersistenceUnavailable):
		return "persistence_unavailable"
	case errors.Is(err, ErrPublishFailure):
		return "publish_failure"
	case errors.Is(err, ErrUnknownOrder):
		return "unknown_order"
	case errors.Is(err, ErrOrderVersionConflict):
		return "version_conflict"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "internal"
	}
}
