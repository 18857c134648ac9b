package saga

import (
	"context"
	"errors"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// Disposition решает судьбу сообщения по ошибке обработчика.
// При redeliver=true сообщение возвращается брокеру, иначе подтверждается.
func Disposition(err error) (result string, redeliver bool) {
	switch {
	case err == nil:
		return ResultApplied, false
	case errors.Is(err, domain.ErrDuplicateRequest):
		return ResultDuplicate, false
	case errors.Is(err, domain.ErrInvalidTransition):
		return ResultInvalidTransition, false
	case domain.IsTransient(err), errors.Is(err, context.Canceled):
		return ResultRetry, true
	default:
		return ResultDropped, false
	}
}
