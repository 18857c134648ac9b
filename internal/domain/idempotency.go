package domain

import "time"

// ProcessedRequestStatus описывает жизненный цикл записи об обработанном запросе.
type ProcessedRequestStatus string

const (
	// ProcessedRequestProcessing — запрос принят и ещё обрабатывается.
	ProcessedRequestProcessing ProcessedRequestStatus = "processing"
	// ProcessedRequestDone — запрос обработан, повторы отбрасываются.
	ProcessedRequestDone ProcessedRequestStatus = "done"
)

// ProcessedRequest — запись идемпотентности: один раз на идентификатор запроса.
type ProcessedRequest struct {
	ID          string
	CommandType string
	Status      ProcessedRequestStatus
	ProcessedAt time.Time
	ExpiresAt   time.Time
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s ProcessedRequestStatus) Valid() bool {
	switch s {
	case ProcessedRequestProcessing, ProcessedRequestDone:
		return true
	default:
		return false
	}
}
