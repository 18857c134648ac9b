package resilience

import (
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// BreakerSettings — параметры circuit breaker. Нулевые значения заменяются дефолтами.
type BreakerSettings struct {
	Name         string
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	MinRequests  uint32
	FailureRatio float64
	// IsSuccessful решает, какие ошибки не считаются отказом зависимости.
	IsSuccessful func(err error) bool
}

// NewBreaker создает gobreaker.CircuitBreaker, который пишет смену состояния в лог.
func NewBreaker(s BreakerSettings, logger *log.Entry) *gobreaker.CircuitBreaker {
	if s.MaxRequests == 0 {
		s.MaxRequests = 3
	}
	if s.Interval <= 0 {
		s.Interval = 5 * time.Second
	}
	if s.Timeout <= 0 {
		s.Timeout = 10 * time.Second
	}
	if s.MinRequests == 0 {
		s.MinRequests = 5
	}
	if s.FailureRatio <= 0 {
		s.FailureRatio = 0.6
	}
	if logger == nil {
		logger = log.WithField("component", "circuit-breaker")
	}

	minRequests, ratio := s.MinRequests, s.FailureRatio
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= minRequests && failureRatio >= ratio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(log.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
		IsSuccessful: s.IsSuccessful,
	})
}

// ExecuteWithBreaker выполняет fn через breaker и возвращает типизированный результат.
func ExecuteWithBreaker[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	res, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	// gobreaker возвращает результат и при ошибке; nil-интерфейс превращается в нулевое значение T.
	v, _ := res.(T)
	return v, err
}

// IsOpen сообщает, что вызов отклонен открытым breaker.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
