package resilience

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// RetryConfig конфигурация для retry логики.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// Normalize подставляет дефолты вместо нулевых и некорректных значений.
func (c RetryConfig) Normalize() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = def.BackoffFactor
	}
	return c
}

// Delay возвращает паузу перед попыткой attempt+1 (attempt считается с 1).
func (c RetryConfig) Delay(attempt int) time.Duration {
	delay := c.InitialDelay
	for i := 1; i < attempt; i++ {
		// Экспоненциальная задержка с ограничением
		delay = time.Duration(float64(delay) * c.BackoffFactor)
		if delay > c.MaxDelay {
			return c.MaxDelay
		}
	}
	if delay > c.MaxDelay {
		return c.MaxDelay
	}
	return delay
}

// Sleep ждет d или отмены контекста.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retry выполняет fn до MaxAttempts раз. shouldRetry == nil означает "повторять любую ошибку".
// Возвращает число сделанных попыток и последнюю ошибку.
func Retry(
	ctx context.Context,
	cfg RetryConfig,
	logger *log.Entry,
	operation string,
	shouldRetry func(error) bool,
	fn func(ctx context.Context) error,
) (int, error) {
	cfg = cfg.Normalize()
	if logger == nil {
		logger = log.WithField("component", "retry")
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				logger.WithFields(log.Fields{
					"operation": operation,
					"attempt":   attempt,
				}).Info("Operation succeeded after retry")
			}
			return attempt, nil
		}
		lastErr = err

		if shouldRetry != nil && !shouldRetry(err) {
			logger.WithFields(log.Fields{
				"operation": operation,
				"error":     err,
			}).Warn("Operation failed with non-retryable error")
			return attempt, err
		}

		if attempt < cfg.MaxAttempts {
			delay := cfg.Delay(attempt)
			logger.WithFields(log.Fields{
				"operation": operation,
				"attempt":   attempt,
				"delay":     delay,
				"error":     err,
			}).Warn("Operation failed, retrying")

			if sleepErr := Sleep(ctx, delay); sleepErr != nil {
				return attempt, lastErr
			}
		}
	}

	logger.WithFields(log.Fields{
		"operation":    operation,
		"max_attempts": cfg.MaxAttempts,
		"error":        lastErr,
	}).Error("Operation failed after all retry attempts")
	return cfg.MaxAttempts, lastErr
}
