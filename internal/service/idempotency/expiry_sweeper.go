package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

const (
	defaultSweepInterval   = 15 * time.Minute
	defaultSweepBatchSize  = 500
	defaultSweepMaxBatches = 20
	defaultBacklogDelay    = 5 * time.Second
)

var (
	sweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ordering_processed_requests_sweep_runs_total",
		Help: "Total number of processed-request expiry sweeps grouped by outcome (ok, backlog, error).",
	}, []string{"outcome"})
	sweepDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ordering_processed_requests_swept_total",
		Help: "Total number of expired processed-request records removed by the sweeper.",
	})
	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ordering_processed_requests_sweep_duration_seconds",
		Help:    "Duration of a single processed-request expiry sweep.",
		Buckets: prometheus.DefBuckets,
	})
)

// SweepReport — итог одного прохода очистки.
type SweepReport struct {
	// Cutoff — момент, раньше которого истёкшие записи удалялись.
	Cutoff  time.Time
	Deleted int
	Batches int
	// Backlog выставляется, когда проход остановлен лимитом батчей и просроченные записи могли остаться.
	Backlog bool
}

// ExpirySweeper удаляет записи идемпотентности с истёкшим expires_at.
// Один проход ограничен maxBatches порциями; остаток добирается через backlogDelay, а не через полный интервал.
type ExpirySweeper struct {
	repo         domain.ProcessedRequestRepository
	logger       *log.Entry
	interval     time.Duration
	backlogDelay time.Duration
	batchSize    int
	maxBatches   int
	now          func() time.Time
}

// SweeperOption настраивает ExpirySweeper.
type SweeperOption func(*ExpirySweeper)

// WithSweepLogger задает logger.
func WithSweepLogger(logger *log.Entry) SweeperOption {
	return func(s *ExpirySweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSweepInterval задает паузу между проходами.
func WithSweepInterval(interval time.Duration) SweeperOption {
	return func(s *ExpirySweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithSweepBatches задает размер порции и число порций за проход.
func WithSweepBatches(batchSize, maxBatches int) SweeperOption {
	return func(s *ExpirySweeper) {
		if batchSize > 0 {
			s.batchSize = batchSize
		}
		if maxBatches > 0 {
			s.maxBatches = maxBatches
		}
	}
}

// WithBacklogDelay задает паузу перед следующим проходом, если предыдущий упёрся в лимит батчей.
func WithBacklogDelay(delay time.Duration) SweeperOption {
	return func(s *ExpirySweeper) {
		if delay > 0 {
			s.backlogDelay = delay
		}
	}
}

// WithSweepClock подменяет источник времени.
func WithSweepClock(now func() time.Time) SweeperOption {
	return func(s *ExpirySweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// NewExpirySweeper создает sweeper поверх репозитория обработанных запросов.
func NewExpirySweeper(repo domain.ProcessedRequestRepository, opts ...SweeperOption) *ExpirySweeper {
	s := &ExpirySweeper{
		repo:         repo,
		logger:       log.WithField("component", "processed-requests-sweeper"),
		interval:     defaultSweepInterval,
		backlogDelay: defaultBacklogDelay,
		batchSize:    defaultSweepBatchSize,
		maxBatches:   defaultSweepMaxBatches,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.backlogDelay = min(s.backlogDelay, s.interval)
	return s
}

// Sweep выполняет один проход: удаляет записи, истёкшие к текущему моменту, не более maxBatches порций.
func (s *ExpirySweeper) Sweep(ctx context.Context) (SweepReport, error) {
	started := time.Now()
	defer func() { sweepDuration.Observe(time.Since(started).Seconds()) }()

	report := SweepReport{Cutoff: s.now()}
	for report.Batches < s.maxBatches {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		deleted, err := s.repo.DeleteExpired(ctx, report.Cutoff, s.batchSize)
		if err != nil {
			return report, fmt.Errorf("delete expired processed requests: %w", err)
		}
		report.Batches++
		report.Deleted += deleted
		sweepDeletedTotal.Add(float64(deleted))

		if deleted < s.batchSize {
			return report, nil
		}
	}

	report.Backlog = true
	return report, nil
}

// Run выполняет проходы до отмены ctx. Первый проход запускается сразу.
func (s *ExpirySweeper) Run(ctx context.Context) {
	if s.repo == nil {
		s.logger.Warn("expiry sweeper is disabled: repo is nil")
		return
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		timer.Reset(s.pass(ctx))
	}
}

// pass выполняет проход и возвращает паузу до следующего.
func (s *ExpirySweeper) pass(ctx context.Context) time.Duration {
	report, err := s.Sweep(ctx)
	entry := s.logger.WithFields(log.Fields{
		"deleted": report.Deleted,
		"batches": report.Batches,
	})

	switch {
	case errors.Is(err, context.Canceled):
		return s.interval
	case err != nil:
		sweepRunsTotal.WithLabelValues("error").Inc()
		entry.WithError(err).Warn("processed requests sweep failed")
		return s.interval
	case report.Backlog:
		sweepRunsTotal.WithLabelValues("backlog").Inc()
		entry.WithField("next_in", s.backlogDelay).Info("processed requests sweep hit batch limit")
		return s.backlogDelay
	default:
		sweepRunsTotal.WithLabelValues("ok").Inc()
		if report.Deleted > 0 {
			entry.Info("processed requests sweep completed")
		}
		return s.interval
	}
}
