package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

const (
	defaultCleanupInterval  = time.Minute
	defaultCleanupBatchSize = 500
)

var (
	expiredKeysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ordercore_idempotency_keys_expired_total",
		Help: "Idempotency keys removed after their TTL elapsed.",
	})
	sweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ordercore_idempotency_sweep_duration_seconds",
		Help:    "Duration of one idempotency sweep grouped by result.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	}, []string{"result"})
)

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupWorker)

// WithLogger задает logger для воркера.
func WithLogger(logger *log.Entry) CleanupOption {
	return func(w *CleanupWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithInterval задает паузу между проходами. Неположительное значение игнорируется.
func WithInterval(interval time.Duration) CleanupOption {
	return func(w *CleanupWorker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithBatchSize ограничивает число ключей, удаляемых одним запросом к хранилищу.
func WithBatchSize(batchSize int) CleanupOption {
	return func(w *CleanupWorker) {
		if batchSize > 0 {
			w.batchSize = batchSize
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) CleanupOption {
	return func(w *CleanupWorker) {
		if now != nil {
			w.now = now
		}
	}
}

// SweepResult описывает один проход очистки.
type SweepResult struct {
	Cutoff  time.Time
	Deleted int
	Batches int
}

// CleanupWorker удаляет ключи идемпотентности, чей TTL истёк. Ключ, оставшийся в
// processing после падения процесса, тоже истекает и освобождается этим же проходом.
type CleanupWorker struct {
	repo      domain.IdempotencyRepository
	logger    *log.Entry
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// NewCleanupWorker создает воркер очистки.
func NewCleanupWorker(repo domain.IdempotencyRepository, options ...CleanupOption) *CleanupWorker {
	w := &CleanupWorker{
		repo:      repo,
		logger:    log.WithField("component", "idempotency-cleanup"),
		interval:  defaultCleanupInterval,
		batchSize: defaultCleanupBatchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(w)
	}
	return w
}

// Run делает проход сразу и затем раз в interval, пока ctx не отменён.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("idempotency store is not configured, cleanup disabled")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.runOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) runOnce(ctx context.Context) {
	started := time.Now()
	res, err := w.Sweep(ctx)

	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		sweepDuration.WithLabelValues("error").Observe(time.Since(started).Seconds())
		w.logger.WithError(err).WithField("deleted", res.Deleted).Warn("idempotency sweep failed")
		return
	}

	sweepDuration.WithLabelValues("ok").Observe(time.Since(started).Seconds())
	if res.Deleted > 0 {
		w.logger.WithFields(log.Fields{
			"deleted": res.Deleted,
			"batches": res.Batches,
		}).Info("expired idempotency keys removed")
	}
}

// Sweep удаляет все ключи с TTL не позже текущего момента, порциями по batchSize.
// Неполная порция означает, что просроченных ключей не осталось.
func (w *CleanupWorker) Sweep(ctx context.Context) (SweepResult, error) {
	res := SweepResult{Cutoff: w.now()}

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		n, err := w.repo.DeleteExpired(ctx, res.Cutoff, w.batchSize)
		if err != nil {
			return res, err
		}
		res.Batches++
		res.Deleted += n
		expiredKeysTotal.Add(float64(n))

		if n < w.batchSize {
			return res, nil
		}
	}
}
