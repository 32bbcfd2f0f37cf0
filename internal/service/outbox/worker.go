package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	maxRetryDelay         = 30 * time.Second
)

var (
	outboxMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ordercore_outbox_messages_total",
		Help: "Outbox messages handled by the relay grouped by outcome.",
	}, []string{"outcome"})
	outboxPublishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ordercore_outbox_publish_errors_total",
		Help: "Failed broker publish attempts, including retried ones.",
	})
	outboxBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ordercore_outbox_backlog_messages",
		Help: "Messages waiting in the transactional outbox.",
	})
	outboxBacklogAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ordercore_outbox_backlog_age_seconds",
		Help: "Age of the oldest message waiting in the transactional outbox.",
	})
)

// Исходы обработки одного сообщения.
const (
	outcomeSent         = "sent"
	outcomeDeadLettered = "dead_lettered"
	outcomeDLQFailed    = "dlq_failed"
)

// Option настраивает Worker.
type Option func(*Worker)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithDLQPublisher задаёт publisher для сообщений, исчерпавших попытки.
// Без него такие сообщения только помечаются failed.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) { w.dlq = publisher }
}

// WithPollInterval задаёт паузу между циклами.
func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

// WithBatchSize ограничивает число сообщений за цикл.
func WithBatchSize(batchSize int) Option {
	return func(w *Worker) {
		if batchSize > 0 {
			w.batchSize = batchSize
		}
	}
}

// WithMaxAttempts задаёт число попыток публикации одного сообщения.
func WithMaxAttempts(maxAttempts int) Option {
	return func(w *Worker) {
		if maxAttempts > 0 {
			w.maxAttempts = maxAttempts
		}
	}
}

// WithRetryBaseDelay задаёт первую паузу между попытками; каждая следующая вдвое длиннее.
// Ноль отключает паузы.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(w *Worker) {
		if delay >= 0 {
			w.retryBaseDelay = delay
		}
	}
}

// BatchResult - итог одного цикла.
type BatchResult struct {
	Pulled       int
	Sent         int
	DeadLettered int
	// Deferred - сообщения, оставленные pending из-за остановки воркера.
	Deferred int
}

// Worker переносит события заказов из outbox в брокер. Сообщение, которое брокер
// так и не принял, помечается failed и уходит в DLQ с исходной нагрузкой.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	dlq       domain.OutboxPublisher
	logger    *log.Entry
	now       func() time.Time

	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
}

// NewWorker создаёт relay outbox.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	w := &Worker{
		repo:           repo,
		publisher:      publisher,
		logger:         log.WithField("component", "outbox-relay"),
		now:            time.Now,
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(w)
	}
	return w
}

// Run крутит циклы до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox relay disabled: no repository or publisher")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.ProcessOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce забирает порцию pending-сообщений и публикует их по порядку.
func (w *Worker) ProcessOnce(ctx context.Context) BatchResult {
	var res BatchResult
	if ctx.Err() != nil {
		return res
	}
	defer w.observeBacklog(ctx)

	batch, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("pull pending outbox messages")
		return res
	}
	res.Pulled = len(batch)

	for i, msg := range batch {
		if ctx.Err() != nil {
			// Остаток порции остаётся pending до следующего запуска.
			res.Deferred = len(batch) - i
			return res
		}

		attempts, err := w.publish(ctx, msg)
		switch {
		case err == nil:
			res.Sent++
			outboxMessagesTotal.WithLabelValues(outcomeSent).Inc()
			w.markSent(ctx, msg)
		case ctx.Err() != nil:
			res.Deferred = len(batch) - i
			return res
		default:
			res.DeadLettered++
			w.bury(ctx, msg, err, attempts)
		}
	}
	return res
}

// publish делает до maxAttempts попыток с экспоненциальной паузой.
func (w *Worker) publish(ctx context.Context, msg domain.OutboxMessage) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if lastErr = w.publisher.Publish(msg); lastErr == nil {
			return attempt, nil
		}
		outboxPublishErrors.Inc()

		if attempt == w.maxAttempts {
			break
		}
		if delay := w.backoff(attempt); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempt, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return w.maxAttempts, fmt.Errorf("%w after %d attempts: %v", domain.ErrOutboxPublish, w.maxAttempts, lastErr)
}

// backoff возвращает паузу после попытки attempt: base, 2*base, 4*base... не больше maxRetryDelay.
func (w *Worker) backoff(attempt int) time.Duration {
	if w.retryBaseDelay <= 0 || attempt < 1 {
		return 0
	}
	delay := w.retryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return min(delay, maxRetryDelay)
}

func (w *Worker) markSent(ctx context.Context, msg domain.OutboxMessage) {
	if err := w.repo.MarkSent(ctx, msg.ID); err != nil {
		// Сообщение будет опубликовано повторно; потребители дедуплицируют по ID.
		w.logger.WithError(err).WithField("outbox_id", msg.ID).Warn("mark outbox message sent")
	}
}

// bury помечает сообщение failed и отправляет его в DLQ.
func (w *Worker) bury(ctx context.Context, msg domain.OutboxMessage, cause error, attempts int) {
	entry := w.logger.WithFields(log.Fields{
		"outbox_id":    msg.ID,
		"aggregate_id": msg.AggregateID,
		"event_type":   msg.EventType,
	})
	entry.WithError(cause).Error("outbox message dead-lettered")
	outboxMessagesTotal.WithLabelValues(outcomeDeadLettered).Inc()

	if w.dlq != nil {
		letter, err := domain.NewDeadLetter(msg, cause, attempts, w.now()).Wrap()
		if err == nil {
			err = w.dlq.Publish(letter)
		}
		if err != nil {
			outboxMessagesTotal.WithLabelValues(outcomeDLQFailed).Inc()
			entry.WithError(err).Warn("publish to DLQ")
		}
	}

	if err := w.repo.MarkFailed(ctx, msg.ID); err != nil {
		entry.WithError(err).Warn("mark outbox message failed")
	}
}

func (w *Worker) observeBacklog(ctx context.Context) {
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Debug("outbox backlog stats unavailable")
		return
	}

	outboxBacklog.Set(float64(stats.PendingCount))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		outboxBacklogAge.Set(0)
		return
	}
	outboxBacklogAge.Set(max(w.now().Sub(stats.OldestPendingAt).Seconds(), 0))
}
