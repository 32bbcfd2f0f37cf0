package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

const defaultTTL = 24 * time.Hour

// ErrInProgress - запрос с тем же ключом ещё выполняется.
var ErrInProgress = errors.New("idempotent request in progress")

// Outcome - ответ, который запоминается под ключом и отдаётся при повторе.
// Code трактует транспорт: HTTP-статус для REST, код gRPC для gRPC.
type Outcome struct {
	Code   int
	Body   []byte
	Failed bool
}

// Runner выполняет операцию не более одного раза на idempotency-key.
type Runner struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	now    func() time.Time
	logger *log.Entry
}

// RunnerOption настраивает Runner.
type RunnerOption func(*Runner)

// WithTTL задаёт срок жизни ключа.
func WithTTL(ttl time.Duration) RunnerOption {
	return func(r *Runner) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithRunnerLogger задаёт logger.
func WithRunnerLogger(logger *log.Entry) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRunner создаёт Runner. repo == nil отключает идемпотентность: fn выполняется всегда.
func NewRunner(repo domain.IdempotencyRepository, options ...RunnerOption) *Runner {
	r := &Runner{
		repo:   repo,
		ttl:    defaultTTL,
		now:    time.Now,
		logger: log.WithField("component", "idempotency"),
	}
	for _, option := range options {
		option(r)
	}
	return r
}

// RequestHash считает отпечаток запроса в пределах scope (обычно имя метода).
func RequestHash(scope string, request []byte) string {
	payload := make([]byte, 0, len(scope)+1+len(request))
	payload = append(payload, scope...)
	payload = append(payload, ':')
	payload = append(payload, request...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Do выполняет fn под ключом key. Второй результат сообщает, что ответ взят из сохранённой записи.
//
// Ошибка fn означает временный сбой: ключ снимается, чтобы клиент мог повторить запрос.
// Бизнес-отказы fn должен вернуть как Outcome с Failed=true, они запоминаются и повторяются.
func (r *Runner) Do(ctx context.Context, key, scope string, request []byte, fn func(ctx context.Context) (Outcome, error)) (Outcome, bool, error) {
	key = strings.TrimSpace(key)
	if r == nil || r.repo == nil || key == "" {
		outcome, err := fn(ctx)
		return outcome, false, err
	}

	record, err := r.repo.CreateProcessing(ctx, key, RequestHash(scope, request), r.now().UTC().Add(r.ttl))
	if err != nil {
		return r.replay(key, record, err)
	}

	outcome, runErr := fn(ctx)
	if runErr != nil {
		if delErr := r.repo.Delete(ctx, key); delErr != nil {
			r.logger.WithError(delErr).WithField("idempotency_key", key).Warn("failed to release idempotency key")
		}
		return Outcome{}, false, runErr
	}

	mark := r.repo.MarkDone
	if outcome.Failed {
		mark = r.repo.MarkFailed
	}
	if err := mark(ctx, key, outcome.Body, outcome.Code); err != nil {
		r.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent response")
	}
	return outcome, false, nil
}

func (r *Runner) replay(key string, record domain.IdempotencyRecord, createErr error) (Outcome, bool, error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return Outcome{}, false, domain.Conflict("idempotency key is already used with different request payload")
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone, domain.IdempotencyStatusFailed:
			return Outcome{
				Code:   record.ResponseCode,
				Body:   record.ResponseBody,
				Failed: record.Status == domain.IdempotencyStatusFailed,
			}, true, nil
		case domain.IdempotencyStatusProcessing:
			return Outcome{}, false, &domain.Error{
				Kind:    domain.KindConflict,
				Message: "request with the same idempotency key is already processing",
				Err:     ErrInProgress,
			}
		default:
			return Outcome{}, false, domain.Internal("replay idempotent response", errors.New("unknown idempotency record status"))
		}
	case errors.Is(createErr, domain.ErrIdempotencyKeyRequired):
		return Outcome{}, false, domain.NewError(domain.KindValidation, createErr.Error())
	default:
		r.logger.WithError(createErr).WithField("idempotency_key", key).Warn("failed to create idempotency record")
		return Outcome{}, false, domain.Internal("create idempotency record", createErr)
	}
}
