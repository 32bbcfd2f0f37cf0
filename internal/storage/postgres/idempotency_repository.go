package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

const defaultIdempotencyTTL = 24 * time.Hour

// Истёкший ключ занимается заново тем же запросом: строка перезаписывается только
// при ttl_at <= now, иначе RETURNING ничего не вернёт.
const claimIdempotencyKeySQL = `
	INSERT INTO idempotency_keys (key, request_hash, status, ttl_at, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $5)
	ON CONFLICT (key) DO UPDATE
	SET request_hash  = EXCLUDED.request_hash,
	    response_body = NULL,
	    response_code = NULL,
	    status        = EXCLUDED.status,
	    ttl_at        = EXCLUDED.ttl_at,
	    created_at    = EXCLUDED.created_at,
	    updated_at    = EXCLUDED.updated_at
	WHERE idempotency_keys.ttl_at <= EXCLUDED.created_at
	RETURNING key`

const selectIdempotencyKeySQL = `
	SELECT key, request_hash, response_body, response_code, status, ttl_at, created_at, updated_at
	FROM idempotency_keys
	WHERE key = $1 AND ttl_at > $2`

// IdempotencyRepository хранит ключи идемпотентности в таблице idempotency_keys.
// Работает вне транзакций заказа: ключ фиксируется до бизнес-операции и переживает её откат.
type IdempotencyRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewIdempotencyRepository создаёт репозиторий поверх открытого Store.
func NewIdempotencyRepository(store *Store) *IdempotencyRepository {
	return &IdempotencyRepository{
		db:  store.DB(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *IdempotencyRepository) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}
	requestHash = strings.TrimSpace(requestHash)
	if requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := r.now()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultIdempotencyTTL)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var claimed string
	err := r.db.QueryRowContext(ctx, claimIdempotencyKeySQL,
		key, requestHash, string(domain.IdempotencyStatusProcessing), ttlAt, now,
	).Scan(&claimed)
	switch {
	case err == nil:
		return domain.IdempotencyRecord{
			Key:         key,
			RequestHash: requestHash,
			Status:      domain.IdempotencyStatusProcessing,
			TTLAt:       ttlAt,
			CreatedAt:   now,
			UpdatedAt:   now,
		}, nil
	case errors.Is(err, sql.ErrNoRows):
		// Ключ занят живой записью.
		existing, getErr := r.get(ctx, key, now)
		if getErr != nil {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
		}
		if !existing.Matches(requestHash) {
			return existing, domain.ErrIdempotencyHashMismatch
		}
		return existing, domain.ErrIdempotencyKeyAlreadyExists
	default:
		return domain.IdempotencyRecord{}, fmt.Errorf("claim idempotency key: %w", err)
	}
}

// Get возвращает живую запись; истёкшая считается отсутствующей.
func (r *IdempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return r.get(ctx, key, r.now())
}

func (r *IdempotencyRepository) get(ctx context.Context, key string, now time.Time) (domain.IdempotencyRecord, error) {
	var (
		record domain.IdempotencyRecord
		status string
		body   []byte
		code   sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, selectIdempotencyKeySQL, key, now).Scan(
		&record.Key, &record.RequestHash, &body, &code, &status,
		&record.TTLAt, &record.CreatedAt, &record.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency key %s: %w", key, err)
	}

	record.Status = domain.IdempotencyStatus(status)
	if !record.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("idempotency key %s has unknown status %q", key, status)
	}
	record.ResponseBody = body
	record.ResponseCode = int(code.Int64)
	return record, nil
}

func (r *IdempotencyRepository) MarkDone(ctx context.Context, key string, responseBody []byte, responseCode int) error {
	return r.finish(ctx, key, domain.IdempotencyStatusDone, responseBody, responseCode)
}

func (r *IdempotencyRepository) MarkFailed(ctx context.Context, key string, responseBody []byte, responseCode int) error {
	return r.finish(ctx, key, domain.IdempotencyStatusFailed, responseBody, responseCode)
}

// Delete освобождает ключ; отсутствие ключа ошибкой не считается.
func (r *IdempotencyRepository) Delete(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE key = $1`, key); err != nil {
		return fmt.Errorf("release idempotency key %s: %w", key, err)
	}
	return nil
}

// DeleteExpired удаляет до limit истёкших ключей, начиная с самых старых. limit <= 0 снимает ограничение.
func (r *IdempotencyRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.now()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// LIMIT NULL в PostgreSQL означает отсутствие ограничения.
	var batch sql.NullInt64
	if limit > 0 {
		batch = sql.NullInt64{Int64: int64(limit), Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM idempotency_keys
		WHERE key IN (
			SELECT key FROM idempotency_keys
			WHERE ttl_at <= $1
			ORDER BY ttl_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)`, before, batch)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: %w", err)
	}
	return int(n), nil
}

func (r *IdempotencyRepository) finish(ctx context.Context, key string, status domain.IdempotencyStatus, responseBody []byte, responseCode int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET response_body = $2, response_code = $3, status = $4, updated_at = $5
		WHERE key = $1`,
		key, responseBody, responseCode, string(status), r.now(),
	)
	if err != nil {
		return fmt.Errorf("store idempotent response for %s: %w", key, err)
	}

	return expectAffected(res, domain.ErrIdempotencyKeyNotFound)
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
