package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

const (
	outboxPending = "pending"
	outboxSent    = "sent"
	outboxFailed  = "failed"

	defaultOutboxPullLimit = 100
)

const (
	insertOutboxSQL = `
		INSERT INTO outbox_messages
			(id, aggregate_type, aggregate_id, event_type, payload, status, attempt_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', 0, $6, $6)`

	// Порядок (created_at, id) совпадает с частичным индексом idx_outbox_messages_pending.
	selectPendingOutboxSQL = `
		SELECT id, aggregate_type, aggregate_id, event_type, payload
		FROM outbox_messages
		WHERE status = 'pending'
		ORDER BY created_at, id
		LIMIT $1`

	outboxBacklogSQL = `
		SELECT COUNT(*), MIN(created_at)
		FROM outbox_messages
		WHERE status = 'pending'`

	// Закрыть можно только pending-сообщение: sent и failed - конечные состояния.
	closeOutboxSQL = `
		UPDATE outbox_messages
		SET status = $2, attempt_count = attempt_count + 1, updated_at = $3
		WHERE id = $1 AND status = 'pending'`
)

// outboxRepository пишет события в outbox_messages. Внутри WithinTx запись попадает
// в ту же транзакцию, что и изменение заказа.
type outboxRepository struct{ scope }

func (r outboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.q.ExecContext(ctx, insertOutboxSQL,
		msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, time.Now().UTC())
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue %s for %s: %w", msg.EventType, msg.AggregateID, err)
	}
	return msg, nil
}

func (r outboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxPullLimit
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return queryAll(ctx, r.q, "pending outbox", scanOutboxMessage, selectPendingOutboxSQL, limit)
}

func scanOutboxMessage(row rowScanner) (domain.OutboxMessage, error) {
	var m domain.OutboxMessage
	err := row.Scan(&m.ID, &m.AggregateType, &m.AggregateID, &m.EventType, &m.Payload)
	return m, err
}

func (r outboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	if err := r.q.QueryRowContext(ctx, outboxBacklogSQL).Scan(&stats.PendingCount, &oldest); err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox backlog: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (r outboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.close(ctx, id, outboxSent)
}

func (r outboxRepository) MarkFailed(ctx context.Context, id string) error {
	return r.close(ctx, id, outboxFailed)
}

func (r outboxRepository) close(ctx context.Context, id, status string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, closeOutboxSQL, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark outbox %s %s: %w", id, status, err)
	}
	return expectAffected(res, fmt.Errorf("outbox %s is not pending: %w", id, domain.ErrOutboxPublish))
}

var _ domain.OutboxRepository = outboxRepository{}
