package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"
)

// outboxRecord хранит сообщение и служебные поля.
type outboxRecord struct {
	msg        domain.OutboxMessage
	seq        int64
	status     string
	attemptCnt int
	createdAt  time.Time
	updatedAt  time.Time
}

type outboxRepository struct{ view }

// Enqueue сохраняет событие со статусом pending.
func (r outboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	unlock := r.lock()
	defer unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Payload = append([]byte(nil), msg.Payload...)

	r.s.outboxSeq++
	now := r.s.now()
	r.s.outbox[msg.ID] = &outboxRecord{
		msg:       msg,
		seq:       r.s.outboxSeq,
		status:    outboxStatusPending,
		createdAt: now,
		updatedAt: now,
	}

	id := msg.ID
	r.onRollback(func() { delete(r.s.outbox, id) })
	return msg, nil
}

// PullPending возвращает до limit сообщений со статусом pending в порядке записи.
func (r outboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	unlock := r.rlock()
	defer unlock()

	if limit <= 0 {
		limit = 100
	}

	pending := r.pendingLocked()
	if len(pending) > limit {
		pending = pending[:limit]
	}

	result := make([]domain.OutboxMessage, 0, len(pending))
	for _, rec := range pending {
		result = append(result, rec.msg)
	}
	return result, nil
}

// Stats возвращает размер backlog и время самого старого pending-сообщения.
func (r outboxRepository) Stats(context.Context) (domain.OutboxStats, error) {
	unlock := r.rlock()
	defer unlock()

	pending := r.pendingLocked()
	stats := domain.OutboxStats{PendingCount: len(pending)}
	if len(pending) > 0 {
		stats.OldestPendingAt = pending[0].createdAt
	}
	return stats, nil
}

// MarkSent обновляет статус события после успешной публикации.
func (r outboxRepository) MarkSent(_ context.Context, id string) error {
	return r.mark(id, outboxStatusSent)
}

// MarkFailed фиксирует окончательную ошибку публикации. Закрыть можно только pending-сообщение.
func (r outboxRepository) MarkFailed(_ context.Context, id string) error {
	return r.mark(id, outboxStatusFailed)
}

func (r outboxRepository) mark(id, status string) error {
	unlock := r.lock()
	defer unlock()

	record, ok := r.s.outbox[id]
	if !ok || record.status != outboxStatusPending {
		return domain.ErrOutboxPublish
	}
	prev := *record
	record.status = status
	record.attemptCnt++
	record.updatedAt = r.s.now()

	r.onRollback(func() { *record = prev })
	return nil
}

func (r outboxRepository) pendingLocked() []*outboxRecord {
	pending := make([]*outboxRecord, 0)
	for _, rec := range r.s.outbox {
		if rec.status == outboxStatusPending {
			pending = append(pending, rec)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })
	return pending
}

var _ domain.OutboxRepository = outboxRepository{}
