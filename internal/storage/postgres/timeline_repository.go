package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

type timelineRepository struct{ scope }

// Append пишет событие; пустое время события заменяется текущим.
func (r timelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}

	_, err := r.q.ExecContext(ctx,
		`INSERT INTO order_timeline (order_id, type, from_status, to_status, reason, occurred) VALUES ($1,$2,$3,$4,$5,$6)`,
		event.OrderID, event.Type, string(event.From), string(event.To), event.Reason, event.Occurred)
	if err != nil {
		return fmt.Errorf("append %s to order %s: %w", event.Type, event.OrderID, err)
	}
	return nil
}

// List отдаёт историю заказа в порядке записи.
func (r timelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return queryAll(ctx, r.q, "timeline", scanTimelineEvent, `
		SELECT order_id, type, from_status, to_status, reason, occurred
		FROM order_timeline WHERE order_id = $1
		ORDER BY occurred, id`, orderID)
}

func scanTimelineEvent(row rowScanner) (domain.TimelineEvent, error) {
	var (
		ev       domain.TimelineEvent
		from, to string
	)
	if err := row.Scan(&ev.OrderID, &ev.Type, &from, &to, &ev.Reason, &ev.Occurred); err != nil {
		return domain.TimelineEvent{}, err
	}
	ev.From, ev.To = domain.OrderStatus(from), domain.OrderStatus(to)
	ev.Occurred = ev.Occurred.UTC()
	return ev, nil
}

var _ domain.TimelineRepository = timelineRepository{}
