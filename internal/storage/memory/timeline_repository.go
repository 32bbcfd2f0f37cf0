package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

type timelineRepository struct{ view }

// Append добавляет событие в историю заказа.
func (r timelineRepository) Append(_ context.Context, event domain.TimelineEvent) error {
	unlock := r.lock()
	defer unlock()

	prevLen := len(r.s.timeline[event.OrderID])
	r.s.timeline[event.OrderID] = append(r.s.timeline[event.OrderID], event)

	orderID := event.OrderID
	r.onRollback(func() {
		if prevLen == 0 {
			delete(r.s.timeline, orderID)
			return
		}
		r.s.timeline[orderID] = r.s.timeline[orderID][:prevLen]
	})
	return nil
}

// List возвращает события заказа в хронологическом порядке; события с одинаковым временем
// остаются в порядке записи.
func (r timelineRepository) List(_ context.Context, orderID string) ([]domain.TimelineEvent, error) {
	unlock := r.rlock()
	defer unlock()

	events := r.s.timeline[orderID]
	result := make([]domain.TimelineEvent, len(events))
	copy(result, events)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Occurred.Before(result[j].Occurred)
	})
	return result, nil
}

var _ domain.TimelineRepository = timelineRepository{}
