package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "ordercore.order.events"
	TopicDeadLetterQueue = "ordercore.dlq" // сообщения, которые outbox не смог доставить
)

// Заголовки записей. Потребители маршрутизируют по типу события и дедуплицируют по x-outbox-id.
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderOutboxID      = "x-outbox-id"
	HeaderReplayed      = "x-replayed"
)

// Envelope - обёртка outbox-сообщения в топике событий.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope заворачивает outbox-сообщение.
func NewEnvelope(msg domain.OutboxMessage, at time.Time) Envelope {
	return Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		PublishedAt:   at.UTC(),
	}
}

// OrderEvent разбирает полезную нагрузку как событие заказа.
func (e Envelope) OrderEvent() (domain.OrderEvent, error) {
	if e.AggregateType != domain.AggregateOrder {
		return domain.OrderEvent{}, fmt.Errorf("unexpected aggregate type %q", e.AggregateType)
	}
	var event domain.OrderEvent
	if err := json.Unmarshal(e.Payload, &event); err != nil {
		return domain.OrderEvent{}, fmt.Errorf("decode order event: %w", err)
	}
	return event, nil
}

// DeadLetter - значение DLQ-топика.
type DeadLetter = domain.DeadLetter

// DecodeDeadLetter достаёт исходное outbox-сообщение из значения DLQ-топика.
// DLQ-паблишер заворачивает запись в Envelope, поэтому принимаются оба варианта.
func DecodeDeadLetter(value []byte) (DeadLetter, error) {
	var letter DeadLetter
	if err := json.Unmarshal(value, &letter); err != nil {
		return DeadLetter{}, fmt.Errorf("decode dead letter: %w", err)
	}
	if letter.OutboxID == "" {
		var envelope Envelope
		if err := json.Unmarshal(value, &envelope); err == nil && len(envelope.Payload) > 0 {
			letter = DeadLetter{}
			if err := json.Unmarshal(envelope.Payload, &letter); err != nil {
				return DeadLetter{}, fmt.Errorf("decode dead letter payload: %w", err)
			}
		}
	}
	if letter.OutboxID == "" || letter.EventType == "" {
		return DeadLetter{}, fmt.Errorf("dead letter is missing outbox_id or event_type")
	}
	return letter, nil
}
