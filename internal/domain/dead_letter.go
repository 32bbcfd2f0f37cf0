package domain

import (
	"encoding/json"
	"time"
)

// DeadLetter - outbox-сообщение, которое не удалось опубликовать за все попытки.
// Несёт исходную полезную нагрузку, чтобы событие можно было переиграть без потерь.
type DeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
	Attempts      int             `json:"attempts,omitempty"`
	FailedAt      time.Time       `json:"failed_at"`
}

// NewDeadLetter фиксирует причину отказа публикации.
func NewDeadLetter(msg OutboxMessage, cause error, attempts int, at time.Time) DeadLetter {
	letter := DeadLetter{
		OutboxID:      msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		Attempts:      attempts,
		FailedAt:      at.UTC(),
	}
	if cause != nil {
		letter.PublishError = cause.Error()
	}
	return letter
}

// OutboxMessage восстанавливает исходное сообщение для повторной публикации.
func (d DeadLetter) OutboxMessage() OutboxMessage {
	return OutboxMessage{
		ID:            d.OutboxID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Payload:       []byte(d.Payload),
	}
}

// Wrap упаковывает запись в outbox-сообщение для DLQ-паблишера.
func (d DeadLetter) Wrap() (OutboxMessage, error) {
	body, err := json.Marshal(d)
	if err != nil {
		return OutboxMessage{}, err
	}
	return OutboxMessage{
		ID:            d.OutboxID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Payload:       body,
	}, nil
}
