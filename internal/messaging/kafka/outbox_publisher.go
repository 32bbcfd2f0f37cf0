package kafka

import (
	"errors"
	"time"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

var errPublisherNotReady = errors.New("kafka outbox publisher has no producer")

// OutboxTopicPublisher отправляет outbox-сообщения в один топик в виде Envelope.
// Ключ записи - ID агрегата: все события заказа попадают в одну партицию и читаются по порядку.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
	headers  map[string]string
	now      func() time.Time
}

// PublisherOption настраивает OutboxTopicPublisher.
type PublisherOption func(*OutboxTopicPublisher)

// WithHeader добавляет постоянный заголовок ко всем записям.
func WithHeader(name, value string) PublisherOption {
	return func(p *OutboxTopicPublisher) { p.headers[name] = value }
}

// NewOutboxPublisher создаёт паблишер; пустой topic означает топик событий заказов.
func NewOutboxPublisher(producer *Producer, topic string, options ...PublisherOption) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	p := &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
		headers:  map[string]string{},
		now:      time.Now,
	}
	for _, option := range options {
		option(p)
	}
	return p
}

// Topic возвращает топик назначения.
func (p *OutboxTopicPublisher) Topic() string { return p.topic }

// Publish реализует domain.OutboxPublisher.
func (p *OutboxTopicPublisher) Publish(msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errPublisherNotReady
	}

	key := msg.AggregateID
	if key == "" {
		key = msg.ID
	}

	headers := make(map[string]string, len(p.headers)+3)
	for name, value := range p.headers {
		headers[name] = value
	}
	headers[HeaderEventType] = msg.EventType
	headers[HeaderAggregateType] = msg.AggregateType
	headers[HeaderOutboxID] = msg.ID

	return p.producer.PublishEvent(p.topic, key, NewEnvelope(msg, p.now()), headers)
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
