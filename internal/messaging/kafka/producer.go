package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const (
	clientID          = "ordercore"
	probeDialTimeout  = 2 * time.Second
	producerRetries   = 5
	producerRetryWait = 100 * time.Millisecond
)

var errNoBrokers = errors.New("kafka brokers are not configured")

// Message - запись для отправки в топик.
type Message struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

// Producer синхронно публикует события заказов: Send возвращается только после
// подтверждения всеми репликами, поэтому outbox помечает сообщение sent без риска потери.
type Producer struct {
	sync   sarama.SyncProducer
	logger *log.Entry
	now    func() time.Time
}

// producerConfig - идемпотентный producer с подтверждением от всех ISR.
func producerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Retry.Max = producerRetries
	cfg.Producer.Retry.Backoff = producerRetryWait
	cfg.Producer.Return.Successes = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	// Идемпотентный producer требует одного запроса в полёте на соединение.
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

// probeConfig - короткие таймауты для health-пробы.
func probeConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID + "-probe"
	cfg.Net.DialTimeout = probeDialTimeout
	cfg.Net.ReadTimeout = probeDialTimeout
	cfg.Metadata.Retry.Max = 0
	cfg.Metadata.Full = false
	return cfg
}

// NewProducer подключается к брокерам.
func NewProducer(brokers []string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errNoBrokers
	}
	sync, err := sarama.NewSyncProducer(brokers, producerConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer for %v: %w", brokers, err)
	}
	return NewProducerFromSync(sync, nil), nil
}

// NewProducerFromSync оборачивает готовый sarama.SyncProducer (в тестах - mocks.SyncProducer).
func NewProducerFromSync(sync sarama.SyncProducer, logger *log.Entry) *Producer {
	if logger == nil {
		logger = log.WithField("component", "kafka-producer")
	}
	return &Producer{sync: sync, logger: logger, now: time.Now}
}

// Send публикует запись. Заголовки пишутся в порядке имён.
func (p *Producer) Send(msg Message) error {
	record := &sarama.ProducerMessage{
		Topic:     msg.Topic,
		Key:       sarama.StringEncoder(msg.Key),
		Value:     sarama.ByteEncoder(msg.Value),
		Headers:   recordHeaders(msg.Headers),
		Timestamp: p.now(),
	}

	partition, offset, err := p.sync.SendMessage(record)
	fields := log.Fields{"topic": msg.Topic, "key": msg.Key}
	if err != nil {
		p.logger.WithError(err).WithFields(fields).Warn("kafka send failed")
		return fmt.Errorf("send to %s: %w", msg.Topic, err)
	}

	fields["partition"] = partition
	fields["offset"] = offset
	p.logger.WithFields(fields).Debug("kafka record acknowledged")
	return nil
}

// PublishEvent кодирует значение в JSON и отправляет его.
func (p *Producer) PublishEvent(topic, key string, event any, headers map[string]string) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event for %s: %w", topic, err)
	}
	return p.Send(Message{Topic: topic, Key: key, Value: value, Headers: headers})
}

// PublishRaw отправляет уже закодированное значение.
func (p *Producer) PublishRaw(topic, key string, value []byte, headers map[string]string) error {
	return p.Send(Message{Topic: topic, Key: key, Value: value, Headers: headers})
}

// Close дожидается отправки буфера и закрывает соединения.
func (p *Producer) Close() error {
	if err := p.sync.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}

func recordHeaders(headers map[string]string) []sarama.RecordHeader {
	if len(headers) == 0 {
		return nil
	}
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]sarama.RecordHeader, 0, len(names))
	for _, name := range names {
		out = append(out, sarama.RecordHeader{Key: []byte(name), Value: []byte(headers[name])})
	}
	return out
}

// CheckBrokers проверяет, что хотя бы один брокер отдаёт метаданные.
func CheckBrokers(ctx context.Context, brokers []string) error {
	if len(brokers) == 0 {
		return errNoBrokers
	}

	result := make(chan error, 1)
	go func() {
		client, err := sarama.NewClient(brokers, probeConfig())
		if err != nil {
			result <- fmt.Errorf("connect to kafka: %w", err)
			return
		}
		defer client.Close()

		if len(client.Brokers()) == 0 {
			result <- errors.New("kafka cluster reports no brokers")
			return
		}
		result <- nil
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
