package app

import (
	"context"
	"strings"
	"unicode"

	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/ordercore/internal/health"
	"github.com/vladislavdragonenkov/ordercore/internal/messaging/kafka"
)

// messaging - подключение сервиса к Kafka. Пустой список брокеров отключает публикацию:
// события копятся в outbox до появления брокеров.
type messaging struct {
	brokers  []string
	producer *kafka.Producer
}

func splitBrokers(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || unicode.IsSpace(r) })
}

// connectKafka не считает недоступные брокеры фатальными: сервис продолжает принимать заказы,
// а проба kafka показывает деградацию.
func connectKafka(raw string, logger *log.Entry) messaging {
	m := messaging{brokers: splitBrokers(raw)}
	if !m.configured() {
		return m
	}

	entry := logger.WithField("brokers", m.brokers)
	producer, err := kafka.NewProducer(m.brokers)
	if err != nil {
		entry.WithError(err).Warn("kafka producer unavailable, outbox events stay pending")
		return m
	}
	m.producer = producer
	entry.Info("kafka producer connected")
	return m
}

func (m messaging) configured() bool { return len(m.brokers) > 0 }

// checker не переводит сервис в unhealthy: без Kafka заказы всё равно принимаются.
func (m messaging) checker() healthcheck.Checker {
	return healthcheck.NewOptionalChecker("kafka", func(ctx context.Context) error {
		return kafka.CheckBrokers(ctx, m.brokers)
	})
}

func (m messaging) close(logger *log.Entry) {
	if m.producer == nil {
		return
	}
	if err := m.producer.Close(); err != nil {
		logger.WithError(err).Warn("kafka producer close failed")
		return
	}
	logger.Debug("kafka producer closed")
}
