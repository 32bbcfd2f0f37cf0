// Команда dlq-replay просматривает топик DLQ и повторно публикует outbox-события в топик заказов.
// По умолчанию работает в режиме dry-run и только печатает кандидатов.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
	"github.com/vladislavdragonenkov/ordercore/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
	brokersEnv         = "ORDERCORE_KAFKA_BROKERS"
)

type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	selector    selector
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

// replayPublisher повторно публикует outbox-сообщение в топик событий.
type replayPublisher interface {
	domain.OutboxPublisher
	io.Closer
}

type saramaConsumer struct {
	sarama.Consumer
}

func (c saramaConsumer) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	return c.Consumer.ConsumePartition(topic, partition, offset)
}

// topicPublisher связывает outbox-паблишер с producer, которым он владеет.
type topicPublisher struct {
	*kafka.OutboxTopicPublisher
	producer *kafka.Producer
}

func (p topicPublisher) Close() error {
	return p.producer.Close()
}

// newTopicPublisher помечает переигранные записи, чтобы потребители отличали их от первичной публикации.
func newTopicPublisher(producer *kafka.Producer, topic string) topicPublisher {
	return topicPublisher{
		OutboxTopicPublisher: kafka.NewOutboxPublisher(producer, topic, kafka.WithHeader(kafka.HeaderReplayed, "true")),
		producer:             producer,
	}
}

var newReplayDependencies = func(cfg config) (offsetClient, partitionConsumerSource, replayPublisher, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	if !cfg.execute {
		return client, saramaConsumer{consumer}, nil, nil
	}

	producer, err := kafka.NewProducer(cfg.brokers)
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, nil, nil, err
	}
	return client, saramaConsumer{consumer}, newTopicPublisher(producer, cfg.targetTopic), nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func readConfig(args []string, getenv func(string) string) (config, error) {
	var (
		cfg        config
		brokersRaw string
		sinceRaw   string
	)

	fs := flag.NewFlagSet("dlq-replay", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&brokersRaw, "brokers", "", "comma-separated Kafka brokers (fallback: "+brokersEnv+")")
	fs.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "dead letter topic to scan")
	fs.StringVar(&cfg.targetTopic, "target-topic", kafka.TopicOrderEvents, "topic to republish into")
	fs.StringVar(&cfg.selector.eventType, "event-type", "", "only replay this event type")
	fs.StringVar(&cfg.selector.aggregateID, "aggregate-id", "", "only replay events of this aggregate")
	fs.StringVar(&sinceRaw, "since", "", "only replay letters that failed at or after this RFC3339 time")
	fs.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max records to scan across partitions")
	fs.BoolVar(&cfg.execute, "execute", false, "publish for real instead of a dry-run")
	fs.BoolVar(&cfg.fromNewest, "from-newest", false, "start each partition limit records before its end")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "give up on a partition after this long without records")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokersRaw) == "" && getenv != nil {
		brokersRaw = getenv(brokersEnv)
	}
	cfg.brokers = brokerList(brokersRaw)
	cfg.sourceTopic = strings.TrimSpace(cfg.sourceTopic)
	cfg.targetTopic = strings.TrimSpace(cfg.targetTopic)
	cfg.selector.eventType = strings.TrimSpace(cfg.selector.eventType)
	cfg.selector.aggregateID = strings.TrimSpace(cfg.selector.aggregateID)

	if sinceRaw = strings.TrimSpace(sinceRaw); sinceRaw != "" {
		since, err := time.Parse(time.RFC3339, sinceRaw)
		if err != nil {
			return config{}, fmt.Errorf("since: %w", err)
		}
		cfg.selector.since = since.UTC()
	}

	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c config) validate() error {
	switch {
	case len(c.brokers) == 0:
		return fmt.Errorf("kafka brokers are required (-brokers or %s)", brokersEnv)
	case c.sourceTopic == "":
		return errors.New("source-topic is required")
	case c.targetTopic == "":
		return errors.New("target-topic is required")
	case c.sourceTopic == c.targetTopic:
		return errors.New("target-topic must differ from source-topic")
	case c.limit <= 0:
		return errors.New("limit must be > 0")
	case c.idleTimeout <= 0:
		return errors.New("idle-timeout must be > 0")
	}
	return nil
}

func brokerList(raw string) []string {
	var brokers []string
	for _, chunk := range strings.Split(raw, ",") {
		if broker := strings.TrimSpace(chunk); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func run(ctx context.Context, cfg config) error {
	logger := log.WithField("component", "dlq-replay")
	logger.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"target_topic": cfg.targetTopic,
		"event_type":   cfg.selector.eventType,
		"aggregate_id": cfg.selector.aggregateID,
		"limit":        cfg.limit,
		"execute":      cfg.execute,
	}).Info("starting dlq replay")

	client, consumer, publisher, err := newReplayDependencies(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if publisher != nil {
			_ = publisher.Close()
		}
		if consumer != nil {
			_ = consumer.Close()
		}
		if client != nil {
			_ = client.Close()
		}
	}()

	if client == nil {
		return errors.New("kafka client is required")
	}
	plan, err := planWindows(client, cfg.sourceTopic, cfg.limit, cfg.fromNewest)
	if err != nil {
		return err
	}
	if len(plan) == 0 {
		logger.WithField("topic", cfg.sourceTopic).Info("dead letter topic is empty")
		return nil
	}

	rp, err := newReplayer(cfg, consumer, publisher, logger)
	if err != nil {
		return err
	}
	_, err = rp.run(ctx, plan)
	return err
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
