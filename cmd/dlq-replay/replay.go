package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
	"github.com/vladislavdragonenkov/ordercore/internal/messaging/kafka"
)

// Причины пропуска записи DLQ.
const (
	skipUndecodable = "undecodable"
	skipEventType   = "event_type"
	skipAggregate   = "aggregate_id"
	skipTooOld      = "before_since"
)

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionConsumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

// window - полуоткрытый диапазон офсетов [start, end) одной партиции.
type window struct {
	partition int32
	start     int64
	end       int64
}

// planWindows снимает границы партиций один раз до чтения, чтобы переигранные записи,
// попавшие в DLQ повторно, не читались в том же запуске.
func planWindows(offsets offsetClient, topic string, limit int, fromNewest bool) ([]window, error) {
	partitions, err := offsets.Partitions(topic)
	if err != nil {
		return nil, fmt.Errorf("get partitions for topic %s: %w", topic, err)
	}
	slices.Sort(partitions)

	plan := make([]window, 0, len(partitions))
	for _, partition := range partitions {
		oldest, err := offsets.GetOffset(topic, partition, sarama.OffsetOldest)
		if err != nil {
			return nil, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
		}
		newest, err := offsets.GetOffset(topic, partition, sarama.OffsetNewest)
		if err != nil {
			return nil, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
		}
		if newest <= oldest {
			continue
		}

		start := oldest
		if fromNewest {
			start = max(newest-int64(limit), oldest)
		}
		plan = append(plan, window{partition: partition, start: start, end: newest})
	}
	return plan, nil
}

// selector отбирает записи DLQ для повторной публикации. Пустые поля не фильтруют.
type selector struct {
	eventType   string
	aggregateID string
	since       time.Time
}

// reject возвращает причину пропуска или пустую строку, если запись подходит.
func (s selector) reject(letter domain.DeadLetter) string {
	switch {
	case s.eventType != "" && letter.EventType != s.eventType:
		return skipEventType
	case s.aggregateID != "" && letter.AggregateID != s.aggregateID:
		return skipAggregate
	case !s.since.IsZero() && letter.FailedAt.Before(s.since):
		return skipTooOld
	}
	return ""
}

type replayStats struct {
	scanned  int
	replayed int
	skipped  map[string]int
}

func (s replayStats) skippedTotal() int {
	total := 0
	for _, n := range s.skipped {
		total += n
	}
	return total
}

type replayer struct {
	cfg       config
	consumer  partitionConsumerSource
	publisher replayPublisher
	logger    *log.Entry
	stats     replayStats
}

func newReplayer(cfg config, consumer partitionConsumerSource, publisher replayPublisher, logger *log.Entry) (*replayer, error) {
	if consumer == nil {
		return nil, errors.New("kafka consumer is required")
	}
	if cfg.execute && publisher == nil {
		return nil, errors.New("publisher is required in execute mode")
	}
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &replayer{
		cfg:       cfg,
		consumer:  consumer,
		publisher: publisher,
		logger:    logger,
		stats:     replayStats{skipped: make(map[string]int)},
	}, nil
}

// run читает окна по порядку, пока не исчерпан общий лимит.
func (r *replayer) run(ctx context.Context, plan []window) (replayStats, error) {
	for _, w := range plan {
		budget := r.cfg.limit - r.stats.scanned
		if budget <= 0 {
			break
		}
		if err := r.drain(ctx, w, budget); err != nil {
			return r.stats, err
		}
	}

	mode := "dry-run"
	if r.cfg.execute {
		mode = "execute"
	}
	r.logger.WithFields(log.Fields{
		"mode":     mode,
		"scanned":  r.stats.scanned,
		"replayed": r.stats.replayed,
		"skipped":  r.stats.skippedTotal(),
	}).Info("dlq replay finished")

	return r.stats, nil
}

func (r *replayer) drain(ctx context.Context, w window, budget int) error {
	pc, err := r.consumer.ConsumePartition(r.cfg.sourceTopic, w.partition, w.start)
	if err != nil {
		return fmt.Errorf("consume partition %d: %w", w.partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(r.cfg.idleTimeout)
	defer idle.Stop()

	for read := 0; read < budget; {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle.C:
			r.logger.WithField("partition", w.partition).Warn("partition went idle before window end")
			return nil
		case consumerErr := <-pc.Errors():
			if consumerErr != nil {
				return fmt.Errorf("partition %d consumer error: %w", w.partition, consumerErr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= w.end {
				return nil
			}
			idle.Reset(r.cfg.idleTimeout)
			read++

			if err := r.handle(msg); err != nil {
				return err
			}
			if msg.Offset+1 >= w.end {
				return nil
			}
		}
	}
	return nil
}

func (r *replayer) handle(msg *sarama.ConsumerMessage) error {
	r.stats.scanned++
	entry := r.logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	letter, err := kafka.DecodeDeadLetter(msg.Value)
	if err != nil {
		r.stats.skipped[skipUndecodable]++
		entry.WithError(err).Warn("skip unsupported dlq message")
		return nil
	}
	if reason := r.cfg.selector.reject(letter); reason != "" {
		r.stats.skipped[reason]++
		return nil
	}

	entry = entry.WithFields(log.Fields{
		"outbox_id":    letter.OutboxID,
		"event_type":   letter.EventType,
		"aggregate_id": letter.AggregateID,
		"attempts":     letter.Attempts,
	})
	if !r.cfg.execute {
		entry.WithField("publish_error", letter.PublishError).Info("dlq replay candidate")
		r.stats.replayed++
		return nil
	}

	if err := r.publisher.Publish(letter.OutboxMessage()); err != nil {
		return fmt.Errorf("republish outbox message %s: %w", letter.OutboxID, err)
	}
	entry.Debug("dlq message replayed")
	r.stats.replayed++
	return nil
}
