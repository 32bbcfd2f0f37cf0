package app

import (
	"testing"
	"time"

	"github.com/vladislavdragonenkov/ordercore/internal/messaging/kafka"
)

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()

	strings := []struct {
		name string
		got  string
		want string
	}{
		{"GRPCAddr", cfg.GRPCAddr, ":50051"},
		{"HTTPAddr", cfg.HTTPAddr, ":8080"},
		{"MetricsAddr", cfg.MetricsAddr, ":9090"},
		{"StorageDriver", cfg.StorageDriver, StorageDriverMemory},
		{"ServiceName", cfg.ServiceName, "ordercore"},
		{"TracingExporter", cfg.TracingExporter, "none"},
		{"RedisAddr", cfg.RedisAddr, ""},
		{"KafkaBrokers", cfg.KafkaBrokers, ""},
	}
	for _, tc := range strings {
		if tc.got != tc.want {
			t.Errorf("expected %s %q, got %q", tc.name, tc.want, tc.got)
		}
	}

	durations := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"CacheTTL", cfg.CacheTTL, 5 * time.Minute},
		{"OutboxPollInterval", cfg.OutboxPollInterval, time.Second},
		{"OutboxRetryDelay", cfg.OutboxRetryDelay, 50 * time.Millisecond},
		{"IdempotencyTTL", cfg.IdempotencyTTL, 24 * time.Hour},
		{"IdempotencyCleanupInterval", cfg.IdempotencyCleanupInterval, time.Minute},
	}
	for _, tc := range durations {
		if tc.got != tc.want {
			t.Errorf("expected %s %s, got %s", tc.name, tc.want, tc.got)
		}
	}

	ints := []struct {
		name string
		got  int
		want int
	}{
		{"OutboxBatchSize", cfg.OutboxBatchSize, 100},
		{"OutboxMaxAttempts", cfg.OutboxMaxAttempts, 3},
		{"OutboxMaxPending", cfg.OutboxMaxPending, 1000},
		{"IdempotencyCleanupBatchSize", cfg.IdempotencyCleanupBatchSize, 500},
	}
	for _, tc := range ints {
		if tc.got != tc.want {
			t.Errorf("expected %s %d, got %d", tc.name, tc.want, tc.got)
		}
	}

	if !cfg.PostgresAutoMigrate {
		t.Error("expected PostgresAutoMigrate to be true")
	}
}

func TestDefaultConfig_TopicsMatchMessaging(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.KafkaTopic != kafka.TopicOrderEvents {
		t.Errorf("expected KafkaTopic %s, got %s", kafka.TopicOrderEvents, cfg.KafkaTopic)
	}
	if cfg.KafkaDLQTopic != kafka.TopicDeadLetterQueue {
		t.Errorf("expected KafkaDLQTopic %s, got %s", kafka.TopicDeadLetterQueue, cfg.KafkaDLQTopic)
	}
	if cfg.KafkaTopic == cfg.KafkaDLQTopic {
		t.Error("events and DLQ topics must differ")
	}
}

func TestDefaultConfig_ReturnsIndependentCopies(t *testing.T) {
	first := DefaultConfig()
	first.GRPCAddr = ":1"
	first.OutboxBatchSize = 1

	second := DefaultConfig()
	if second.GRPCAddr != ":50051" || second.OutboxBatchSize != 100 {
		t.Fatalf("DefaultConfig must not share state between calls: %+v", second)
	}
}
