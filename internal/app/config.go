package app

import "time"

// Поддерживаемые драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска приложения.
type Config struct {
	GRPCAddr    string
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	PostgresMaxConns    int

	// RedisAddr пустой - кэш заказов выключен.
	RedisAddr string
	CacheTTL  time.Duration

	// KafkaBrokers - список через запятую; пустой - outbox копится без публикации.
	KafkaBrokers  string
	KafkaTopic    string
	KafkaDLQTopic string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	// OutboxMaxPending - backlog, начиная с которого проверка outbox сообщает о деградации.
	OutboxMaxPending int

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	ServiceName     string
	TracingExporter string
	OTLPEndpoint    string
}

// DefaultConfig возвращает базовые адреса и параметры фоновых воркеров.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:                    ":50051",
		HTTPAddr:                    ":8080",
		MetricsAddr:                 ":9090",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		PostgresMaxConns:            25,
		CacheTTL:                    5 * time.Minute,
		KafkaTopic:                  "ordercore.order.events",
		KafkaDLQTopic:               "ordercore.dlq",
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            50 * time.Millisecond,
		OutboxMaxPending:            1000,
		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,
		ServiceName:                 "ordercore",
		TracingExporter:             "none",
	}
}
