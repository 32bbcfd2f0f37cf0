package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordercore/internal/app"
	"github.com/vladislavdragonenkov/ordercore/internal/version"
)

const (
	envGRPCAddr                    = "ORDERCORE_GRPC_ADDR"
	envHTTPAddr                    = "ORDERCORE_HTTP_ADDR"
	envMetricsAddr                 = "ORDERCORE_METRICS_ADDR"
	envStorageDriver               = "ORDERCORE_STORAGE_DRIVER"
	envPostgresDSN                 = "ORDERCORE_POSTGRES_DSN"
	envPostgresAutoMigrate         = "ORDERCORE_POSTGRES_AUTO_MIGRATE"
	envPostgresMaxConns            = "ORDERCORE_POSTGRES_MAX_CONNS"
	envRedisAddr                   = "ORDERCORE_REDIS_ADDR"
	envCacheTTL                    = "ORDERCORE_CACHE_TTL"
	envKafkaBrokers                = "ORDERCORE_KAFKA_BROKERS"
	envKafkaTopic                  = "ORDERCORE_KAFKA_TOPIC"
	envKafkaDLQTopic               = "ORDERCORE_KAFKA_DLQ_TOPIC"
	envOutboxPollInterval          = "ORDERCORE_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "ORDERCORE_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "ORDERCORE_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "ORDERCORE_OUTBOX_RETRY_DELAY"
	envOutboxMaxPending            = "ORDERCORE_OUTBOX_MAX_PENDING"
	envIdempotencyTTL              = "ORDERCORE_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "ORDERCORE_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "ORDERCORE_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	envServiceName                 = "ORDERCORE_SERVICE_NAME"
	envTracingExporter             = "ORDERCORE_TRACING_EXPORTER"
	envOTLPEndpoint                = "ORDERCORE_OTLP_ENDPOINT"
	envLogLevel                    = "ORDERCORE_LOG_LEVEL"
	envLogFormat                   = "ORDERCORE_LOG_FORMAT"
)

type envLookup func(key string) (string, bool)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(lookup envLookup) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if format, ok := lookup(envLogFormat); ok && strings.EqualFold(strings.TrimSpace(format), "json") {
		log.SetFormatter(&log.JSONFormatter{})
	}

	log.SetLevel(log.InfoLevel)
	if raw, ok := lookup(envLogLevel); ok && strings.TrimSpace(raw) != "" {
		level, err := log.ParseLevel(strings.TrimSpace(raw))
		if err != nil {
			log.WithError(err).Warnf("invalid %s, using info", envLogLevel)
			return
		}
		log.SetLevel(level)
	}
}

// envBinding связывает переменную окружения с полем конфигурации.
type envBinding struct {
	key   string
	apply func(raw string) error
}

func stringVar(target *string, normalize func(string) string) func(string) error {
	return func(raw string) error {
		*target = normalize(raw)
		return nil
	}
}

func boolVar(target *bool) func(string) error {
	return func(raw string) error {
		v, err := parseBool(raw)
		if err == nil {
			*target = v
		}
		return err
	}
}

// intVar принимает только значения не меньше lowest.
func intVar(target *int, lowest int) func(string) error {
	return func(raw string) error {
		v, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("invalid int value %q", raw)
		}
		if v < lowest {
			return fmt.Errorf("value %d must be >= %d", v, lowest)
		}
		*target = v
		return nil
	}
}

// durationVar принимает только значения не меньше lowest.
func durationVar(target *time.Duration, lowest time.Duration) func(string) error {
	return func(raw string) error {
		v, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("invalid duration value %q", raw)
		}
		if v < lowest {
			return fmt.Errorf("value %s must be >= %s", v, lowest)
		}
		*target = v
		return nil
	}
}

func configBindings(cfg *app.Config) []envBinding {
	return []envBinding{
		{envGRPCAddr, stringVar(&cfg.GRPCAddr, strings.TrimSpace)},
		{envHTTPAddr, stringVar(&cfg.HTTPAddr, strings.TrimSpace)},
		{envMetricsAddr, stringVar(&cfg.MetricsAddr, strings.TrimSpace)},
		{envStorageDriver, stringVar(&cfg.StorageDriver, normalizeLower)},
		{envPostgresDSN, stringVar(&cfg.PostgresDSN, strings.TrimSpace)},
		{envPostgresAutoMigrate, boolVar(&cfg.PostgresAutoMigrate)},
		{envPostgresMaxConns, intVar(&cfg.PostgresMaxConns, 1)},
		{envRedisAddr, stringVar(&cfg.RedisAddr, strings.TrimSpace)},
		{envCacheTTL, durationVar(&cfg.CacheTTL, time.Nanosecond)},
		{envKafkaBrokers, stringVar(&cfg.KafkaBrokers, strings.TrimSpace)},
		{envKafkaTopic, stringVar(&cfg.KafkaTopic, strings.TrimSpace)},
		{envKafkaDLQTopic, stringVar(&cfg.KafkaDLQTopic, strings.TrimSpace)},
		{envOutboxPollInterval, durationVar(&cfg.OutboxPollInterval, time.Nanosecond)},
		{envOutboxBatchSize, intVar(&cfg.OutboxBatchSize, 1)},
		{envOutboxMaxAttempts, intVar(&cfg.OutboxMaxAttempts, 1)},
		{envOutboxRetryDelay, durationVar(&cfg.OutboxRetryDelay, 0)},
		{envOutboxMaxPending, intVar(&cfg.OutboxMaxPending, 0)},
		{envIdempotencyTTL, durationVar(&cfg.IdempotencyTTL, time.Nanosecond)},
		{envIdempotencyCleanupInterval, durationVar(&cfg.IdempotencyCleanupInterval, time.Nanosecond)},
		{envIdempotencyCleanupBatchSize, intVar(&cfg.IdempotencyCleanupBatchSize, 1)},
		{envServiceName, stringVar(&cfg.ServiceName, strings.TrimSpace)},
		{envTracingExporter, stringVar(&cfg.TracingExporter, normalizeLower)},
		{envOTLPEndpoint, stringVar(&cfg.OTLPEndpoint, strings.TrimSpace)},
	}
}

// readConfigFromEnv накладывает переменные окружения на DefaultConfig. Некорректное значение
// не роняет запуск: поле остаётся по умолчанию, ошибка попадает в warnings.
func readConfigFromEnv(lookup envLookup) (app.Config, []error) {
	cfg := app.DefaultConfig()
	var warnings []error

	for _, binding := range configBindings(&cfg) {
		raw, ok := lookup(binding.key)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		if err := binding.apply(raw); err != nil {
			warnings = append(warnings, fmt.Errorf("%s: %w", binding.key, err))
		}
	}
	return cfg, warnings
}

func normalizeLower(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

// loadDotEnv подхватывает .env, если он есть. Уже выставленные переменные не перетираются.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func main() {
	dotEnvErr := loadDotEnv()
	setupLogger(os.LookupEnv)
	if dotEnvErr != nil {
		log.WithError(dotEnvErr).Warn("failed to load .env")
	}

	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, warning := range warnings {
		log.WithError(warning).Warn("invalid config value, using default")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"grpc_addr":      cfg.GRPCAddr,
		"http_addr":      cfg.HTTPAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
	}).WithFields(version.Fields()).Info("запускаем ordercore")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("ordercore остановлен")
}
