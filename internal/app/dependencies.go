package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/ordercore/internal/health"
	"github.com/vladislavdragonenkov/ordercore/internal/storage/memory"
	"github.com/vladislavdragonenkov/ordercore/internal/storage/postgres"
)

// runtimeDependencies - хранилище, выбранное по конфигурации, и всё, что от него зависит.
type runtimeDependencies struct {
	store           domain.Store
	idempotencyRepo domain.IdempotencyRepository
	storageChecker  healthcheck.Checker
	closeFn         func() error
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	if driver == "" {
		driver = StorageDriverMemory
	}

	switch driver {
	case StorageDriverMemory:
		store := memory.NewStore()
		logger.Info("using in-memory storage")
		return &runtimeDependencies{
			store:           store,
			idempotencyRepo: memory.NewIdempotencyRepository(),
			storageChecker:  healthcheck.NewFuncChecker("storage", store.Ping),
			closeFn:         store.Close,
		}, nil
	case StorageDriverPostgres:
		dsn := strings.TrimSpace(cfg.PostgresDSN)
		if dsn == "" {
			return nil, errors.New("postgres dsn is required for postgres storage driver")
		}
		pool := postgres.DefaultPoolConfig()
		if cfg.PostgresMaxConns > 0 {
			pool.MaxOpenConns = cfg.PostgresMaxConns
			pool.MaxIdleConns = cfg.PostgresMaxConns
		}
		if cfg.ServiceName != "" {
			pool.ApplicationName = cfg.ServiceName
		}
		store, err := postgres.OpenWithPool(ctx, dsn, pool)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
		}
		logger.Info("using postgres storage")
		return &runtimeDependencies{
			store:           store,
			idempotencyRepo: postgres.NewIdempotencyRepository(store),
			storageChecker:  healthcheck.NewFuncChecker("storage", store.Ping),
			closeFn:         store.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

// outboxBacklogChecker сообщает о деградации, если неотправленных событий больше maxPending.
func outboxBacklogChecker(repo domain.OutboxRepository, maxPending int) healthcheck.Checker {
	return healthcheck.NewOptionalChecker("outbox", func(ctx context.Context) error {
		stats, err := repo.Stats(ctx)
		if err != nil {
			return err
		}
		if maxPending > 0 && stats.PendingCount > maxPending {
			return fmt.Errorf("outbox backlog %d exceeds %d", stats.PendingCount, maxPending)
		}
		return nil
	})
}

func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil || d.closeFn == nil {
		return
	}
	if err := d.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}
