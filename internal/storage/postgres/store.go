package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

const (
	pingTimeout = 5 * time.Second
	opTimeout   = 5 * time.Second
)

var errStoreNotInitialized = errors.New("postgres store is not initialized")

// PoolConfig задаёт параметры пула database/sql и имя приложения в pg_stat_activity.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ApplicationName string
}

// DefaultPoolConfig возвращает настройки пула по умолчанию.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    25,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		ApplicationName: "ordercore",
	}
}

func (p PoolConfig) apply(db *sql.DB) {
	db.SetMaxOpenConns(p.MaxOpenConns)
	db.SetMaxIdleConns(min(p.MaxIdleConns, p.MaxOpenConns))
	db.SetConnMaxLifetime(p.ConnMaxLifetime)
	db.SetConnMaxIdleTime(p.ConnMaxIdleTime)
}

// Store оборачивает SQL-подключение к PostgreSQL и реализует domain.Store.
type Store struct {
	db *sql.DB
}

// Open подключается с настройками пула по умолчанию.
func Open(ctx context.Context, dsn string) (*Store, error) {
	return OpenWithPool(ctx, dsn, DefaultPoolConfig())
}

// OpenWithPool разбирает DSN драйвером pgx, открывает пул и проверяет доступность базы.
func OpenWithPool(ctx context.Context, dsn string, pool PoolConfig) (*Store, error) {
	connConfig, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if pool.ApplicationName != "" {
		connConfig.RuntimeParams["application_name"] = pool.ApplicationName
	}

	db := stdlib.OpenDB(*connConfig)
	pool.apply(db)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{db: db}, nil
}

// DB возвращает raw SQL DB, когда нужен низкоуровневый доступ.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping проверяет доступность подключения.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// EnsureSchema применяет все up-миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

// Close закрывает подключение к БД.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// querier - общее подмножество *sql.DB и *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// scope связывает репозитории с подключением: пулом (autocommit) или открытой транзакцией.
type scope struct {
	store *Store
	q     querier
	inTx  bool
}

func (s scope) Products() domain.ProductCatalog     { return productCatalog{s} }
func (s scope) Ledger() domain.InventoryLedger      { return inventoryLedger{s} }
func (s scope) Orders() domain.OrderRepository      { return orderRepository{s} }
func (s scope) Timeline() domain.TimelineRepository { return timelineRepository{s} }
func (s scope) Outbox() domain.OutboxRepository     { return outboxRepository{s} }

// atomically выполняет fn в транзакции: в текущей, если она уже открыта, иначе в новой.
func (s scope) atomically(ctx context.Context, fn func(ctx context.Context, tx scope) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	return s.store.withinTx(ctx, fn)
}

func (s *Store) autocommit() scope {
	return scope{store: s, q: s.db}
}

// Products возвращает каталог в режиме autocommit.
func (s *Store) Products() domain.ProductCatalog { return s.autocommit().Products() }

// Ledger возвращает складской журнал; вне транзакции каждый вызов открывает свою.
func (s *Store) Ledger() domain.InventoryLedger { return s.autocommit().Ledger() }

// Orders возвращает репозиторий заказов в режиме autocommit.
func (s *Store) Orders() domain.OrderRepository { return s.autocommit().Orders() }

// Timeline возвращает историю заказов в режиме autocommit.
func (s *Store) Timeline() domain.TimelineRepository { return s.autocommit().Timeline() }

// Outbox возвращает outbox в режиме autocommit.
func (s *Store) Outbox() domain.OutboxRepository { return s.autocommit().Outbox() }

// WithinTx выполняет fn в транзакции READ COMMITTED. Ошибка или паника fn откатывает транзакцию.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	return s.withinTx(ctx, func(ctx context.Context, tx scope) error {
		return fn(ctx, tx)
	})
}

func (s *Store) withinTx(ctx context.Context, fn func(ctx context.Context, tx scope) error) (err error) {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(ctx, scope{store: s, q: tx, inTx: true}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

var (
	_ domain.Store = (*Store)(nil)
	_ domain.Tx    = scope{}
)
