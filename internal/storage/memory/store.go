package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

// Store - in-memory хранилище для локальной разработки и тестов.
//
// Транзакция удерживает эксклюзивную блокировку всего хранилища до коммита или отката,
// поэтому транзакции выполняются строго последовательно. Изменения внутри транзакции
// записываются в журнал отката и отменяются в обратном порядке при ошибке или панике fn.
type Store struct {
	mu sync.RWMutex

	products      map[int64]domain.Product
	nextProductID int64
	orders        map[string]domain.Order
	timeline      map[string][]domain.TimelineEvent
	outbox        map[string]*outboxRecord
	outboxSeq     int64

	now func() time.Time
}

// Option настраивает Store.
type Option func(*Store)

// WithClock подменяет источник времени (используется в тестах).
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore создаёт пустое in-memory хранилище.
func NewStore(options ...Option) *Store {
	s := &Store{
		products: make(map[int64]domain.Product),
		orders:   make(map[string]domain.Order),
		timeline: make(map[string][]domain.TimelineEvent),
		outbox:   make(map[string]*outboxRecord),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// memTx - журнал отката одной транзакции.
type memTx struct {
	undo []func()
}

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

// view - доступ к данным хранилища: вне транзакции (tx == nil) или внутри неё.
type view struct {
	s  *Store
	tx *memTx
}

// lock берёт блокировку на запись. Внутри транзакции блокировка уже удерживается.
func (v view) lock() func() {
	if v.tx != nil {
		return func() {}
	}
	v.s.mu.Lock()
	return v.s.mu.Unlock
}

func (v view) rlock() func() {
	if v.tx != nil {
		return func() {}
	}
	v.s.mu.RLock()
	return v.s.mu.RUnlock
}

// onRollback регистрирует компенсацию изменения; вне транзакции изменения сразу окончательны.
func (v view) onRollback(fn func()) {
	if v.tx != nil {
		v.tx.undo = append(v.tx.undo, fn)
	}
}

func (v view) Products() domain.ProductCatalog { return productCatalog{v} }
func (v view) Ledger() domain.InventoryLedger { return inventoryLedger{v} }
func (v view) Orders() domain.OrderRepository { return orderRepository{v} }
func (v view) Timeline() domain.TimelineRepository { return timelineRepository{v} }
func (v view) Outbox() domain.OutboxRepository { return outboxRepository{v} }

// Products возвращает каталог в режиме autocommit.
func (s *Store) Products() domain.ProductCatalog { return view{s: s}.Products() }

// Ledger возвращает складской журнал в режиме autocommit.
func (s *Store) Ledger() domain.InventoryLedger { return view{s: s}.Ledger() }

// Orders возвращает репозиторий заказов в режиме autocommit.
func (s *Store) Orders() domain.OrderRepository { return view{s: s}.Orders() }

// Timeline возвращает историю заказов в режиме autocommit.
func (s *Store) Timeline() domain.TimelineRepository { return view{s: s}.Timeline() }

// Outbox возвращает outbox в режиме autocommit.
func (s *Store) Outbox() domain.OutboxRepository { return view{s: s}.Outbox() }

// WithinTx выполняет fn под эксклюзивной блокировкой хранилища.
// Вложенный вызов WithinTx из fn не поддерживается: используйте переданный tx.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{}
	committed := false
	defer func() {
		if !committed {
			tx.rollback()
		}
	}()

	if err := fn(ctx, view{s: s, tx: tx}); err != nil {
		return err
	}
	committed = true
	return nil
}

// Ping всегда успешен для in-memory хранилища.
func (s *Store) Ping(context.Context) error { return nil }

// Close ничего не освобождает.
func (s *Store) Close() error { return nil }

var (
	_ domain.Store = (*Store)(nil)
	_ domain.Tx    = view{}
)
