package domain

import (
	"context"
	"time"
)

// ProductCatalog - чтение и заведение товаров. Остатки меняет только InventoryLedger.
type ProductCatalog interface {
	// Get возвращает товар или ErrProductNotFound.
	Get(ctx context.Context, id int64) (Product, error)
	// Create заводит товар; ID назначается хранилищем, если не задан.
	Create(ctx context.Context, product Product) (Product, error)
	// List возвращает товары по возрастанию ID.
	List(ctx context.Context) ([]Product, error)
}

// InventoryLedger - единственный источник изменений Product.Stock.
type InventoryLedger interface {
	// Reserve атомарно проверяет остаток и списывает qty.
	Reserve(ctx context.Context, productID int64, qty int64) error
	// ReserveAll списывает все строки как одну группу: либо всё, либо ничего.
	ReserveAll(ctx context.Context, lines []ReservationLine) error
	// Release возвращает количество на склад. Отсутствующие товары пропускаются.
	Release(ctx context.Context, lines []ReservationLine) error
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет заказ вместе с позициями.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// GetForUpdate читает заказ с блокировкой строки до конца транзакции.
	GetForUpdate(ctx context.Context, id string) (Order, error)
	// ListByUser возвращает заказы пользователя от новых к старым; limit<=0 - без ограничения.
	ListByUser(ctx context.Context, userID int64, limit int) ([]Order, error)
	// UpdateStatus меняет статус заказа.
	UpdateStatus(ctx context.Context, id string, status OrderStatus, at time.Time) error
}

// Tx - набор репозиториев, работающих в одной транзакции.
type Tx interface {
	Products() ProductCatalog
	Ledger() InventoryLedger
	Orders() OrderRepository
	Timeline() TimelineRepository
	Outbox() OutboxRepository
}

// TxManager выполняет fn в транзакции. Любая ошибка fn (или паника) откатывает все изменения.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Store - хранилище целиком: репозитории вне транзакции (autocommit) и транзакционный менеджер.
type Store interface {
	Tx
	TxManager
	Ping(ctx context.Context) error
	Close() error
}
