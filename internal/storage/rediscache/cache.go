// Package rediscache - кэш чтения заказов поверх Redis.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

const (
	defaultTTL       = 5 * time.Minute
	defaultKeyPrefix = "ordercore:order:"
	opTimeout        = 500 * time.Millisecond
	maxSetAttempts   = 3
)

// Options задаёт параметры кэша.
type Options struct {
	TTL       time.Duration
	KeyPrefix string
}

// OrderCache реализует domain.OrderCache. Заказ хранится целиком вместе с позициями.
type OrderCache struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// New создаёт кэш поверх готового клиента.
func New(rdb redis.UniversalClient, opts Options) *OrderCache {
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = defaultKeyPrefix
	}
	return &OrderCache{rdb: rdb, ttl: opts.TTL, prefix: opts.KeyPrefix}
}

// NewClient создаёт клиента Redis с короткими таймаутами: кэш не должен тормозить основной путь.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  opTimeout,
		WriteTimeout: opTimeout,
	})
}

type cachedItem struct {
	ID         string    `json:"id"`
	ProductID  int64     `json:"product_id"`
	Quantity   int32     `json:"quantity"`
	PriceMinor int64     `json:"price_minor"`
	CreatedAt  time.Time `json:"created_at"`
}

type cachedOrder struct {
	ID         string       `json:"id"`
	UserID     int64        `json:"user_id"`
	Status     string       `json:"status"`
	TotalMinor int64        `json:"total_minor"`
	Items      []cachedItem `json:"items"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

func (c *OrderCache) key(orderID string) string {
	return c.prefix + orderID
}

// Get возвращает заказ из кэша; промах - (Order{}, false, nil).
func (c *OrderCache) Get(ctx context.Context, orderID string) (domain.Order, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	raw, err := c.rdb.Get(ctx, c.key(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Order{}, false, nil
	}
	if err != nil {
		return domain.Order{}, false, fmt.Errorf("redis get order %s: %w", orderID, err)
	}

	var cached cachedOrder
	if err := json.Unmarshal(raw, &cached); err != nil {
		// Битая запись равносильна промаху: её перезапишет следующий Set.
		return domain.Order{}, false, nil
	}
	return fromCached(cached), true, nil
}

// Set кладёт заказ в кэш на TTL, если в кэше нет версии с более поздним UpdatedAt.
// Ключ читается под WATCH: конкурентная запись между чтением и SET отменяет
// транзакцию, и сравнение повторяется.
func (c *OrderCache) Set(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	payload, err := json.Marshal(toCached(order))
	if err != nil {
		return fmt.Errorf("marshal order %s: %w", order.ID, err)
	}

	key := c.key(order.ID)
	write := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var current cachedOrder
			if json.Unmarshal(raw, &current) == nil && current.UpdatedAt.After(order.UpdatedAt) {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, c.ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxSetAttempts; attempt++ {
		err = c.rdb.Watch(ctx, write, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("redis set order %s: %w", order.ID, err)
	}
	return nil
}

// Invalidate удаляет заказ из кэша.
func (c *OrderCache) Invalidate(ctx context.Context, orderID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := c.rdb.Del(ctx, c.key(orderID)).Err(); err != nil {
		return fmt.Errorf("redis del order %s: %w", orderID, err)
	}
	return nil
}

// Ping проверяет доступность Redis (для readiness).
func (c *OrderCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func toCached(order domain.Order) cachedOrder {
	items := make([]cachedItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, cachedItem{
			ID:         item.ID,
			ProductID:  item.ProductID,
			Quantity:   item.Quantity,
			PriceMinor: item.PriceMinor,
			CreatedAt:  item.CreatedAt,
		})
	}
	return cachedOrder{
		ID:         order.ID,
		UserID:     order.UserID,
		Status:     string(order.Status),
		TotalMinor: order.TotalMinor,
		Items:      items,
		CreatedAt:  order.CreatedAt,
		UpdatedAt:  order.UpdatedAt,
	}
}

func fromCached(cached cachedOrder) domain.Order {
	items := make([]domain.OrderItem, 0, len(cached.Items))
	for _, item := range cached.Items {
		items = append(items, domain.OrderItem{
			ID:         item.ID,
			ProductID:  item.ProductID,
			Quantity:   item.Quantity,
			PriceMinor: item.PriceMinor,
			CreatedAt:  item.CreatedAt,
		})
	}
	return domain.Order{
		ID:         cached.ID,
		UserID:     cached.UserID,
		Status:     domain.OrderStatus(cached.Status),
		TotalMinor: cached.TotalMinor,
		Items:      items,
		CreatedAt:  cached.CreatedAt,
		UpdatedAt:  cached.UpdatedAt,
	}
}

var _ domain.OrderCache = (*OrderCache)(nil)
