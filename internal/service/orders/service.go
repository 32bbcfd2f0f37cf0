package orders

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

// Recorder собирает метрики ядра. Реализация по умолчанию ничего не делает.
type Recorder interface {
	OrderCreated(duration time.Duration, units int64)
	OrderRejected(kind domain.ErrorKind)
	OrderCancelled(units int64)
	StatusChanged(from, to domain.OrderStatus)
}

type noopRecorder struct{}

func (noopRecorder) OrderCreated(time.Duration, int64) {}
func (noopRecorder) OrderRejected(domain.ErrorKind) {}
func (noopRecorder) OrderCancelled(int64) {}
func (noopRecorder) StatusChanged(domain.OrderStatus, domain.OrderStatus) {}

// Service - реализация API поверх транзакционного хранилища.
type Service struct {
	store     Storage
	builder   *Builder
	lifecycle *Lifecycle
	cache     domain.OrderCache
	metrics   Recorder
	logger    *log.Entry
	now       func() time.Time
	// listLimit == 0 - без ограничения.
	listLimit int
}

var _ API = (*Service)(nil)

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт логгер сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCache включает кэш чтения заказов.
func WithCache(cache domain.OrderCache) Option {
	return func(s *Service) { s.cache = cache }
}

// WithMetrics подключает сборщик метрик.
func WithMetrics(recorder Recorder) Option {
	return func(s *Service) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithListLimit ограничивает размер выдачи ListOrders. По умолчанию выдача полная.
func WithListLimit(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.listLimit = limit
		}
	}
}

// NewService собирает сервис заказов.
func NewService(store Storage, opts ...Option) *Service {
	s := &Service{
		store:     store,
		metrics:   noopRecorder{},
		logger:    log.New().WithField("component", "orders"),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.builder = NewBuilder(s.now)
	s.lifecycle = NewLifecycle(s.now)
	return s
}

// CreateOrder проверяет запрос, резервирует товар и сохраняет заказ одной транзакцией.
func (s *Service) CreateOrder(ctx context.Context, userID int64, items []ItemRequest) (domain.Order, error) {
	started := time.Now()

	var created domain.Order
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		order, lines, err := s.builder.Build(ctx, tx.Products(), userID, items)
		if err != nil {
			return err
		}
		if err := tx.Ledger().ReserveAll(ctx, lines); err != nil {
			return err
		}
		if err := tx.Orders().Create(ctx, order); err != nil {
			return err
		}
		if err := s.lifecycle.Created(ctx, tx, order); err != nil {
			return err
		}
		created = order
		return nil
	})
	if err != nil {
		derr := s.fail("create order", err, log.Fields{"user_id": userID})
		s.metrics.OrderRejected(derr.Kind)
		return domain.Order{}, derr
	}

	s.metrics.OrderCreated(time.Since(started), domain.TotalUnits(created.ReservationLines()))
	s.logger.WithFields(log.Fields{
		"order_id": created.ID,
		"user_id":  created.UserID,
		"total":    domain.FormatMinor(created.TotalMinor),
	}).Info("order created")

	s.cacheStore(ctx, created)
	return created, nil
}

// GetOrder возвращает заказ владельцу. NotFound проверяется раньше Unauthorized.
func (s *Service) GetOrder(ctx context.Context, orderID string, callerID int64) (domain.Order, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !order.OwnedBy(callerID) {
		return domain.Order{}, domain.Unauthorized()
	}
	return order, nil
}

// ListOrders возвращает заказы пользователя от новых к старым.
func (s *Service) ListOrders(ctx context.Context, userID int64) ([]domain.Order, error) {
	orders, err := s.store.Orders().ListByUser(ctx, userID, s.listLimit)
	if err != nil {
		return nil, s.fail("list orders", err, log.Fields{"user_id": userID})
	}
	return orders, nil
}

// UpdateOrderStatus меняет статус заказа. Порядок проверок: NotFound, Unauthorized,
// неизвестный статус, недопустимый переход.
func (s *Service) UpdateOrderStatus(ctx context.Context, orderID string, callerID int64, rawStatus string) (domain.Order, error) {
	var (
		previous domain.OrderStatus
		updated  domain.Order
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		order, err := s.lockOwned(ctx, tx, orderID, callerID)
		if err != nil {
			return err
		}
		next, err := domain.ParseOrderStatus(rawStatus)
		if err != nil {
			return err
		}
		previous = order.Status
		updated, err = s.lifecycle.Transition(ctx, tx, order, next)
		return err
	})
	if err != nil {
		return domain.Order{}, s.fail("update order status", err, log.Fields{"order_id": orderID, "status": rawStatus})
	}

	s.cacheRefresh(ctx, updated)
	s.metrics.StatusChanged(previous, updated.Status)
	if updated.Status == domain.OrderStatusCancelled {
		s.metrics.OrderCancelled(domain.TotalUnits(updated.ReservationLines()))
	}
	s.logger.WithFields(log.Fields{
		"order_id": orderID,
		"from":     previous,
		"to":       updated.Status,
	}).Info("order status changed")

	return updated, nil
}

// CancelOrder отменяет заказ владельца и возвращает товар на склад.
func (s *Service) CancelOrder(ctx context.Context, orderID string, callerID int64) error {
	var cancelled domain.Order
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		order, err := s.lockOwned(ctx, tx, orderID, callerID)
		if err != nil {
			return err
		}
		cancelled, err = s.lifecycle.Cancel(ctx, tx, order)
		return err
	})
	if err != nil {
		return s.fail("cancel order", err, log.Fields{"order_id": orderID})
	}

	s.cacheRefresh(ctx, cancelled)
	s.metrics.StatusChanged(domain.OrderStatusPending, domain.OrderStatusCancelled)
	s.metrics.OrderCancelled(domain.TotalUnits(cancelled.ReservationLines()))
	s.logger.WithField("order_id", orderID).Info("order cancelled")
	return nil
}

// OrderTimeline возвращает историю статусов заказа владельцу.
func (s *Service) OrderTimeline(ctx context.Context, orderID string, callerID int64) ([]domain.TimelineEvent, error) {
	if _, err := s.GetOrder(ctx, orderID, callerID); err != nil {
		return nil, err
	}
	events, err := s.store.Timeline().List(ctx, orderID)
	if err != nil {
		return nil, s.fail("list timeline", err, log.Fields{"order_id": orderID})
	}
	return events, nil
}

func (s *Service) lockOwned(ctx context.Context, tx domain.Tx, orderID string, callerID int64) (domain.Order, error) {
	order, err := tx.Orders().GetForUpdate(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !order.OwnedBy(callerID) {
		return domain.Order{}, domain.Unauthorized()
	}
	return order, nil
}

func (s *Service) loadOrder(ctx context.Context, orderID string) (domain.Order, error) {
	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, orderID)
		if err != nil {
			s.logger.WithError(err).WithField("order_id", orderID).Warn("order cache read failed")
		}
		if ok {
			return cached, nil
		}
	}

	order, err := s.store.Orders().Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.fail("load order", err, log.Fields{"order_id": orderID})
	}
	s.cacheStore(ctx, order)
	return order, nil
}

// fail приводит ошибку к доменной и пишет в лог только инфраструктурные сбои.
func (s *Service) fail(op string, err error, fields log.Fields) *domain.Error {
	derr := domain.AsError(op, err)
	if derr.Kind == domain.KindInternal {
		s.logger.WithError(err).WithFields(fields).WithField("operation", op).Error("order operation failed")
	} else {
		s.logger.WithFields(fields).WithFields(log.Fields{
			"operation": op,
			"kind":      derr.Kind,
		}).Debug(derr.Message)
	}
	return derr
}

func (s *Service) cacheStore(ctx context.Context, order domain.Order) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, order); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("order cache write failed")
	}
}

// cacheRefresh кладёт в кэш заказ после коммита. Кэш не принимает версию старше
// своей, поэтому запоздавшее заполнение из loadOrder не перетрёт её.
// Если запись не удалась, ключ удаляется.
func (s *Service) cacheRefresh(ctx context.Context, order domain.Order) {
	if s.cache == nil {
		return
	}
	err := s.cache.Set(ctx, order)
	if err == nil {
		return
	}
	s.logger.WithError(err).WithField("order_id", order.ID).Warn("order cache write failed")
	if err := s.cache.Invalidate(ctx, order.ID); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("order cache invalidation failed")
	}
}
