// Package metrics содержит Prometheus-метрики ядра заказов.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

// OrderMetrics собирает метрики операций с заказами и остатками.
type OrderMetrics struct {
	ordersCreated     prometheus.Counter
	createRejected    *prometheus.CounterVec
	ordersCancelled   prometheus.Counter
	statusTransitions *prometheus.CounterVec
	createDuration    prometheus.Histogram
	unitsReserved     prometheus.Counter
	unitsReleased     prometheus.Counter
}

// NewOrderMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer регистрирует метрики в заданном реестре.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		ordersCreated: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ordercore_orders_created_total",
			Help: "Total number of orders created.",
		})),
		createRejected: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ordercore_order_create_rejected_total",
			Help: "Total number of rejected order creations grouped by error kind.",
		}, []string{"kind"})),
		ordersCancelled: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ordercore_orders_cancelled_total",
			Help: "Total number of cancelled orders.",
		})),
		statusTransitions: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ordercore_order_status_transitions_total",
			Help: "Total number of order status changes grouped by source and target status.",
		}, []string{"from", "to"})),
		createDuration: register(registerer, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ordercore_order_create_duration_seconds",
			Help:    "Duration of successful order creation including stock reservation.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		})),
		unitsReserved: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ordercore_stock_units_reserved_total",
			Help: "Total number of stock units reserved by created orders.",
		})),
		unitsReleased: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ordercore_stock_units_released_total",
			Help: "Total number of stock units returned by cancellations.",
		})),
	}
}

func register[C prometheus.Collector](registerer prometheus.Registerer, collector C) C {
	err := registerer.Register(collector)
	if err == nil {
		return collector
	}

	var alreadyRegistered prometheus.AlreadyRegisteredError
	if errors.As(err, &alreadyRegistered) {
		existing, ok := alreadyRegistered.ExistingCollector.(C)
		if !ok {
			panic(fmt.Sprintf("collector already registered with unexpected type %T", alreadyRegistered.ExistingCollector))
		}
		return existing
	}
	panic(fmt.Sprintf("register collector: %v", err))
}

// OrderCreated учитывает созданный заказ.
func (m *OrderMetrics) OrderCreated(duration time.Duration, units int64) {
	m.ordersCreated.Inc()
	m.createDuration.Observe(duration.Seconds())
	m.unitsReserved.Add(float64(units))
}

// OrderRejected учитывает отказ в создании заказа.
func (m *OrderMetrics) OrderRejected(kind domain.ErrorKind) {
	m.createRejected.WithLabelValues(string(kind)).Inc()
}

// OrderCancelled учитывает отмену и возврат товара на склад.
func (m *OrderMetrics) OrderCancelled(units int64) {
	m.ordersCancelled.Inc()
	m.unitsReleased.Add(float64(units))
}

// StatusChanged учитывает смену статуса.
func (m *OrderMetrics) StatusChanged(from, to domain.OrderStatus) {
	m.statusTransitions.WithLabelValues(string(from), string(to)).Inc()
}
