// Package rest - HTTP API заказов и каталога поверх gin.
package rest

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
	"github.com/vladislavdragonenkov/ordercore/internal/service/idempotency"
	"github.com/vladislavdragonenkov/ordercore/internal/service/orders"
)

const (
	// UserIDHeader - идентификатор пользователя, выставляемый доверенным шлюзом.
	UserIDHeader = "X-User-ID"
	// IdempotencyKeyHeader - необязательный ключ повтора для POST /api/orders/.
	IdempotencyKeyHeader = "Idempotency-Key"
	// ReplayHeader выставляется, если ответ взят из сохранённой записи idempotency-key.
	ReplayHeader = "Idempotent-Replay"

	userIDKey          = "user_id"
	defaultServiceName = "ordercore"
)

type handler struct {
	api         orders.API
	catalog     domain.ProductCatalog
	runner      *idempotency.Runner
	logger      *log.Entry
	serviceName string
}

// Option настраивает роутер.
type Option func(*handler)

// WithLogger задаёт логгер запросов.
func WithLogger(logger *log.Entry) Option {
	return func(h *handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithIdempotency включает обработку Idempotency-Key на создании заказа.
func WithIdempotency(runner *idempotency.Runner) Option {
	return func(h *handler) { h.runner = runner }
}

// WithServiceName задаёт имя сервиса для спанов otelgin.
func WithServiceName(name string) Option {
	return func(h *handler) {
		if name != "" {
			h.serviceName = name
		}
	}
}

// NewRouter собирает gin.Engine с маршрутами /api/orders и /api/products.
func NewRouter(api orders.API, catalog domain.ProductCatalog, options ...Option) *gin.Engine {
	h := &handler{
		api:         api,
		catalog:     catalog,
		logger:      log.WithField("component", "rest"),
		serviceName: defaultServiceName,
	}
	for _, option := range options {
		option(h)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), otelgin.Middleware(h.serviceName), h.logRequests)

	group := engine.Group("/api")

	ordersGroup := group.Group("/orders", h.requireUser)
	ordersGroup.GET("/", h.listOrders)
	ordersGroup.POST("/", h.createOrder)
	ordersGroup.GET("/:id", h.getOrder)
	ordersGroup.PUT("/:id", h.updateOrder)
	ordersGroup.DELETE("/:id", h.cancelOrder)
	ordersGroup.GET("/:id/timeline", h.orderTimeline)

	productsGroup := group.Group("/products")
	productsGroup.GET("/", h.listProducts)
	productsGroup.GET("/:id", h.getProduct)
	productsGroup.POST("/", h.requireUser, h.createProduct)

	return engine
}

// requireUser достаёт X-User-ID. Заголовок выставляет шлюз после аутентификации,
// поэтому его отсутствие означает неаутентифицированный запрос.
func (h *handler) requireUser(c *gin.Context) {
	raw := strings.TrimSpace(c.GetHeader(UserIDHeader))
	if raw == "" {
		respondProblem(c, unauthenticatedProblem("X-User-ID header is required", c.Request.URL.Path))
		return
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		respondProblem(c, unauthenticatedProblem("X-User-ID must be a positive integer", c.Request.URL.Path))
		return
	}
	c.Set(userIDKey, userID)
	c.Next()
}

func (h *handler) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()

	entry := h.logger.WithFields(log.Fields{
		"method":   c.Request.Method,
		"route":    c.FullPath(),
		"status":   c.Writer.Status(),
		"duration": time.Since(start),
	})
	if c.Writer.Status() >= 500 {
		entry.Warn("request failed")
		return
	}
	entry.Debug("request served")
}

// fail отвечает problem-документом. Внутренние ошибки логируются с деталями.
func (h *handler) fail(c *gin.Context, op string, err error) {
	derr := domain.AsError(op, err)
	if derr.Kind == domain.KindInternal {
		h.logger.WithError(err).WithField("op", op).Error("request failed")
	}
	respondProblem(c, problemFor(derr, c.Request.URL.Path))
}
