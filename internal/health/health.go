// Package health отдаёт JSON-пробы /healthz, /livez и /readyz.
//
// Проверки делятся на обязательные и необязательные: отказ обязательной (хранилище)
// снимает готовность, отказ необязательной (кэш, брокер, backlog outbox) только
// переводит сервис в degraded.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const defaultCheckTimeout = 2 * time.Second

// Status - состояние компонента или сервиса в целом.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func (s Status) severity() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Check - результат проверки одного компонента.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Report - сводка по всем зарегистрированным проверкам.
type Report struct {
	Status Status
	Checks map[string]Check
}

// Failing возвращает отсортированные имена проверок в статусе unhealthy.
func (r Report) Failing() []string {
	var names []string
	for name, check := range r.Checks {
		if check.Status == StatusUnhealthy {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// Response - тело ответа /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Checker проверяет компонент в пределах ctx.
type Checker interface {
	Check(ctx context.Context) Check
}

// Option настраивает Handler.
type Option func(*Handler)

// WithCheckTimeout ограничивает время одной проверки. Неположительное значение игнорируется.
func WithCheckTimeout(timeout time.Duration) Option {
	return func(h *Handler) {
		if timeout > 0 {
			h.timeout = timeout
		}
	}
}

// Handler хранит проверки и отдаёт по ним HTTP-пробы.
type Handler struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	version  string
	started  time.Time
	timeout  time.Duration
	now      func() time.Time
}

func NewHandler(version string, opts ...Option) *Handler {
	h := &Handler{
		checkers: make(map[string]Checker),
		version:  version,
		timeout:  defaultCheckTimeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.started = h.now()
	return h
}

// RegisterChecker добавляет проверку; повторная регистрация имени заменяет прежнюю.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

// Routes вешает пробы на mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.Handle("/healthz", h)
	mux.HandleFunc("/livez", LivenessHandler)
	mux.HandleFunc("/readyz", h.ReadinessHandler)
}

// Run опрашивает все проверки параллельно. Итоговый статус - худший из полученных.
func (h *Handler) Run(ctx context.Context) Report {
	h.mu.RLock()
	snapshot := make(map[string]Checker, len(h.checkers))
	for name, checker := range h.checkers {
		snapshot[name] = checker
	}
	h.mu.RUnlock()

	var (
		mu     sync.Mutex
		report = Report{Status: StatusHealthy, Checks: make(map[string]Check, len(snapshot))}
		g      errgroup.Group
	)
	for name, checker := range snapshot {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()
			check := checker.Check(checkCtx)

			mu.Lock()
			defer mu.Unlock()
			report.Checks[name] = check
			if check.Status.severity() > report.Status.severity() {
				report.Status = check.Status
			}
			return nil
		})
	}
	_ = g.Wait()
	return report
}

// ServeHTTP отдаёт полный JSON-отчёт; 503 только при unhealthy.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := h.Run(r.Context())
	now := h.now()

	code := http.StatusOK
	if report.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(Response{
		Status:        report.Status,
		Timestamp:     now.UTC(),
		Checks:        report.Checks,
		Version:       h.version,
		UptimeSeconds: int64(now.Sub(h.started).Seconds()),
	})
}

// LivenessHandler отвечает 200, пока процесс жив.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ReadinessHandler отвечает 503 и перечисляет упавшие проверки в X-Failed-Checks.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	report := h.Run(r.Context())
	if report.Status == StatusUnhealthy {
		w.Header().Set("X-Failed-Checks", strings.Join(report.Failing(), ","))
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// FuncChecker превращает функцию в Checker.
type FuncChecker struct {
	name    string
	failAs  Status
	check   func(ctx context.Context) error
	timeNow func() time.Time
}

// NewFuncChecker создаёт обязательную проверку: ошибка делает сервис unhealthy.
func NewFuncChecker(name string, check func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, failAs: StatusUnhealthy, check: check, timeNow: time.Now}
}

// NewOptionalChecker создаёт проверку, ошибка которой только деградирует сервис.
func NewOptionalChecker(name string, check func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, failAs: StatusDegraded, check: check, timeNow: time.Now}
}

func (c *FuncChecker) Check(ctx context.Context) Check {
	start := c.timeNow()
	err := c.check(ctx)
	result := Check{Name: c.name, Status: StatusHealthy, DurationMs: c.timeNow().Sub(start).Milliseconds()}
	if err != nil {
		result.Status = c.failAs
		result.Message = err.Error()
	}
	return result
}
