package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/ordercore/internal/health"
)

const (
	httpShutdownTimeout = 5 * time.Second
	readHeaderTimeout   = 5 * time.Second
	httpIdleTimeout     = time.Minute
)

// metricsMux отдаёт /metrics и пробы здоровья на одном порту.
func metricsMux(healthHandler *healthcheck.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	healthHandler.Routes(mux)
	return mux
}

func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) (*http.Server, error) {
	return listenHTTP(ctx, "metrics", addr, metricsMux(healthHandler), logger)
}

func startRESTServer(ctx context.Context, addr string, handler http.Handler, logger *log.Entry) (*http.Server, error) {
	return listenHTTP(ctx, "rest", addr, handler, logger)
}

// listenHTTP занимает порт синхронно, чтобы ошибка привязки вернулась вызывающему,
// обслуживает запросы в фоне и гасит сервер при отмене ctx.
func listenHTTP(ctx context.Context, name, addr string, handler http.Handler, logger *log.Entry) (*http.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s on %s: %w", name, addr, err)
	}

	srv := &http.Server{
		Addr:              lis.Addr().String(),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       httpIdleTimeout,
	}
	entry := logger.WithFields(log.Fields{"server": name, "addr": srv.Addr})

	go func() {
		entry.Info("http server listening")
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			entry.WithError(err).Error("http server stopped unexpectedly")
		}
	}()
	context.AfterFunc(ctx, func() { shutdownHTTP(srv, entry) })

	return srv, nil
}

// shutdownHTTP ждёт завершения активных запросов не дольше httpShutdownTimeout.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
