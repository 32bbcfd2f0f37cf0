// Package tracing настраивает OpenTelemetry SDK процесса.
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Поддерживаемые экспортёры.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// Config описывает экспорт спанов.
type Config struct {
	Exporter    string
	ServiceName string
	Version     string
	// OTLPEndpoint - host:port коллектора; пусто означает значение из OTEL_EXPORTER_OTLP_ENDPOINT.
	OTLPEndpoint string
	OTLPInsecure bool
	// Writer для stdout-экспортёра; nil означает os.Stdout.
	Writer io.Writer
}

// ShutdownFunc сбрасывает накопленные спаны и останавливает провайдер.
type ShutdownFunc func(ctx context.Context) error

// Setup устанавливает глобальный TracerProvider и propagator.
// Для ExporterNone остаётся no-op провайдер otel по умолчанию.
func Setup(ctx context.Context, cfg Config, logger *log.Entry) (ShutdownFunc, error) {
	if logger == nil {
		logger = log.WithField("component", "tracing")
	}

	exporterName := strings.ToLower(strings.TrimSpace(cfg.Exporter))
	if exporterName == "" || exporterName == ExporterNone {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := newExporter(ctx, exporterName, cfg)
	if err != nil {
		return nil, err
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "ordercore"
	}
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", cfg.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.WithField("exporter", exporterName).Info("tracing enabled")
	return provider.Shutdown, nil
}

func newExporter(ctx context.Context, name string, cfg Config) (sdktrace.SpanExporter, error) {
	switch name {
	case ExporterStdout:
		writer := cfg.Writer
		if writer == nil {
			writer = os.Stdout
		}
		return stdouttrace.New(stdouttrace.WithWriter(writer))
	case ExporterOTLP:
		opts := []otlptracehttp.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("create otlp exporter: %w", err)
		}
		return exporter, nil
	default:
		return nil, fmt.Errorf("unknown tracing exporter %q (expected none, stdout or otlp)", name)
	}
}
