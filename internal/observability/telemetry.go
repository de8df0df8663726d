// Package observability настраивает трассировку OpenTelemetry.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/annel0/slp-replay/internal/logging"
)

// Config трассировка сервиса разбора
type Config struct {
	Enabled     bool    `yaml:"enabled" env:"SLP_OTEL_ENABLED"`
	ServiceName string  `yaml:"service_name" env:"SLP_OTEL_SERVICE_NAME"`
	Endpoint    string  `yaml:"endpoint" env:"SLP_OTEL_ENDPOINT"` // host:port; пусто = OTEL_EXPORTER_OTLP_ENDPOINT или localhost:4318
	Insecure    bool    `yaml:"insecure" env:"SLP_OTEL_INSECURE"`
	SampleRatio float64 `yaml:"sample_ratio" env:"SLP_OTEL_SAMPLE_RATIO"`
}

// InitTelemetry настраивает OTLP HTTP экспортер и глобальный TracerProvider.
// Без вызова спаны replay.decode и HTTP-запросов уходят в no-op провайдер.
func InitTelemetry(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	var opts []otlptracehttp.Option
	if cfg.Endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	logging.Info("📡 OpenTelemetry: service=%s sample=%.2f", cfg.ServiceName, cfg.SampleRatio)

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(ctx)
	}, nil
}
