package app

import (
	"context"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/vinitsonawane45/tecnvirons-realtime-backend/internal/config"
	"github.com/vinitsonawane45/tecnvirons-realtime-backend/internal/log"
)

// setupTracing installs the global tracer provider, exporting spans over
// OTLP HTTP to a local collector or agent.
//
// Returns a shutdown function that flushes pending spans. An exporter
// construction failure disables tracing instead of failing startup.
func setupTracing(ctx context.Context, cfg *config.Config, logger log.Logger) func(context.Context) error {
	noop := func(context.Context) error { return nil }
	if !cfg.TracingEnabled {
		return noop
	}

	endpoint := cfg.OTLPEndpoint
	if endpoint == "" {
		endpoint = config.DefaultOTLPEndpoint
	}

	// The SDK resource picks the service name up from the environment.
	if cfg.ServiceName != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", cfg.ServiceName)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(), // local agent, no TLS
	)
	if err != nil {
		logger.Warn("failed to create trace exporter, tracing disabled", "error", err)
		return noop
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter)),
	)
	otel.SetTracerProvider(provider)

	logger.Debug("tracing enabled", "endpoint", endpoint, "service", cfg.ServiceName)
	return provider.Shutdown
}
