// Package telemetry installs the OpenTelemetry tracer provider. Spans from
// the loop are exported as JSON lines to a file when tracing is configured;
// otherwise the global no-op provider stays in place.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Iron-Ham/patchloop/internal/config"
)

// ServiceName is reported as the service.name resource attribute.
const ServiceName = "patchloop"

// ShutdownFunc flushes pending spans and releases the trace file.
type ShutdownFunc func(context.Context) error

// Setup configures tracing from cfg. The returned ShutdownFunc is never nil
// and is safe to call when tracing is disabled.
func Setup(cfg config.TelemetryConfig, version string) (ShutdownFunc, error) {
	noop := func(context.Context) error { return nil }
	if cfg.TraceFile == "" {
		return noop, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.TraceFile), 0755); err != nil {
		return noop, fmt.Errorf("create trace directory: %w", err)
	}
	f, err := os.OpenFile(cfg.TraceFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return noop, fmt.Errorf("open trace file: %w", err)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(f))
	if err != nil {
		_ = f.Close()
		return noop, fmt.Errorf("create exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", ServiceName),
		attribute.String("service.version", version),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		shutdownErr := tp.Shutdown(ctx)
		closeErr := f.Close()
		if shutdownErr != nil {
			return fmt.Errorf("shutdown tracer: %w", shutdownErr)
		}
		return closeErr
	}, nil
}
