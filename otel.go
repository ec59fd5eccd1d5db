//go:build otel

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// init_otel installs an OTLP exporter as the global tracer provider, so the
// per-connection spans of the server are exported.
func init_otel(name string) (func(), error) {
	slog.Info("initialize opentelemetry")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	exporter, err := otlptracegrpc.New(ctx)
	if err != nil {
		stop()
		slog.Error("initialize opentelemetry failed", "error", err)
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(name),
			semconv.ServiceVersion(version),
		)),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return func() {
		stop()
		if err := tp.Shutdown(context.Background()); err != nil {
			slog.Error("trace provider shutdown error", "error", err)
		}
	}, nil
}
