package telemetry

import (
	"context"
	"log/slog"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// InitMetrics registers an OTLP push exporter alongside a pull-based
// Prometheus reader on a dedicated registry, and returns a real
// http.Handler serving /metrics. The teacher's otelinit package never
// wired the Prometheus exporter's handler through to its caller (it
// always returned nil); this one does, using its own registry rather than
// the global DefaultRegisterer so repeated node startups in tests don't
// collide on duplicate metric registration.
func InitMetrics(ctx context.Context, service, otlpEndpoint string) (metric.MeterProvider, http.Handler, func(context.Context) error, error) {
	if otlpEndpoint == "" {
		otlpEndpoint = "localhost:4317"
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
	))
	if err != nil {
		return nil, nil, nil, err
	}

	registry := promclient.NewRegistry()
	promExporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, nil, err
	}

	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExporter),
	}

	pushExp, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(otlpEndpoint),
		otlpmetricgrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		slog.Warn("otel metric push exporter init failed", "error", err)
	} else {
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(pushExp)))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)
	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	slog.Info("otel metrics initialized", "endpoint", otlpEndpoint)
	return mp, handler, mp.Shutdown, nil
}
