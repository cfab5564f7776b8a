package otelinit

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
)

// Metrics holds the instruments InitMetrics creates: retry and circuit
// breaker transition counters, plus task lifecycle counters. The
// resilience package records to counters of the same names through the
// global meter; nothing in the tree increments the task lifecycle
// counters.
type Metrics struct {
	RetryAttempts          metric.Int64Counter
	CircuitOpenTransitions metric.Int64Counter
	TasksCreated           metric.Int64Counter
	TasksCompleted         metric.Int64Counter
	TasksErrored           metric.Int64Counter
}

// InitMetrics sets up a global meter provider with two readers: a
// PeriodicReader pushing to an OTLP collector every 10s, and a Prometheus
// exporter scraped through promHandler. promHandler is any (not
// http.Handler) so callers that don't care about /metrics can ignore it
// without importing net/http; callers that do type-assert it before
// mounting, matching the ecosystem's usual optional-exporter wiring.
// OTLP exporter failures degrade to a no-op shutdown so the instruments
// (and the Prometheus scrape path) remain usable even without a collector.
func InitMetrics(ctx context.Context, service string) (shutdown func(context.Context) error, promHandler any, m Metrics) {
	res, _ := sdkresource.Merge(sdkresource.Default(), sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
		attribute.String("service", service),
	))

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	promExp, err := prometheus.New()
	if err != nil {
		slog.Warn("prometheus exporter init failed", "error", err)
		promHandler = nil
	} else {
		opts = append(opts, sdkmetric.WithReader(promExp))
		promHandler = promhttp.Handler()
	}

	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT")
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		endpoint = "localhost:4317"
	}

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exp, err := otlpmetricgrpc.New(initCtx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithDialOption(grpc.WithInsecure()),
	)
	if err != nil {
		slog.Warn("otel metrics exporter init failed", "error", err)
		mp := sdkmetric.NewMeterProvider(opts...)
		otel.SetMeterProvider(mp)
		return mp.Shutdown, promHandler, createInstruments()
	}

	opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(10*time.Second))))
	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)
	slog.Info("otel metrics initialized", "endpoint", endpoint)
	return mp.Shutdown, promHandler, createInstruments()
}

func createInstruments() Metrics {
	meter := otel.Meter(TracerName)
	retry, _ := meter.Int64Counter("wopa_resilience_retry_attempts_total")
	circuit, _ := meter.Int64Counter("wopa_resilience_circuit_open_total")
	created, _ := meter.Int64Counter("wopa_tasks_created_total")
	completed, _ := meter.Int64Counter("wopa_tasks_completed_total")
	errored, _ := meter.Int64Counter("wopa_tasks_errored_total")
	return Metrics{
		RetryAttempts:          retry,
		CircuitOpenTransitions: circuit,
		TasksCreated:           created,
		TasksCompleted:         completed,
		TasksErrored:           errored,
	}
}
