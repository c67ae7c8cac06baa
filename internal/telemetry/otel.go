package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/host"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// InitMeterProvider wires the OTel metrics SDK to an OTLP/HTTP endpoint when
// one is configured, and starts the host-metrics instrumentation alongside
// it.
//
// If otlpEndpoint is empty, a no-op meter provider is returned; /metrics
// continues to serve the in-process rolling counters regardless.
func InitMeterProvider(ctx context.Context, serviceName, otlpEndpoint string) (metric.Meter, func(context.Context) error, error) {
	if otlpEndpoint == "" {
		return otel.Meter(serviceName), func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: init resource: %w", err)
	}

	exp, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(otlpEndpoint), otlpmetrichttp.WithInsecure())
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: init metric exporter: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(10*time.Second))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	if err := host.Start(host.WithMeterProvider(mp)); err != nil {
		return nil, nil, fmt.Errorf("telemetry: start host metrics: %w", err)
	}

	return mp.Meter(serviceName), mp.Shutdown, nil
}

// InitTracerProvider wires the OTel tracing SDK to an OTLP/HTTP endpoint when
// one is configured. The analysis workers and the aggregator start one span
// per bus entry handled, carrying the entry's correlationId as a span
// attribute; the indexer and DLQ processor start no spans. Within a span,
// internal/imagefetch runs on an otelhttp-wrapped transport that picks up
// the span from context and propagates the traceparent header downstream.
// The huggingface/openai/anthropic/google provider clients use a plain
// http.Client, so their calls carry no trace context.
//
// If otlpEndpoint is empty, a no-op tracer is returned.
func InitTracerProvider(ctx context.Context, serviceName, otlpEndpoint string) (trace.Tracer, func(context.Context) error, error) {
	if otlpEndpoint == "" {
		return otel.Tracer(serviceName), func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: init resource: %w", err)
	}

	exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(otlpEndpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: init trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Tracer(serviceName), tp.Shutdown, nil
}
