// Package telemetry wires OpenTelemetry tracing for routing decisions.
package telemetry

import (
	"context"
	"log/slog"

	"github.com/felipepmaragno/model-router/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/felipepmaragno/model-router/internal/router"

type Options struct {
	ServiceName string
	Version     string
	Endpoint    string
	// SampleRatio below 1 samples that fraction of new traces. Zero or
	// anything above 1 samples everything.
	SampleRatio float64
}

// Init installs an OTLP gRPC exporter as the global tracer provider and
// returns its shutdown func. Without an endpoint nothing is installed and
// spans stay no-ops.
func Init(ctx context.Context, opts Options) (func(context.Context) error, error) {
	if opts.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(opts.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(opts.ServiceName),
			semconv.ServiceVersion(opts.Version),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(opts.SampleRatio)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	slog.Info("tracing enabled", "endpoint", opts.Endpoint, "sample_ratio", opts.SampleRatio)

	return tp.Shutdown, nil
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// The tracer is resolved per call so a provider installed after package
// init, including one set by tests, is picked up.
func tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartRoute opens the span covering one Route call.
func StartRoute(ctx context.Context, req domain.GenerationRequest) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("request.id", req.RequestID),
	}
	if req.Phase != "" {
		attrs = append(attrs, attribute.String("request.phase", req.Phase))
	}
	if req.UserID != "" {
		attrs = append(attrs, attribute.String("request.user_id", req.UserID))
	}
	return tracer().Start(ctx, "router.Route", trace.WithAttributes(attrs...))
}

// EndRoute records the outcome of a Route call and ends the span.
func EndRoute(span trace.Span, result *domain.GenerationResult, err error) {
	defer span.End()

	if err != nil {
		recordError(span, err)
		return
	}
	span.SetAttributes(
		attribute.String("model.used", result.Metadata.ModelUsed),
		attribute.Bool("cache.hit", result.Metadata.CacheHit),
		attribute.Int("attempts", result.Metadata.Attempts),
	)
}

// StartAttempt opens the span covering one call to a candidate model.
func StartAttempt(ctx context.Context, model string, attempt int) (context.Context, trace.Span) {
	return tracer().Start(ctx, "router.attempt", trace.WithAttributes(
		attribute.String("model", model),
		attribute.Int("attempt", attempt),
	))
}

// EndAttempt records the outcome of one candidate call and ends the span.
func EndAttempt(span trace.Span, result *domain.GenerationResult, err error) {
	defer span.End()

	if err != nil {
		recordError(span, err)
		return
	}
	span.SetAttributes(attribute.Int("tokens.used", result.Metadata.TokensUsed))
}

func recordError(span trace.Span, err error) {
	span.SetAttributes(attribute.String("error.kind", domain.KindOf(err).String()))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceID returns the trace id of the span in ctx, or "" when there is none.
func TraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}
