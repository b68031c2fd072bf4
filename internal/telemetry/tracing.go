// Package telemetry sets up OpenTelemetry tracing for loads.
package telemetry

import (
	"context"
	"fmt"

	texporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/JakeFAU/progressive-loader/internal/loader"
)

const tracerName = "github.com/JakeFAU/progressive-loader/loader"

// Config selects the service identity and exporter.
type Config struct {
	ServiceName string
	Version     string
	// ProjectID enables export to Google Cloud Trace. Without it spans are
	// sampled and propagated but not exported.
	ProjectID   string
	SampleRatio float64
}

// InitTracerProvider installs a global trace provider and the W3C
// propagators. The caller shuts the provider down on exit.
func InitTracerProvider(ctx context.Context, cfg Config) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	}
	if cfg.ProjectID != "" {
		exporter, err := texporter.New(texporter.WithProjectID(cfg.ProjectID))
		if err != nil {
			return nil, fmt.Errorf("failed to create google trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
	)
	return tp, nil
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// StartLoad opens the span that covers one load. Delivery publishes made
// under the returned context carry its trace.
func StartLoad(ctx context.Context, url string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "loader.load",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("loader.url", url)),
	)
}

// EndLoad records the outcome of a load and ends span.
func EndLoad(span trace.Span, res loader.Result, err error) {
	defer span.End()
	if res.LoadID != uuid.Nil {
		span.SetAttributes(attribute.String("loader.load_id", res.LoadID.String()))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetAttributes(
		attribute.Int64("loader.total_bytes", res.TotalBytes),
		attribute.Int64("loader.bytes_received", res.BytesReceived),
		attribute.String("loader.sha256", res.Digest),
	)
	span.SetStatus(codes.Ok, "")
}
