// Package otelexport installs an OTLP trace pipeline for the spans walink
// records around backend calls.
package otelexport

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultServiceName = "walink"

	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http"
)

// SessionIDKey tags the resource with the session whose calls are traced.
const SessionIDKey = attribute.Key("walink.session_id")

// Config configures the OTLP pipeline.
type Config struct {
	Endpoint       string // host:port of the collector
	Protocol       string // grpc (default) or http
	Insecure       bool
	ServiceName    string
	ServiceVersion string
	Headers        map[string]string
	SessionID      string

	// SampleRatio is the fraction of root traces kept; 0 means keep all.
	SampleRatio float64
}

// Exporter owns the tracer provider behind otel.Tracer.
type Exporter struct {
	provider *sdktrace.TracerProvider
	previous trace.TracerProvider
}

// New creates the pipeline for cfg.Protocol. The exporter connects on first export.
func New(ctx context.Context, cfg Config) (*Exporter, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("otlp endpoint is required")
	}
	var (
		exp sdktrace.SpanExporter
		err error
	)
	switch cfg.Protocol {
	case ProtocolGRPC, "":
		exp, err = grpcExporter(ctx, cfg)
	case ProtocolHTTP:
		exp, err = httpExporter(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown otlp protocol %q (want %s or %s)", cfg.Protocol, ProtocolGRPC, ProtocolHTTP)
	}
	if err != nil {
		return nil, fmt.Errorf("otlp %s exporter: %w", cfg.Protocol, err)
	}
	return NewWithExporter(ctx, exp, cfg)
}

func grpcExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	return otlptracegrpc.New(ctx, opts...)
}

func httpExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
	}
	return otlptracehttp.New(ctx, opts...)
}

// NewWithExporter builds the provider around an existing span exporter.
func NewWithExporter(ctx context.Context, exp sdktrace.SpanExporter, cfg Config) (*Exporter, error) {
	if cfg.SampleRatio < 0 || cfg.SampleRatio > 1 {
		return nil, fmt.Errorf("sample ratio %v outside [0, 1]", cfg.SampleRatio)
	}
	name, version := cfg.ServiceName, cfg.ServiceVersion
	if name == "" {
		name = DefaultServiceName
	}
	if version == "" {
		version = "dev"
	}
	attrs := []attribute.KeyValue{semconv.ServiceName(name), semconv.ServiceVersion(version)}
	if cfg.SessionID != "" {
		attrs = append(attrs, SessionIDKey.String(cfg.SessionID))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	}

	// Backend calls are few per command, so a small batch flushed often is enough.
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp,
			sdktrace.WithMaxExportBatchSize(64),
			sdktrace.WithBatchTimeout(2*time.Second),
		),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	return &Exporter{provider: tp}, nil
}

// Install makes e the global tracer provider until Shutdown.
func (e *Exporter) Install() {
	if e == nil {
		return
	}
	e.previous = otel.GetTracerProvider()
	otel.SetTracerProvider(e.provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}

func (e *Exporter) Tracer(name string) trace.Tracer {
	return e.provider.Tracer(name)
}

// ForceFlush exports buffered spans.
func (e *Exporter) ForceFlush(ctx context.Context) error {
	if e == nil {
		return nil
	}
	return e.provider.ForceFlush(ctx)
}

// Shutdown flushes remaining spans and restores the provider Install replaced.
func (e *Exporter) Shutdown(ctx context.Context) error {
	if e == nil {
		return nil
	}
	if e.previous != nil {
		otel.SetTracerProvider(e.previous)
		e.previous = nil
	}
	slog.Debug("otel: shutting down exporter")
	return e.provider.Shutdown(ctx)
}
