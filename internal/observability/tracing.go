package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// TracingConfig holds configuration for tracing.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	Environment string `mapstructure:"environment"`
}

// Tracing provides OpenTelemetry tracing functionality. A nil *Tracing is
// valid and behaves as disabled.
type Tracing struct {
	config   TracingConfig
	logger   *zap.Logger
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// NewTracing creates a tracing instance. When enabled it installs an SDK
// tracer provider tagged with the service name and environment; finished
// spans are written to the logger at debug level.
func NewTracing(config TracingConfig, logger *zap.Logger) *Tracing {
	if !config.Enabled {
		return NewTracingWithProvider(config, logger, otel.GetTracerProvider())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ServiceName == "" {
		config.ServiceName = "routechain"
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", config.ServiceName),
		attribute.String("deployment.environment", config.Environment),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(&logSpanProcessor{logger: logger}),
	)
	otel.SetTracerProvider(tp)

	t := NewTracingWithProvider(config, logger, tp)
	t.provider = tp
	logger.Info("Tracing enabled",
		zap.String("service", config.ServiceName),
		zap.String("environment", config.Environment))
	return t
}

// NewTracingWithProvider creates a tracing instance backed by the given provider.
func NewTracingWithProvider(config TracingConfig, logger *zap.Logger, tp trace.TracerProvider) *Tracing {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ServiceName == "" {
		config.ServiceName = "routechain"
	}
	return &Tracing{
		config: config,
		logger: logger,
		tracer: tp.Tracer(config.ServiceName),
	}
}

// Shutdown flushes and stops a provider created by NewTracing.
func (t *Tracing) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	if err := t.provider.Shutdown(ctx); err != nil {
		t.logger.Warn("Tracer provider shutdown failed", zap.Error(err))
		return err
	}
	return nil
}

// logSpanProcessor writes every finished span to a zap logger.
type logSpanProcessor struct {
	logger *zap.Logger
}

func (p *logSpanProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *logSpanProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	p.logger.Debug("Span finished",
		zap.String("span", s.Name()),
		zap.String("trace_id", s.SpanContext().TraceID().String()),
		zap.String("span_id", s.SpanContext().SpanID().String()),
		zap.Duration("duration", s.EndTime().Sub(s.StartTime())),
		zap.String("status", s.Status().Code.String()),
		zap.Int("events", len(s.Events())),
		zap.Stringer("resource", s.Resource()))
}

func (p *logSpanProcessor) Shutdown(context.Context) error { return nil }

func (p *logSpanProcessor) ForceFlush(context.Context) error { return nil }

// IsEnabled returns true if tracing is enabled.
func (t *Tracing) IsEnabled() bool {
	return t != nil && t.config.Enabled
}

// StartSpan starts a new span for the given operation. When tracing is
// disabled the context is returned with a no-op span.
func (t *Tracing) StartSpan(ctx context.Context, operationName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if !t.IsEnabled() {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, operationName, trace.WithAttributes(attrs...))
}

// AddEvent adds an event to the current span.
func (t *Tracing) AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	if !t.IsEnabled() {
		return
	}
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetAttributes sets attributes on the current span.
func (t *Tracing) SetAttributes(ctx context.Context, attributes map[string]string) {
	if !t.IsEnabled() {
		return
	}

	otelAttrs := make([]attribute.KeyValue, 0, len(attributes))
	for k, v := range attributes {
		otelAttrs = append(otelAttrs, attribute.String(k, v))
	}

	trace.SpanFromContext(ctx).SetAttributes(otelAttrs...)
}

// EndSpan records err on the span, sets its status and ends it.
func (t *Tracing) EndSpan(span trace.Span, err error) {
	if !t.IsEnabled() {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
