package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRequest("GET", "/health", 200, time.Millisecond)
		m.RecordAttempt("m", "success", time.Millisecond)
		m.RecordWait("retryable", time.Second)
		m.RecordRoutedCall("success", time.Second)
		m.RecordRoutingDecision("failover", "m")
		m.RecordAssignment("exp", "A")
		m.RecordCost(context.Background(), "m", 0.01, 100)
	})
}

func TestMetrics_RecordsIntoOwnRegistry(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Port: 0, Path: "/metrics"}, zaptest.NewLogger(t))
	require.NoError(t, err)

	m.RecordAttempt("openai/gpt-4o", "success", 20*time.Millisecond)
	m.RecordAttempt("openai/gpt-4o", "rate_limit", 5*time.Millisecond)
	m.RecordRoutedCall("success", time.Second)
	m.RecordCost(context.Background(), "openai/gpt-4o", 0.0105, 1500)

	count, err := testutil.GatherAndCount(m.GetRegistry(), "routechain_attempts_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	families, err := m.GetRegistry().Gather()
	require.NoError(t, err)
	var sawCost, sawTokens bool
	for _, f := range families {
		sawCost = sawCost || strings.HasPrefix(f.GetName(), "routechain_cost")
		sawTokens = sawTokens || strings.HasPrefix(f.GetName(), "routechain_tokens")
	}
	assert.True(t, sawCost, "cost counter exported")
	assert.True(t, sawTokens, "token counter exported")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `routechain_routed_calls_total{result="success"} 1`)
}

func TestMetrics_SeparateInstancesDoNotCollide(t *testing.T) {
	_, err := NewMetrics(MetricsConfig{}, zap.NewNop())
	require.NoError(t, err)
	_, err = NewMetrics(MetricsConfig{}, zap.NewNop())
	require.NoError(t, err)
}

func TestTracing_DisabledIsNoop(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracing := NewTracingWithProvider(TracingConfig{Enabled: false}, nil, tp)

	ctx, span := tracing.StartSpan(context.Background(), "op")
	tracing.AddEvent(ctx, "event")
	tracing.EndSpan(span, nil)

	assert.Empty(t, recorder.Ended())

	var nilTracing *Tracing
	assert.False(t, nilTracing.IsEnabled())
}

func TestTracing_RecordsErrors(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracing := NewTracingWithProvider(TracingConfig{Enabled: true}, nil, tp)

	ctx, span := tracing.StartSpan(context.Background(), "op")
	tracing.SetAttributes(ctx, map[string]string{"k": "v"})
	tracing.EndSpan(span, assert.AnError)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "op", spans[0].Name())
	assert.Equal(t, assert.AnError.Error(), spans[0].Status().Description)
	assert.Len(t, spans[0].Events(), 1)
}

func TestNewTracing_EnabledInstallsLoggingProvider(t *testing.T) {
	previous := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	core, logs := observer.New(zapcore.DebugLevel)
	tracing := NewTracing(TracingConfig{
		Enabled:     true,
		ServiceName: "routechain-test",
		Environment: "staging",
	}, zap.New(core))
	require.True(t, tracing.IsEnabled())

	ctx, span := tracing.StartSpan(context.Background(), "route")
	tracing.AddEvent(ctx, "attempt")
	tracing.EndSpan(span, nil)
	require.NoError(t, tracing.Shutdown(context.Background()))

	finished := logs.FilterMessage("Span finished").All()
	require.Len(t, finished, 1)
	fields := finished[0].ContextMap()
	assert.Equal(t, "route", fields["span"])
	assert.EqualValues(t, 1, fields["events"])
	assert.Contains(t, fields["resource"], "deployment.environment=staging")
	assert.Contains(t, fields["resource"], "service.name=routechain-test")

	assert.Equal(t, 1, logs.FilterMessage("Tracing enabled").Len())
}

func TestTracing_ShutdownWithoutProvider(t *testing.T) {
	var nilTracing *Tracing
	assert.NoError(t, nilTracing.Shutdown(context.Background()))

	tracing := NewTracing(TracingConfig{Enabled: false}, nil)
	assert.NoError(t, tracing.Shutdown(context.Background()))
}

func TestNewLogger_WritesToFiles(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "app.log")
	errOut := filepath.Join(dir, "error.log")

	logger, err := NewLogger(LoggerConfig{Level: "debug", Format: "json", OutputPath: out, ErrorPath: errOut})
	require.NoError(t, err)

	logger.Debug("debug line")
	logger.Error("error line")
	SyncLogger(logger)

	all, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(all), "debug line")
	assert.Contains(t, string(all), "error line")

	errorsOnly, err := os.ReadFile(errOut)
	require.NoError(t, err)
	assert.NotContains(t, string(errorsOnly), "debug line")
	assert.Contains(t, string(errorsOnly), "error line")
}

func TestNewLogger_BadLevelFallsBackToInfo(t *testing.T) {
	out := filepath.Join(t.TempDir(), "app.log")

	logger, err := NewLogger(LoggerConfig{Level: "chatty", OutputPath: out})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.DebugLevel))
	assert.True(t, logger.Core().Enabled(zap.InfoLevel))
}
