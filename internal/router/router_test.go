package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/semantrix/routechain/internal/models"
	"github.com/semantrix/routechain/internal/observability"
	"github.com/semantrix/routechain/internal/providers"
)

type step struct {
	resp *models.ChatResponse
	err  error
}

// scriptedClient replays per-model steps; the last step of a model repeats.
type scriptedClient struct {
	mu     sync.Mutex
	script map[string][]step
	calls  []string
}

func newScriptedClient(script map[string][]step) *scriptedClient {
	return &scriptedClient{script: script}
}

func (c *scriptedClient) Chat(ctx context.Context, model string, messages []models.Message) (*models.ChatResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, model)
	steps := c.script[model]
	if len(steps) == 0 {
		return nil, &models.ProviderError{StatusCode: 500, Err: errors.New("unscripted")}
	}
	s := steps[0]
	if len(steps) > 1 {
		c.script[model] = steps[1:]
	}
	return s.resp, s.err
}

func (c *scriptedClient) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func ok(content string) step {
	return step{resp: &models.ChatResponse{Content: content, Usage: models.Usage{PromptTokens: 10, CompletionTokens: 5}}}
}

func fail(status int) step {
	return step{err: &models.ProviderError{StatusCode: status, Err: errors.New("upstream failure")}}
}

func testConfig(chain ...string) Config {
	return Config{
		Models:             chain,
		MaxRetriesPerModel: 2,
		BaseDelay:          time.Millisecond,
		MaxDelay:           4 * time.Millisecond,
		RateLimitFallback:  time.Millisecond,
	}
}

func newTestRouter(t *testing.T, client *scriptedClient, cfg Config, opts ...Option) *Router {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t)), WithJitterSource(fixedJitter(0))}, opts...)
	r, err := New(client, cfg, opts...)
	require.NoError(t, err)
	return r
}

type attemptSummary struct {
	Model   string
	Attempt int
	Kind    string
}

func summarize(records []AttemptRecord) []attemptSummary {
	out := make([]attemptSummary, len(records))
	for i, rec := range records {
		kind := string(rec.Outcome)
		if k, failed := rec.Kind(); failed {
			kind = k.String()
		}
		out[i] = attemptSummary{Model: rec.Model, Attempt: rec.Attempt, Kind: kind}
	}
	return out
}

func TestRoute_FallsThroughChain(t *testing.T) {
	client := newScriptedClient(map[string][]step{
		"A": {fail(400)},
		"B": {fail(503), fail(503)},
		"C": {ok("from C")},
	})
	r := newTestRouter(t, client, testConfig("A", "B", "C"))

	result, err := r.Route(context.Background(), []models.Message{{Role: models.RoleUser, Content: "hi"}})
	require.NoError(t, err)

	assert.Equal(t, "from C", result.Response.Content)
	assert.Equal(t, "C", result.Model)
	assert.Equal(t, "C", result.Response.Model)
	assert.Equal(t, []attemptSummary{
		{Model: "A", Attempt: 0, Kind: "fatal"},
		{Model: "B", Attempt: 0, Kind: "retryable"},
		{Model: "B", Attempt: 1, Kind: "retryable"},
		{Model: "C", Attempt: 0, Kind: "success"},
	}, summarize(result.Attempts))

	// Fatal and final attempts never wait; the first retryable backs off by the base delay.
	assert.Zero(t, result.Attempts[0].Wait)
	assert.Equal(t, time.Millisecond, result.Attempts[1].Wait)
	assert.Zero(t, result.Attempts[2].Wait)
	assert.Equal(t, []string{"A", "B", "B", "C"}, client.Calls())
}

func TestRoute_FirstAttemptSucceeds(t *testing.T) {
	client := newScriptedClient(map[string][]step{"A": {ok("hello")}})
	r := newTestRouter(t, client, testConfig("A", "B"))

	result, err := r.Route(context.Background(), []models.Message{{Role: models.RoleUser, Content: "hi"}})
	require.NoError(t, err)

	assert.Equal(t, "A", result.Response.Model)
	assert.Equal(t, 15, result.Response.Usage.TotalTokens)
	require.Len(t, result.Attempts, 1)
	assert.Equal(t, OutcomeSuccess, result.Attempts[0].Outcome)
	assert.Nil(t, result.Attempts[0].Failure)
}

func TestRoute_AllModelsExhausted(t *testing.T) {
	client := newScriptedClient(map[string][]step{
		"A": {fail(500)},
		"B": {fail(502)},
		"C": {{err: errors.New("connection refused")}},
	})
	cfg := testConfig("A", "B", "C")
	cfg.MaxRetriesPerModel = 3

	core, logs := observer.New(zapcore.InfoLevel)
	r := newTestRouter(t, client, cfg, WithLogger(zap.New(core)))

	result, err := r.Route(context.Background(), []models.Message{{Role: models.RoleUser, Content: "hi"}})
	require.Error(t, err)
	assert.Nil(t, result)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, KindExhausted, exhausted.Kind())
	assert.Len(t, exhausted.Attempts, cfg.MaxAttempts())
	assert.Equal(t, []string{"A", "B", "C"}, exhausted.Models())
	assert.NoError(t, exhausted.Cause)
	assert.Contains(t, err.Error(), "all models failed after 9 attempts")

	for i, rec := range exhausted.Attempts {
		if rec.Attempt == cfg.MaxRetriesPerModel-1 {
			assert.Zero(t, rec.Wait, "attempt %d", i)
		} else {
			assert.Positive(t, rec.Wait, "attempt %d", i)
		}
	}

	assert.Equal(t, 1, logs.FilterMessage("All models failed").Len())
	assert.Equal(t, 2, logs.FilterMessage("Model exhausted, trying next model").Len())
}

func TestRoute_FatalSkipsRemainingAttempts(t *testing.T) {
	client := newScriptedClient(map[string][]step{"A": {fail(401)}})
	cfg := testConfig("A")
	cfg.MaxRetriesPerModel = 5
	r := newTestRouter(t, client, cfg)

	_, err := r.Route(context.Background(), []models.Message{{Role: models.RoleUser, Content: "hi"}})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Len(t, exhausted.Attempts, 1)
	assert.Equal(t, KindFatal, exhausted.Attempts[0].Failure.Kind)
	assert.Equal(t, 401, exhausted.Attempts[0].Failure.StatusCode)
}

func TestRoute_RateLimitHonoursRetryAfter(t *testing.T) {
	hint := 2 * time.Millisecond
	client := newScriptedClient(map[string][]step{
		"A": {
			{err: &models.ProviderError{StatusCode: 429, RetryAfter: &hint, Err: errors.New("slow down")}},
			ok("after cooldown"),
		},
	})
	r := newTestRouter(t, client, testConfig("A", "B"))

	result, err := r.Route(context.Background(), []models.Message{{Role: models.RoleUser, Content: "hi"}})
	require.NoError(t, err)

	require.Len(t, result.Attempts, 2)
	kind, failed := result.Attempts[0].Kind()
	assert.True(t, failed)
	assert.Equal(t, KindRateLimit, kind)
	assert.Equal(t, hint, result.Attempts[0].Wait)
	assert.Equal(t, "after cooldown", result.Response.Content)
}

func TestRoute_RateLimitWithoutHintUsesFallback(t *testing.T) {
	client := newScriptedClient(map[string][]step{
		"A": {fail(429), ok("done")},
	})
	cfg := testConfig("A")
	cfg.RateLimitFallback = 3 * time.Millisecond
	r := newTestRouter(t, client, cfg)

	result, err := r.Route(context.Background(), []models.Message{{Role: models.RoleUser, Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, 3*time.Millisecond, result.Attempts[0].Wait)
}

func TestRoute_RateLimitConsumesAttempt(t *testing.T) {
	client := newScriptedClient(map[string][]step{
		"A": {fail(429)},
		"B": {ok("from B")},
	})
	r := newTestRouter(t, client, testConfig("A", "B"))

	result, err := r.Route(context.Background(), []models.Message{{Role: models.RoleUser, Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "A", "B"}, client.Calls())
	assert.Equal(t, "B", result.Response.Model)
}

func TestRoute_ContextCancelledBeforeStart(t *testing.T) {
	client := newScriptedClient(map[string][]step{"A": {ok("never")}})
	r := newTestRouter(t, client, testConfig("A"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Route(ctx, []models.Message{{Role: models.RoleUser, Content: "hi"}})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, exhausted.Attempts)
	assert.Empty(t, client.Calls())
}

func TestRoute_ContextCancelledDuringWait(t *testing.T) {
	client := newScriptedClient(map[string][]step{"A": {fail(429)}})
	cfg := testConfig("A", "B")
	cfg.RateLimitFallback = time.Hour
	r := newTestRouter(t, client, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(20*time.Millisecond, cancel)
	defer timer.Stop()

	start := time.Now()
	_, err := r.Route(ctx, []models.Message{{Role: models.RoleUser, Content: "hi"}})
	assert.Less(t, time.Since(start), 5*time.Second)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, exhausted.Attempts, 1)
	assert.Equal(t, time.Hour, exhausted.Attempts[0].Wait)
	assert.Equal(t, []string{"A"}, client.Calls())
}

func TestRoute_DoesNotShareMessages(t *testing.T) {
	client := &mutatingClient{}
	r, err := New(client, testConfig("A"))
	require.NoError(t, err)

	messages := []models.Message{{Role: models.RoleUser, Content: "original"}}
	_, err = r.Route(context.Background(), messages)
	require.NoError(t, err)
	assert.Equal(t, "original", messages[0].Content)
}

type mutatingClient struct{}

func (mutatingClient) Chat(ctx context.Context, model string, messages []models.Message) (*models.ChatResponse, error) {
	messages[0].Content = "changed"
	return &models.ChatResponse{Content: "ok"}, nil
}

func TestRouteWith_OverridesChain(t *testing.T) {
	client := newScriptedClient(map[string][]step{
		"A": {ok("from A")},
		"X": {ok("from X")},
	})
	r := newTestRouter(t, client, testConfig("A"))

	result, err := r.RouteWith(context.Background(),
		[]models.Message{{Role: models.RoleUser, Content: "hi"}},
		r.Config().WithModels([]string{"X", "A"}))
	require.NoError(t, err)
	assert.Equal(t, "X", result.Response.Model)

	_, err = r.RouteWith(context.Background(), nil, r.Config().WithModels(nil))
	assert.Error(t, err)
}

func TestRoute_ConcurrentCallsKeepOwnHistory(t *testing.T) {
	client := newScriptedClient(map[string][]step{"A": {ok("hi")}})
	r := newTestRouter(t, client, testConfig("A"))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := r.Route(context.Background(), []models.Message{{Role: models.RoleUser, Content: "hi"}})
			if assert.NoError(t, err) {
				assert.Len(t, result.Attempts, 1)
			}
		}()
	}
	wg.Wait()
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, testConfig("A"))
	assert.Error(t, err)

	_, err = New(newScriptedClient(nil), Config{})
	assert.Error(t, err)

	cfg := testConfig("A")
	cfg.BaseDelay = time.Second
	cfg.MaxDelay = time.Millisecond
	_, err = New(newScriptedClient(nil), cfg)
	assert.Error(t, err)
}

func TestRoute_RecordsSpanAndMetrics(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracing := observability.NewTracingWithProvider(observability.TracingConfig{Enabled: true}, nil, tp)

	metrics, err := observability.NewMetrics(observability.MetricsConfig{}, zap.NewNop())
	require.NoError(t, err)

	client := newScriptedClient(map[string][]step{
		"A": {fail(400)},
		"B": {ok("from B")},
	})
	r := newTestRouter(t, client, testConfig("A", "B"), WithTracing(tracing), WithMetrics(metrics))

	_, err = r.Route(context.Background(), []models.Message{{Role: models.RoleUser, Content: "hi"}})
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "router.route", spans[0].Name())
	assert.Len(t, spans[0].Events(), 2)

	count, err := testutil.GatherAndCount(metrics.GetRegistry(), "routechain_attempts_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRoute_ContextCancelledOnFinalAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := providers.ClientFunc(func(ctx context.Context, model string, messages []models.Message) (*models.ChatResponse, error) {
		cancel()
		return nil, ctx.Err()
	})
	cfg := testConfig("A")
	cfg.MaxRetriesPerModel = 1
	r, err := New(client, cfg, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	_, err = r.Route(ctx, []models.Message{{Role: models.RoleUser, Content: "hi"}})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, exhausted.Attempts, 1)
}

func TestRoute_ResultModelIsChainEntry(t *testing.T) {
	client := newScriptedClient(map[string][]step{
		"openai/gpt-4o": {{resp: &models.ChatResponse{Content: "hi", Model: "openai/gpt-4o-2024-08-06"}}},
	})
	r := newTestRouter(t, client, testConfig("openai/gpt-4o"))

	result, err := r.Route(context.Background(), []models.Message{{Role: models.RoleUser, Content: "hi"}})
	require.NoError(t, err)

	assert.Equal(t, "openai/gpt-4o", result.Model)
	assert.Equal(t, "openai/gpt-4o-2024-08-06", result.Response.Model)
}
