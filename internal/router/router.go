package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/semantrix/routechain/internal/models"
	"github.com/semantrix/routechain/internal/observability"
	"github.com/semantrix/routechain/internal/providers"
)

// Router dispatches a conversation across an ordered fallback chain of models.
// It holds only read-only configuration, so one instance can serve concurrent
// calls; every call keeps its own attempt history.
type Router struct {
	client  providers.Client
	config  Config
	jitter  JitterSource
	logger  *zap.Logger
	metrics *observability.Metrics
	tracing *observability.Tracing
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger used for attempt diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records attempt and call metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(r *Router) { r.metrics = metrics }
}

// WithTracing wraps each routed call in a span.
func WithTracing(tracing *observability.Tracing) Option {
	return func(r *Router) { r.tracing = tracing }
}

// WithJitterSource replaces the random source used for backoff jitter.
func WithJitterSource(source JitterSource) Option {
	return func(r *Router) { r.jitter = source }
}

// Result is a successful routed call. Model is the chain entry that
// answered; Response.Model is whatever name the upstream reported, which may
// be a dated or aliased variant of it.
type Result struct {
	Model    string
	Response *models.ChatResponse
	Attempts []AttemptRecord
}

// New creates a router for the given client and default chain.
func New(client providers.Client, config Config, opts ...Option) (*Router, error) {
	if client == nil {
		return nil, fmt.Errorf("provider client is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid router config: %w", err)
	}

	r := &Router{
		client: client,
		config: config.WithModels(config.Models),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.jitter == nil {
		r.jitter = lockedRand()
	}
	return r, nil
}

// Config returns a copy of the router's default chain.
func (r *Router) Config() Config {
	return r.config.WithModels(r.config.Models)
}

// Route sends messages through the router's default chain.
func (r *Router) Route(ctx context.Context, messages []models.Message) (*Result, error) {
	return r.RouteWith(ctx, messages, r.config)
}

// RouteWith sends messages through the given chain. Models are tried in order;
// each gets up to MaxRetriesPerModel attempts. Fatal failures move on to the
// next model at once, rate-limited attempts wait for the server hint, and
// retryable attempts back off exponentially. A rate-limit wait uses up an
// attempt like any other failure. The first success ends the call; if every
// model is spent an *ExhaustedError with the full history is returned.
func (r *Router) RouteWith(ctx context.Context, messages []models.Message, config Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid router config: %w", err)
	}

	call := &callState{
		router:   r,
		config:   config,
		backoff:  NewBackoff(config, r.jitter),
		messages: models.CloneMessages(messages),
		attempts: make([]AttemptRecord, 0, config.MaxRetriesPerModel),
	}

	start := time.Now()
	ctx, span := r.tracing.StartSpan(ctx, "router.route",
		attribute.StringSlice("router.models", config.Models),
		attribute.Int("router.max_retries_per_model", config.MaxRetriesPerModel))

	resp, err := call.run(ctx)

	r.tracing.EndSpan(span, err)
	if err != nil {
		r.metrics.RecordRoutedCall(KindExhausted.String(), time.Since(start))
		r.logger.Error("All models failed",
			zap.Int("attempts", len(call.attempts)),
			zap.Strings("models", config.Models),
			zap.Error(err))
		return nil, err
	}

	r.metrics.RecordRoutedCall(string(OutcomeSuccess), time.Since(start))
	return &Result{
		Model:    call.attempts[len(call.attempts)-1].Model,
		Response: resp,
		Attempts: call.attempts,
	}, nil
}

// callState is owned by one in-flight call and never shared.
type callState struct {
	router   *Router
	config   Config
	backoff  *Backoff
	messages []models.Message
	attempts []AttemptRecord

	// wait scheduled by the last failed attempt, consumed by the retry backoff.
	pendingWait time.Duration
}

func (c *callState) run(ctx context.Context) (*models.ChatResponse, error) {
	for i, model := range c.config.Models {
		if err := ctx.Err(); err != nil {
			return nil, c.exhausted(err)
		}

		resp, err := c.tryModel(ctx, model)
		if err == nil {
			return resp, nil
		}

		var failure *ClassifiedFailure
		if !errors.As(err, &failure) {
			// The context ended while waiting between attempts.
			return nil, c.exhausted(err)
		}

		if i < len(c.config.Models)-1 {
			c.router.logger.Info("Model exhausted, trying next model",
				zap.String("model", model),
				zap.String("next_model", c.config.Models[i+1]),
				zap.Stringer("last_kind", failure.Kind))
		}
	}
	// The last attempt may have failed because the context ended.
	return nil, c.exhausted(ctx.Err())
}

// tryModel runs the inner retry loop for one model. It returns the last
// ClassifiedFailure once the model is spent, or the context error if the call
// was cancelled during a wait.
func (c *callState) tryModel(ctx context.Context, model string) (*models.ChatResponse, error) {
	var resp *models.ChatResponse
	attempt := 0

	next := retry.BackoffFunc(func() (time.Duration, bool) {
		return c.pendingWait, false
	})
	policy := retry.WithMaxRetries(uint64(c.config.MaxRetriesPerModel-1), next)

	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		current := attempt
		attempt++

		out, failure := c.attempt(ctx, model, current)
		if failure == nil {
			resp = out
			return nil
		}
		if failure.Kind == KindFatal {
			return failure
		}
		return retry.RetryableError(failure)
	})
	return resp, err
}

// attempt makes one provider call and records it.
func (c *callState) attempt(ctx context.Context, model string, attempt int) (*models.ChatResponse, *ClassifiedFailure) {
	r := c.router
	r.logger.Info("Trying model", zap.String("model", model), zap.Int("attempt", attempt+1))

	start := time.Now()
	resp, err := r.client.Chat(ctx, model, models.CloneMessages(c.messages))
	latency := time.Since(start)

	if err == nil && resp == nil {
		err = fmt.Errorf("provider returned no response")
	}

	record := AttemptRecord{Model: model, Attempt: attempt, Latency: latency}

	if err == nil {
		record.Outcome = OutcomeSuccess
		c.attempts = append(c.attempts, record)
		r.metrics.RecordAttempt(model, string(OutcomeSuccess), latency)
		r.tracing.AddEvent(ctx, "attempt",
			attribute.String("model", model),
			attribute.Int("attempt", attempt),
			attribute.String("outcome", string(OutcomeSuccess)))
		return finishResponse(resp, model, latency), nil
	}

	failure := classifyFailure(model, err)
	record.Outcome = OutcomeFailure
	record.Failure = failure

	// No wait after a fatal failure or after the model's last attempt.
	c.pendingWait = 0
	willRetry := failure.Kind != KindFatal && attempt < c.config.MaxRetriesPerModel-1
	if willRetry {
		c.pendingWait = c.backoff.WaitFor(failure, attempt)
		record.Wait = c.pendingWait
	}
	c.attempts = append(c.attempts, record)

	r.metrics.RecordAttempt(model, failure.Kind.String(), latency)
	r.tracing.AddEvent(ctx, "attempt",
		attribute.String("model", model),
		attribute.Int("attempt", attempt),
		attribute.String("outcome", failure.Kind.String()),
		attribute.Int("status_code", failure.StatusCode))
	r.logger.Warn("Model failed",
		zap.String("model", model),
		zap.Int("attempt", attempt+1),
		zap.Stringer("kind", failure.Kind),
		zap.Int("status", failure.StatusCode),
		zap.String("message", failure.Message))

	if willRetry {
		r.metrics.RecordWait(failure.Kind.String(), record.Wait)
		if failure.Kind == KindRateLimit {
			r.logger.Info("Rate limited, waiting", zap.Duration("wait", record.Wait))
		} else {
			r.logger.Info("Retrying after backoff", zap.Duration("wait", record.Wait))
		}
	}

	return nil, failure
}

func (c *callState) exhausted(cause error) *ExhaustedError {
	attempts := make([]AttemptRecord, len(c.attempts))
	copy(attempts, c.attempts)
	return &ExhaustedError{Attempts: attempts, Cause: cause}
}

// finishResponse fills fields the provider may have left empty.
func finishResponse(resp *models.ChatResponse, model string, latency time.Duration) *models.ChatResponse {
	out := *resp
	if out.Model == "" {
		out.Model = model
	}
	if out.LatencyMs <= 0 {
		out.LatencyMs = latency.Milliseconds()
	}
	out.Usage = out.Usage.Normalize()
	return &out
}
