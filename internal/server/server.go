package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/semantrix/routechain/internal/observability"
	"github.com/semantrix/routechain/internal/pricing"
	"github.com/semantrix/routechain/internal/providers"
	"github.com/semantrix/routechain/internal/router"
	"github.com/semantrix/routechain/internal/router/policies"
)

// Server represents the main HTTP server for the routechain service.
type Server struct {
	config     *Config
	router     *chi.Mux
	chain      *router.Router
	failover   *policies.FailoverPolicy
	costBased  *policies.CostBasedPolicy
	experiment *policies.ExperimentPolicy
	prices     *pricing.Table
	logger     *zap.Logger
	metrics    *observability.Metrics
	tracing    *observability.Tracing
	server     *http.Server
	startedAt  time.Time
	stopAux    context.CancelFunc
}

// Dependencies are the collaborators a server is built from. NewServer builds
// them from the config; tests supply their own.
type Dependencies struct {
	Client  providers.Client
	Logger  *zap.Logger
	Metrics *observability.Metrics
	Tracing *observability.Tracing

	// Picker and Hasher override the randomness of the routing policies.
	Picker policies.Picker
	Hasher policies.Hasher
	Jitter router.JitterSource
}

// NewServer creates a new server instance from configuration alone.
func NewServer(config *Config) (*Server, error) {
	logger, err := observability.NewLogger(config.Observability.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	metrics, err := observability.NewMetrics(config.Observability.Metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	tracing := observability.NewTracing(config.Observability.Tracing, logger)

	client, err := initializeProviders(config.Providers, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	return NewServerWithDependencies(config, Dependencies{
		Client:  client,
		Logger:  logger,
		Metrics: metrics,
		Tracing: tracing,
	})
}

// NewServerWithDependencies wires a server around the given collaborators.
func NewServerWithDependencies(config *Config, deps Dependencies) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	chain, err := router.New(deps.Client, config.Router,
		router.WithLogger(logger),
		router.WithMetrics(deps.Metrics),
		router.WithTracing(deps.Tracing),
		router.WithJitterSource(deps.Jitter))
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	failover, err := policies.NewFailoverPolicyFromChain(config.Router.Models)
	if err != nil {
		return nil, fmt.Errorf("failed to create failover policy: %w", err)
	}

	costBased, err := policies.NewCostBasedPolicy(config.TierTable(), config.Router.Models, deps.Picker)
	if err != nil {
		return nil, fmt.Errorf("failed to create cost-based policy: %w", err)
	}

	var experiment *policies.ExperimentPolicy
	if config.Experiment.Enabled {
		experiment, err = policies.NewExperimentPolicy(config.Experiment, config.Router.Models, deps.Hasher)
		if err != nil {
			return nil, fmt.Errorf("failed to create experiment policy: %w", err)
		}
	}

	overrides, err := config.Pricing.Overrides()
	if err != nil {
		return nil, fmt.Errorf("failed to load pricing: %w", err)
	}
	prices, err := pricing.DefaultTable().Merge(overrides)
	if err != nil {
		return nil, fmt.Errorf("failed to load pricing: %w", err)
	}
	if config.Pricing.Default != (pricing.PriceEntry{}) {
		prices, err = pricing.NewTable(prices.Prices(), config.Pricing.Default)
		if err != nil {
			return nil, fmt.Errorf("failed to load pricing: %w", err)
		}
	}

	s := &Server{
		config:     config,
		router:     chi.NewRouter(),
		chain:      chain,
		failover:   failover,
		costBased:  costBased,
		experiment: experiment,
		prices:     prices,
		logger:     logger,
		metrics:    deps.Metrics,
		tracing:    deps.Tracing,
		startedAt:  time.Now(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Server.Port),
		Handler:      s.router,
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
		IdleTimeout:  config.Server.IdleTimeout,
	}

	return s, nil
}

// setupRoutes configures the HTTP routes and middleware.
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.observabilityMiddleware)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	s.router.Get("/health", s.handleHealthCheck)

	s.router.Route("/v1", func(r chi.Router) {
		r.Post("/chat/completions", s.handleChatCompletion)
		r.Get("/models", s.handleGetModels)
		r.Post("/cost/estimate", s.handleCostEstimate)
		r.Get("/routing/policy", s.handleGetRoutingPolicy)
		r.Post("/routing/experiment", s.handleExperimentAssignment)
	})
}

// observabilityMiddleware traces and measures every request.
func (s *Server) observabilityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ctx, span := s.tracing.StartSpan(r.Context(), "http_request")
		defer s.tracing.EndSpan(span, nil)

		s.tracing.SetAttributes(ctx, map[string]string{
			"http.method":     r.Method,
			"http.url":        r.URL.String(),
			"http.user_agent": r.UserAgent(),
		})

		wrappedWriter := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrappedWriter, r.WithContext(ctx))

		duration := time.Since(start)
		endpoint := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			endpoint = rctx.RoutePattern()
		}
		s.metrics.RecordRequest(r.Method, endpoint, wrappedWriter.statusCode, duration)

		s.logger.Debug("Request served",
			zap.String("method", r.Method),
			zap.String("endpoint", endpoint),
			zap.Int("status", wrappedWriter.statusCode),
			zap.Duration("duration", duration),
			zap.String("request_id", middleware.GetReqID(r.Context())))

		s.tracing.SetAttributes(ctx, map[string]string{
			"http.status_code": fmt.Sprintf("%d", wrappedWriter.statusCode),
			"http.duration_ms": fmt.Sprintf("%d", duration.Milliseconds()),
		})
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the server and begins accepting requests.
func (s *Server) Start() error {
	auxCtx, cancel := context.WithCancel(context.Background())
	s.stopAux = cancel

	if s.config.Observability.Metrics.Enabled && s.metrics != nil {
		go func() {
			if err := s.metrics.StartMetricsServer(auxCtx); err != nil {
				s.logger.Error("Failed to start metrics server", zap.Error(err))
			}
		}()
	}

	s.logger.Info("Starting routechain server",
		zap.Int("port", s.config.Server.Port),
		zap.Strings("chain", s.config.Router.Models),
		zap.Bool("experiment", s.experiment != nil))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.logger.Info("Shutting down server...")

	if s.stopAux != nil {
		s.stopAux()
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("Error during server shutdown", zap.Error(err))
		return err
	}

	if err := s.tracing.Shutdown(ctx); err != nil {
		s.logger.Error("Error during tracing shutdown", zap.Error(err))
	}

	s.logger.Info("Server stopped")
	observability.SyncLogger(s.logger)
	return nil
}

// WaitForShutdown waits for shutdown signals and gracefully stops the server.
func (s *Server) WaitForShutdown() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	s.logger.Info("Received shutdown signal")
	_ = s.Stop()
}

// GetRouter returns the underlying chi router for testing purposes.
func (s *Server) GetRouter() *chi.Mux {
	return s.router
}

// initializeProviders builds the provider client. Anthropic models go to the
// Anthropic API when it is enabled; everything else goes to the
// OpenAI-compatible gateway.
func initializeProviders(config ProvidersConfig, logger *zap.Logger) (providers.Client, error) {
	var fallback providers.Client
	if config.OpenRouter.Enabled {
		p, err := providers.NewOpenAIProvider(config.OpenRouter)
		if err != nil {
			return nil, err
		}
		fallback = p
		logger.Info("Initialized provider", zap.String("name", p.GetName()))
	}

	mux := providers.NewMux(fallback)

	if config.Anthropic.Enabled {
		p, err := providers.NewAnthropicProvider(config.Anthropic)
		if err != nil {
			return nil, err
		}
		mux.Handle("anthropic/", p)
		logger.Info("Initialized provider", zap.String("name", p.GetName()))
	}

	if fallback == nil && !config.Anthropic.Enabled {
		return nil, fmt.Errorf("no provider enabled")
	}
	return mux, nil
}
