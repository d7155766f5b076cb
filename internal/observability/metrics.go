package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
)

// MetricsConfig holds configuration for metrics collection.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// Metrics provides Prometheus metrics for the router. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	config   MetricsConfig
	logger   *zap.Logger
	registry *prometheus.Registry
	exporter *otelprometheus.Exporter
	provider *metric.MeterProvider

	// Request metrics
	requestsTotal    *prometheus.CounterVec
	requestsDuration *prometheus.HistogramVec

	// Attempt metrics
	attemptsTotal  *prometheus.CounterVec
	attemptLatency *prometheus.HistogramVec
	waitSeconds    *prometheus.HistogramVec

	// Routing metrics
	routedCalls      *prometheus.CounterVec
	routedDuration   *prometheus.HistogramVec
	routingDecisions *prometheus.CounterVec
	assignments      *prometheus.CounterVec

	// Cost is exported through the OpenTelemetry meter.
	costUSD otelmetric.Float64Counter
	tokens  otelmetric.Int64Counter
}

// NewMetrics creates a new metrics instance with its own registry.
func NewMetrics(config MetricsConfig, logger *zap.Logger) (*Metrics, error) {
	registry := prometheus.NewRegistry()

	exporter, err := otelprometheus.New(otelprometheus.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))

	m := &Metrics{
		config:   config,
		logger:   logger,
		registry: registry,
		exporter: exporter,
		provider: provider,
	}

	if err := m.initMetrics(); err != nil {
		return nil, err
	}

	return m, nil
}

// initMetrics initializes all Prometheus metrics.
func (m *Metrics) initMetrics() error {
	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routechain_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	m.requestsDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "routechain_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	m.attemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routechain_attempts_total",
			Help: "Provider attempts by model and outcome (success or failure kind)",
		},
		[]string{"model", "outcome"},
	)

	m.attemptLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "routechain_attempt_latency_seconds",
			Help:    "Latency of individual provider attempts in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	m.waitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "routechain_wait_seconds",
			Help:    "Time scheduled between attempts on the same model",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"kind"},
	)

	m.routedCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routechain_routed_calls_total",
			Help: "Routed calls by terminal state",
		},
		[]string{"result"},
	)

	m.routedDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "routechain_routed_call_duration_seconds",
			Help:    "Wall-clock duration of routed calls including waits",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	m.routingDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routechain_routing_decisions_total",
			Help: "Candidate lists produced, by policy and leading model",
		},
		[]string{"policy_name", "model"},
	)

	m.assignments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routechain_experiment_assignments_total",
			Help: "Experiment assignments by variant",
		},
		[]string{"experiment", "variant"},
	)

	metrics := []prometheus.Collector{
		m.requestsTotal,
		m.requestsDuration,
		m.attemptsTotal,
		m.attemptLatency,
		m.waitSeconds,
		m.routedCalls,
		m.routedDuration,
		m.routingDecisions,
		m.assignments,
	}

	for _, collector := range metrics {
		if err := m.registry.Register(collector); err != nil {
			return err
		}
	}

	meter := m.provider.Meter("github.com/semantrix/routechain")

	var err error
	m.costUSD, err = meter.Float64Counter("routechain.cost",
		otelmetric.WithDescription("Estimated spend of successful calls"),
		otelmetric.WithUnit("USD"))
	if err != nil {
		return err
	}

	m.tokens, err = meter.Int64Counter("routechain.tokens",
		otelmetric.WithDescription("Tokens consumed by successful calls"))
	return err
}

// RecordRequest records metrics for an HTTP request.
func (m *Metrics) RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	statusStr := strconv.Itoa(statusCode)

	m.requestsTotal.WithLabelValues(method, endpoint, statusStr).Inc()
	m.requestsDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordAttempt records one provider attempt. Outcome is "success" or a failure kind.
func (m *Metrics) RecordAttempt(model, outcome string, latency time.Duration) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(model, outcome).Inc()
	m.attemptLatency.WithLabelValues(model).Observe(latency.Seconds())
}

// RecordWait records a backoff or rate-limit wait.
func (m *Metrics) RecordWait(kind string, wait time.Duration) {
	if m == nil {
		return
	}
	m.waitSeconds.WithLabelValues(kind).Observe(wait.Seconds())
}

// RecordRoutedCall records the terminal state of a routed call.
func (m *Metrics) RecordRoutedCall(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.routedCalls.WithLabelValues(result).Inc()
	m.routedDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordRoutingDecision records a candidate list produced by a policy.
func (m *Metrics) RecordRoutingDecision(policyName, model string) {
	if m == nil {
		return
	}
	m.routingDecisions.WithLabelValues(policyName, model).Inc()
}

// RecordAssignment records an experiment assignment.
func (m *Metrics) RecordAssignment(experiment, variant string) {
	if m == nil {
		return
	}
	m.assignments.WithLabelValues(experiment, variant).Inc()
}

// RecordCost adds the estimated spend and token usage of a successful call.
func (m *Metrics) RecordCost(ctx context.Context, model string, amount float64, totalTokens int) {
	if m == nil {
		return
	}
	attrs := otelmetric.WithAttributes(attribute.String("model", model))
	m.costUSD.Add(ctx, amount, attrs)
	m.tokens.Add(ctx, int64(totalTokens), attrs)
}

// GetRegistry returns the Prometheus registry.
func (m *Metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

// GetMeterProvider returns the OpenTelemetry meter provider.
func (m *Metrics) GetMeterProvider() *metric.MeterProvider {
	return m.provider
}

// Handler returns the HTTP handler that serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartMetricsServer serves metrics until ctx is cancelled.
func (m *Metrics) StartMetricsServer(ctx context.Context) error {
	if !m.config.Enabled {
		m.logger.Info("Metrics server disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:    ":" + strconv.Itoa(m.config.Port),
		Handler: mux,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("Metrics server error", zap.Error(err))
		}
	}()

	m.logger.Info("Metrics server started",
		zap.Int("port", m.config.Port),
		zap.String("path", m.config.Path))

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		m.logger.Error("Error shutting down metrics server", zap.Error(err))
	}

	return m.provider.Shutdown(shutdownCtx)
}
