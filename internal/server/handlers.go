package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/semantrix/routechain/internal/models"
	"github.com/semantrix/routechain/internal/pricing"
	"github.com/semantrix/routechain/internal/router"
	"github.com/semantrix/routechain/internal/router/policies"
	v1 "github.com/semantrix/routechain/pkg/api/v1"
)

// Version is reported by the health endpoint; set at build time.
var Version = "dev"

const currency = "USD"

// handleHealthCheck handles the health check endpoint.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, v1.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    time.Since(s.startedAt),
		Version:   Version,
	})
}

// routingPlan is the chain chosen for one request and the policy behind it.
type routingPlan struct {
	policy     string
	candidates []string
	variant    policies.Variant
}

// planRoute picks the policy for a request: "auto" goes to the cost-based
// policy, an anonymous model choice with a user goes to the experiment when
// one is running, and everything else uses the failover chain.
func (s *Server) planRoute(r *http.Request, req models.RoutingRequest) (routingPlan, error) {
	ctx := r.Context()

	var (
		policy     policies.RoutingPolicy
		plan       routingPlan
		candidates []string
		err        error
	)

	switch {
	case req.Model == "auto" || req.Model == policies.ModelAuto:
		req.Model = ""
		policy = s.costBased
	case req.Model == "" && req.UserID != "" && s.experiment != nil:
		policy = s.experiment
		assignment := s.experiment.Assign(req.UserID)
		plan.variant = assignment.Variant
		s.metrics.RecordAssignment(s.experiment.Config().Name, string(assignment.Variant))
	default:
		policy = s.failover
	}

	candidates, err = policy.Candidates(ctx, req)
	if err != nil {
		return routingPlan{}, err
	}

	plan.policy = policy.GetName()
	plan.candidates = candidates
	s.metrics.RecordRoutingDecision(plan.policy, candidates[0])
	return plan, nil
}

// handleChatCompletion routes a chat completion through the fallback chain.
func (s *Server) handleChatCompletion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var apiReq v1.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&apiReq); err != nil {
		s.logger.Warn("Failed to decode request", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", nil, "")
		return
	}

	requestID := apiReq.RequestID
	if requestID == "" {
		requestID = middleware.GetReqID(ctx)
	}

	messages := convertMessages(apiReq.Messages)
	if err := models.ValidateMessages(messages); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil, requestID)
		return
	}

	plan, err := s.planRoute(r, models.RoutingRequest{
		Messages: messages,
		Model:    apiReq.Model,
		UserID:   apiReq.User,
	})
	if err != nil {
		s.logger.Warn("Routing decision failed", zap.Error(err), zap.String("request_id", requestID))
		writeError(w, http.StatusBadRequest, "routing_error", err.Error(), nil, requestID)
		return
	}

	config := s.chain.Config().WithModels(plan.candidates)
	result, err := s.chain.RouteWith(ctx, messages, config)
	if err != nil {
		var exhausted *router.ExhaustedError
		if errors.As(err, &exhausted) {
			writeError(w, http.StatusServiceUnavailable, router.KindExhausted.String(),
				"All models failed", convertAttempts(exhausted.Attempts), requestID)
			return
		}
		s.logger.Error("Routing failed", zap.Error(err), zap.String("request_id", requestID))
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), nil, requestID)
		return
	}

	// Price by the chain entry; upstream names may carry dated suffixes.
	resp := result.Response
	cost := s.prices.Cost(result.Model, resp.Usage)
	s.metrics.RecordCost(ctx, result.Model, cost, resp.Usage.TotalTokens)

	upstream := ""
	if resp.Model != result.Model {
		upstream = resp.Model
	}

	id := resp.ID
	if id == "" {
		id = uuid.NewString()
	}

	s.logger.Info("Request routed",
		zap.String("request_id", requestID),
		zap.String("policy", plan.policy),
		zap.String("model", result.Model),
		zap.String("upstream_model", resp.Model),
		zap.Int("attempts", len(result.Attempts)),
		zap.Float64("cost", cost))

	writeJSON(w, http.StatusOK, v1.ChatCompletionResponse{
		ID:            id,
		Model:         result.Model,
		UpstreamModel: upstream,
		Content:       resp.Content,
		Usage:         convertUsage(resp.Usage),
		LatencyMs:     resp.LatencyMs,
		Cost:          cost,
		Currency:      currency,
		Policy:        plan.policy,
		Variant:       string(plan.variant),
		Attempts:      convertAttempts(result.Attempts),
		RequestID:     requestID,
	})
}

// handleGetModels lists the chain, tiers and prices.
func (s *Server) handleGetModels(w http.ResponseWriter, r *http.Request) {
	tiers := make(map[string][]string)
	for tier, list := range s.costBased.Tiers() {
		tiers[string(tier)] = list
	}

	prices := make(map[string]v1.Price)
	for model, entry := range s.prices.Prices() {
		prices[model] = convertPrice(entry)
	}

	writeJSON(w, http.StatusOK, v1.ModelsResponse{
		Chain:        s.failover.Chain(),
		Tiers:        tiers,
		Pricing:      prices,
		DefaultPrice: convertPrice(s.prices.Default()),
	})
}

// handleCostEstimate prices a usage figure for a model.
func (s *Server) handleCostEstimate(w http.ResponseWriter, r *http.Request) {
	var req v1.CostEstimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", nil, "")
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "model is required", nil, "")
		return
	}
	if req.Usage.PromptTokens < 0 || req.Usage.CompletionTokens < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "token counts must not be negative", nil, "")
		return
	}

	usage := models.Usage{
		PromptTokens:     req.Usage.PromptTokens,
		CompletionTokens: req.Usage.CompletionTokens,
		TotalTokens:      req.Usage.TotalTokens,
	}
	entry, priced := s.prices.Lookup(req.Model)

	writeJSON(w, http.StatusOK, v1.CostEstimateResponse{
		Model:    req.Model,
		Cost:     s.prices.Cost(req.Model, usage),
		Currency: currency,
		Priced:   priced,
		Price:    convertPrice(entry),
	})
}

// handleGetRoutingPolicy returns information about the routing policies.
func (s *Server) handleGetRoutingPolicy(w http.ResponseWriter, r *http.Request) {
	active := []policies.RoutingPolicy{s.failover, s.costBased}
	if s.experiment != nil {
		active = append(active, s.experiment)
	}

	infos := make([]v1.PolicyInfo, 0, len(active))
	for _, p := range active {
		infos = append(infos, v1.PolicyInfo{Name: p.GetName(), Description: p.GetDescription()})
	}

	cfg := s.chain.Config()
	writeJSON(w, http.StatusOK, v1.RoutingPolicyResponse{
		Policies:           infos,
		Chain:              cfg.Models,
		MaxRetriesPerModel: cfg.MaxRetriesPerModel,
		BaseDelayMs:        cfg.BaseDelay.Milliseconds(),
		MaxDelayMs:         cfg.MaxDelay.Milliseconds(),
		RateLimitWaitMs:    cfg.RateLimitFallback.Milliseconds(),
	})
}

// handleExperimentAssignment reports the variant a user is bucketed into.
func (s *Server) handleExperimentAssignment(w http.ResponseWriter, r *http.Request) {
	if s.experiment == nil {
		writeError(w, http.StatusNotFound, "not_found", "No experiment is running", nil, "")
		return
	}

	var req v1.ExperimentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "user_id is required", nil, "")
		return
	}

	cfg := s.experiment.Config()
	assignment := s.experiment.Assign(req.UserID)
	writeJSON(w, http.StatusOK, v1.ExperimentResponse{
		Experiment: cfg.Name,
		UserID:     req.UserID,
		Variant:    string(assignment.Variant),
		Model:      assignment.Model,
		SplitRatio: cfg.SplitRatio,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, errType, message string, attempts []v1.Attempt, requestID string) {
	writeJSON(w, status, v1.ErrorResponse{
		Error: v1.ErrorDetails{
			Type:       errType,
			Message:    message,
			StatusCode: status,
			Attempts:   attempts,
		},
		RequestID: requestID,
	})
}

// Helper functions for converting between API and internal types

func convertMessages(apiMessages []v1.Message) []models.Message {
	messages := make([]models.Message, len(apiMessages))
	for i, msg := range apiMessages {
		messages[i] = models.Message{
			Role:    models.Role(msg.Role),
			Content: msg.Content,
		}
	}
	return messages
}

func convertUsage(usage models.Usage) v1.Usage {
	return v1.Usage{
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
	}
}

func convertPrice(entry pricing.PriceEntry) v1.Price {
	return v1.Price{InputPer1M: entry.InputPer1M, OutputPer1M: entry.OutputPer1M}
}

func convertAttempts(records []router.AttemptRecord) []v1.Attempt {
	out := make([]v1.Attempt, len(records))
	for i, rec := range records {
		a := v1.Attempt{
			Model:     rec.Model,
			Attempt:   rec.Attempt,
			Outcome:   string(rec.Outcome),
			WaitMs:    rec.Wait.Milliseconds(),
			LatencyMs: rec.Latency.Milliseconds(),
		}
		if rec.Failure != nil {
			a.Kind = rec.Failure.Kind.String()
			a.Message = rec.Failure.Message
			a.StatusCode = rec.Failure.StatusCode
		}
		out[i] = a
	}
	return out
}
