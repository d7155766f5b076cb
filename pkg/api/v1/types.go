package v1

import (
	"time"
)

// ChatCompletionRequest represents a chat completion request from a client.
// Model may be empty (use the configured chain), "auto" (pick by prompt
// complexity) or a concrete model that is tried before the chain.
type ChatCompletionRequest struct {
	Model     string    `json:"model,omitempty"`
	Messages  []Message `json:"messages"`
	User      string    `json:"user,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

// Message represents a single message in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionResponse represents a successful routed completion.
type ChatCompletionResponse struct {
	ID            string    `json:"id"`
	Model         string    `json:"model"`
	UpstreamModel string    `json:"upstream_model,omitempty"`
	Content       string    `json:"content"`
	Usage         Usage     `json:"usage"`
	LatencyMs     int64     `json:"latency_ms"`
	Cost          float64   `json:"cost"`
	Currency      string    `json:"currency"`
	Policy        string    `json:"policy"`
	Variant       string    `json:"variant,omitempty"`
	Attempts      []Attempt `json:"attempts"`
	RequestID     string    `json:"request_id,omitempty"`
}

// Usage represents token usage statistics.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Attempt describes one provider call made while routing a request.
type Attempt struct {
	Model      string `json:"model"`
	Attempt    int    `json:"attempt"`
	Outcome    string `json:"outcome"`
	Kind       string `json:"kind,omitempty"`
	Message    string `json:"message,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	WaitMs     int64  `json:"wait_ms,omitempty"`
	LatencyMs  int64  `json:"latency_ms"`
}

// ErrorResponse represents an error response from the API.
type ErrorResponse struct {
	Error     ErrorDetails `json:"error"`
	RequestID string       `json:"request_id,omitempty"`
}

// ErrorDetails provides detailed error information.
type ErrorDetails struct {
	Type       string    `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code"`
	Attempts   []Attempt `json:"attempts,omitempty"`
}

// HealthResponse represents the health status of the service.
type HealthResponse struct {
	Status    string        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Uptime    time.Duration `json:"uptime"`
	Version   string        `json:"version"`
}

// Price is a per-1M-token rate pair in USD.
type Price struct {
	InputPer1M  float64 `json:"input_per_1m"`
	OutputPer1M float64 `json:"output_per_1m"`
}

// ModelsResponse lists the configured chain, tiers and prices.
type ModelsResponse struct {
	Chain        []string            `json:"chain"`
	Tiers        map[string][]string `json:"tiers"`
	Pricing      map[string]Price    `json:"pricing"`
	DefaultPrice Price               `json:"default_price"`
}

// CostEstimateRequest asks for the cost of a given usage on a model.
type CostEstimateRequest struct {
	Model string `json:"model"`
	Usage Usage  `json:"usage"`
}

// CostEstimateResponse is the estimated cost in USD.
type CostEstimateResponse struct {
	Model    string  `json:"model"`
	Cost     float64 `json:"cost"`
	Currency string  `json:"currency"`
	Priced   bool    `json:"priced"`
	Price    Price   `json:"price"`
}

// ExperimentRequest asks which variant a user is assigned to.
type ExperimentRequest struct {
	UserID string `json:"user_id"`
}

// ExperimentResponse is a deterministic experiment assignment.
type ExperimentResponse struct {
	Experiment string  `json:"experiment"`
	UserID     string  `json:"user_id"`
	Variant    string  `json:"variant"`
	Model      string  `json:"model"`
	SplitRatio float64 `json:"split_ratio"`
}

// RoutingPolicyResponse describes how requests are routed.
type RoutingPolicyResponse struct {
	Policies           []PolicyInfo `json:"policies"`
	Chain              []string     `json:"chain"`
	MaxRetriesPerModel int          `json:"max_retries_per_model"`
	BaseDelayMs        int64        `json:"base_delay_ms"`
	MaxDelayMs         int64        `json:"max_delay_ms"`
	RateLimitWaitMs    int64        `json:"rate_limit_wait_ms"`
}

// PolicyInfo names a routing policy.
type PolicyInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}
