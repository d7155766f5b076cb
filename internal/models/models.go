package models

import (
	"fmt"
	"math"
	"time"
)

// Role identifies the author of a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether the role is one of the known conversation roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message represents a single message in a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CloneMessages returns a copy of the conversation so a callee cannot alter the caller's slice.
func CloneMessages(messages []Message) []Message {
	if messages == nil {
		return nil
	}
	out := make([]Message, len(messages))
	copy(out, messages)
	return out
}

// ValidateMessages checks that a conversation is non-empty and every role is known.
func ValidateMessages(messages []Message) error {
	if len(messages) == 0 {
		return fmt.Errorf("at least one message is required")
	}
	for i, msg := range messages {
		if !msg.Role.Valid() {
			return fmt.Errorf("message %d: unknown role %q", i, msg.Role)
		}
	}
	return nil
}

// Usage represents token usage statistics.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Normalize fills TotalTokens when the provider left it out and clamps negatives to zero.
func (u Usage) Normalize() Usage {
	if u.PromptTokens < 0 {
		u.PromptTokens = 0
	}
	if u.CompletionTokens < 0 {
		u.CompletionTokens = 0
	}
	if u.TotalTokens < u.PromptTokens+u.CompletionTokens {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u
}

// ChatResponse represents a successful completion from one model.
type ChatResponse struct {
	ID        string `json:"id,omitempty"`
	Content   string `json:"content"`
	Model     string `json:"model"`
	Usage     Usage  `json:"usage"`
	LatencyMs int64  `json:"latency_ms"`
}

// ProviderError is the raw failure a provider client returns for one call.
// StatusCode is zero when no HTTP response was received; Code carries a
// network-level indicator such as ECONNRESET or ETIMEDOUT.
type ProviderError struct {
	StatusCode int            `json:"status_code,omitempty"`
	Code       string         `json:"code,omitempty"`
	RetryAfter *time.Duration `json:"retry_after,omitempty"`
	Provider   string         `json:"provider,omitempty"`
	Err        error          `json:"error"`
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}
	msg := "provider error"
	if e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("status %d: %s", e.StatusCode, msg)
	case e.Code != "":
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Network-level failure codes reported by provider clients.
const (
	CodeConnReset = "ECONNRESET"
	CodeTimeout   = "ETIMEDOUT"
)

// RetryAfterSeconds builds a RetryAfter value from a server hint in seconds.
// Negative and NaN hints are treated as zero; hints too large for a
// time.Duration saturate at the maximum duration.
func RetryAfterSeconds(seconds float64) *time.Duration {
	var d time.Duration
	switch {
	case seconds < 0 || math.IsNaN(seconds):
		d = 0
	case seconds >= float64(math.MaxInt64)/float64(time.Second):
		d = time.Duration(math.MaxInt64)
	default:
		d = time.Duration(seconds * float64(time.Second))
	}
	return &d
}

// RoutingRequest is what a routing policy sees when building a candidate list.
type RoutingRequest struct {
	Messages []Message `json:"messages"`
	Model    string    `json:"model,omitempty"`
	UserID   string    `json:"user_id,omitempty"`
}

// LastUserContent returns the content of the most recent user message.
func (r RoutingRequest) LastUserContent() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].Content
		}
	}
	return ""
}
