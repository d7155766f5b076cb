package router

import (
	"fmt"
	"strings"
	"time"
)

// Outcome is the result of a single provider attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// ClassifiedFailure is a provider failure after classification.
type ClassifiedFailure struct {
	Model      string         `json:"model"`
	Kind       FailureKind    `json:"kind"`
	Message    string         `json:"message"`
	StatusCode int            `json:"status_code,omitempty"`
	RetryAfter *time.Duration `json:"retry_after,omitempty"`
	Err        error          `json:"-"`
}

func classifyFailure(model string, err error) *ClassifiedFailure {
	return &ClassifiedFailure{
		Model:      model,
		Kind:       Classify(err),
		Message:    err.Error(),
		StatusCode: statusOf(err),
		RetryAfter: retryAfterOf(err),
		Err:        err,
	}
}

// Error implements the error interface.
func (f *ClassifiedFailure) Error() string {
	return fmt.Sprintf("%s: %s: %s", f.Model, f.Kind, f.Message)
}

// Unwrap returns the raw provider error.
func (f *ClassifiedFailure) Unwrap() error {
	return f.Err
}

// AttemptRecord describes one provider call made during a routed call.
// Wait is the delay scheduled after a failed attempt; zero when the router
// advanced to the next model or stopped instead.
type AttemptRecord struct {
	Model   string             `json:"model"`
	Attempt int                `json:"attempt"`
	Outcome Outcome            `json:"outcome"`
	Failure *ClassifiedFailure `json:"failure,omitempty"`
	Wait    time.Duration      `json:"wait,omitempty"`
	Latency time.Duration      `json:"latency"`
}

// Kind returns the classified kind of a failed attempt.
func (r AttemptRecord) Kind() (FailureKind, bool) {
	if r.Failure == nil {
		return 0, false
	}
	return r.Failure.Kind, true
}

// ExhaustedError is the only error Route returns. It carries every attempt made
// across every model. Cause is set when the call stopped early because the
// context ended.
type ExhaustedError struct {
	Attempts []AttemptRecord
	Cause    error
}

// Kind always reports KindExhausted.
func (e *ExhaustedError) Kind() FailureKind {
	return KindExhausted
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	var b strings.Builder
	if e.Cause != nil {
		fmt.Fprintf(&b, "routing stopped after %d attempts: %v", len(e.Attempts), e.Cause)
	} else {
		fmt.Fprintf(&b, "all models failed after %d attempts", len(e.Attempts))
	}
	for _, a := range e.Attempts {
		if a.Failure == nil {
			continue
		}
		fmt.Fprintf(&b, "; %s#%d %s: %s", a.Model, a.Attempt, a.Failure.Kind, a.Failure.Message)
	}
	return b.String()
}

// Unwrap exposes the context error, if any.
func (e *ExhaustedError) Unwrap() error {
	return e.Cause
}

// Models returns the distinct models that were attempted, in order.
func (e *ExhaustedError) Models() []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range e.Attempts {
		if !seen[a.Model] {
			seen[a.Model] = true
			out = append(out, a.Model)
		}
	}
	return out
}
