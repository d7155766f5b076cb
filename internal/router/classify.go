package router

import (
	"context"
	"errors"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/semantrix/routechain/internal/models"
)

// FailureKind tags every failure the router deals with.
type FailureKind int

const (
	// KindRetryable is a transient failure; the same model is retried after backoff.
	KindRetryable FailureKind = iota
	// KindRateLimit means the server asked us to slow down; wait for its hint.
	KindRateLimit
	// KindFatal is a client-side failure; the router moves to the next model.
	KindFatal
	// KindExhausted is only ever carried by the error returned from Route.
	KindExhausted
)

// String returns the wire name of the kind.
func (k FailureKind) String() string {
	switch k {
	case KindRetryable:
		return "retryable"
	case KindRateLimit:
		return "rate_limit"
	case KindFatal:
		return "fatal"
	case KindExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// MarshalText lets kinds appear by name in JSON and logs.
func (k FailureKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Classify maps a raw provider failure to a FailureKind. Rules are checked in
// priority order: 429, 5xx, network reset/timeout, other 4xx, then anything
// unrecognised is treated as retryable.
func Classify(err error) FailureKind {
	status := statusOf(err)

	if status == http.StatusTooManyRequests {
		return KindRateLimit
	}
	if status >= 500 {
		return KindRetryable
	}
	if isNetworkFailure(err) {
		return KindRetryable
	}
	if status >= 400 && status < 500 {
		return KindFatal
	}
	return KindRetryable
}

func statusOf(err error) int {
	var perr *models.ProviderError
	if errors.As(err, &perr) {
		return perr.StatusCode
	}
	return 0
}

func isNetworkFailure(err error) bool {
	if err == nil {
		return false
	}
	var perr *models.ProviderError
	if errors.As(err, &perr) {
		switch perr.Code {
		case models.CodeConnReset, models.CodeTimeout:
			return true
		}
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// retryAfterOf extracts the server wait hint, if any.
func retryAfterOf(err error) *time.Duration {
	var perr *models.ProviderError
	if errors.As(err, &perr) && perr.RetryAfter != nil {
		d := *perr.RetryAfter
		if d < 0 {
			d = 0
		}
		return &d
	}
	return nil
}
