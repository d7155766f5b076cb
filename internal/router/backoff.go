package router

import (
	"math/rand"
	"sync"
	"time"
)

// jitterFraction bounds the random addition to a backoff delay.
const jitterFraction = 0.2

// JitterSource returns a value in [0, 1).
type JitterSource func() float64

// Backoff computes how long to wait before the next attempt on the same model.
type Backoff struct {
	base     time.Duration
	max      time.Duration
	fallback time.Duration
	jitter   JitterSource
}

// NewBackoff creates a backoff policy from the router config. A nil source
// uses a locked math/rand generator so one policy can serve concurrent calls.
func NewBackoff(cfg Config, source JitterSource) *Backoff {
	if source == nil {
		source = lockedRand()
	}
	return &Backoff{
		base:     cfg.BaseDelay,
		max:      cfg.MaxDelay,
		fallback: cfg.rateLimitFallback(),
		jitter:   source,
	}
}

// Delay returns the wait after a retryable failure on the given 0-based attempt:
// min(base*2^attempt, max) plus up to 20% jitter.
func (b *Backoff) Delay(attempt int) time.Duration {
	d := b.exponential(attempt)
	j := b.jitter()
	if j < 0 {
		j = 0
	}
	if j >= 1 {
		j = 0.999999
	}
	return d + time.Duration(float64(d)*jitterFraction*j)
}

func (b *Backoff) exponential(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := b.base
	for i := 0; i < attempt; i++ {
		if d > b.max/2 {
			return b.max
		}
		d *= 2
	}
	if d > b.max {
		return b.max
	}
	return d
}

// RateLimitWait returns the server-dictated cooldown, or the fallback when the
// server gave none. It is never scaled by the attempt number.
func (b *Backoff) RateLimitWait(retryAfter *time.Duration) time.Duration {
	if retryAfter != nil {
		return *retryAfter
	}
	return b.fallback
}

// WaitFor picks the wait for a classified failure. Fatal failures never wait.
func (b *Backoff) WaitFor(f *ClassifiedFailure, attempt int) time.Duration {
	switch f.Kind {
	case KindRateLimit:
		return b.RateLimitWait(f.RetryAfter)
	case KindRetryable:
		return b.Delay(attempt)
	default:
		return 0
	}
}

func lockedRand() JitterSource {
	var mu sync.Mutex
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	return func() float64 {
		mu.Lock()
		defer mu.Unlock()
		return r.Float64()
	}
}
