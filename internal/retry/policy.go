// Package retry wraps source fetches with bounded, quadratically growing
// backoff.
package retry

import (
	"time"

	"github.com/JakeFAU/statuswatch/internal/status"
)

// Policy decides whether and when a failed attempt is retried.
type Policy interface {
	ShouldRetry(err *status.FetchError, attempt int) bool
	// Backoff returns the wait before attempt+1, given attempt failures so far.
	Backoff(attempt int) time.Duration
	Attempts() int
}

// QuadraticPolicy waits BaseDelay×k² before attempt k+1.
type QuadraticPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
}

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = time.Second
)

// NewQuadraticPolicy builds a policy; non-positive values fall back to three
// attempts and a one second base.
func NewQuadraticPolicy(maxAttempts int, baseDelay time.Duration) *QuadraticPolicy {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	return &QuadraticPolicy{maxAttempts: maxAttempts, baseDelay: baseDelay}
}

// DefaultPolicy returns three attempts with 1s and 4s waits.
func DefaultPolicy() *QuadraticPolicy {
	return NewQuadraticPolicy(defaultMaxAttempts, defaultBaseDelay)
}

// Attempts returns the attempt budget.
func (p *QuadraticPolicy) Attempts() int {
	return p.maxAttempts
}

// ShouldRetry decides whether the error is retryable.
func (p *QuadraticPolicy) ShouldRetry(err *status.FetchError, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	return err.Retryable()
}

// Backoff returns the wait duration before the next attempt.
func (p *QuadraticPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	k := time.Duration(attempt)
	return p.baseDelay * k * k
}
