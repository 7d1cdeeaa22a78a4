package retry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/statuswatch/internal/metrics"
	"github.com/JakeFAU/statuswatch/internal/status"
)

// WaitFunc blocks for d or until ctx ends.
type WaitFunc func(ctx context.Context, d time.Duration) error

// Controller runs a source's Fetch until it succeeds, the policy gives up,
// or the context ends. Attempts are strictly sequential.
type Controller struct {
	policy Policy
	clock  status.Clock
	wait   WaitFunc
	logger *zap.Logger
}

// Option customizes a Controller.
type Option func(*Controller)

// WithWait replaces the backoff sleep, mainly for tests.
func WithWait(wait WaitFunc) Option {
	return func(c *Controller) {
		if wait != nil {
			c.wait = wait
		}
	}
}

// WithLogger sets the controller logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewController builds a Controller. A nil policy means DefaultPolicy.
func NewController(policy Policy, clock status.Clock, opts ...Option) *Controller {
	if policy == nil {
		policy = DefaultPolicy()
	}
	c := &Controller{
		policy: policy,
		clock:  clock,
		wait:   sleep,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do fetches src, retrying per policy. A failed outcome carries the last
// error tagged with the number of attempts made.
func (c *Controller) Do(ctx context.Context, src status.Source) status.Outcome {
	logger := c.logger.With(zap.String("source", src.Name()))
	for attempt := 1; ; attempt++ {
		metrics.ObserveFetchAttempt(src.Name())
		snap, err := src.Fetch(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("fetch recovered", zap.Int("attempt", attempt))
			}
			return status.Succeeded(snap)
		}

		fe := status.AsFetchError(err, status.KindInternal)
		logger.Warn("fetch attempt failed",
			zap.Int("attempt", attempt),
			zap.String("kind", string(fe.Kind)),
			zap.Error(err),
		)
		if !c.policy.ShouldRetry(fe, attempt) {
			return c.fail(fe, attempt)
		}

		delay := c.policy.Backoff(attempt)
		logger.Debug("backing off", zap.Duration("delay", delay), zap.Int("next_attempt", attempt+1))
		if waitErr := c.wait(ctx, delay); waitErr != nil {
			return c.fail(fe, attempt)
		}
	}
}

func (c *Controller) fail(fe *status.FetchError, attempts int) status.Outcome {
	tagged := *fe
	tagged.Attempts = attempts
	if tagged.At.IsZero() {
		tagged.At = c.now()
	}
	return status.Failed(&tagged)
}

func (c *Controller) now() time.Time {
	if c.clock == nil {
		return time.Now().UTC()
	}
	return c.clock.Now().UTC()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
