// Package retry provides bounded exponential backoff with jitter for
// worker invocations. Errors marked fatal skip the remaining budget.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/quillworks/draftd/internal/workflow"
)

// Policy configures retry behavior for a worker invocation.
type Policy struct {
	// MaxAttempts is the total number of invocations, first try included.
	// Default: 3
	MaxAttempts int

	// BaseDelay is the delay before the first retry.
	// Default: 1 second
	BaseDelay time.Duration

	// MaxDelay caps the backoff growth.
	// Default: 30 seconds
	MaxDelay time.Duration

	// JitterFraction spreads each delay by +/- this fraction of itself to
	// keep parallel workers from retrying in lockstep.
	// Default: 0.2
	JitterFraction float64
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		BaseDelay:      time.Second,
		MaxDelay:       30 * time.Second,
		JitterFraction: 0.2,
	}
}

// ApplyDefaults sets default values for unset fields.
func (p *Policy) ApplyDefaults() {
	defaults := DefaultPolicy()

	if p.MaxAttempts == 0 {
		p.MaxAttempts = defaults.MaxAttempts
	}
	if p.BaseDelay == 0 {
		p.BaseDelay = defaults.BaseDelay
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = defaults.MaxDelay
	}
	if p.JitterFraction == 0 {
		p.JitterFraction = defaults.JitterFraction
	}
}

// Delay returns the pre-jitter backoff before retry number retryN (1-based):
// BaseDelay doubled per retry, capped at MaxDelay.
func (p Policy) Delay(retryN int) time.Duration {
	if retryN < 1 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < retryN; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// jittered spreads d by the policy's jitter fraction using rnd.
func (p Policy) jittered(d time.Duration, rnd *rand.Rand) time.Duration {
	if p.JitterFraction <= 0 || d <= 0 {
		return d
	}
	// Uniform in [1-f, 1+f).
	factor := 1 + p.JitterFraction*(2*rnd.Float64()-1)
	return time.Duration(float64(d) * factor)
}

// Controller runs operations under a policy.
type Controller struct {
	policy Policy
	logger *zap.Logger
	rnd    *rand.Rand
}

// NewController builds a controller. A nil logger disables retry logging.
func NewController(policy Policy, logger *zap.Logger) *Controller {
	policy.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		policy: policy,
		logger: logger,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Result carries the outcome of a retried operation.
type Result struct {
	// Attempts is the number of invocations actually made.
	Attempts int
}

// Do invokes op until it succeeds, the attempt budget is spent, a fatal
// error occurs, or ctx is canceled. The returned attempt count is valid in
// every case.
func (c *Controller) Do(ctx context.Context, name string, op func(ctx context.Context) error) (Result, error) {
	var lastErr error
	start := time.Now()

	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("operation recovered after retries",
					zap.String("operation", name),
					zap.Int("attempts", attempt),
					zap.Duration("total_time", time.Since(start)),
				)
			}
			return Result{Attempts: attempt}, nil
		}

		lastErr = err

		if workflow.IsFatal(err) {
			c.logger.Debug("operation error is not retryable",
				zap.String("operation", name),
				zap.Error(err),
			)
			return Result{Attempts: attempt}, err
		}

		if attempt == c.policy.MaxAttempts {
			break
		}

		delay := c.policy.jittered(c.policy.Delay(attempt), c.rnd)
		c.logger.Info("retrying operation after transient error",
			zap.String("operation", name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.policy.MaxAttempts),
			zap.Error(err),
			zap.Duration("backoff", delay),
		)

		select {
		case <-ctx.Done():
			return Result{Attempts: attempt}, fmt.Errorf("operation canceled: %w", ctx.Err())
		case <-time.After(delay):
		}
	}

	c.logger.Warn("operation failed after all retries exhausted",
		zap.String("operation", name),
		zap.Int("total_attempts", c.policy.MaxAttempts),
		zap.Duration("total_time", time.Since(start)),
		zap.Error(lastErr),
	)
	return Result{Attempts: c.policy.MaxAttempts}, fmt.Errorf("operation failed after %d attempts: %w", c.policy.MaxAttempts, lastErr)
}
