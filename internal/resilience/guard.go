package resilience

import (
	"context"
	"time"
)

// Guard applies a per-attempt timeout, a circuit breaker and a retry policy
// to calls against one external service.
type Guard struct {
	service string
	timeout time.Duration
	retry   RetryConfig
	breaker *CircuitBreaker
}

// NewGuard creates a Guard. A zero timeout disables the per-attempt deadline
// and a nil breaker disables circuit breaking.
func NewGuard(service string, timeout time.Duration, retry RetryConfig, breaker *CircuitBreaker) *Guard {
	return &Guard{service: service, timeout: timeout, retry: retry, breaker: breaker}
}

// Service returns the guarded service name.
func (g *Guard) Service() string { return g.service }

// Call runs fn under g. Rejections by an open breaker are not retried.
func Call[T any](ctx context.Context, g *Guard, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	retry := g.retry
	if retry.OnRetry == nil {
		retry.OnRetry = RetryLogger(g.service, operation)
	}
	attempt := func(ctx context.Context) (T, error) {
		if g.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}
		return fn(ctx)
	}
	return DoVal(ctx, retry, func(ctx context.Context) (T, error) {
		if g.breaker == nil {
			return attempt(ctx)
		}
		return ExecuteVal(ctx, g.breaker, attempt)
	})
}

// Do is Call for functions without a result.
func (g *Guard) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	_, err := Call(ctx, g, operation, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
