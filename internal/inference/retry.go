package inference

import (
	"context"
	"errors"
	"time"

	"github.com/tmarchini/personaforge/internal/prompt"
	"github.com/tmarchini/personaforge/internal/reliability"
)

// RetryingClient retries transient failures with capped exponential backoff.
// Retries are transparent to the caller apart from latency; the final error
// keeps its kind and carries the attempt count.
//
// A retry only happens while no streaming delta has been delivered yet.
// After the first delta the caller has observed partial output, so replaying
// the request would duplicate text.
type RetryingClient struct {
	inner  Client
	policy reliability.Policy

	// sleep is swapped in tests to avoid real waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRetryingClient(inner Client, policy reliability.Policy) *RetryingClient {
	if policy.MaxAttempts <= 0 {
		policy = reliability.DefaultPolicy()
	}
	return &RetryingClient{
		inner:  inner,
		policy: policy,
		sleep:  sleepCtx,
	}
}

func (c *RetryingClient) Complete(ctx context.Context, p prompt.Prompt, params Params, onDelta DeltaHandler) (Result, error) {
	var lastErr *Error

	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		delivered := false
		wrapped := onDelta
		if onDelta != nil {
			wrapped = func(delta string) error {
				delivered = true
				return onDelta(delta)
			}
		}

		res, err := c.inner.Complete(ctx, p, params, wrapped)
		if err == nil {
			return res, nil
		}

		var infErr *Error
		if !errors.As(err, &infErr) {
			return Result{}, err
		}
		infErr.Attempts = attempt
		if !infErr.Retryable() || delivered {
			return Result{}, infErr
		}
		lastErr = infErr

		if attempt == c.policy.MaxAttempts {
			break
		}
		if err := c.sleep(ctx, c.policy.Delay(attempt-1, infErr.RetryAfter)); err != nil {
			return Result{}, lastErr
		}
	}

	return Result{}, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
