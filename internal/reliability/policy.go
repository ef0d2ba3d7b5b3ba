// Package reliability holds retry classification and backoff shared by
// outbound backend calls.
package reliability

import "time"

// Policy bounds retries for transient backend failures.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy retries transient failures three times with a capped
// exponential backoff.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// Delay returns the backoff before retry number attempt (0-based). A
// backend-suggested delay wins when present and sane.
func (p Policy) Delay(attempt int, suggested time.Duration) time.Duration {
	if suggested > 0 {
		if p.MaxDelay > 0 && suggested > p.MaxDelay {
			return p.MaxDelay
		}
		return suggested
	}
	return ExponentialBackoff(attempt, p.BaseDelay, p.MaxDelay)
}

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
