// Package inference sends assembled prompts to a model backend and returns
// completions, with typed errors and bounded retry.
package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmarchini/personaforge/internal/persona"
	"github.com/tmarchini/personaforge/internal/prompt"
	"github.com/tmarchini/personaforge/internal/reliability"
)

// Kind classifies an inference failure. Timeout, rate_limited and
// backend_unavailable are worth retrying; invalid_params is not.
type Kind string

const (
	KindTimeout            Kind = "timeout"
	KindRateLimited        Kind = "rate_limited"
	KindBackendUnavailable Kind = "backend_unavailable"
	KindInvalidParams      Kind = "invalid_params"
)

// Error is a typed inference failure. Attempts counts completed tries when
// the error is surfaced after retries.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	Attempts   int
	cause      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("inference %s: %s", e.Kind, e.Message)
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" (after %d attempts)", e.Attempts)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.cause }

// Retryable reports whether the same request may succeed on retry.
func (e *Error) Retryable() bool {
	return e.Kind != KindInvalidParams
}

// KindOf extracts the failure kind, or empty when err is not an inference
// error.
func KindOf(err error) Kind {
	var infErr *Error
	if errors.As(err, &infErr) {
		return infErr.Kind
	}
	return ""
}

// Params are the generation tuning knobs for one completion request.
type Params struct {
	Model       string
	Temperature float64
	MaxTokens   int
	TopP        float64
}

// ParamsFrom builds request params from a persona's model configuration.
func ParamsFrom(cfg *persona.Config, model string) Params {
	return Params{
		Model:       model,
		Temperature: cfg.ModelParams.Temperature,
		MaxTokens:   cfg.ModelParams.MaxTokens,
		TopP:        cfg.ModelParams.TopP,
	}
}

// ValidateParams rejects out-of-range params before anything is sent. The
// returned error is KindInvalidParams and is never retried.
func ValidateParams(p Params) *Error {
	switch {
	case p.Temperature < 0 || p.Temperature > 2:
		return &Error{Kind: KindInvalidParams, Message: fmt.Sprintf("temperature %v outside [0, 2]", p.Temperature)}
	case p.MaxTokens <= 0:
		return &Error{Kind: KindInvalidParams, Message: fmt.Sprintf("max_tokens %d must be positive", p.MaxTokens)}
	case p.TopP < 0 || p.TopP > 1:
		return &Error{Kind: KindInvalidParams, Message: fmt.Sprintf("top_p %v outside [0, 1]", p.TopP)}
	}
	return nil
}

// Result is the final completion after any streaming deltas.
type Result struct {
	Text string
}

// DeltaHandler receives streaming text fragments.
type DeltaHandler func(delta string) error

// Client produces one completion per call. onDelta may be nil for
// non-streaming use; when set it receives fragments as they arrive and the
// Result still carries the full text.
type Client interface {
	Complete(ctx context.Context, p prompt.Prompt, params Params, onDelta DeltaHandler) (Result, error)
}

// Config controls client construction.
type Config struct {
	Mode           string
	BackendURL     string
	APIKey         string
	RequestTimeout time.Duration
	Retry          reliability.Policy
}

// NewClient builds the configured backend wrapped in the retry decorator.
// Mode "auto" picks HTTP when a backend URL is configured, else mock.
func NewClient(cfg Config) (Client, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	var backend Client
	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.BackendURL) != "" {
			backend = NewHTTPClient(cfg.BackendURL, cfg.APIKey, cfg.RequestTimeout)
		} else {
			backend = NewMockClient()
		}
	case "http":
		if strings.TrimSpace(cfg.BackendURL) == "" {
			return nil, errors.New("backend URL is required for http mode")
		}
		backend = NewHTTPClient(cfg.BackendURL, cfg.APIKey, cfg.RequestTimeout)
	case "mock":
		backend = NewMockClient()
	default:
		return nil, fmt.Errorf("unsupported inference mode %q", cfg.Mode)
	}

	policy := cfg.Retry
	if policy.MaxAttempts == 0 {
		policy = reliability.DefaultPolicy()
	}
	return NewRetryingClient(backend, policy), nil
}
