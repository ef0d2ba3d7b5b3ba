package persona

import (
	"errors"
	"fmt"
	"strings"
)

// Default generation parameters applied when a persona omits llm_config fields.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1000
	DefaultTopP        = 0.95
)

var ErrNotFound = errors.New("persona not found")

// ConfigError reports a malformed or incomplete persona document.
// It is fatal to the load: no partial config is ever returned alongside it.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "persona config: " + e.Reason
	}
	return fmt.Sprintf("persona config: field %q: %s", e.Field, e.Reason)
}

// Example is a single few-shot user/assistant exchange.
type Example struct {
	User      string `yaml:"user" toml:"user" json:"user"`
	Assistant string `yaml:"assistant" toml:"assistant" json:"assistant"`
}

// ModelParams holds the generation tuning parameters forwarded to the backend.
type ModelParams struct {
	Temperature float64 `yaml:"temperature" toml:"temperature" json:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" toml:"max_tokens" json:"max_tokens"`
	TopP        float64 `yaml:"top_p" toml:"top_p" json:"top_p"`
}

// Config is a validated persona definition. Immutable after load: the
// registry hands out copies and never mutates a stored config.
type Config struct {
	Name        string      `yaml:"name" toml:"name" json:"name"`
	Role        string      `yaml:"role" toml:"role" json:"role"`
	Description string      `yaml:"description" toml:"description" json:"description"`
	Guidelines  string      `yaml:"guidelines" toml:"guidelines" json:"guidelines"`
	Style       string      `yaml:"style" toml:"style" json:"style"`
	Examples    []Example   `yaml:"examples,omitempty" toml:"examples,omitempty" json:"examples,omitempty"`
	ModelParams ModelParams `yaml:"llm_config" toml:"llm_config" json:"llm_config"`
}

// DefaultParams returns the service-wide generation defaults.
func DefaultParams() ModelParams {
	return ModelParams{
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		TopP:        DefaultTopP,
	}
}

// Validate checks the persona invariants. Defaults for omitted llm_config
// fields are applied by the codecs before validation, so an explicit
// out-of-range value here always rejects the load.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return &ConfigError{Field: "name", Reason: "must not be empty"}
	}
	if !validName(c.Name) {
		return &ConfigError{Field: "name", Reason: "must be a plain name without path separators"}
	}
	if strings.TrimSpace(c.Role) == "" {
		return &ConfigError{Field: "role", Reason: "must not be empty"}
	}
	if strings.TrimSpace(c.Description) == "" {
		return &ConfigError{Field: "description", Reason: "must not be empty"}
	}
	for i, ex := range c.Examples {
		if strings.TrimSpace(ex.User) == "" {
			return &ConfigError{Field: fmt.Sprintf("examples[%d].user", i), Reason: "must not be empty"}
		}
		if strings.TrimSpace(ex.Assistant) == "" {
			return &ConfigError{Field: fmt.Sprintf("examples[%d].assistant", i), Reason: "must not be empty"}
		}
	}

	p := c.ModelParams
	if p.Temperature < 0 || p.Temperature > 2 {
		return &ConfigError{Field: "llm_config.temperature", Reason: fmt.Sprintf("%v outside [0, 2]", p.Temperature)}
	}
	if p.MaxTokens <= 0 {
		return &ConfigError{Field: "llm_config.max_tokens", Reason: fmt.Sprintf("%d must be positive", p.MaxTokens)}
	}
	if p.TopP < 0 || p.TopP > 1 {
		return &ConfigError{Field: "llm_config.top_p", Reason: fmt.Sprintf("%v outside [0, 1]", p.TopP)}
	}
	return nil
}

// SystemPrompt renders the role, description, guidelines and style into the
// instruction block that leads every assembled prompt.
func (c *Config) SystemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.\n\n%s", strings.TrimSpace(c.Role), strings.TrimSpace(c.Description))
	if g := strings.TrimSpace(c.Guidelines); g != "" {
		fmt.Fprintf(&b, "\n\nFollow these guidelines:\n%s", g)
	}
	if s := strings.TrimSpace(c.Style); s != "" {
		fmt.Fprintf(&b, "\n\nYour reply style:\n%s", s)
	}
	b.WriteString("\n\nStay in character at all times.")
	return b.String()
}

// Clone returns an independent copy, so callers can hand configs across
// goroutines without sharing the examples slice.
func (c *Config) Clone() *Config {
	out := *c
	if len(c.Examples) > 0 {
		out.Examples = make([]Example, len(c.Examples))
		copy(out.Examples, c.Examples)
	}
	return &out
}
