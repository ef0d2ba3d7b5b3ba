package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// Config contains all runtime settings for the persona service.
type Config struct {
	BindAddr        string
	ShutdownTimeout time.Duration

	MetricsNamespace string
	AllowAnyOrigin   bool

	PersonaDir     string
	DefaultPersona string

	SessionInactivityTimeout time.Duration
	HistoryLimit             int
	PromptTokenBudget        int

	StorageURL string
	RedactPII  bool

	InferenceMode    string
	BackendURL       string
	APIKey           string
	Model            string
	RequestTimeout   time.Duration
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
}

// Load reads the optional config file, environment variables with the
// PERSONAFORGE_ prefix, and built-in defaults, in that order of precedence
// (env over file over defaults). An empty path looks for config.toml in the
// XDG config directory; a missing file there is fine.
func Load(path string) (Config, error) {
	v := viper.New()

	v.SetDefault("bind_addr", ":8080")
	v.SetDefault("shutdown_timeout", 15*time.Second)
	v.SetDefault("metrics_namespace", "personaforge")
	v.SetDefault("allow_any_origin", false)
	v.SetDefault("persona_dir", filepath.Join(xdg.ConfigHome, "personaforge", "personas"))
	v.SetDefault("default_persona", "assistant")
	v.SetDefault("session_inactivity_timeout", 30*time.Minute)
	v.SetDefault("history_limit", 40)
	v.SetDefault("prompt_token_budget", 3000)
	v.SetDefault("storage_url", "")
	v.SetDefault("redact_pii", false)
	v.SetDefault("inference.mode", "auto")
	v.SetDefault("inference.backend_url", "")
	v.SetDefault("inference.api_key", "")
	v.SetDefault("inference.model", "")
	v.SetDefault("inference.request_timeout", 60*time.Second)
	v.SetDefault("inference.retry_max_attempts", 3)
	v.SetDefault("inference.retry_base_delay", 250*time.Millisecond)
	v.SetDefault("inference.retry_max_delay", 5*time.Second)

	v.SetEnvPrefix("personaforge")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(filepath.Join(xdg.ConfigHome, "personaforge"))
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		BindAddr:                 v.GetString("bind_addr"),
		ShutdownTimeout:          v.GetDuration("shutdown_timeout"),
		MetricsNamespace:         v.GetString("metrics_namespace"),
		AllowAnyOrigin:           v.GetBool("allow_any_origin"),
		PersonaDir:               v.GetString("persona_dir"),
		DefaultPersona:           v.GetString("default_persona"),
		SessionInactivityTimeout: v.GetDuration("session_inactivity_timeout"),
		HistoryLimit:             v.GetInt("history_limit"),
		PromptTokenBudget:        v.GetInt("prompt_token_budget"),
		StorageURL:               strings.TrimSpace(v.GetString("storage_url")),
		RedactPII:                v.GetBool("redact_pii"),
		InferenceMode:            v.GetString("inference.mode"),
		BackendURL:               strings.TrimSpace(v.GetString("inference.backend_url")),
		APIKey:                   strings.TrimSpace(v.GetString("inference.api_key")),
		Model:                    v.GetString("inference.model"),
		RequestTimeout:           v.GetDuration("inference.request_timeout"),
		RetryMaxAttempts:         v.GetInt("inference.retry_max_attempts"),
		RetryBaseDelay:           v.GetDuration("inference.retry_base_delay"),
		RetryMaxDelay:            v.GetDuration("inference.retry_max_delay"),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.BindAddr) == "" {
		return fmt.Errorf("bind_addr must not be empty")
	}
	if c.SessionInactivityTimeout < 5*time.Second {
		return fmt.Errorf("session_inactivity_timeout must be at least 5s")
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("history_limit must be positive")
	}
	if c.PromptTokenBudget < 0 {
		return fmt.Errorf("prompt_token_budget must be >= 0 (0 disables truncation)")
	}
	if c.RetryMaxAttempts <= 0 {
		return fmt.Errorf("inference.retry_max_attempts must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("inference.request_timeout must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(c.InferenceMode)) {
	case "auto", "http", "mock":
	default:
		return fmt.Errorf("inference.mode must be auto, http or mock, got %q", c.InferenceMode)
	}
	return nil
}
