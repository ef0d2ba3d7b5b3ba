package persona

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Format identifies the on-disk persona encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatForPath picks the codec from the file extension.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("unsupported persona file extension %q", filepath.Ext(path))
	}
}

// document mirrors the persona file schema. Generation parameters are
// pointers so an omitted field (takes the default) can be told apart from an
// explicit zero (validated as-is). Unknown top-level keys are ignored by both
// codecs; a known key with the wrong type rejects the whole document.
type document struct {
	Name        string     `yaml:"name" toml:"name"`
	Role        string     `yaml:"role" toml:"role"`
	Description string     `yaml:"description" toml:"description"`
	Guidelines  string     `yaml:"guidelines" toml:"guidelines"`
	Style       string     `yaml:"style" toml:"style"`
	Examples    []Example  `yaml:"examples" toml:"examples"`
	LLMConfig   *paramsDoc `yaml:"llm_config" toml:"llm_config"`
}

type paramsDoc struct {
	Temperature *float64 `yaml:"temperature" toml:"temperature"`
	MaxTokens   *int     `yaml:"max_tokens" toml:"max_tokens"`
	TopP        *float64 `yaml:"top_p" toml:"top_p"`
}

// Decode parses and validates a persona document. All failures are reported
// as *ConfigError; no partially populated Config is ever returned.
func Decode(data []byte, format Format) (*Config, error) {
	var doc document
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, &ConfigError{Reason: fmt.Sprintf("parse yaml: %v", err)}
		}
	case FormatTOML:
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, &ConfigError{Reason: fmt.Sprintf("parse toml: %v", err)}
		}
	default:
		return nil, &ConfigError{Reason: fmt.Sprintf("unsupported format %q", format)}
	}

	cfg := &Config{
		Name:        doc.Name,
		Role:        doc.Role,
		Description: doc.Description,
		Guidelines:  doc.Guidelines,
		Style:       doc.Style,
		Examples:    doc.Examples,
		ModelParams: DefaultParams(),
	}
	if p := doc.LLMConfig; p != nil {
		if p.Temperature != nil {
			cfg.ModelParams.Temperature = *p.Temperature
		}
		if p.MaxTokens != nil {
			cfg.ModelParams.MaxTokens = *p.MaxTokens
		}
		if p.TopP != nil {
			cfg.ModelParams.TopP = *p.TopP
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Encode serializes a persona for saving. Decode(Encode(c)) yields a config
// equal to c.
func Encode(cfg *Config, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		return yaml.Marshal(cfg)
	case FormatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}
