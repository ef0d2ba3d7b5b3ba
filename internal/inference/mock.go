package inference

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmarchini/personaforge/internal/prompt"
)

// MockClient produces deterministic local replies when no backend is
// configured.
type MockClient struct{}

func NewMockClient() *MockClient { return &MockClient{} }

func (c *MockClient) Complete(ctx context.Context, p prompt.Prompt, params Params, onDelta DeltaHandler) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, classifyTransportError(ctx.Err())
	default:
	}
	if err := ValidateParams(params); err != nil {
		return Result{}, err
	}

	text := buildMockReply(p)
	if onDelta != nil && text != "" {
		if err := onDelta(text); err != nil {
			return Result{}, err
		}
	}
	return Result{Text: text}, nil
}

func buildMockReply(p prompt.Prompt) string {
	var lastUser, personaLine string
	for _, m := range p.Messages {
		switch m.Role {
		case prompt.RoleUser:
			lastUser = m.Content
		case prompt.RoleSystem:
			if personaLine == "" {
				if idx := strings.IndexByte(m.Content, '\n'); idx > 0 {
					personaLine = m.Content[:idx]
				} else {
					personaLine = m.Content
				}
			}
		}
	}

	base := strings.TrimSpace(lastUser)
	if base == "" {
		base = "I am listening."
	}
	if personaLine == "" {
		return fmt.Sprintf("I heard you: %s", base)
	}
	return fmt.Sprintf("(%s) I heard you: %s", strings.TrimSuffix(personaLine, "."), base)
}
