// Package profile derives a structured user preference summary from
// conversation history via a low-temperature inference pass.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmarchini/personaforge/internal/inference"
	"github.com/tmarchini/personaforge/internal/prompt"
	"github.com/tmarchini/personaforge/internal/transcript"
)

// Summary is the extracted user profile. Missing fields come back as empty
// collections, never nil maps the caller has to guard against.
type Summary struct {
	Topics      []string          `json:"topics"`
	Preferences map[string]string `json:"preferences"`
	Goals       []string          `json:"goals"`
	Concerns    []string          `json:"concerns"`
}

const extractionInstructions = `You analyze conversations and extract what the user cares about.
Reply with a single JSON object and nothing else, using exactly these keys:
{"topics": [], "preferences": {}, "goals": [], "concerns": []}
topics: subjects the user discussed. preferences: key/value likes and dislikes.
goals: what the user is trying to achieve. concerns: worries or blockers.`

// Analyzer runs the extraction prompt against the shared inference client.
type Analyzer struct {
	client inference.Client

	// Model forwarded with extraction requests; empty uses the backend default.
	Model string
}

func NewAnalyzer(client inference.Client) *Analyzer {
	return &Analyzer{client: client}
}

// extractionParams keep the output deterministic enough to parse.
func (a *Analyzer) extractionParams() inference.Params {
	return inference.Params{
		Model:       a.Model,
		Temperature: 0.1,
		MaxTokens:   400,
		TopP:        0.95,
	}
}

// Analyze summarizes the user side of the given turns. Returns an empty
// Summary without calling the backend when there is nothing to analyze.
func (a *Analyzer) Analyze(ctx context.Context, turns []transcript.Turn) (Summary, error) {
	var b strings.Builder
	for _, turn := range turns {
		if turn.Role != transcript.RoleUser {
			continue
		}
		fmt.Fprintf(&b, "- %s\n", turn.Text)
	}
	if b.Len() == 0 {
		return emptySummary(), nil
	}

	p := prompt.Prompt{Messages: []prompt.Message{
		{Role: prompt.RoleSystem, Content: extractionInstructions},
		{Role: prompt.RoleUser, Content: "User messages:\n" + b.String()},
	}}

	res, err := a.client.Complete(ctx, p, a.extractionParams(), nil)
	if err != nil {
		return Summary{}, fmt.Errorf("profile extraction: %w", err)
	}
	return parseSummary(res.Text), nil
}

// parseSummary tolerates models that wrap the JSON in code fences or prose;
// anything unparseable degrades to an empty summary.
func parseSummary(raw string) Summary {
	text := raw
	if start := strings.IndexByte(text, '{'); start >= 0 {
		text = text[start:]
		if end := strings.LastIndexByte(text, '}'); end >= 0 {
			text = text[:end+1]
		}
	}

	var s Summary
	if err := json.Unmarshal([]byte(text), &s); err != nil {
		return emptySummary()
	}
	if s.Topics == nil {
		s.Topics = []string{}
	}
	if s.Preferences == nil {
		s.Preferences = map[string]string{}
	}
	if s.Goals == nil {
		s.Goals = []string{}
	}
	if s.Concerns == nil {
		s.Concerns = []string{}
	}
	return s
}

func emptySummary() Summary {
	return Summary{
		Topics:      []string{},
		Preferences: map[string]string{},
		Goals:       []string{},
		Concerns:    []string{},
	}
}
