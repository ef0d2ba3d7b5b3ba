// Package prompt turns a persona, a conversation history and a new user
// message into the payload sent to the inference backend.
package prompt

import (
	"fmt"
	"strings"

	"github.com/tmarchini/personaforge/internal/persona"
	"github.com/tmarchini/personaforge/internal/transcript"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of an assembled prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Prompt is the fully assembled, ready-to-send payload. Transient: built for
// one inference call and discarded.
type Prompt struct {
	Messages []Message
}

// AssemblyError reports a prompt that cannot fit the token budget even after
// dropping the entire droppable history.
type AssemblyError struct {
	Budget int
	Needed int
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("prompt assembly: %d tokens required with empty history, budget is %d", e.Needed, e.Budget)
}

// Assembler builds prompts deterministically. TokenBudget <= 0 disables
// truncation.
type Assembler struct {
	TokenBudget int
}

// Assemble produces the ordered prompt: system instructions, then few-shot
// examples, then history in chronological order, then the new user message.
// Pure function of its inputs.
//
// When the estimated size exceeds the budget, the oldest history turns are
// dropped first. System instructions, examples and the new message are never
// dropped; if they alone exceed the budget the call fails with
// *AssemblyError and nothing is sent.
func (a Assembler) Assemble(cfg *persona.Config, history []transcript.Turn, userText string) (Prompt, error) {
	fixed := 0
	system := Message{Role: RoleSystem, Content: cfg.SystemPrompt()}
	fixed += estimateTokens(system.Content)

	shots := make([]Message, 0, len(cfg.Examples)*2)
	for _, ex := range cfg.Examples {
		shots = append(shots,
			Message{Role: RoleUser, Content: ex.User},
			Message{Role: RoleAssistant, Content: ex.Assistant},
		)
		fixed += estimateTokens(ex.User) + estimateTokens(ex.Assistant)
	}

	final := Message{Role: RoleUser, Content: userText}
	fixed += estimateTokens(userText)

	if a.TokenBudget > 0 && fixed > a.TokenBudget {
		return Prompt{}, &AssemblyError{Budget: a.TokenBudget, Needed: fixed}
	}

	// Keep the longest suffix of history that fits the remaining budget.
	keepFrom := 0
	if a.TokenBudget > 0 {
		remaining := a.TokenBudget - fixed
		total := 0
		keepFrom = len(history)
		for i := len(history) - 1; i >= 0; i-- {
			total += estimateTokens(history[i].Text)
			if total > remaining {
				break
			}
			keepFrom = i
		}
	}

	msgs := make([]Message, 0, 2+len(shots)+len(history)-keepFrom)
	msgs = append(msgs, system)
	msgs = append(msgs, shots...)
	for _, turn := range history[keepFrom:] {
		msgs = append(msgs, Message{Role: string(turn.Role), Content: turn.Text})
	}
	msgs = append(msgs, final)

	return Prompt{Messages: msgs}, nil
}

// Text renders the prompt as plain dialogue for text-completion backends and
// terminal display. The trailing "Assistant:" cues the model to reply.
func (p Prompt) Text() string {
	var b strings.Builder
	for _, m := range p.Messages {
		switch m.Role {
		case RoleSystem:
			b.WriteString(m.Content)
			b.WriteString("\n")
		case RoleUser:
			fmt.Fprintf(&b, "\nUser: %s", m.Content)
		case RoleAssistant:
			fmt.Fprintf(&b, "\nAssistant: %s", m.Content)
		}
	}
	b.WriteString("\nAssistant:")
	return b.String()
}

// estimateTokens approximates the tokenizer at ~4 bytes per token. Counting
// bytes keeps the estimate conservative for non-ASCII text.
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(text)/4 + 1
}
