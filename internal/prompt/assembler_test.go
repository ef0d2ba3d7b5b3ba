package prompt

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/tmarchini/personaforge/internal/persona"
	"github.com/tmarchini/personaforge/internal/transcript"
)

func testPersona() *persona.Config {
	return &persona.Config{
		Name:        "sage",
		Role:        "a patient mentor",
		Description: "explains with small examples",
		Guidelines:  "be concrete",
		Style:       "short paragraphs",
		Examples: []persona.Example{
			{User: "example question", Assistant: "example answer"},
		},
		ModelParams: persona.DefaultParams(),
	}
}

func TestAssembleOrdering(t *testing.T) {
	history := []transcript.Turn{
		{Role: transcript.RoleUser, Text: "A"},
		{Role: transcript.RoleAssistant, Text: "B"},
	}

	p, err := Assembler{}.Assemble(testPersona(), history, "C")
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}

	var contents []string
	for _, m := range p.Messages {
		contents = append(contents, m.Content)
	}
	idx := func(s string) int {
		for i, c := range contents {
			if c == s {
				return i
			}
		}
		t.Fatalf("message %q missing from prompt: %v", s, contents)
		return -1
	}

	if p.Messages[0].Role != RoleSystem {
		t.Fatalf("first message role = %q, want system", p.Messages[0].Role)
	}
	if !(idx("example answer") < idx("A") && idx("A") < idx("B") && idx("B") < idx("C")) {
		t.Fatalf("ordering violated: %v", contents)
	}
	if last := p.Messages[len(p.Messages)-1]; last.Role != RoleUser || last.Content != "C" {
		t.Fatalf("last message = %+v, want the new user message", last)
	}
}

func TestAssembleDeterministic(t *testing.T) {
	history := []transcript.Turn{
		{Role: transcript.RoleUser, Text: "A"},
		{Role: transcript.RoleAssistant, Text: "B"},
	}
	first, err := Assembler{TokenBudget: 500}.Assemble(testPersona(), history, "C")
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	second, err := Assembler{TokenBudget: 500}.Assemble(testPersona(), history, "C")
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("Assemble() is not deterministic:\n%+v\n%+v", first, second)
	}
	if first.Text() != second.Text() {
		t.Fatalf("Text() rendering differs between identical inputs")
	}
}

func TestAssembleEmptyHistoryAndExamples(t *testing.T) {
	cfg := testPersona()
	cfg.Examples = nil

	p, err := Assembler{}.Assemble(cfg, nil, "hello")
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if len(p.Messages) != 2 {
		t.Fatalf("len(messages) = %d, want 2 (system + user)", len(p.Messages))
	}
	text := p.Text()
	if strings.Contains(text, "Assistant: \n") {
		t.Fatalf("rendering contains placeholder assistant line:\n%s", text)
	}
}

func TestAssembleTruncatesOldestFirst(t *testing.T) {
	cfg := testPersona()
	cfg.Examples = nil
	history := []transcript.Turn{
		{Role: transcript.RoleUser, Text: strings.Repeat("old ", 40)},
		{Role: transcript.RoleAssistant, Text: strings.Repeat("mid ", 40)},
		{Role: transcript.RoleUser, Text: "recent question"},
	}

	fixed := estimateTokens(cfg.SystemPrompt()) + estimateTokens("now")
	budget := fixed + estimateTokens("recent question") + estimateTokens(strings.Repeat("mid ", 40))

	p, err := Assembler{TokenBudget: budget}.Assemble(cfg, history, "now")
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}

	joined := p.Text()
	if strings.Contains(joined, "old old") {
		t.Fatalf("oldest turn should have been dropped:\n%s", joined)
	}
	if !strings.Contains(joined, "mid mid") || !strings.Contains(joined, "recent question") {
		t.Fatalf("newer turns must survive truncation:\n%s", joined)
	}
	if p.Messages[0].Role != RoleSystem {
		t.Fatalf("system instructions must survive truncation")
	}
}

func TestAssembleFailsWhenFixedPartExceedsBudget(t *testing.T) {
	_, err := Assembler{TokenBudget: 3}.Assemble(testPersona(), nil, "hello")
	var asmErr *AssemblyError
	if !errors.As(err, &asmErr) {
		t.Fatalf("Assemble() error = %v, want *AssemblyError", err)
	}
	if asmErr.Budget != 3 || asmErr.Needed <= asmErr.Budget {
		t.Fatalf("unexpected AssemblyError: %+v", asmErr)
	}
}

func TestTextEndsWithAssistantCue(t *testing.T) {
	p, err := Assembler{}.Assemble(testPersona(), nil, "hello")
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if !strings.HasSuffix(p.Text(), "\nAssistant:") {
		t.Fatalf("Text() should end with the assistant cue:\n%s", p.Text())
	}
}
