package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tmarchini/personaforge/internal/inference"
	"github.com/tmarchini/personaforge/internal/persona"
	"github.com/tmarchini/personaforge/internal/prompt"
	"github.com/tmarchini/personaforge/internal/transcript"
)

type fakeClient struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (c *fakeClient) Complete(_ context.Context, p prompt.Prompt, _ inference.Params, onDelta inference.DeltaHandler) (inference.Result, error) {
	c.mu.Lock()
	c.calls++
	err := c.err
	c.mu.Unlock()
	if err != nil {
		return inference.Result{}, err
	}
	last := p.Messages[len(p.Messages)-1].Content
	text := "echo: " + last
	if onDelta != nil {
		if err := onDelta(text); err != nil {
			return inference.Result{}, err
		}
	}
	return inference.Result{Text: text}, nil
}

func testRegistry(t *testing.T) *persona.Registry {
	t.Helper()
	dir := t.TempDir()
	doc := "name: sage\nrole: a mentor\ndescription: teaches things\n"
	if err := os.WriteFile(filepath.Join(dir, "sage.yaml"), []byte(doc), 0o644); err != nil {
		t.Fatalf("write persona: %v", err)
	}
	reg, err := persona.NewRegistry(dir)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return reg
}

func testRunner(t *testing.T, client inference.Client) (*Runner, *Manager, transcript.Store) {
	t.Helper()
	sessions := NewManager(time.Minute)
	store := transcript.NewInMemoryStore()
	r := NewRunner(sessions, testRegistry(t), store, client, prompt.Assembler{})
	return r, sessions, store
}

func TestRunTurnSuccessAppendsBothTurns(t *testing.T) {
	r, sessions, store := testRunner(t, &fakeClient{})
	s := sessions.Create("u1", "sage")

	reply, err := r.RunTurn(context.Background(), s.ID, "hello", nil)
	if err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	if reply != "echo: hello" {
		t.Fatalf("reply = %q, want %q", reply, "echo: hello")
	}

	turns, err := store.Turns(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("Turns() error = %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("len(turns) = %d, want 2", len(turns))
	}
	if turns[0].Role != transcript.RoleUser || turns[1].Role != transcript.RoleAssistant {
		t.Fatalf("turn roles = [%s %s], want [user assistant]", turns[0].Role, turns[1].Role)
	}

	got, _ := sessions.Get(s.ID)
	if got.TurnCount != 2 {
		t.Fatalf("TurnCount = %d, want 2", got.TurnCount)
	}
}

func TestRunTurnInvalidParamsAppendsUserOnly(t *testing.T) {
	client := &fakeClient{err: &inference.Error{Kind: inference.KindInvalidParams, Message: "bad"}}
	r, sessions, store := testRunner(t, client)
	s := sessions.Create("u1", "sage")

	_, err := r.RunTurn(context.Background(), s.ID, "hello", nil)
	if inference.KindOf(err) != inference.KindInvalidParams {
		t.Fatalf("KindOf = %s, want invalid_params (err=%v)", inference.KindOf(err), err)
	}

	turns, _ := store.Turns(context.Background(), s.ID)
	if len(turns) != 1 {
		t.Fatalf("len(turns) = %d, want 1 (user only)", len(turns))
	}
	if turns[0].Role != transcript.RoleUser {
		t.Fatalf("turn role = %s, want user", turns[0].Role)
	}
}

func TestRunTurnAssemblyErrorAppendsNothing(t *testing.T) {
	r, sessions, store := testRunner(t, &fakeClient{})
	r.assembler = prompt.Assembler{TokenBudget: 1}
	s := sessions.Create("u1", "sage")

	_, err := r.RunTurn(context.Background(), s.ID, "hello", nil)
	var asmErr *prompt.AssemblyError
	if !errors.As(err, &asmErr) {
		t.Fatalf("error = %v, want *AssemblyError", err)
	}

	turns, _ := store.Turns(context.Background(), s.ID)
	if len(turns) != 0 {
		t.Fatalf("len(turns) = %d, want 0", len(turns))
	}
}

func TestRunTurnHistoryFlowsIntoPrompt(t *testing.T) {
	r, sessions, _ := testRunner(t, &fakeClient{})
	s := sessions.Create("u1", "sage")
	ctx := context.Background()

	if _, err := r.RunTurn(ctx, s.ID, "first", nil); err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	if _, err := r.RunTurn(ctx, s.ID, "second", nil); err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}

	history, err := r.History(ctx, s.ID)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	want := []string{"first", "echo: first", "second", "echo: second"}
	if len(history) != len(want) {
		t.Fatalf("len(history) = %d, want %d", len(history), len(want))
	}
	for i, text := range want {
		if history[i].Text != text {
			t.Fatalf("history[%d] = %q, want %q", i, history[i].Text, text)
		}
	}
}

func TestRunTurnEndedSessionRejected(t *testing.T) {
	r, sessions, _ := testRunner(t, &fakeClient{})
	s := sessions.Create("u1", "sage")
	if _, err := sessions.End(s.ID); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if _, err := r.RunTurn(context.Background(), s.ID, "hello", nil); !errors.Is(err, ErrEnded) {
		t.Fatalf("RunTurn() error = %v, want ErrEnded", err)
	}
}

func TestRunTurnUnknownSession(t *testing.T) {
	r, _, _ := testRunner(t, &fakeClient{})
	if _, err := r.RunTurn(context.Background(), "ghost", "hello", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("RunTurn() error = %v, want ErrNotFound", err)
	}
}

func TestRunTurnConcurrentCallsDoNotInterleave(t *testing.T) {
	r, sessions, store := testRunner(t, &fakeClient{})
	s := sessions.Create("u1", "sage")
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := r.RunTurn(ctx, s.ID, fmt.Sprintf("msg-%d", i), nil); err != nil {
				t.Errorf("RunTurn(%d) error = %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	turns, err := store.Turns(ctx, s.ID)
	if err != nil {
		t.Fatalf("Turns() error = %v", err)
	}
	if len(turns) != workers*2 {
		t.Fatalf("len(turns) = %d, want %d", len(turns), workers*2)
	}
	for i := 0; i < len(turns); i += 2 {
		if turns[i].Role != transcript.RoleUser || turns[i+1].Role != transcript.RoleAssistant {
			t.Fatalf("turns %d/%d roles = [%s %s], interleaved append", i, i+1, turns[i].Role, turns[i+1].Role)
		}
		if turns[i+1].Text != "echo: "+turns[i].Text {
			t.Fatalf("assistant turn %d does not answer its user turn: %q vs %q", i+1, turns[i+1].Text, turns[i].Text)
		}
	}
}

func TestRunTurnObserverSeesOutcome(t *testing.T) {
	r, sessions, _ := testRunner(t, &fakeClient{})
	s := sessions.Create("u1", "sage")

	var outcomes []string
	r.Observer = func(outcome string, _ time.Duration) {
		outcomes = append(outcomes, outcome)
	}
	if _, err := r.RunTurn(context.Background(), s.ID, "hello", nil); err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	if len(outcomes) != 1 || outcomes[0] != "ok" {
		t.Fatalf("outcomes = %v, want [ok]", outcomes)
	}
}
