package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tmarchini/personaforge/internal/inference"
	"github.com/tmarchini/personaforge/internal/persona"
	"github.com/tmarchini/personaforge/internal/prompt"
	"github.com/tmarchini/personaforge/internal/transcript"
)

var ErrEnded = errors.New("session has ended")

const defaultHistoryLimit = 40

// Runner orchestrates one conversation turn: assemble the prompt from the
// session's persona and history, call the backend, and append the outcome to
// the transcript.
//
// Per-session mutual exclusion: two RunTurn calls against the same session
// never interleave their transcript appends. Independent sessions run in
// parallel.
type Runner struct {
	personas  *persona.Registry
	store     transcript.Store
	client    inference.Client
	assembler prompt.Assembler
	sessions  *Manager

	// Model is the backend model identifier forwarded with every request.
	Model string
	// HistoryLimit caps how many stored turns are offered to the assembler.
	HistoryLimit int

	// Observer, when set, receives the outcome of every turn.
	Observer func(outcome string, latency time.Duration)
	// StageObserver, when set, receives per-stage latencies
	// ("assemble", "inference").
	StageObserver func(stage string, latency time.Duration)
}

func NewRunner(sessions *Manager, personas *persona.Registry, store transcript.Store, client inference.Client, assembler prompt.Assembler) *Runner {
	return &Runner{
		personas:     personas,
		store:        store,
		client:       client,
		assembler:    assembler,
		sessions:     sessions,
		HistoryLimit: defaultHistoryLimit,
	}
}

// RunTurn executes one user turn and returns the assistant's reply. onDelta
// may be nil; when set it receives streaming fragments.
//
// Transcript guarantees: on success the user and assistant turns are
// appended atomically, in that order. On a terminal inference failure only
// the user turn is appended, preserving the conversational record, and the
// typed error is returned. Assembly failures append nothing.
func (r *Runner) RunTurn(ctx context.Context, sessionID, userText string, onDelta inference.DeltaHandler) (string, error) {
	live, err := r.sessions.locked(sessionID)
	if err != nil {
		return "", err
	}

	live.turnMu.Lock()
	defer live.turnMu.Unlock()

	if snap, err := r.sessions.Get(sessionID); err != nil {
		return "", err
	} else if snap.Status != StatusActive {
		return "", ErrEnded
	}

	start := time.Now()
	outcome, reply, err := r.runTurnLocked(ctx, live, sessionID, userText, onDelta)
	if r.Observer != nil {
		r.Observer(outcome, time.Since(start))
	}
	return reply, err
}

func (r *Runner) runTurnLocked(ctx context.Context, live *Session, sessionID, userText string, onDelta inference.DeltaHandler) (outcome, reply string, err error) {
	cfg, err := r.personas.Get(live.Persona)
	if err != nil {
		return "persona_error", "", fmt.Errorf("load persona %q: %w", live.Persona, err)
	}

	limit := r.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	history, err := r.store.Recent(ctx, sessionID, limit)
	if err != nil {
		return "store_error", "", fmt.Errorf("load history: %w", err)
	}

	assembleStart := time.Now()
	p, err := r.assembler.Assemble(cfg, history, userText)
	r.observeStage("assemble", time.Since(assembleStart))
	if err != nil {
		return "assembly_error", "", err
	}

	userTurn := transcript.Turn{
		Role:      transcript.RoleUser,
		Text:      userText,
		CreatedAt: time.Now().UTC(),
	}

	inferStart := time.Now()
	res, err := r.client.Complete(ctx, p, inference.ParamsFrom(cfg, r.Model), onDelta)
	r.observeStage("inference", time.Since(inferStart))
	if err != nil {
		// Keep the user's message in the record even though no reply exists.
		if appendErr := r.store.Append(ctx, sessionID, userTurn); appendErr != nil {
			return "store_error", "", errors.Join(err, fmt.Errorf("append user turn: %w", appendErr))
		}
		r.sessions.touch(sessionID, 1)
		return "inference_error", "", err
	}

	assistantTurn := transcript.Turn{
		Role:      transcript.RoleAssistant,
		Text:      res.Text,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.Append(ctx, sessionID, userTurn, assistantTurn); err != nil {
		return "store_error", "", fmt.Errorf("append turns: %w", err)
	}
	r.sessions.touch(sessionID, 2)
	return "ok", res.Text, nil
}

func (r *Runner) observeStage(stage string, d time.Duration) {
	if r.StageObserver != nil {
		r.StageObserver(stage, d)
	}
}

// History returns the full transcript of a session.
func (r *Runner) History(ctx context.Context, sessionID string) ([]transcript.Turn, error) {
	if _, err := r.sessions.Get(sessionID); err != nil {
		return nil, err
	}
	return r.store.Turns(ctx, sessionID)
}
