package transcript

import (
	"context"
	"time"
)

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a conversation. Append-only: turns are never
// mutated after creation.
type Turn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists ordered conversation logs, one per session.
//
// Append must be atomic with respect to Turns: a reader sees either none or
// all of the turns passed to a single Append call. RunTurn relies on this to
// keep user+assistant pairs both-or-neither.
type Store interface {
	Append(ctx context.Context, sessionID string, turns ...Turn) error
	Turns(ctx context.Context, sessionID string) ([]Turn, error)
	Recent(ctx context.Context, sessionID string, limit int) ([]Turn, error)
	Close() error
}
