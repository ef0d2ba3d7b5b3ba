package session

import "time"

// CreateRequest defines the payload for creating or resuming a session.
type CreateRequest struct {
	UserID    string `json:"user_id"`
	Persona   string `json:"persona"`
	SessionID string `json:"session_id,omitempty"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID       string    `json:"session_id"`
	UserID          string    `json:"user_id"`
	Status          Status    `json:"status"`
	Persona         string    `json:"persona"`
	StartedAt       time.Time `json:"started_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
}

// TurnRequest carries one user message into a session.
type TurnRequest struct {
	Text string `json:"text"`
}

// TurnResponse returns the assistant reply for one turn.
type TurnResponse struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	TurnCount int    `json:"turn_count"`
}
