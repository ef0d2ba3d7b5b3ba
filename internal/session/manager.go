package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var ErrNotFound = errors.New("session not found")

// Session is one logical conversation bound to a persona. Transcript turns
// live in the transcript store keyed by the session ID.
type Session struct {
	ID             string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	Status         Status    `json:"status"`
	Persona        string    `json:"persona"`
	TurnCount      int       `json:"turn_count"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`

	// turnMu serializes RunTurn per session so transcript appends keep
	// their order. Held only by the runner, never by the manager.
	turnMu sync.Mutex
}

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	inactivityTimeout time.Duration
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 30 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		inactivityTimeout: inactivityTimeout,
	}
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Create registers a new session. Resume reuses an explicit ID so durable
// transcripts can be picked up across restarts.
func (m *Manager) Create(userID, personaName string) *Session {
	return m.register(uuid.NewString(), userID, personaName)
}

func (m *Manager) Resume(sessionID, userID, personaName string) *Session {
	m.mu.RLock()
	existing, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if ok {
		return snapshot(existing)
	}
	return m.register(sessionID, userID, personaName)
}

func (m *Manager) register(id, userID, personaName string) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:             id,
		UserID:         userID,
		Persona:        personaName,
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Re-check under the write lock: two Resume calls racing on the same new
	// ID must converge on one live Session, or its turn mutex splits in two.
	if existing, ok := m.sessions[id]; ok {
		return snapshot(existing)
	}
	m.sessions[id] = s
	return snapshot(s)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return snapshot(s), nil
}

// locked returns the live session pointer for the runner.
func (m *Manager) locked(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

func (m *Manager) touch(sessionID string, turnsAdded int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		s.TurnCount += turnsAdded
		s.LastActivityAt = time.Now().UTC()
	}
}

func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	s.Status = StatusEnded
	s.LastActivityAt = time.Now().UTC()
	return snapshot(s), nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for _, s := range m.sessions {
		if s.Status != StatusActive {
			continue
		}
		if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		s.Status = StatusEnded
		s.LastActivityAt = now
		expired = append(expired, snapshot(s))
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

// snapshot copies the observable fields; the mutex stays with the original.
func snapshot(s *Session) *Session {
	return &Session{
		ID:             s.ID,
		UserID:         s.UserID,
		Status:         s.Status,
		Persona:        s.Persona,
		TurnCount:      s.TurnCount,
		StartedAt:      s.StartedAt,
		LastActivityAt: s.LastActivityAt,
	}
}
