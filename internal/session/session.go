// Package session owns the per-chat rolling memory window.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Turn roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message exchange unit, immutable once appended.
// ReplyTo carries a short excerpt of the message this turn replied to,
// folded into the prompt so the model sees the quoted context.
type Turn struct {
	ID        string
	Role      string
	Content   string
	ReplyTo   string
	CreatedAt time.Time
}

// NewTurn creates a turn with a fresh ID and timestamp
func NewTurn(role, content string) Turn {
	return Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// Session holds one chat's rolling window.
// turns is oldest-first and bounded by the manager's eviction policy;
// the full history lives in the store.
type Session struct {
	ChatID    int64
	Kind      string // "private" or "group"
	UpdatedAt time.Time

	turns []Turn
	mu    sync.Mutex
}

// snapshot returns a copy of the current window, oldest first
func (s *Session) snapshot() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Len returns the number of turns currently in the window
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}
