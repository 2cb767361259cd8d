package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/echogram/echogram/internal/config"
	"github.com/echogram/echogram/internal/store"
	"github.com/echogram/echogram/internal/tokens"

	. "github.com/echogram/echogram/internal/logging"
)

// Info summarizes a session for the /status command
type Info struct {
	ChatID       int64
	WindowTurns  int
	WindowTokens int
	StoredTurns  int
	MaxTurns     int
	MaxTokens    int
	UpdatedAt    time.Time
}

// Manager maintains the rolling window for every chat.
//
// Within a chat all operations are serialized through LockChat, so an
// append and a clear can never interleave: whichever runs second sees the
// other's completed effect. Different chats proceed independently.
type Manager struct {
	cfg       *config.Manager
	store     store.Store
	estimator *tokens.Estimator

	sessions map[int64]*Session
	locks    map[int64]*sync.Mutex
	mu       sync.Mutex
}

// NewManager creates a session manager backed by the store
func NewManager(cfg *config.Manager, st store.Store) *Manager {
	return &Manager{
		cfg:       cfg,
		store:     st,
		estimator: tokens.Get(),
		sessions:  make(map[int64]*Session),
		locks:     make(map[int64]*sync.Mutex),
	}
}

// LockChat acquires the chat's serialization lock and returns the unlock.
// Callers hold it across a full handle cycle (window read, LLM call,
// append) so turn ordering within a chat is never racy.
func (m *Manager) LockChat(chatID int64) func() {
	m.mu.Lock()
	lock, ok := m.locks[chatID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[chatID] = lock
	}
	m.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// GetOrCreate returns the chat's session, creating it lazily.
// After a restart the window is rebuilt from the newest stored turns, so
// a cold process never mistakes persistence for an empty history.
func (m *Manager) GetOrCreate(ctx context.Context, chatID int64, kind string) (*Session, error) {
	m.mu.Lock()
	if sess, ok := m.sessions[chatID]; ok {
		m.mu.Unlock()
		return sess, nil
	}
	m.mu.Unlock()

	sess, err := m.load(ctx, chatID, kind)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	// Another goroutine may have loaded it first; keep the winner
	if existing, ok := m.sessions[chatID]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.sessions[chatID] = sess
	m.mu.Unlock()
	return sess, nil
}

// load fetches or creates the session row and rebuilds the window
func (m *Manager) load(ctx context.Context, chatID int64, kind string) (*Session, error) {
	row, err := m.store.GetSession(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		now := time.Now()
		row = &store.StoredSession{ChatID: chatID, Kind: kind, CreatedAt: now, UpdatedAt: now}
		if err := m.store.CreateSession(ctx, row); err != nil {
			return nil, err
		}
		L_debug("session: created", "chatID", chatID, "kind", kind)
	} else if err != nil {
		return nil, err
	}

	bounds := m.cfg.Current().Session
	stored, err := m.store.RecentTurns(ctx, chatID, bounds.MaxTurns)
	if err != nil {
		return nil, err
	}

	sess := &Session{ChatID: chatID, Kind: row.Kind, UpdatedAt: row.UpdatedAt}
	for _, t := range stored {
		sess.turns = append(sess.turns, Turn{
			ID:        t.ID,
			Role:      t.Role,
			Content:   t.Content,
			ReplyTo:   t.ReplyTo,
			CreatedAt: t.CreatedAt,
		})
	}
	sess.mu.Lock()
	m.evictLocked(sess)
	sess.mu.Unlock()

	if len(sess.turns) > 0 {
		L_info("session: window rebuilt from store", "chatID", chatID, "turns", len(sess.turns))
	}
	return sess, nil
}

// Append persists the turns and applies them to the window, then enforces
// the rolling bounds. Persist-then-apply: a storage failure leaves the
// window exactly as it was.
func (m *Manager) Append(ctx context.Context, chatID int64, newTurns ...Turn) error {
	if len(newTurns) == 0 {
		return nil
	}

	m.mu.Lock()
	sess, ok := m.sessions[chatID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %d not loaded", chatID)
	}

	stored := make([]store.StoredTurn, 0, len(newTurns))
	for _, t := range newTurns {
		stored = append(stored, store.StoredTurn{
			ID:        t.ID,
			ChatID:    chatID,
			Role:      t.Role,
			Content:   t.Content,
			ReplyTo:   t.ReplyTo,
			CreatedAt: t.CreatedAt,
		})
	}
	if err := m.store.AppendTurns(ctx, chatID, stored); err != nil {
		return err
	}

	// Append and evict under one critical section: a concurrent snapshot
	// never observes a transiently over-bound window.
	sess.mu.Lock()
	sess.turns = append(sess.turns, newTurns...)
	sess.UpdatedAt = time.Now()
	m.evictLocked(sess)
	sess.mu.Unlock()

	return nil
}

// evictLocked drops the oldest turns until the window fits both bounds;
// the caller holds sess.mu. Strictly FIFO, no relevance scoring: the
// policy stays predictable and auditable. The newest turn is never
// dropped even if it alone exceeds the token budget; Window truncates
// its content for prompting instead.
func (m *Manager) evictLocked(sess *Session) {
	bounds := m.cfg.Current().Session

	evicted := 0
	for len(sess.turns) > 1 {
		overTurns := bounds.MaxTurns > 0 && len(sess.turns) > bounds.MaxTurns
		overTokens := bounds.MaxTokens > 0 && m.windowTokens(sess.turns) > bounds.MaxTokens
		if !overTurns && !overTokens {
			break
		}
		sess.turns = sess.turns[1:]
		evicted++
	}

	if evicted > 0 {
		L_debug("session: evicted turns", "chatID", sess.ChatID, "evicted", evicted, "remaining", len(sess.turns))
	}
}

func (m *Manager) windowTokens(turns []Turn) int {
	total := 0
	for _, t := range turns {
		total += m.estimator.Count(t.Content)
	}
	return total
}

// Window returns the chat's current context, oldest first.
// If the sole remaining turn exceeds the token budget on its own, the
// returned copy carries truncated content; the stored turn is untouched.
func (m *Manager) Window(ctx context.Context, chatID int64, kind string) ([]Turn, error) {
	sess, err := m.GetOrCreate(ctx, chatID, kind)
	if err != nil {
		return nil, err
	}

	turns := sess.snapshot()

	maxTokens := m.cfg.Current().Session.MaxTokens
	if maxTokens > 0 && len(turns) == 1 && m.estimator.Count(turns[0].Content) > maxTokens {
		turns[0].Content = m.estimator.Truncate(turns[0].Content, maxTokens)
	}
	return turns, nil
}

// Clear empties the chat's history. The session row is retained, so the
// chat keeps its identity and the next message starts a fresh window.
func (m *Manager) Clear(ctx context.Context, chatID int64) error {
	if err := m.store.DeleteTurns(ctx, chatID); err != nil {
		return err
	}

	m.mu.Lock()
	sess, ok := m.sessions[chatID]
	m.mu.Unlock()
	if ok {
		sess.mu.Lock()
		sess.turns = nil
		sess.UpdatedAt = time.Now()
		sess.mu.Unlock()
	}

	_ = m.store.TouchSession(ctx, chatID, time.Now())
	L_info("session: cleared", "chatID", chatID)
	return nil
}

// Info returns window and storage stats for a chat
func (m *Manager) Info(ctx context.Context, chatID int64, kind string) (*Info, error) {
	sess, err := m.GetOrCreate(ctx, chatID, kind)
	if err != nil {
		return nil, err
	}

	storedCount, err := m.store.CountTurns(ctx, chatID)
	if err != nil {
		return nil, err
	}

	turns := sess.snapshot()
	bounds := m.cfg.Current().Session
	return &Info{
		ChatID:       chatID,
		WindowTurns:  len(turns),
		WindowTokens: m.windowTokens(turns),
		StoredTurns:  storedCount,
		MaxTurns:     bounds.MaxTurns,
		MaxTokens:    bounds.MaxTokens,
		UpdatedAt:    sess.UpdatedAt,
	}, nil
}
