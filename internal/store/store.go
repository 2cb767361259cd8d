// Package store provides Echogram's durable storage backend.
//
// One SQLite database holds the four persistent entity kinds: runtime
// settings (key/value), the access whitelist, per-chat session rows and
// their turn history. Each write touches a single row, which is the
// atomicity unit the rest of the system relies on.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// Turn roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Chat kinds
const (
	ChatPrivate = "private"
	ChatGroup   = "group"
)

// StoredTurn is one message exchange unit in a chat's history.
// ReplyTo is an excerpt of the quoted message when the turn was a reply.
type StoredTurn struct {
	ID        string
	ChatID    int64
	Role      string // "user" or "assistant"
	Content   string
	ReplyTo   string
	CreatedAt time.Time
}

// StoredSession is a per-chat session row. The row is created lazily on
// first contact and never deleted; /clear empties the turns only.
type StoredSession struct {
	ChatID    int64
	Kind      string // "private" or "group"
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WhitelistEntry is a chat or user identifier permitted to use the bot
type WhitelistEntry struct {
	ID      int64
	Kind    string // "chat" or "user"
	AddedAt time.Time
}

// Store is the interface for Echogram's storage backend.
// Implementation: SQLiteStore.
type Store interface {
	// Settings operations (runtime config fields)
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	GetSettingUpdatedAt(ctx context.Context) (time.Time, error)

	// Whitelist operations
	AddWhitelist(ctx context.Context, id int64, kind string) error
	RemoveWhitelist(ctx context.Context, id int64) (bool, error)
	IsWhitelisted(ctx context.Context, id int64) (bool, error)
	ListWhitelist(ctx context.Context) ([]WhitelistEntry, error)

	// Session operations
	GetSession(ctx context.Context, chatID int64) (*StoredSession, error)
	CreateSession(ctx context.Context, sess *StoredSession) error
	TouchSession(ctx context.Context, chatID int64, at time.Time) error

	// Turn operations
	AppendTurns(ctx context.Context, chatID int64, turns []StoredTurn) error
	RecentTurns(ctx context.Context, chatID int64, limit int) ([]StoredTurn, error)
	CountTurns(ctx context.Context, chatID int64) (int, error)
	DeleteTurns(ctx context.Context, chatID int64) error

	// Lifecycle
	Migrate() error
	Close() error
}

// Config configures the storage backend
type Config struct {
	Path        string // Database file path
	WALMode     bool   // Enable WAL mode (default: true)
	BusyTimeout int    // Busy timeout in ms (default: 5000)
}

// New creates the storage backend
func New(cfg Config) (Store, error) {
	return NewSQLiteStore(cfg)
}
