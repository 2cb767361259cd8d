package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/echogram/echogram/internal/logging"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db     *sql.DB
	config Config
}

// Schema version for migrations
const currentSchemaVersion = 2

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	journal := "DELETE"
	if cfg.WALMode {
		journal = "WAL"
	}
	timeout := cfg.BusyTimeout
	if timeout == 0 {
		timeout = 5000
	}

	dsn := fmt.Sprintf("%s?_journal_mode=%s&_busy_timeout=%d", cfg.Path, journal, timeout)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{db: db, config: cfg}

	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	logging.L_info("sqlite: store opened", "path", cfg.Path)
	return store, nil
}

// Migrate runs database migrations
func (s *SQLiteStore) Migrate() error {
	var version int
	err := s.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err != nil {
		// Table doesn't exist, start from scratch
		version = 0
	}

	if version >= currentSchemaVersion {
		logging.L_debug("sqlite: schema up to date", "version", version)
		return nil
	}

	logging.L_info("sqlite: migrating schema", "from", version, "to", currentSchemaVersion)

	migrations := []func(*sql.DB) error{
		migrateV1,
		migrateV2,
	}

	for i := version; i < len(migrations); i++ {
		if err := migrations[i](s.db); err != nil {
			return fmt.Errorf("migration v%d failed: %w", i+1, err)
		}
		logging.L_debug("sqlite: applied migration", "version", i+1)
	}

	return nil
}

// migrateV1 creates the initial schema
func migrateV1(db *sql.DB) error {
	schema := `
	-- Schema version tracking
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	);
	INSERT INTO schema_version (version, applied_at) VALUES (1, ?);

	-- Runtime settings (one row per field)
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL
	);

	-- Access whitelist (chat and user identifiers)
	CREATE TABLE IF NOT EXISTS whitelist (
		id INTEGER PRIMARY KEY,
		kind TEXT NOT NULL,
		added_at INTEGER NOT NULL
	);

	-- Sessions table (one row per chat, never deleted)
	CREATE TABLE IF NOT EXISTS sessions (
		chat_id INTEGER PRIMARY KEY,
		kind TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);

	-- Turns table
	CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		chat_id INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,

		FOREIGN KEY (chat_id) REFERENCES sessions(chat_id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_turns_chat ON turns(chat_id, created_at);
	`

	_, err := db.Exec(schema, time.Now().Unix())
	return err
}

// migrateV2 adds reply-quote context to turns
func migrateV2(db *sql.DB) error {
	schema := `
	ALTER TABLE turns ADD COLUMN reply_to TEXT NOT NULL DEFAULT '';
	INSERT INTO schema_version (version, applied_at) VALUES (2, ?);
	`
	_, err := db.Exec(schema, time.Now().Unix())
	return err
}

// --- Settings ---

// GetSetting returns the value for key, or ErrNotFound
func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read setting %q: %w", key, err)
	}
	return value, nil
}

// SetSetting upserts a single settings row. One row per field keeps each
// field its own atomic unit: a write can never half-apply across fields.
func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to write setting %q: %w", key, err)
	}
	return nil
}

// GetSettingUpdatedAt returns the most recent settings mutation time
func (s *SQLiteStore) GetSettingUpdatedAt(ctx context.Context) (time.Time, error) {
	var unix sql.NullInt64
	err := s.db.QueryRowContext(ctx, "SELECT MAX(updated_at) FROM settings").Scan(&unix)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read settings timestamp: %w", err)
	}
	if !unix.Valid {
		return time.Time{}, nil
	}
	return time.Unix(unix.Int64, 0), nil
}

// --- Whitelist ---

// AddWhitelist inserts or updates a whitelist entry
func (s *SQLiteStore) AddWhitelist(ctx context.Context, id int64, kind string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO whitelist (id, kind, added_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET kind = excluded.kind`,
		id, kind, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to add whitelist entry %d: %w", id, err)
	}
	return nil
}

// RemoveWhitelist deletes an entry, reporting whether it existed
func (s *SQLiteStore) RemoveWhitelist(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM whitelist WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("failed to remove whitelist entry %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// IsWhitelisted reports whether id is present.
// Always a live query: whitelist changes bind on the very next message.
func (s *SQLiteStore) IsWhitelisted(ctx context.Context, id int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM whitelist WHERE id = ?", id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check whitelist for %d: %w", id, err)
	}
	return true, nil
}

// ListWhitelist returns all entries, oldest first
func (s *SQLiteStore) ListWhitelist(ctx context.Context) ([]WhitelistEntry, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, kind, added_at FROM whitelist ORDER BY added_at, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list whitelist: %w", err)
	}
	defer rows.Close()

	var entries []WhitelistEntry
	for rows.Next() {
		var e WhitelistEntry
		var unix int64
		if err := rows.Scan(&e.ID, &e.Kind, &unix); err != nil {
			return nil, fmt.Errorf("failed to scan whitelist row: %w", err)
		}
		e.AddedAt = time.Unix(unix, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Sessions ---

// GetSession returns the session row for chatID, or ErrNotFound
func (s *SQLiteStore) GetSession(ctx context.Context, chatID int64) (*StoredSession, error) {
	var sess StoredSession
	var created, updated int64
	err := s.db.QueryRowContext(ctx,
		"SELECT chat_id, kind, created_at, updated_at FROM sessions WHERE chat_id = ?", chatID).
		Scan(&sess.ChatID, &sess.Kind, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session %d: %w", chatID, err)
	}
	sess.CreatedAt = time.Unix(created, 0)
	sess.UpdatedAt = time.Unix(updated, 0)
	return &sess, nil
}

// CreateSession inserts a session row; idempotent on conflict
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *StoredSession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (chat_id, kind, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(chat_id) DO NOTHING`,
		sess.ChatID, sess.Kind, sess.CreatedAt.Unix(), sess.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to create session %d: %w", sess.ChatID, err)
	}
	return nil
}

// TouchSession bumps the last-activity timestamp
func (s *SQLiteStore) TouchSession(ctx context.Context, chatID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, "UPDATE sessions SET updated_at = ? WHERE chat_id = ?",
		at.Unix(), chatID)
	if err != nil {
		return fmt.Errorf("failed to touch session %d: %w", chatID, err)
	}
	return nil
}

// --- Turns ---

// AppendTurns inserts turns in one transaction.
// The gateway appends the user and assistant turns of an exchange together,
// so history never holds an unanswered user turn.
func (s *SQLiteStore) AppendTurns(ctx context.Context, chatID int64, turns []StoredTurn) error {
	if len(turns) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO turns (id, chat_id, role, content, reply_to, created_at) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range turns {
		if _, err := stmt.ExecContext(ctx, t.ID, chatID, t.Role, t.Content, t.ReplyTo, t.CreatedAt.UnixMilli()); err != nil {
			return fmt.Errorf("failed to insert turn: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, "UPDATE sessions SET updated_at = ? WHERE chat_id = ?",
		time.Now().Unix(), chatID); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit turns: %w", err)
	}
	return nil
}

// RecentTurns returns the newest limit turns in chronological order.
// limit <= 0 returns the full history.
func (s *SQLiteStore) RecentTurns(ctx context.Context, chatID int64, limit int) ([]StoredTurn, error) {
	// rowid breaks created_at ties in insertion order, so the two turns of
	// one exchange always reload in the order they were written
	query := "SELECT id, chat_id, role, content, reply_to, created_at FROM turns WHERE chat_id = ? ORDER BY created_at, rowid"
	args := []interface{}{chatID}

	if limit > 0 {
		// Newest N, re-sorted oldest-first
		query = `SELECT id, chat_id, role, content, reply_to, created_at FROM (
			SELECT id, chat_id, role, content, reply_to, created_at, rowid AS rid FROM turns
			WHERE chat_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?
		) ORDER BY created_at, rid`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read turns for %d: %w", chatID, err)
	}
	defer rows.Close()

	var turns []StoredTurn
	for rows.Next() {
		var t StoredTurn
		var unixMilli int64
		if err := rows.Scan(&t.ID, &t.ChatID, &t.Role, &t.Content, &t.ReplyTo, &unixMilli); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		t.CreatedAt = time.UnixMilli(unixMilli)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// CountTurns returns the stored turn count for a chat
func (s *SQLiteStore) CountTurns(ctx context.Context, chatID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM turns WHERE chat_id = ?", chatID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count turns for %d: %w", chatID, err)
	}
	return n, nil
}

// DeleteTurns empties a chat's history; the session row survives
func (s *SQLiteStore) DeleteTurns(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM turns WHERE chat_id = ?", chatID)
	if err != nil {
		return fmt.Errorf("failed to clear turns for %d: %w", chatID, err)
	}
	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
