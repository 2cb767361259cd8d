// Package settings holds Echogram's hot-reloadable runtime configuration:
// the LLM credentials, model, persona, and the access whitelist.
//
// Unlike the bootstrap config these fields are mutated at runtime through
// the dashboard commands, so they are backed by the durable store with one
// row per field. The in-memory snapshot exists only to make reads cheap;
// every write goes through the store first.
package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/echogram/echogram/internal/store"

	"github.com/echogram/echogram/internal/logging"
)

// Field identifies a single runtime config field
type Field string

const (
	FieldAPIKey  Field = "api_key"
	FieldBaseURL Field = "base_url"
	FieldModel   Field = "model"
	FieldPersona Field = "persona"
)

// Compiled-in defaults. The API key deliberately has none: an unset key
// must fail fast instead of hitting the endpoint with an empty credential.
const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"
	DefaultPersona = "You are a helpful assistant."
)

// ErrNotConfigured is returned when the runtime config cannot drive an LLM call
var ErrNotConfigured = errors.New("llm endpoint not configured")

// Config is a consistent snapshot of the runtime fields
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	Persona   string
	UpdatedAt time.Time
}

// Validate checks the snapshot can drive an LLM call
func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("%w: api key is unset", ErrNotConfigured)
	}
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base url is unset", ErrNotConfigured)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model is unset", ErrNotConfigured)
	}
	return nil
}

// Store serves runtime config snapshots and whitelist decisions
type Store struct {
	db  store.Store
	cur Config
	mu  sync.RWMutex
}

// NewStore loads the persisted fields and returns a settings store
func NewStore(ctx context.Context, db store.Store) (*Store, error) {
	s := &Store{db: db}

	cfg := Config{
		BaseURL: DefaultBaseURL,
		Model:   DefaultModel,
		Persona: DefaultPersona,
	}

	for _, f := range []Field{FieldAPIKey, FieldBaseURL, FieldModel, FieldPersona} {
		value, err := db.GetSetting(ctx, string(f))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to load setting %s: %w", f, err)
		}
		cfg.apply(f, value)
	}

	if updated, err := db.GetSettingUpdatedAt(ctx); err == nil {
		cfg.UpdatedAt = updated
	}

	s.cur = cfg
	logging.L_info("settings: loaded",
		"model", cfg.Model,
		"baseURL", cfg.BaseURL,
		"apiKeyLength", len(cfg.APIKey),
		"personaLength", len(cfg.Persona))
	return s, nil
}

func (c *Config) apply(f Field, value string) {
	switch f {
	case FieldAPIKey:
		c.APIKey = value
	case FieldBaseURL:
		c.BaseURL = value
	case FieldModel:
		c.Model = value
	case FieldPersona:
		c.Persona = value
	}
}

// Get returns the current snapshot
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Set persists one field and refreshes the snapshot.
// Field writes are last-write-wins against concurrent admins; the store row
// is the atomic unit, so a write can never partially apply.
func (s *Store) Set(ctx context.Context, f Field, value string) error {
	switch f {
	case FieldAPIKey, FieldBaseURL, FieldModel, FieldPersona:
	default:
		return fmt.Errorf("unknown settings field %q", f)
	}

	if err := s.db.SetSetting(ctx, string(f), value); err != nil {
		return err
	}

	s.mu.Lock()
	s.cur.apply(f, value)
	s.cur.UpdatedAt = time.Now()
	s.mu.Unlock()

	if f == FieldAPIKey {
		logging.L_info("settings: field updated", "field", f, "valueLength", len(value))
	} else {
		logging.L_info("settings: field updated", "field", f, "value", value)
	}
	return nil
}

// --- Whitelist ---
// Membership checks always hit the store so that dashboard changes take
// effect on the very next message, never a cached decision.

// AllowChat whitelists a chat identifier
func (s *Store) AllowChat(ctx context.Context, chatID int64) error {
	return s.db.AddWhitelist(ctx, chatID, "chat")
}

// AllowUser whitelists a user identifier
func (s *Store) AllowUser(ctx context.Context, userID int64) error {
	return s.db.AddWhitelist(ctx, userID, "user")
}

// Revoke removes an identifier, reporting whether it was present
func (s *Store) Revoke(ctx context.Context, id int64) (bool, error) {
	return s.db.RemoveWhitelist(ctx, id)
}

// IsAllowed reports whether an identifier is whitelisted
func (s *Store) IsAllowed(ctx context.Context, id int64) (bool, error) {
	return s.db.IsWhitelisted(ctx, id)
}

// ListWhitelist returns all whitelist entries, oldest first
func (s *Store) ListWhitelist(ctx context.Context) ([]store.WhitelistEntry, error) {
	return s.db.ListWhitelist(ctx)
}
