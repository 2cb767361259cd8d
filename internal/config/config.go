// Package config handles Echogram's bootstrap configuration.
//
// The bootstrap file holds everything that must exist before the bot can talk
// to anyone: the Telegram token, the admin identity, storage location and the
// session window tunables. Runtime settings (API key, model, persona) live in
// the settings store and are edited through the in-chat dashboard instead.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/echogram/echogram/internal/logging"
)

// Config is the merged bootstrap configuration
type Config struct {
	Telegram TelegramConfig `toml:"telegram"`
	Access   AccessConfig   `toml:"access"`
	Session  SessionConfig  `toml:"session"`
	LLM      LLMConfig      `toml:"llm"`
	Store    StoreConfig    `toml:"store"`
	Logging  LoggingConfig  `toml:"logging"`
}

type TelegramConfig struct {
	BotToken string `toml:"bot_token"`
}

// AccessConfig holds the admin identity and denial policy.
// AdminID is configured here, out-of-band, never via the dashboard:
// an admin must not be able to lock themselves out.
type AccessConfig struct {
	AdminID    int64 `toml:"admin_id"`
	SilentDeny bool  `toml:"silent_deny"`
}

// SessionConfig bounds the rolling window.
// Either bound can be disabled by setting it to 0.
type SessionConfig struct {
	MaxTurns  int `toml:"max_turns"`
	MaxTokens int `toml:"max_tokens"`
}

type LLMConfig struct {
	TimeoutSeconds int `toml:"timeout_seconds"`
}

type StoreConfig struct {
	Path string `toml:"path"`
}

type LoggingConfig struct {
	Level      string `toml:"level"`
	ShowCaller bool   `toml:"show_caller"`
}

// Default returns the compiled-in defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Access: AccessConfig{
			SilentDeny: true,
		},
		Session: SessionConfig{
			MaxTurns:  20,
			MaxTokens: 4000,
		},
		LLM: LLMConfig{
			TimeoutSeconds: 60,
		},
		Store: StoreConfig{
			Path: filepath.Join(home, ".echogram", "echogram.db"),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the default bootstrap file location
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".echogram", "echogram.toml")
}

// Load reads the bootstrap file at path, layered over defaults.
// A missing file is not an error: defaults apply and the file can be
// created later with Save.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.L_warn("config: no bootstrap file, using defaults", "path", path)
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	logging.L_debug("config: loaded", "path", path)
	return cfg, nil
}

// Validate checks that the bootstrap config can actually start a bot
func (c *Config) Validate() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is not set")
	}
	if c.Access.AdminID == 0 {
		return fmt.Errorf("access.admin_id is not set")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is not set")
	}
	return nil
}

// LogLevel maps the configured level string to a logging level constant
func (c *Config) LogLevel() int {
	switch c.Logging.Level {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

// Manager hands out the current bootstrap config and swaps it on reload.
// Readers get a consistent *Config snapshot; the pointer is replaced
// wholesale so a reload never exposes a half-updated struct.
type Manager struct {
	path string
	cur  *Config
	mu   sync.RWMutex
}

// NewManager loads path and wraps it in a Manager
func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Manager{path: path, cur: cfg}, nil
}

// Current returns the active config snapshot
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur
}

// Path returns the bootstrap file path
func (m *Manager) Path() string {
	return m.path
}

// Reload re-reads the bootstrap file and swaps the snapshot.
// The bot token and store path are fixed at startup; changing them
// requires a restart, so reload keeps the original values.
func (m *Manager) Reload() error {
	cfg, err := Load(m.path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	cfg.Telegram.BotToken = m.cur.Telegram.BotToken
	cfg.Store.Path = m.cur.Store.Path
	m.cur = cfg
	m.mu.Unlock()

	logging.L_info("config: reloaded",
		"maxTurns", cfg.Session.MaxTurns,
		"maxTokens", cfg.Session.MaxTokens,
		"silentDeny", cfg.Access.SilentDeny)
	return nil
}
