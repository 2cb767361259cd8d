package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "echogram.toml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("missing file should not be an error: %v", err)
	}
	if cfg.Session.MaxTurns != 20 {
		t.Errorf("MaxTurns = %d, want 20", cfg.Session.MaxTurns)
	}
	if cfg.Session.MaxTokens != 4000 {
		t.Errorf("MaxTokens = %d, want 4000", cfg.Session.MaxTokens)
	}
	if !cfg.Access.SilentDeny {
		t.Error("SilentDeny should default to true")
	}
	if cfg.LLM.TimeoutSeconds != 60 {
		t.Errorf("TimeoutSeconds = %d, want 60", cfg.LLM.TimeoutSeconds)
	}
}

func TestLoadLayersOverDefaults(t *testing.T) {
	path := writeConfig(t, `
[telegram]
bot_token = "123:abc"

[access]
admin_id = 42
silent_deny = false

[session]
max_turns = 6
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.BotToken != "123:abc" {
		t.Errorf("BotToken = %q", cfg.Telegram.BotToken)
	}
	if cfg.Access.AdminID != 42 {
		t.Errorf("AdminID = %d", cfg.Access.AdminID)
	}
	if cfg.Access.SilentDeny {
		t.Error("SilentDeny should be overridden to false")
	}
	if cfg.Session.MaxTurns != 6 {
		t.Errorf("MaxTurns = %d, want 6", cfg.Session.MaxTurns)
	}
	// Unset sections keep their defaults
	if cfg.Session.MaxTokens != 4000 {
		t.Errorf("MaxTokens = %d, want default 4000", cfg.Session.MaxTokens)
	}
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	path := writeConfig(t, "[telegram\nbot_token = ")
	if _, err := Load(path); err == nil {
		t.Error("malformed TOML should fail to load")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Error("defaults alone should not validate")
	}

	cfg.Telegram.BotToken = "123:abc"
	if err := cfg.Validate(); err == nil {
		t.Error("missing admin_id should not validate")
	}

	cfg.Access.AdminID = 42
	if err := cfg.Validate(); err != nil {
		t.Errorf("complete config should validate: %v", err)
	}
}

func TestReloadPicksUpTunables(t *testing.T) {
	path := writeConfig(t, `
[telegram]
bot_token = "123:abc"

[access]
admin_id = 42

[session]
max_turns = 10
`)
	mgr, err := NewManager(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := mgr.Current().Session.MaxTurns; got != 10 {
		t.Fatalf("MaxTurns = %d, want 10", got)
	}

	err = os.WriteFile(path, []byte(`
[telegram]
bot_token = "123:abc"

[access]
admin_id = 42

[session]
max_turns = 30
`), 0600)
	if err != nil {
		t.Fatal(err)
	}
	if err := mgr.Reload(); err != nil {
		t.Fatal(err)
	}
	if got := mgr.Current().Session.MaxTurns; got != 30 {
		t.Errorf("MaxTurns after reload = %d, want 30", got)
	}
}

func TestReloadKeepsTokenAndStorePath(t *testing.T) {
	path := writeConfig(t, `
[telegram]
bot_token = "original-token"

[access]
admin_id = 42

[store]
path = "/data/original.db"
`)
	mgr, err := NewManager(path)
	if err != nil {
		t.Fatal(err)
	}

	err = os.WriteFile(path, []byte(`
[telegram]
bot_token = "swapped-token"

[access]
admin_id = 42

[store]
path = "/data/swapped.db"
`), 0600)
	if err != nil {
		t.Fatal(err)
	}
	if err := mgr.Reload(); err != nil {
		t.Fatal(err)
	}

	cfg := mgr.Current()
	if cfg.Telegram.BotToken != "original-token" {
		t.Errorf("BotToken = %q, reload must not swap it", cfg.Telegram.BotToken)
	}
	if cfg.Store.Path != "/data/original.db" {
		t.Errorf("Store.Path = %q, reload must not swap it", cfg.Store.Path)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "echogram.toml")

	cfg := Default()
	cfg.Telegram.BotToken = "123:abc"
	cfg.Access.AdminID = 7
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Telegram.BotToken != "123:abc" || loaded.Access.AdminID != 7 {
		t.Errorf("round trip lost fields: %+v", loaded)
	}
}
