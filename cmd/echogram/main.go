// Echogram is a Telegram bot that fronts an OpenAI-compatible LLM with
// per-chat rolling memory, a whitelist access gate and an in-chat admin
// dashboard.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/echogram/echogram/internal/access"
	"github.com/echogram/echogram/internal/commands"
	"github.com/echogram/echogram/internal/config"
	"github.com/echogram/echogram/internal/gateway"
	"github.com/echogram/echogram/internal/llm"
	"github.com/echogram/echogram/internal/session"
	"github.com/echogram/echogram/internal/settings"
	"github.com/echogram/echogram/internal/store"
	"github.com/echogram/echogram/internal/telegram"

	. "github.com/echogram/echogram/internal/logging"
)

var version = "dev"

var cli struct {
	Config  string           `help:"Path to the bootstrap config file." short:"c" type:"path"`
	Debug   bool             `help:"Enable debug logging." short:"d"`
	Version kong.VersionFlag `help:"Print version and exit." short:"v"`
}

func main() {
	kong.Parse(&cli,
		kong.Name("echogram"),
		kong.Description("Telegram-fronted LLM assistant with rolling per-chat memory."),
		kong.Vars{"version": version},
	)

	configPath := cli.Config
	if configPath == "" {
		configPath = config.DefaultPath()
	}

	mgr, err := config.NewManager(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "echogram: %v\n", err)
		os.Exit(1)
	}
	cfg := mgr.Current()

	logLevel := cfg.LogLevel()
	if cli.Debug {
		logLevel = LevelDebug
	}
	Init(&Config{
		Level:      logLevel,
		TimeFormat: "15:04:05",
		ShowCaller: cfg.Logging.ShowCaller,
	})

	L_info("echogram starting", "version", version, "config", configPath)

	if err := cfg.Validate(); err != nil {
		L_fatal("invalid configuration", "error", err)
	}

	if err := run(mgr); err != nil {
		L_fatal("startup failed", "error", err)
	}
}

func run(mgr *config.Manager) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := mgr.Current()

	db, err := store.New(store.Config{
		Path:        cfg.Store.Path,
		WALMode:     true,
		BusyTimeout: 5000,
	})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer db.Close()

	st, err := settings.NewStore(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	sessions := session.NewManager(mgr, db)
	client := llm.NewOpenAIClient(time.Duration(cfg.LLM.TimeoutSeconds) * time.Second)
	gw := gateway.New(mgr, st, sessions, client)
	gate := access.New(mgr, st)

	cm := commands.NewManager(&commands.Deps{
		Config:   mgr,
		Settings: st,
		Gateway:  gw,
	})

	bot, err := telegram.New(mgr, gate, gw, cm)
	if err != nil {
		return fmt.Errorf("failed to connect to telegram: %w", err)
	}

	// Hot-reload of the bootstrap file; a watcher failure is not fatal
	watcher, err := config.NewWatcher(mgr)
	if err != nil {
		L_warn("config watcher unavailable, edits require a restart", "error", err)
	} else if err := watcher.Start(ctx); err != nil {
		L_warn("config watcher failed to start", "error", err)
	} else {
		defer watcher.Stop()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		L_info("shutting down", "signal", sig.String())
		bot.Stop()
		cancel()
	}()

	L_info("echogram ready", "bot", bot.Username(), "admin", cfg.Access.AdminID)
	bot.Start()

	L_info("echogram stopped")
	return nil
}
