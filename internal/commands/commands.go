// Package commands provides Echogram's slash-command surface, including
// the admin dashboard. The command table is resolved once at startup into
// explicit handler functions; no string-based dispatch at runtime.
package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/echogram/echogram/internal/config"
	"github.com/echogram/echogram/internal/gateway"
	"github.com/echogram/echogram/internal/settings"
)

// Command is one slash command
type Command struct {
	Name        string // e.g. "/persona"
	Description string
	Usage       string // argument hint for error messages, e.g. "<id> [chat|user]"
	AdminOnly   bool   // dashboard commands: admin + private chat enforced by the gate
	Handler     Handler
}

// Handler is the function signature for command handlers
type Handler func(ctx context.Context, args *Args) *Result

// Args carries the invocation context into a handler
type Args struct {
	ChatID   int64
	ChatKind string // "private" or "group"
	UserID   int64
	IsAdmin  bool
	RawArgs  string // everything after the command name
	Usage    string
	Deps     *Deps

	manager *Manager // set by Execute, for /help listing
}

// Deps are the collaborators handlers mutate or query.
// Each dashboard handler touches exactly one settings field or whitelist
// entry per invocation.
type Deps struct {
	Config   *config.Manager
	Settings *settings.Store
	Gateway  *gateway.Gateway
}

// Result is what a handler hands back to the transport
type Result struct {
	Text string
}

// Manager is the command registry, built once at startup
type Manager struct {
	commands map[string]*Command
	deps     *Deps
}

// NewManager creates the registry and installs the builtin commands
func NewManager(deps *Deps) *Manager {
	m := &Manager{
		commands: make(map[string]*Command),
		deps:     deps,
	}
	registerBuiltins(m)
	return m
}

// Register adds a command to the registry
func (m *Manager) Register(cmd *Command) {
	m.commands[strings.ToLower(cmd.Name)] = cmd
}

// Get returns a command by name, or nil
func (m *Manager) Get(name string) *Command {
	return m.commands[strings.ToLower(name)]
}

// List returns all commands sorted by name
func (m *Manager) List() []*Command {
	list := make([]*Command, 0, len(m.commands))
	for _, cmd := range m.commands {
		list = append(list, cmd)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})
	return list
}

// Split separates a message into command name, raw arguments and the
// addressed bot. Telegram's "/cmd@botname" form is normalized to "/cmd"
// with the mention returned separately so the transport can ignore
// commands addressed to a different bot in a group.
func Split(text string) (name, rawArgs, mention string) {
	parts := strings.SplitN(strings.TrimSpace(text), " ", 2)
	name = strings.ToLower(parts[0])
	if at := strings.Index(name, "@"); at > 0 {
		mention = name[at+1:]
		name = name[:at]
	}
	if len(parts) > 1 {
		rawArgs = strings.TrimSpace(parts[1])
	}
	return name, rawArgs, mention
}

// IsCommand checks whether text is a slash command
func IsCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "/")
}

// Execute runs a named command. The caller has already passed the access
// gate; this only dispatches.
func (m *Manager) Execute(ctx context.Context, cmd *Command, args *Args) *Result {
	args.Usage = cmd.Usage
	args.Deps = m.deps
	args.manager = m
	return cmd.Handler(ctx, args)
}

// usageError formats a consistent bad-arguments reply
func usageError(name string, args *Args) *Result {
	return &Result{Text: fmt.Sprintf("Usage: %s %s", name, args.Usage)}
}
