package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/echogram/echogram/internal/settings"
)

// registerBuiltins installs the full command set.
// Public commands still pass the whitelist gate; AdminOnly commands are
// additionally restricted to the admin in a private chat.
func registerBuiltins(m *Manager) {
	m.Register(&Command{
		Name:        "/start",
		Description: "Introduce the bot",
		Handler:     cmdStart,
	})
	m.Register(&Command{
		Name:        "/help",
		Description: "Show available commands",
		Handler:     cmdHelp,
	})
	m.Register(&Command{
		Name:        "/clear",
		Description: "Clear this conversation's history",
		Handler:     cmdClear,
	})
	m.Register(&Command{
		Name:        "/status",
		Description: "Show session info",
		Handler:     cmdStatus,
	})

	// Dashboard: one settings or whitelist mutation per invocation
	m.Register(&Command{
		Name:        "/key",
		Description: "Set the LLM API key",
		Usage:       "<api-key>",
		AdminOnly:   true,
		Handler:     cmdSetKey,
	})
	m.Register(&Command{
		Name:        "/url",
		Description: "Set the LLM base URL",
		Usage:       "<base-url>",
		AdminOnly:   true,
		Handler:     cmdSetURL,
	})
	m.Register(&Command{
		Name:        "/model",
		Description: "Set the model name",
		Usage:       "<model>",
		AdminOnly:   true,
		Handler:     cmdSetModel,
	})
	m.Register(&Command{
		Name:        "/persona",
		Description: "Show or set the persona (system prompt)",
		Usage:       "[text]",
		AdminOnly:   true,
		Handler:     cmdPersona,
	})
	m.Register(&Command{
		Name:        "/allow",
		Description: "Whitelist a chat or user id",
		Usage:       "<id> [chat|user]",
		AdminOnly:   true,
		Handler:     cmdAllow,
	})
	m.Register(&Command{
		Name:        "/deny",
		Description: "Remove an id from the whitelist",
		Usage:       "<id>",
		AdminOnly:   true,
		Handler:     cmdDeny,
	})
	m.Register(&Command{
		Name:        "/list",
		Description: "List whitelist entries",
		AdminOnly:   true,
		Handler:     cmdList,
	})
}

func cmdStart(ctx context.Context, args *Args) *Result {
	return &Result{Text: "Hello! I'm Echogram. Send me a message to chat, or /help for commands."}
}

func cmdHelp(ctx context.Context, args *Args) *Result {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, cmd := range args.manager.List() {
		if cmd.AdminOnly && !args.IsAdmin {
			continue
		}
		b.WriteString(cmd.Name)
		if cmd.Usage != "" {
			b.WriteString(" " + cmd.Usage)
		}
		b.WriteString(" - " + cmd.Description)
		if cmd.AdminOnly {
			b.WriteString(" (admin)")
		}
		b.WriteString("\n")
	}
	b.WriteString("\nAnything else is sent to the assistant.")
	return &Result{Text: b.String()}
}

func cmdClear(ctx context.Context, args *Args) *Result {
	if err := args.Deps.Gateway.Clear(ctx, args.ChatID); err != nil {
		return &Result{Text: "Failed to clear the conversation. Please try again."}
	}
	return &Result{Text: "Conversation cleared."}
}

func cmdStatus(ctx context.Context, args *Args) *Result {
	info, err := args.Deps.Gateway.Status(ctx, args.ChatID, args.ChatKind)
	if err != nil {
		return &Result{Text: "Failed to read session status."}
	}

	text := fmt.Sprintf("Session status\n\nWindow: %d turns, ~%d tokens\nStored history: %d turns",
		info.WindowTurns, info.WindowTokens, info.StoredTurns)
	if info.MaxTurns > 0 {
		text += fmt.Sprintf("\nTurn limit: %d", info.MaxTurns)
	}
	if info.MaxTokens > 0 {
		text += fmt.Sprintf("\nToken budget: %d", info.MaxTokens)
	}
	return &Result{Text: text}
}

func cmdSetKey(ctx context.Context, args *Args) *Result {
	key := strings.TrimSpace(args.RawArgs)
	if key == "" {
		return usageError("/key", args)
	}
	if err := args.Deps.Settings.Set(ctx, settings.FieldAPIKey, key); err != nil {
		return &Result{Text: "Failed to save the API key."}
	}
	// Never echo the key back
	return &Result{Text: fmt.Sprintf("API key updated (%d characters).", len(key))}
}

func cmdSetURL(ctx context.Context, args *Args) *Result {
	url := strings.TrimSpace(args.RawArgs)
	if url == "" {
		return usageError("/url", args)
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return &Result{Text: "The base URL must start with http:// or https://."}
	}
	if err := args.Deps.Settings.Set(ctx, settings.FieldBaseURL, url); err != nil {
		return &Result{Text: "Failed to save the base URL."}
	}
	return &Result{Text: "Base URL updated: " + url}
}

func cmdSetModel(ctx context.Context, args *Args) *Result {
	model := strings.TrimSpace(args.RawArgs)
	if model == "" {
		return usageError("/model", args)
	}
	if err := args.Deps.Settings.Set(ctx, settings.FieldModel, model); err != nil {
		return &Result{Text: "Failed to save the model name."}
	}
	return &Result{Text: "Model updated: " + model}
}

func cmdPersona(ctx context.Context, args *Args) *Result {
	persona := strings.TrimSpace(args.RawArgs)
	if persona == "" {
		current := args.Deps.Settings.Get().Persona
		if len(current) > 1000 {
			current = current[:1000] + "..."
		}
		return &Result{Text: "Current persona:\n\n" + current}
	}
	if err := args.Deps.Settings.Set(ctx, settings.FieldPersona, persona); err != nil {
		return &Result{Text: "Failed to save the persona."}
	}
	// Takes effect on the next turn; stored history keeps the old persona's replies
	return &Result{Text: "Persona updated. It applies from the next message."}
}

func cmdAllow(ctx context.Context, args *Args) *Result {
	fields := strings.Fields(args.RawArgs)
	if len(fields) == 0 || len(fields) > 2 {
		return usageError("/allow", args)
	}

	id, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return &Result{Text: fmt.Sprintf("%q is not a valid id.", fields[0])}
	}

	kind := "user"
	if len(fields) == 2 {
		kind = strings.ToLower(fields[1])
	}

	switch kind {
	case "chat":
		err = args.Deps.Settings.AllowChat(ctx, id)
	case "user":
		err = args.Deps.Settings.AllowUser(ctx, id)
	default:
		return usageError("/allow", args)
	}
	if err != nil {
		return &Result{Text: "Failed to update the whitelist."}
	}
	return &Result{Text: fmt.Sprintf("Whitelisted %s %d.", kind, id)}
}

func cmdDeny(ctx context.Context, args *Args) *Result {
	fields := strings.Fields(args.RawArgs)
	if len(fields) != 1 {
		return usageError("/deny", args)
	}

	id, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return &Result{Text: fmt.Sprintf("%q is not a valid id.", fields[0])}
	}

	removed, err := args.Deps.Settings.Revoke(ctx, id)
	if err != nil {
		return &Result{Text: "Failed to update the whitelist."}
	}
	if !removed {
		return &Result{Text: fmt.Sprintf("%d was not on the whitelist.", id)}
	}
	return &Result{Text: fmt.Sprintf("Removed %d from the whitelist.", id)}
}

func cmdList(ctx context.Context, args *Args) *Result {
	entries, err := args.Deps.Settings.ListWhitelist(ctx)
	if err != nil {
		return &Result{Text: "Failed to read the whitelist."}
	}
	if len(entries) == 0 {
		return &Result{Text: "The whitelist is empty. The admin is always permitted."}
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("Whitelist (%d entries):\n", len(entries)))
	for _, e := range entries {
		b.WriteString(fmt.Sprintf("%d (%s), added %s\n", e.ID, e.Kind, e.AddedAt.Format("2006-01-02")))
	}
	return &Result{Text: strings.TrimRight(b.String(), "\n")}
}
