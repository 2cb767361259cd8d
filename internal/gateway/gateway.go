// Package gateway orchestrates a chat message end to end: config check,
// prompt assembly from persona plus rolling window, the LLM call, and the
// post-success commit back into the session.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/echogram/echogram/internal/config"
	"github.com/echogram/echogram/internal/llm"
	"github.com/echogram/echogram/internal/session"
	"github.com/echogram/echogram/internal/settings"

	. "github.com/echogram/echogram/internal/logging"
)

// User-visible replies for the failure categories. Configuration problems
// degrade to the generic unavailable text for chat users so the reply
// never leaks whether credentials are set.
const (
	ReplyUnavailable = "The assistant is not available right now. Please try again later."
	ReplyTransient   = "Sorry, I couldn't get a response. Please try again."
)

// Gateway drives one LLM exchange per inbound message
type Gateway struct {
	cfg      *config.Manager
	settings *settings.Store
	sessions *session.Manager
	client   llm.Client
}

// New creates a gateway
func New(cfg *config.Manager, st *settings.Store, sm *session.Manager, client llm.Client) *Gateway {
	return &Gateway{cfg: cfg, settings: st, sessions: sm, client: client}
}

// Handle processes one chat message and returns the reply text. quote is
// an excerpt of the message the user replied to, empty when the message
// was not a reply.
//
// The chat's lock is held for the whole cycle, so appends and clears for
// the same chat serialize while other chats proceed concurrently. The
// user and assistant turns are committed together only after a successful
// completion: a failed call leaves no orphaned user turn behind.
func (g *Gateway) Handle(ctx context.Context, chatID int64, kind, text, quote string) string {
	unlock := g.sessions.LockChat(chatID)
	defer unlock()

	cfg := g.settings.Get()
	if err := cfg.Validate(); err != nil {
		L_warn("gateway: rejecting message, llm not configured", "chatID", chatID, "error", err)
		return ReplyUnavailable
	}

	window, err := g.sessions.Window(ctx, chatID, kind)
	if err != nil {
		L_error("gateway: failed to read session window", "chatID", chatID, "error", err)
		return ReplyUnavailable
	}

	messages := assemblePrompt(cfg.Persona, window, text, quote)

	reply, err := g.client.Complete(ctx, llm.Request{
		BaseURL:  cfg.BaseURL,
		APIKey:   cfg.APIKey,
		Model:    cfg.Model,
		Messages: messages,
	})
	if err != nil {
		if !errors.Is(err, llm.ErrUpstream) {
			L_error("gateway: unexpected completion error", "chatID", chatID, "error", err)
		}
		return ReplyTransient
	}

	userTurn := session.NewTurn(session.RoleUser, text)
	userTurn.ReplyTo = quote
	assistantTurn := session.NewTurn(session.RoleAssistant, reply)
	if err := g.sessions.Append(ctx, chatID, userTurn, assistantTurn); err != nil {
		// The exchange happened; losing the history write shouldn't eat the reply
		L_error("gateway: failed to persist exchange", "chatID", chatID, "error", err)
	}

	return reply
}

// assemblePrompt builds persona + window + the new user turn.
// The new turn is not yet appended: it only enters the session after the
// call succeeds. User turns that replied to an earlier message carry the
// quoted excerpt so the model sees what was being answered; assistant
// turns pass through verbatim.
func assemblePrompt(persona string, window []session.Turn, text, quote string) []llm.Message {
	messages := make([]llm.Message, 0, len(window)+2)
	if persona != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: persona})
	}
	for _, t := range window {
		content := t.Content
		if t.Role == session.RoleUser && t.ReplyTo != "" {
			content = quotedContent(t.ReplyTo, t.Content)
		}
		messages = append(messages, llm.Message{Role: t.Role, Content: content})
	}
	content := text
	if quote != "" {
		content = quotedContent(quote, text)
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: content})
	return messages
}

// quotedContent prefixes a user message with the excerpt it replied to
func quotedContent(quote, text string) string {
	return fmt.Sprintf("(Reply to %q) %s", quote, text)
}

// Clear empties a chat's history, serialized against in-flight handling
func (g *Gateway) Clear(ctx context.Context, chatID int64) error {
	unlock := g.sessions.LockChat(chatID)
	defer unlock()
	return g.sessions.Clear(ctx, chatID)
}

// Status returns the chat's session stats
func (g *Gateway) Status(ctx context.Context, chatID int64, kind string) (*session.Info, error) {
	return g.sessions.Info(ctx, chatID, kind)
}
