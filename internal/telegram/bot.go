// Package telegram is Echogram's only transport: a long-polling Telegram
// bot that routes slash commands to the dashboard and everything else to
// the LLM gateway.
package telegram

import (
	"context"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/echogram/echogram/internal/access"
	"github.com/echogram/echogram/internal/commands"
	"github.com/echogram/echogram/internal/config"
	"github.com/echogram/echogram/internal/gateway"

	. "github.com/echogram/echogram/internal/logging"
)

// Bot wraps the telebot instance and the components a message flows through
type Bot struct {
	bot      *tele.Bot
	cfg      *config.Manager
	gate     *access.Gate
	gateway  *gateway.Gateway
	commands *commands.Manager
}

// New creates and connects the bot. The token is validated against the
// Telegram API before this returns.
func New(cfg *config.Manager, gate *access.Gate, gw *gateway.Gateway, cm *commands.Manager) (*Bot, error) {
	pref := tele.Settings{
		Token:  cfg.Current().Telegram.BotToken,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}

	b, err := tele.NewBot(pref)
	if err != nil {
		return nil, err
	}

	bot := &Bot{
		bot:      b,
		cfg:      cfg,
		gate:     gate,
		gateway:  gw,
		commands: cm,
	}

	b.Handle(tele.OnText, bot.onText)

	L_info("telegram: connected", "username", b.Me.Username, "botID", b.Me.ID)
	return bot, nil
}

// Start begins long polling; blocks until Stop is called
func (b *Bot) Start() {
	L_info("telegram: starting long poller")
	b.bot.Start()
}

// Stop halts the poller
func (b *Bot) Stop() {
	L_info("telegram: stopping")
	b.bot.Stop()
}

// Username returns the bot's Telegram username
func (b *Bot) Username() string {
	return b.bot.Me.Username
}

// onText handles every text message: gate first, then command dispatch or
// the LLM gateway
func (b *Bot) onText(c tele.Context) error {
	msg := c.Message()
	if msg == nil || msg.Sender == nil {
		return nil
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil
	}

	chat := access.Chat{
		ID:      msg.Chat.ID,
		Private: msg.Chat.Type == tele.ChatPrivate,
	}
	userID := msg.Sender.ID
	kind := chatKind(msg.Chat.Type)
	quote := quoteExcerpt(msg.ReplyTo)

	ctx := context.Background()

	if commands.IsCommand(text) {
		return b.handleCommand(ctx, c, chat, userID, kind, text, quote)
	}
	return b.handleChat(ctx, c, chat, userID, kind, text, quote)
}

// handleCommand authorizes and dispatches one slash command.
// Unknown commands fall through to the chat path so things like "/weather
// in Oslo" still reach the assistant.
func (b *Bot) handleCommand(ctx context.Context, c tele.Context, chat access.Chat, userID int64, kind, text, quote string) error {
	name, rawArgs, mention := commands.Split(text)

	// "/cmd@otherbot" in a group is someone else's command
	if mention != "" && !strings.EqualFold(mention, b.bot.Me.Username) {
		return nil
	}

	cmd := b.commands.Get(name)
	if cmd == nil {
		return b.handleChat(ctx, c, chat, userID, kind, text, quote)
	}

	decision := b.gate.Authorize(ctx, chat, userID, cmd.AdminOnly)
	if decision != access.Allow {
		return b.sendDenial(c, decision)
	}

	adminID := b.cfg.Current().Access.AdminID
	result := b.commands.Execute(ctx, cmd, &commands.Args{
		ChatID:   chat.ID,
		ChatKind: kind,
		UserID:   userID,
		IsAdmin:  userID == adminID,
		RawArgs:  rawArgs,
	})
	if result == nil || result.Text == "" {
		return nil
	}

	return b.send(c, result.Text)
}

// handleChat authorizes and forwards one conversational message
func (b *Bot) handleChat(ctx context.Context, c tele.Context, chat access.Chat, userID int64, kind, text, quote string) error {
	decision := b.gate.Authorize(ctx, chat, userID, false)
	if decision != access.Allow {
		return b.sendDenial(c, decision)
	}

	// Typing indicator while the completion is in flight
	if err := c.Notify(tele.Typing); err != nil {
		L_debug("telegram: typing notify failed", "chatID", chat.ID, "error", err)
	}

	reply := b.gateway.Handle(ctx, chat.ID, kind, text, quote)
	if reply == "" {
		return nil
	}

	return b.send(c, reply)
}

// sendDenial replies with the decision's text, or stays silent
func (b *Bot) sendDenial(c tele.Context, d access.Decision) error {
	silent := b.cfg.Current().Access.SilentDeny
	text := access.Reply(d, silent)
	if text == "" {
		return nil
	}
	return c.Send(text)
}

// send delivers text as Telegram HTML, falling back to plain text when
// Telegram rejects the markup
func (b *Bot) send(c tele.Context, text string) error {
	formatted := FormatMessage(text)
	err := c.Send(formatted, &tele.SendOptions{ParseMode: tele.ModeHTML})
	if err != nil {
		L_warn("telegram: html send failed, retrying as plain text", "error", err)
		return c.Send(text)
	}
	return nil
}

// quoteExcerptLimit caps how much of a quoted message rides along as
// reply context
const quoteExcerptLimit = 30

// quoteExcerpt returns a short excerpt of the message a user replied to,
// or "" when the message was not a reply
func quoteExcerpt(m *tele.Message) string {
	if m == nil {
		return ""
	}
	text := strings.TrimSpace(m.Text)
	if text == "" {
		text = strings.TrimSpace(m.Caption)
	}
	if text == "" {
		return "[non-text message]"
	}
	r := []rune(text)
	if len(r) > quoteExcerptLimit {
		return string(r[:quoteExcerptLimit]) + ".."
	}
	return text
}

// chatKind maps telebot's chat type onto the session store's kind values
func chatKind(t tele.ChatType) string {
	if t == tele.ChatPrivate {
		return "private"
	}
	return "group"
}
