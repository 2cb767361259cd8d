// Package access decides whether an inbound message may reach the bot.
package access

import (
	"context"

	"github.com/echogram/echogram/internal/config"

	. "github.com/echogram/echogram/internal/logging"
)

// Chat identifies the conversation a message arrived in
type Chat struct {
	ID      int64
	Private bool
}

// Decision is the outcome of an authorization check
type Decision int

const (
	Allow Decision = iota
	DenyNotWhitelisted
	DenyRequiresAdmin
	DenyRequiresPrivate
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case DenyNotWhitelisted:
		return "deny_not_whitelisted"
	case DenyRequiresAdmin:
		return "deny_requires_admin"
	case DenyRequiresPrivate:
		return "deny_requires_private"
	default:
		return "unknown"
	}
}

// Decide evaluates the access rules, in order:
//
//  1. admin-only command from a non-admin sender -> DenyRequiresAdmin
//  2. admin-only command outside a private chat -> DenyRequiresPrivate
//     (dashboard actions in a group would leak credentials and persona,
//     and let other members hijack the command)
//  3. neither sender nor chat is admin or whitelisted -> DenyNotWhitelisted
//  4. otherwise -> Allow
//
// Pure function of its inputs; the Gate wrapper supplies the lookups.
func Decide(adminOnly, isAdmin, privateChat, whitelisted bool) Decision {
	if adminOnly && !isAdmin {
		return DenyRequiresAdmin
	}
	if adminOnly && !privateChat {
		return DenyRequiresPrivate
	}
	if !isAdmin && !whitelisted {
		return DenyNotWhitelisted
	}
	return Allow
}

// WhitelistChecker answers membership queries, live from storage
type WhitelistChecker interface {
	IsAllowed(ctx context.Context, id int64) (bool, error)
}

// Gate wires Decide to the configured admin identity and the whitelist
type Gate struct {
	cfg *config.Manager
	wl  WhitelistChecker
}

// New creates a gate
func New(cfg *config.Manager, wl WhitelistChecker) *Gate {
	return &Gate{cfg: cfg, wl: wl}
}

// Authorize checks one inbound message. adminOnly marks dashboard commands.
// The whitelist is queried per message so additions and removals take
// effect immediately. A storage failure denies closed.
func (g *Gate) Authorize(ctx context.Context, chat Chat, userID int64, adminOnly bool) Decision {
	adminID := g.cfg.Current().Access.AdminID
	isAdmin := userID == adminID

	// The whitelist lookup is skipped when the decision can't depend on it
	whitelisted := false
	if !isAdmin && !adminOnly {
		chatAllowed, err := g.wl.IsAllowed(ctx, chat.ID)
		if err != nil {
			L_error("access: whitelist lookup failed, denying", "chatID", chat.ID, "error", err)
			return DenyNotWhitelisted
		}
		userAllowed := false
		if !chatAllowed {
			userAllowed, err = g.wl.IsAllowed(ctx, userID)
			if err != nil {
				L_error("access: whitelist lookup failed, denying", "userID", userID, "error", err)
				return DenyNotWhitelisted
			}
		}
		whitelisted = chatAllowed || userAllowed
	}

	d := Decide(adminOnly, isAdmin, chat.Private, whitelisted)
	if d != Allow {
		L_debug("access: denied", "decision", d.String(), "chatID", chat.ID, "userID", userID, "adminOnly", adminOnly)
	}
	return d
}

// Reply returns the user-visible text for a decision, or "" for no reply.
// Whether unknown senders get an explicit denial is a policy choice:
// with silent_deny the bot's existence is not confirmed to probing.
func Reply(d Decision, silentDeny bool) string {
	switch d {
	case DenyNotWhitelisted:
		if silentDeny {
			return ""
		}
		return "You're not authorized to use this bot."
	case DenyRequiresAdmin:
		return "That command is admin-only."
	case DenyRequiresPrivate:
		return "Admin commands only work in a private chat with me."
	default:
		return ""
	}
}
