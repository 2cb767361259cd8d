// Package llm provides the completion client for Echogram's configured
// OpenAI-compatible endpoint.
package llm

import (
	"context"
	"errors"
)

// Message roles in the assembled prompt
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrUpstream marks a failed LLM call: timeout, transport error, non-2xx
// or a malformed response. Never retried automatically; the gateway maps
// it to a transient-failure reply and leaves the session untouched.
var ErrUpstream = errors.New("llm request failed")

// Message is one entry in the prompt sequence
type Message struct {
	Role    string
	Content string
}

// Request carries everything one completion call needs. Credentials ride
// on the request because the dashboard can swap them between calls.
type Request struct {
	BaseURL  string
	APIKey   string
	Model    string
	Messages []Message
}

// Client produces a single completion for an assembled prompt.
// Implementations do the HTTP; no retries or streaming here.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}
