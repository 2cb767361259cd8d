package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	. "github.com/echogram/echogram/internal/logging"
)

// OpenAIClient implements Client against any OpenAI-compatible API
// (OpenAI, OpenRouter, LM Studio, vLLM and friends via BaseURL).
type OpenAIClient struct {
	timeout time.Duration

	// Cached SDK client, rebuilt when the dashboard changes credentials
	cached    *openai.Client
	cachedKey string
	mu        sync.Mutex
}

// NewOpenAIClient creates a client with a bounded per-request timeout.
// The timeout keeps one slow provider response from stalling a chat's
// future messages indefinitely.
func NewOpenAIClient(timeout time.Duration) *OpenAIClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIClient{timeout: timeout}
}

// normalizeBaseURL ensures the URL ends with /v1 as the SDK expects
func normalizeBaseURL(baseURL string) string {
	if baseURL == "" {
		return ""
	}
	if !strings.HasSuffix(baseURL, "/v1") && !strings.HasSuffix(baseURL, "/v1/") {
		baseURL = strings.TrimSuffix(baseURL, "/") + "/v1"
	}
	return baseURL
}

// client returns an SDK client for the request's credentials, reusing the
// cached one while they are unchanged
func (c *OpenAIClient) client(req Request) *openai.Client {
	baseURL := normalizeBaseURL(req.BaseURL)
	key := baseURL + "\x00" + req.APIKey

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && c.cachedKey == key {
		return c.cached
	}

	cfg := openai.DefaultConfig(req.APIKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	c.cached = openai.NewClientWithConfig(cfg)
	c.cachedKey = key

	L_debug("llm: client created", "baseURL", baseURL, "apiKeyLength", len(req.APIKey))
	return c.cached
}

// Complete performs one chat completion and returns the reply text
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client(req).CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: msgs,
	})
	if err != nil {
		L_warn("llm: completion failed",
			"model", req.Model,
			"elapsed", time.Since(start).Round(time.Millisecond),
			"error", err)
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: response contained no choices", ErrUpstream)
	}

	reply := resp.Choices[0].Message.Content
	L_debug("llm: completion ok",
		"model", req.Model,
		"promptMessages", len(msgs),
		"replyLength", len(reply),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return reply, nil
}
