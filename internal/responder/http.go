// Package responder provides concrete backends for dispatch: an
// OpenAI-compatible HTTP client built from a registry profile, plus
// in-memory fakes for tests and dry runs.
package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Dicklesworthstone/quorum/internal/dispatch"
	"github.com/Dicklesworthstone/quorum/internal/registry"
)

// DefaultHTTPTimeout bounds the transport; per-call deadlines come from
// the dispatcher's context.
const DefaultHTTPTimeout = 60 * time.Second

// maxResponseBytes caps how much of an upstream body is read.
const maxResponseBytes = 1 << 20

// chatCompletionsPath is appended to a profile's base endpoint. Catalogs
// store base URLs (for example "https://api.openai.com/v1"); a profile may
// also spell out the full path, which is kept as-is.
const chatCompletionsPath = "/chat/completions"

func chatURL(endpoint string) string {
	trimmed := strings.TrimRight(endpoint, "/")
	if strings.HasSuffix(trimmed, chatCompletionsPath) {
		return trimmed
	}
	return trimmed + chatCompletionsPath
}

// HTTPResponder calls an OpenAI-compatible chat-completions endpoint.
type HTTPResponder struct {
	profile registry.ResponderProfile
	client  *http.Client
}

// NewHTTP builds a responder from a registry profile. The profile's
// CredentialEnv names the environment variable holding the bearer token;
// an empty CredentialEnv means the endpoint is unauthenticated.
func NewHTTP(profile registry.ResponderProfile) *HTTPResponder {
	return &HTTPResponder{
		profile: profile,
		client:  &http.Client{Timeout: DefaultHTTPTimeout},
	}
}

// Name returns the profile name, matching the plan's responder reference.
func (h *HTTPResponder) Name() string { return h.profile.Name }

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate sends the prompt and returns the first choice's text. Cost is
// derived from reported token usage and the profile's cost per unit.
func (h *HTTPResponder) Generate(ctx context.Context, prompt string) (dispatch.Response, error) {
	body, err := json.Marshal(chatRequest{
		Model:    h.profile.Model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return dispatch.Response{}, fmt.Errorf("encode request for %s: %w", h.profile.Name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, chatURL(h.profile.Endpoint), bytes.NewReader(body))
	if err != nil {
		return dispatch.Response{}, fmt.Errorf("build request for %s: %w", h.profile.Name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.profile.CredentialEnv != "" {
		req.Header.Set("Authorization", "Bearer "+os.Getenv(h.profile.CredentialEnv))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return dispatch.Response{}, fmt.Errorf("call %s: %w", h.profile.Name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return dispatch.Response{}, fmt.Errorf("read %s response: %w", h.profile.Name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return dispatch.Response{}, fmt.Errorf("%s returned HTTP %d: %s", h.profile.Name, resp.StatusCode, truncate(raw, 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return dispatch.Response{}, fmt.Errorf("decode %s response: %w", h.profile.Name, err)
	}
	if parsed.Error != nil {
		return dispatch.Response{}, fmt.Errorf("%s error: %s", h.profile.Name, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return dispatch.Response{}, fmt.Errorf("%s returned no choices", h.profile.Name)
	}

	return dispatch.Response{
		Text:    parsed.Choices[0].Message.Content,
		CostUSD: float64(parsed.Usage.TotalTokens) / 1000.0 * h.profile.CostPerUnit,
	}, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// PoolFromRegistry builds a dispatch pool with an HTTP responder for every
// available profile.
func PoolFromRegistry(reg *registry.Registry) *dispatch.Pool {
	pool := dispatch.NewPool()
	for _, profile := range reg.List() {
		if profile.Available() {
			pool.Put(NewHTTP(profile))
		}
	}
	return pool
}
