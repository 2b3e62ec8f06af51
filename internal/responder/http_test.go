package responder

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Dicklesworthstone/quorum/internal/registry"
)

func testProfile(endpoint string) registry.ResponderProfile {
	return registry.ResponderProfile{
		Name:                "focus-test",
		Lane:                registry.LaneFocus,
		Model:               "test-model",
		Endpoint:            endpoint,
		CredentialEnv:       "QUORUM_TEST_KEY",
		CostPerUnit:         0.01,
		TypicalLatencyMs:    500,
		ReliabilityBaseline: 0.5,
	}
}

func TestChatURL(t *testing.T) {
	cases := []struct {
		endpoint string
		want     string
	}{
		{"https://api.openai.com/v1", "https://api.openai.com/v1/chat/completions"},
		{"https://api.anthropic.com/v1/", "https://api.anthropic.com/v1/chat/completions"},
		{"https://generativelanguage.googleapis.com/v1beta/openai", "https://generativelanguage.googleapis.com/v1beta/openai/chat/completions"},
		{"https://proxy.internal/v1/chat/completions", "https://proxy.internal/v1/chat/completions"},
	}
	for _, tc := range cases {
		if got := chatURL(tc.endpoint); got != tc.want {
			t.Errorf("chatURL(%q) = %q, want %q", tc.endpoint, got, tc.want)
		}
	}
}

func TestHTTPGenerate(t *testing.T) {
	t.Setenv("QUORUM_TEST_KEY", "sk-test")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "test-model" || len(req.Messages) != 1 || req.Messages[0].Content != "hello" {
			t.Errorf("unexpected request: %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hi there"}}],"usage":{"total_tokens":500}}`))
	}))
	defer srv.Close()

	r := NewHTTP(testProfile(srv.URL))
	resp, err := r.Generate(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Text != "hi there" {
		t.Errorf("Text = %q", resp.Text)
	}
	// 500 tokens at 0.01 per thousand.
	if math.Abs(resp.CostUSD-0.005) > 1e-9 {
		t.Errorf("CostUSD = %.4f, want 0.005", resp.CostUSD)
	}
}

func TestHTTPGenerateUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	profile := testProfile(srv.URL)
	profile.CredentialEnv = ""
	r := NewHTTP(profile)

	_, err := r.Generate(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error on HTTP 503")
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("error should carry status code: %v", err)
	}
}

func TestHTTPGenerateAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"message":"model not found"}}`))
	}))
	defer srv.Close()

	profile := testProfile(srv.URL)
	profile.CredentialEnv = ""
	_, err := NewHTTP(profile).Generate(context.Background(), "hello")
	if err == nil || !strings.Contains(err.Error(), "model not found") {
		t.Fatalf("err = %v, want api error message", err)
	}
}

func TestHTTPGenerateNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	profile := testProfile(srv.URL)
	profile.CredentialEnv = ""
	_, err := NewHTTP(profile).Generate(context.Background(), "hello")
	if err == nil || !strings.Contains(err.Error(), "no choices") {
		t.Fatalf("err = %v, want no-choices error", err)
	}
}

func TestHTTPGenerateHonorsContext(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	profile := testProfile(srv.URL)
	profile.CredentialEnv = ""
	_, err := NewHTTP(profile).Generate(ctx, "hello")
	if err == nil {
		t.Fatal("expected error from canceled context")
	}
}

func TestPoolFromRegistrySkipsUnavailable(t *testing.T) {
	t.Setenv("QUORUM_POOL_KEY", "set")

	reg, err := registry.New([]registry.ResponderProfile{
		{Name: "with-cred", Lane: registry.LaneFast, Model: "m", Endpoint: "http://x",
			CredentialEnv: "QUORUM_POOL_KEY", CostPerUnit: 0.01, TypicalLatencyMs: 100, ReliabilityBaseline: 0.5},
		{Name: "no-cred", Lane: registry.LaneFocus, Model: "m", Endpoint: "http://x",
			CredentialEnv: "QUORUM_POOL_MISSING", CostPerUnit: 0.01, TypicalLatencyMs: 100, ReliabilityBaseline: 0.5},
	})
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}

	pool := PoolFromRegistry(reg)
	if _, ok := pool.Get("with-cred"); !ok {
		t.Error("with-cred missing from pool")
	}
	if _, ok := pool.Get("no-cred"); ok {
		t.Error("no-cred should be skipped without its credential")
	}
}

func TestScriptedResponder(t *testing.T) {
	s := &Scripted{ResponderName: "scripted", Steps: []ScriptStep{
		{Text: "first"},
		{Text: "second"},
	}}

	for _, want := range []string{"first", "second", "second"} {
		resp, err := s.Generate(context.Background(), "p")
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if resp.Text != want {
			t.Errorf("Text = %q, want %q", resp.Text, want)
		}
	}
	if s.Calls() != 3 {
		t.Errorf("Calls = %d, want 3", s.Calls())
	}
}
