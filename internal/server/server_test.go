package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Dicklesworthstone/quorum/internal/dispatch"
	"github.com/Dicklesworthstone/quorum/internal/history"
	"github.com/Dicklesworthstone/quorum/internal/orchestrator"
	"github.com/Dicklesworthstone/quorum/internal/plan"
	"github.com/Dicklesworthstone/quorum/internal/registry"
	"github.com/Dicklesworthstone/quorum/internal/responder"
	"github.com/Dicklesworthstone/quorum/internal/score"
	"github.com/Dicklesworthstone/quorum/internal/task"
)

const answer = `# Status

- The rollout completed without connection drops across every region.

We recommend keeping the gradual ramp for the next release.`

func testStack(t *testing.T) (*Server, *history.Store, *Hub) {
	t.Helper()

	reg, err := registry.New([]registry.ResponderProfile{{
		Name:                "fast-a",
		Lane:                registry.LaneFast,
		Model:               "test-model",
		Endpoint:            "http://unused",
		CostPerUnit:         0.002,
		TypicalLatencyMs:    100,
		ReliabilityBaseline: 1.0,
	}})
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	handle := registry.NewHandle(reg)

	store, err := history.Open(history.InMemoryDSN)
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	hub := NewHub(nil)
	pool := dispatch.NewPool(&responder.Static{ResponderName: "fast-a", Text: answer})
	orch := orchestrator.New(handle, dispatch.New(pool, dispatch.WithEventSink(hub)), plan.DefaultConfig(),
		orchestrator.WithHistory(store),
		orchestrator.WithEvidenceSource(func(tk task.Task, c plan.Candidate) score.Evidence {
			return score.Evidence{
				Checks:         []score.CheckResult{{Name: "schema", Passed: true}},
				Claims:         []string{"rollout completed"},
				SourceText:     "the rollout completed without connection drops",
				FluencyBoost:   0.05,
				RelevanceBoost: 0.05,
			}
		}))

	return New(orch, handle, store, hub, nil), store, hub
}

func postTask(t *testing.T, srv http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks", bytes.NewReader([]byte(body)))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestSubmitEndpointAccepts(t *testing.T) {
	s, _, _ := testStack(t)
	routes := s.Routes()

	w := postTask(t, routes, `{"prompt":"short status check please","max_cost":0.01}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var res orchestrator.Result
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.Final == nil {
		t.Fatalf("expected final result: %s", w.Body.String())
	}
	if res.Final.Text != answer {
		t.Error("final text mismatch")
	}
}

func TestSubmitEndpointBadRequests(t *testing.T) {
	s, _, _ := testStack(t)
	routes := s.Routes()

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"empty prompt", `{"prompt":"  "}`},
		{"bad duration", `{"prompt":"x","max_wall_clock":"fast"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := postTask(t, routes, tt.body); w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestTrailEndpoint(t *testing.T) {
	s, _, _ := testStack(t)
	routes := s.Routes()

	w := postTask(t, routes, `{"prompt":"short status check please","max_cost":0.01}`)
	var res orchestrator.Result
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/tasks/"+res.TaskID+"/trail", nil)
	tw := httptest.NewRecorder()
	routes.ServeHTTP(tw, req)
	if tw.Code != http.StatusOK {
		t.Fatalf("trail status = %d", tw.Code)
	}
	var trail history.Trail
	if err := json.Unmarshal(tw.Body.Bytes(), &trail); err != nil {
		t.Fatalf("decode trail: %v", err)
	}
	if len(trail.Decisions) == 0 || len(trail.Outcomes) == 0 {
		t.Errorf("trail incomplete: %+v", trail)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/tasks/unknown/trail", nil)
	tw = httptest.NewRecorder()
	routes.ServeHTTP(tw, req)
	if tw.Code != http.StatusNotFound {
		t.Errorf("unknown task status = %d, want 404", tw.Code)
	}
}

func TestRespondersEndpoint(t *testing.T) {
	s, _, _ := testStack(t)
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/responders", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var views []responderView
	if err := json.Unmarshal(w.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 1 || views[0].Name != "fast-a" || views[0].Lane != "fast" {
		t.Errorf("views = %+v", views)
	}
	if !views[0].Available {
		t.Error("profile without credential env should be available")
	}
}

func TestHealthEndpoint(t *testing.T) {
	s, _, _ := testStack(t)
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var h healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &h); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if h.Status != "ok" || h.Responders != 1 {
		t.Errorf("health = %+v", h)
	}
}

func TestEventStream(t *testing.T) {
	s, _, hub := testStack(t)
	ts := httptest.NewServer(s.Routes())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Wait for the subscription to register before dispatching.
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Post(ts.URL+"/v1/tasks", "application/json",
		strings.NewReader(`{"prompt":"short status check please","max_cost":0.01}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var e dispatch.Event
	if err := conn.ReadJSON(&e); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if e.Responder != "fast-a" {
		t.Errorf("event responder = %q", e.Responder)
	}
	if e.Kind != dispatch.EventCandidateStarted {
		t.Errorf("first event kind = %s, want candidate_started", e.Kind)
	}
}
