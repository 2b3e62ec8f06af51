// Package server exposes task submission, the responder catalog, task
// trails, and a live event stream over HTTP.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"go.uber.org/zap"

	"github.com/Dicklesworthstone/quorum/internal/history"
	"github.com/Dicklesworthstone/quorum/internal/orchestrator"
	"github.com/Dicklesworthstone/quorum/internal/registry"
	"github.com/Dicklesworthstone/quorum/internal/task"
)

// Server wires the HTTP surface over the orchestrator.
type Server struct {
	orch    *orchestrator.Orchestrator
	handle  *registry.Handle
	store   *history.Store
	hub     *Hub
	log     *zap.Logger
	started time.Time
}

// New builds the server. store may be nil; the trail endpoint then
// reports 404 for every task.
func New(orch *orchestrator.Orchestrator, handle *registry.Handle, store *history.Store, hub *Hub, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if hub == nil {
		hub = NewHub(log)
	}
	return &Server{
		orch:    orch,
		handle:  handle,
		store:   store,
		hub:     hub,
		log:     log,
		started: time.Now(),
	}
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/tasks", s.handleSubmit)
		r.Get("/tasks/{id}/trail", s.handleTrail)
		r.Get("/responders", s.handleResponders)
		r.Get("/events", s.hub.ServeHTTP)
	})
	return r
}

type submitRequest struct {
	Prompt       string  `json:"prompt"`
	MaxCost      float64 `json:"max_cost,omitempty"`
	MaxWallClock string  `json:"max_wall_clock,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	budget := task.Budget{MaxCost: req.MaxCost}
	if req.MaxWallClock != "" {
		d, err := time.ParseDuration(req.MaxWallClock)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid max_wall_clock: " + err.Error()})
			return
		}
		budget.MaxWallClock = d
	}

	tk, err := task.New(req.Prompt, budget)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	res, err := s.orch.Submit(r.Context(), tk)
	if err != nil {
		s.log.Error("submit failed", zap.String("task_id", tk.ID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	status := http.StatusOK
	if !res.Accepted() {
		// Escalation is a normal terminal state; 422 distinguishes it
		// from transport-level failure.
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

func (s *Server) handleTrail(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "history store not configured"})
		return
	}
	id := chi.URLParam(r, "id")
	trail, err := s.store.TaskTrail(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if len(trail.Outcomes) == 0 && len(trail.Decisions) == 0 {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no history for task " + id})
		return
	}
	writeJSON(w, http.StatusOK, trail)
}

type responderView struct {
	Name             string  `json:"name"`
	Lane             string  `json:"lane"`
	Model            string  `json:"model"`
	CostPerUnit      float64 `json:"cost_per_unit"`
	TypicalLatencyMs int     `json:"typical_latency_ms"`
	Priority         int     `json:"priority"`
	Available        bool    `json:"available"`
}

func (s *Server) handleResponders(w http.ResponseWriter, r *http.Request) {
	profiles := s.handle.Current().List()
	views := make([]responderView, 0, len(profiles))
	for _, p := range profiles {
		views = append(views, responderView{
			Name:             p.Name,
			Lane:             p.Lane.String(),
			Model:            p.Model,
			CostPerUnit:      p.CostPerUnit,
			TypicalLatencyMs: p.TypicalLatencyMs,
			Priority:         p.Priority,
			Available:        p.Available(),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

type healthResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Responders    int     `json:"responders"`
	MemUsedPct    float64 `json:"mem_used_pct"`
	CPUPct        float64 `json:"cpu_pct"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := healthResponse{
		Status:        "ok",
		UptimeSeconds: time.Since(s.started).Seconds(),
		Responders:    s.handle.Current().Count(),
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		h.MemUsedPct = vm.UsedPercent
	}
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		h.CPUPct = pcts[0]
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ListenAndServe runs the server until the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Info("listening", zap.String("addr", addr))
	return srv.ListenAndServe()
}
