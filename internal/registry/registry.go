// Package registry holds configuration and availability state for backend
// responders. A responder is an interchangeable text-generation service
// grouped into a lane (fast, focus, audit) by its cost/latency/quality
// tradeoff. The registry is read-only during planning and dispatch;
// catalogs are replaced wholesale on configuration reload, never mutated
// in place.
package registry

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
)

// Lane is a concurrency/quality class grouping responders with similar
// cost, latency, and quality tradeoffs.
type Lane string

const (
	// LaneFast holds cheap, low-latency responders for simple tasks.
	LaneFast Lane = "fast"
	// LaneFocus holds balanced responders for typical tasks.
	LaneFocus Lane = "focus"
	// LaneAudit holds high-quality responders used for cross-checking.
	LaneAudit Lane = "audit"
)

// String returns the lane as a string.
func (l Lane) String() string {
	return string(l)
}

// IsValid returns true if this is a known lane.
func (l Lane) IsValid() bool {
	switch l {
	case LaneFast, LaneFocus, LaneAudit:
		return true
	default:
		return false
	}
}

// AllLanes returns all valid lanes in dispatch order.
func AllLanes() []Lane {
	return []Lane{LaneFast, LaneFocus, LaneAudit}
}

// ResponderProfile describes one backend responder. Profiles are immutable
// for the process lifetime; availability is derived from configuration
// presence, never probed over the network.
type ResponderProfile struct {
	// Name is the unique identifier for this responder (e.g., "swift-mini").
	Name string `json:"name" toml:"name"`

	// Lane is the concurrency/quality class this responder serves.
	Lane Lane `json:"lane" toml:"lane"`

	// Model is the capability model identifier passed to the backend.
	Model string `json:"model" toml:"model"`

	// Endpoint is the base URL of the backend service.
	Endpoint string `json:"endpoint,omitempty" toml:"endpoint"`

	// CredentialEnv names the environment variable holding the API
	// credential. Empty means no credential is required.
	CredentialEnv string `json:"credential_env,omitempty" toml:"credential_env"`

	// CostPerUnit is the dollar cost per 1000 tokens.
	CostPerUnit float64 `json:"cost_per_unit" toml:"cost_per_unit"`

	// TypicalLatencyMs is the expected wall-clock latency of one call.
	TypicalLatencyMs int `json:"typical_latency_ms" toml:"typical_latency_ms"`

	// Priority orders responders within a lane; lower is preferred.
	Priority int `json:"priority" toml:"priority"`

	// ReliabilityBaseline is the empirical success-rate prior for this
	// responder, blended with observed outcomes during scoring.
	ReliabilityBaseline float64 `json:"reliability_baseline,omitempty" toml:"reliability_baseline"`

	// Tags are optional labels for filtering and diagnostics.
	Tags []string `json:"tags,omitempty" toml:"tags"`
}

// Validate checks that the profile has all required fields and valid values.
func (p *ResponderProfile) Validate() error {
	if p.Name == "" {
		return errors.New("responder name is required")
	}
	if !p.Lane.IsValid() {
		return fmt.Errorf("responder %q: invalid lane %q", p.Name, p.Lane)
	}
	if p.CostPerUnit < 0 {
		return fmt.Errorf("responder %q: negative cost_per_unit", p.Name)
	}
	if p.TypicalLatencyMs < 0 {
		return fmt.Errorf("responder %q: negative typical_latency_ms", p.Name)
	}
	if p.ReliabilityBaseline < 0 || p.ReliabilityBaseline > 1 {
		return fmt.Errorf("responder %q: reliability_baseline must be in [0,1]", p.Name)
	}
	return nil
}

// Available reports whether this responder is usable right now. A responder
// is available when it requires no credential or its credential environment
// variable is set. No network probing happens here so planning stays
// synchronous.
func (p *ResponderProfile) Available() bool {
	if p.CredentialEnv == "" {
		return true
	}
	return os.Getenv(p.CredentialEnv) != ""
}

// Registry is an immutable catalog of responder profiles with lane and
// name lookup.
type Registry struct {
	profiles []ResponderProfile
	byName   map[string]*ResponderProfile
	byLane   map[Lane][]*ResponderProfile
}

// New builds a registry from a slice of profiles. Duplicate names and
// invalid profiles are construction errors.
func New(profiles []ResponderProfile) (*Registry, error) {
	r := &Registry{
		profiles: make([]ResponderProfile, 0, len(profiles)),
		byName:   make(map[string]*ResponderProfile),
		byLane:   make(map[Lane][]*ResponderProfile),
	}

	for i := range profiles {
		p := profiles[i]
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("invalid responder profile: %w", err)
		}
		if _, exists := r.byName[p.Name]; exists {
			return nil, fmt.Errorf("duplicate responder name %q", p.Name)
		}
		r.profiles = append(r.profiles, p)
		stored := &r.profiles[len(r.profiles)-1]
		r.byName[p.Name] = stored
		r.byLane[p.Lane] = append(r.byLane[p.Lane], stored)
	}

	for lane := range r.byLane {
		members := r.byLane[lane]
		sort.SliceStable(members, func(i, j int) bool {
			return members[i].Priority < members[j].Priority
		})
	}

	return r, nil
}

// Get returns a profile by name.
func (r *Registry) Get(name string) (ResponderProfile, bool) {
	p, ok := r.byName[name]
	if !ok {
		return ResponderProfile{}, false
	}
	return *p, true
}

// ListAvailable returns the available responders for a lane, ordered by
// ascending priority. An empty slice (not an error) is returned when the
// lane has no usable responders; callers must handle empty lanes.
func (r *Registry) ListAvailable(lane Lane) []ResponderProfile {
	members := r.byLane[lane]
	result := make([]ResponderProfile, 0, len(members))
	for _, p := range members {
		if p.Available() {
			result = append(result, *p)
		}
	}
	return result
}

// List returns all profiles in the registry.
func (r *Registry) List() []ResponderProfile {
	result := make([]ResponderProfile, len(r.profiles))
	copy(result, r.profiles)
	return result
}

// Count returns the total number of profiles.
func (r *Registry) Count() int {
	return len(r.profiles)
}

// Handle is a process-scoped, swappable reference to the current registry.
// Planner and dispatcher read through the handle; configuration reloads
// replace the whole catalog atomically so no plan ever observes a
// half-updated registry.
type Handle struct {
	mu  sync.RWMutex
	reg *Registry
}

// NewHandle wraps a registry in a swappable handle.
func NewHandle(reg *Registry) *Handle {
	return &Handle{reg: reg}
}

// Current returns the registry this handle points at.
func (h *Handle) Current() *Registry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.reg
}

// Swap replaces the registry. Callers must only swap between dispatch
// batches, never while one is in flight.
func (h *Handle) Swap(reg *Registry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reg = reg
}
