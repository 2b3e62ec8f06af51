package plan

import (
	"time"

	"github.com/Dicklesworthstone/quorum/internal/registry"
	"github.com/Dicklesworthstone/quorum/internal/task"
)

// Per-lane candidate capacity. This is a fixed property of the lane policy
// and deliberately independent of the configurable TournamentSize cap.
const (
	fastLaneCap  = 1
	focusLaneCap = 2
	auditLaneCap = 3
)

// Config controls planning behavior.
type Config struct {
	// LowBudgetFloor is the dollar budget below which only the fast lane
	// activates regardless of complexity.
	LowBudgetFloor float64 `json:"low_budget_floor" yaml:"low_budget_floor"`

	// HighBudgetFloor is the dollar budget above which a complex task may
	// activate all three lanes.
	HighBudgetFloor float64 `json:"high_budget_floor" yaml:"high_budget_floor"`

	// TournamentSize caps candidates per lane on top of the fixed lane
	// capacities (fast 1, focus 2, audit 3).
	TournamentSize int `json:"tournament_size" yaml:"tournament_size"`

	// MinConfidence is the acceptance threshold carried into each plan.
	MinConfidence float64 `json:"min_confidence" yaml:"min_confidence"`

	// DefaultBudget applies when a task's budget has zero values.
	DefaultBudget task.Budget `json:"default_budget" yaml:"default_budget"`
}

// DefaultConfig returns the standard planning parameters.
func DefaultConfig() Config {
	return Config{
		LowBudgetFloor:  0.05,
		HighBudgetFloor: 0.50,
		TournamentSize:  3,
		MinConfidence:   0.82,
		DefaultBudget: task.Budget{
			MaxCost:      1.00,
			MaxWallClock: 5 * time.Minute,
		},
	}
}

// Planner builds execution plans against a responder registry. The
// registry is read-only at plan time.
type Planner struct {
	cfg Config
	reg *registry.Registry
}

// NewPlanner creates a planner over a registry.
func NewPlanner(reg *registry.Registry, cfg Config) *Planner {
	if cfg.TournamentSize <= 0 {
		cfg.TournamentSize = DefaultConfig().TournamentSize
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = DefaultConfig().MinConfidence
	}
	return &Planner{cfg: cfg, reg: reg}
}

// Config returns the planner's effective configuration.
func (pl *Planner) Config() Config {
	return pl.cfg
}

// EffectiveBudget resolves a task budget against the configured defaults.
func (pl *Planner) EffectiveBudget(b task.Budget) task.Budget {
	if b.MaxCost == 0 {
		b.MaxCost = pl.cfg.DefaultBudget.MaxCost
	}
	if b.MaxWallClock == 0 {
		b.MaxWallClock = pl.cfg.DefaultBudget.MaxWallClock
	}
	return b
}

// activeLanes applies the fixed lane policy table.
func (pl *Planner) activeLanes(complexity task.Complexity, maxCost float64) []registry.Lane {
	switch {
	case maxCost < pl.cfg.LowBudgetFloor || complexity == task.ComplexitySimple:
		return []registry.Lane{registry.LaneFast}
	case complexity == task.ComplexityComplex && maxCost > pl.cfg.HighBudgetFloor:
		return []registry.Lane{registry.LaneFast, registry.LaneFocus, registry.LaneAudit}
	case complexity == task.ComplexityModerate:
		return []registry.Lane{registry.LaneFocus, registry.LaneAudit}
	default:
		return []registry.Lane{registry.LaneFocus}
	}
}

// laneCapacity returns the fixed candidate cap for a lane.
func laneCapacity(lane registry.Lane, available int) int {
	switch lane {
	case registry.LaneFast:
		return fastLaneCap
	case registry.LaneFocus:
		return focusLaneCap
	case registry.LaneAudit:
		if available < auditLaneCap {
			return available
		}
		return auditLaneCap
	default:
		return 0
	}
}

// Plan builds the execution plan for one attempt. A plan with zero
// candidates is a valid result and signals "no responders available".
func (pl *Planner) Plan(t task.Task, attempt int) *Plan {
	budget := pl.EffectiveBudget(t.Budget)
	p := newPlan(t, attempt, pl.cfg.TournamentSize, pl.cfg.MinConfidence)

	pl.populate(p, t, pl.activeLanes(t.Complexity, budget.MaxCost))

	// Hard backstop: a plan whose estimate exceeds the budget degrades to
	// the fast lane; the budget is never exceeded silently.
	if p.TotalEstimatedCost > budget.MaxCost && !p.FastOnly() {
		degraded := newPlan(t, attempt, pl.cfg.TournamentSize, pl.cfg.MinConfidence)
		degraded.ID = p.ID
		degraded.DegradedToFast = true
		pl.populate(degraded, t, []registry.Lane{registry.LaneFast})
		return degraded
	}

	return p
}

// populate fills the given lanes with candidates and recomputes totals.
func (pl *Planner) populate(p *Plan, t task.Task, lanes []registry.Lane) {
	p.TotalEstimatedCost = 0
	p.TotalEstimatedTimeMs = 0

	for _, lane := range lanes {
		available := pl.reg.ListAvailable(lane)
		if len(available) == 0 {
			continue
		}

		limit := laneCapacity(lane, len(available))
		if limit > pl.cfg.TournamentSize {
			limit = pl.cfg.TournamentSize
		}
		if limit > len(available) {
			limit = len(available)
		}

		for _, profile := range available[:limit] {
			c := newCandidate(profile, lane, t.Tokens)
			p.Lanes[lane] = append(p.Lanes[lane], c)
			p.TotalEstimatedCost += c.EstimatedCost
			p.TotalEstimatedTimeMs += c.EstimatedTimeMs
		}
	}
}

// Narrower builds the retry plan after a failed attempt. The retry
// re-plans with the budget reduced by what was already spent. It returns
// ok=false when no narrowing remains: a fast-only plan has nowhere
// narrower to go, and a fully spent budget leaves nothing to retry with.
// Both force escalation.
func (pl *Planner) Narrower(t task.Task, prev *Plan, spent float64, attempt int) (*Plan, bool) {
	if prev != nil && prev.FastOnly() {
		return nil, false
	}

	budget := pl.EffectiveBudget(t.Budget)
	remaining := budget.MaxCost - spent
	if remaining <= 0 {
		// MaxCost == 0 would be remapped to the configured default by
		// EffectiveBudget, turning an exhausted budget back into a full one.
		return nil, false
	}

	narrowed := t
	narrowed.Budget.MaxCost = remaining
	narrowed.Budget.MaxWallClock = budget.MaxWallClock

	p := pl.Plan(narrowed, attempt)
	return p, true
}
