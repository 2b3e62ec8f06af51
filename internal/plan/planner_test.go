package plan

import (
	"strings"
	"testing"
	"time"

	"github.com/Dicklesworthstone/quorum/internal/registry"
	"github.com/Dicklesworthstone/quorum/internal/task"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New([]registry.ResponderProfile{
		{Name: "fast-a", Lane: registry.LaneFast, CostPerUnit: 0.002, TypicalLatencyMs: 1000, Priority: 1},
		{Name: "fast-b", Lane: registry.LaneFast, CostPerUnit: 0.003, TypicalLatencyMs: 1100, Priority: 2},
		{Name: "focus-a", Lane: registry.LaneFocus, CostPerUnit: 0.01, TypicalLatencyMs: 4000, Priority: 1},
		{Name: "focus-b", Lane: registry.LaneFocus, CostPerUnit: 0.012, TypicalLatencyMs: 4200, Priority: 2},
		{Name: "focus-c", Lane: registry.LaneFocus, CostPerUnit: 0.015, TypicalLatencyMs: 4400, Priority: 3},
		{Name: "audit-a", Lane: registry.LaneAudit, CostPerUnit: 0.05, TypicalLatencyMs: 9000, Priority: 1},
		{Name: "audit-b", Lane: registry.LaneAudit, CostPerUnit: 0.06, TypicalLatencyMs: 9500, Priority: 2},
	})
	if err != nil {
		t.Fatalf("building registry: %v", err)
	}
	return reg
}

func mustTask(t *testing.T, prompt string, budget task.Budget) task.Task {
	t.Helper()
	tk, err := task.New(prompt, budget)
	if err != nil {
		t.Fatalf("task.New: %v", err)
	}
	return tk
}

// Prompts sized to hit each complexity class (4 chars per token).
func simplePrompt() string   { return "short prompt" }
func moderatePrompt() string { return strings.Repeat("describe the plan here ", 50) }  // ~280 tokens
func complexPrompt() string  { return strings.Repeat("describe the plan here ", 120) } // ~690 tokens

func TestLowBudgetSelectsFastLaneOnly(t *testing.T) {
	pl := NewPlanner(testRegistry(t), DefaultConfig())

	// Property: for all budgets below the low floor, exactly the fast
	// lane with at most one candidate, regardless of complexity.
	budgets := []float64{0.001, 0.01, 0.049}
	prompts := []string{simplePrompt(), moderatePrompt(), complexPrompt()}

	for _, b := range budgets {
		for _, prompt := range prompts {
			tk := mustTask(t, prompt, task.Budget{MaxCost: b})
			p := pl.Plan(tk, 1)

			lanes := p.ActiveLanes()
			if len(lanes) != 1 || lanes[0] != registry.LaneFast {
				t.Errorf("budget %.3f: expected fast lane only, got %v", b, lanes)
			}
			if n := p.CandidateCount(); n > 1 {
				t.Errorf("budget %.3f: expected at most 1 candidate, got %d", b, n)
			}
		}
	}
}

func TestLanePolicyTable(t *testing.T) {
	pl := NewPlanner(testRegistry(t), DefaultConfig())

	cases := []struct {
		name   string
		prompt string
		budget float64
		want   []registry.Lane
	}{
		{"simple high budget", simplePrompt(), 1.0, []registry.Lane{registry.LaneFast}},
		{"moderate", moderatePrompt(), 0.30, []registry.Lane{registry.LaneFocus, registry.LaneAudit}},
		{"complex high budget", complexPrompt(), 1.0, []registry.Lane{registry.LaneFast, registry.LaneFocus, registry.LaneAudit}},
		{"complex mid budget", complexPrompt(), 0.30, []registry.Lane{registry.LaneFocus}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tk := mustTask(t, tc.prompt, task.Budget{MaxCost: tc.budget})
			p := pl.Plan(tk, 1)

			got := p.ActiveLanes()
			if len(got) != len(tc.want) {
				t.Fatalf("lanes = %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("lanes = %v, want %v", got, tc.want)
					break
				}
			}
		})
	}
}

func TestLaneCapacities(t *testing.T) {
	pl := NewPlanner(testRegistry(t), DefaultConfig())

	tk := mustTask(t, complexPrompt(), task.Budget{MaxCost: 100})
	p := pl.Plan(tk, 1)

	if n := len(p.Lanes[registry.LaneFast]); n != 1 {
		t.Errorf("fast lane: expected 1 candidate, got %d", n)
	}
	if n := len(p.Lanes[registry.LaneFocus]); n != 2 {
		t.Errorf("focus lane: expected 2 candidates, got %d", n)
	}
	if n := len(p.Lanes[registry.LaneAudit]); n != 2 {
		t.Errorf("audit lane: expected min(3, 2 available) = 2 candidates, got %d", n)
	}

	// Within a lane, lower priority value is preferred.
	if got := p.Lanes[registry.LaneFocus][0].ResponderName; got != "focus-a" {
		t.Errorf("expected priority-1 focus-a first, got %q", got)
	}
}

func TestTournamentSizeIndependentOfLaneCaps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TournamentSize = 1
	pl := NewPlanner(testRegistry(t), cfg)

	tk := mustTask(t, complexPrompt(), task.Budget{MaxCost: 100})
	p := pl.Plan(tk, 1)

	for lane, cs := range p.Lanes {
		if len(cs) > 1 {
			t.Errorf("lane %s: tournament size 1 must cap candidates, got %d", lane, len(cs))
		}
	}
}

func TestBudgetBackstopDegradesToFast(t *testing.T) {
	pl := NewPlanner(testRegistry(t), DefaultConfig())

	// Complex task whose full three-lane estimate exceeds the budget but
	// clears the high floor, forcing the degrade path.
	tk := mustTask(t, strings.Repeat("x", 40000), task.Budget{MaxCost: 0.051})
	p := pl.Plan(tk, 1)

	if !p.DegradedToFast {
		t.Fatal("expected plan degraded to fast lane")
	}
	if !p.FastOnly() {
		t.Fatalf("degraded plan must be fast-only, got lanes %v", p.ActiveLanes())
	}
	if p.TotalEstimatedCost > 0.051 {
		t.Errorf("degraded plan still exceeds budget: %.4f", p.TotalEstimatedCost)
	}
}

func TestEmptyPlanWhenNoResponders(t *testing.T) {
	reg, err := registry.New(nil)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	pl := NewPlanner(reg, DefaultConfig())

	tk := mustTask(t, simplePrompt(), task.Budget{MaxCost: 1})
	p := pl.Plan(tk, 1)

	if !p.Empty() {
		t.Fatal("expected empty plan with no responders")
	}
	if p.ID == "" {
		t.Error("empty plan must still carry an ID")
	}
}

func TestCostAndTimeEstimates(t *testing.T) {
	pl := NewPlanner(testRegistry(t), DefaultConfig())

	tk := mustTask(t, simplePrompt(), task.Budget{MaxCost: 1})
	p := pl.Plan(tk, 1)

	cs := p.Candidates()
	if len(cs) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(cs))
	}
	wantCost := float64(tk.Tokens) / 1000.0 * 0.002
	if cs[0].EstimatedCost != wantCost {
		t.Errorf("estimated cost = %f, want %f", cs[0].EstimatedCost, wantCost)
	}
	if cs[0].EstimatedTimeMs != 1000 {
		t.Errorf("estimated time = %d, want 1000", cs[0].EstimatedTimeMs)
	}
	if p.TotalEstimatedCost != wantCost {
		t.Errorf("total cost = %f, want %f", p.TotalEstimatedCost, wantCost)
	}
}

func TestNarrowerFromFastOnlyReportsNoNarrowing(t *testing.T) {
	pl := NewPlanner(testRegistry(t), DefaultConfig())

	tk := mustTask(t, simplePrompt(), task.Budget{MaxCost: 0.01})
	first := pl.Plan(tk, 1)
	if !first.FastOnly() {
		t.Fatalf("precondition: expected fast-only first plan")
	}

	_, ok := pl.Narrower(tk, first, first.TotalEstimatedCost, 2)
	if ok {
		t.Error("fast-only plans must report that no narrowing remains")
	}
}

func TestNarrowerRefusesExhaustedBudget(t *testing.T) {
	pl := NewPlanner(testRegistry(t), DefaultConfig())

	tk := mustTask(t, complexPrompt(), task.Budget{MaxCost: 0.60})
	first := pl.Plan(tk, 1)
	if first.FastOnly() {
		t.Fatal("precondition: expected multi-lane first plan")
	}

	// The whole budget was consumed by the first attempt. A zero
	// remainder must not fall back to the default budget and revive
	// a multi-lane retry.
	for _, spent := range []float64{0.60, 0.75} {
		if _, ok := pl.Narrower(tk, first, spent, 2); ok {
			t.Errorf("spent %.2f of 0.60: expected no retry plan", spent)
		}
	}
}

func TestNarrowerReducesBudgetBySpend(t *testing.T) {
	pl := NewPlanner(testRegistry(t), DefaultConfig())

	tk := mustTask(t, complexPrompt(), task.Budget{MaxCost: 1.0})
	first := pl.Plan(tk, 1)
	if first.FastOnly() {
		t.Fatal("precondition: expected multi-lane first plan")
	}

	retry, ok := pl.Narrower(tk, first, 0.97, 2)
	if !ok {
		t.Fatal("expected a retry plan")
	}
	if retry.Attempt != 2 {
		t.Errorf("retry attempt = %d, want 2", retry.Attempt)
	}
	// With only $0.03 left the lane policy collapses to the fast lane.
	if !retry.FastOnly() {
		t.Errorf("expected fast-only retry under the low floor, got %v", retry.ActiveLanes())
	}
	if retry.ID == first.ID {
		t.Error("retry must be a new plan, not a mutation of the old one")
	}
}

func TestDefaultBudgetApplied(t *testing.T) {
	pl := NewPlanner(testRegistry(t), DefaultConfig())

	b := pl.EffectiveBudget(task.Budget{})
	if b.MaxCost != 1.00 {
		t.Errorf("default max cost = %f, want 1.00", b.MaxCost)
	}
	if b.MaxWallClock != 5*time.Minute {
		t.Errorf("default wall clock = %v, want 5m", b.MaxWallClock)
	}

	b = pl.EffectiveBudget(task.Budget{MaxCost: 0.25})
	if b.MaxCost != 0.25 {
		t.Errorf("explicit max cost should be kept, got %f", b.MaxCost)
	}
}
