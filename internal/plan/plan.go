// Package plan turns a task and a budget into an ExecutionPlan: the lanes
// to activate and the candidates that populate them, bounded so the
// estimated cost never silently exceeds the budget. Plans are immutable
// after dispatch; a retry always produces a new plan.
package plan

import (
	"time"

	"github.com/google/uuid"

	"github.com/Dicklesworthstone/quorum/internal/registry"
	"github.com/Dicklesworthstone/quorum/internal/task"
)

// CandidateStatus tracks the lifecycle of one responder attempt.
type CandidateStatus string

const (
	// StatusPlanned means the candidate was created but not yet dispatched.
	StatusPlanned CandidateStatus = "planned"
	// StatusCompleted means dispatch produced raw output.
	StatusCompleted CandidateStatus = "completed"
	// StatusFailed means dispatch errored or timed out.
	StatusFailed CandidateStatus = "failed"
	// StatusAccepted means the candidate's score cleared the threshold.
	StatusAccepted CandidateStatus = "accepted"
	// StatusDiscarded means the candidate was scored below the threshold.
	StatusDiscarded CandidateStatus = "discarded"
	// StatusMerged means the candidate was combined into an ensemble answer.
	StatusMerged CandidateStatus = "merged"
)

// String returns the status as a string.
func (s CandidateStatus) String() string {
	return string(s)
}

// IsTerminal returns true for final statuses.
func (s CandidateStatus) IsTerminal() bool {
	return s == StatusAccepted || s == StatusDiscarded || s == StatusMerged
}

// Candidate is one responder's attempt at answering a task within a plan.
// The planner creates candidates; the dispatcher is the only writer of the
// output fields; the scorer is the only writer of the score fields.
type Candidate struct {
	// ID uniquely identifies this candidate.
	ID string `json:"id"`

	// ResponderName references the registry profile that will serve it.
	ResponderName string `json:"responder_name"`

	// Lane is the lane this candidate was planned into.
	Lane registry.Lane `json:"lane"`

	// EstimatedCost is tokens/1000 * the responder's cost per unit.
	EstimatedCost float64 `json:"estimated_cost"`

	// EstimatedTimeMs mirrors the responder's typical latency.
	EstimatedTimeMs int `json:"estimated_time_ms"`

	// RawOutput is populated by the dispatcher on success.
	RawOutput string `json:"raw_output,omitempty"`

	// Err records the dispatch failure, if any.
	Err string `json:"error,omitempty"`

	// LatencyMs is the observed dispatch latency.
	LatencyMs int64 `json:"latency_ms,omitempty"`

	// Score is populated by the scorer (overall confidence in [0,1]).
	Score float64 `json:"score,omitempty"`

	// Status tracks the candidate lifecycle.
	Status CandidateStatus `json:"status"`
}

// Plan is the set of lanes and candidates chosen for one dispatch attempt.
type Plan struct {
	// ID uniquely identifies this plan.
	ID string `json:"id"`

	// TaskID references the task this plan serves.
	TaskID string `json:"task_id"`

	// Attempt is 1-based; retries produce new plans with a higher attempt.
	Attempt int `json:"attempt"`

	// Lanes maps each active lane to its candidates.
	Lanes map[registry.Lane][]Candidate `json:"lanes"`

	// TotalEstimatedCost sums candidate cost estimates.
	TotalEstimatedCost float64 `json:"total_estimated_cost"`

	// TotalEstimatedTimeMs sums candidate latency estimates; a
	// conservative figure since lanes dispatch concurrently.
	TotalEstimatedTimeMs int `json:"total_estimated_time_ms"`

	// TournamentSize is the global cap on candidates scored per lane,
	// independent of the fixed per-lane capacity.
	TournamentSize int `json:"tournament_size"`

	// MinConfidence is the acceptance threshold carried for scoring.
	MinConfidence float64 `json:"min_confidence"`

	// DegradedToFast records that the budget backstop collapsed the plan.
	DegradedToFast bool `json:"degraded_to_fast,omitempty"`

	// CreatedAt is when the plan was built.
	CreatedAt time.Time `json:"created_at"`
}

// Candidates flattens all lanes in dispatch-lane order.
func (p *Plan) Candidates() []Candidate {
	var out []Candidate
	for _, lane := range registry.AllLanes() {
		out = append(out, p.Lanes[lane]...)
	}
	return out
}

// CandidateCount returns the number of candidates across all lanes.
func (p *Plan) CandidateCount() int {
	n := 0
	for _, cs := range p.Lanes {
		n += len(cs)
	}
	return n
}

// Empty reports whether the plan has zero candidates. An empty plan is a
// valid output meaning "no responders available"; callers escalate rather
// than crash.
func (p *Plan) Empty() bool {
	return p.CandidateCount() == 0
}

// ActiveLanes returns the lanes that hold at least one candidate.
func (p *Plan) ActiveLanes() []registry.Lane {
	var out []registry.Lane
	for _, lane := range registry.AllLanes() {
		if len(p.Lanes[lane]) > 0 {
			out = append(out, lane)
		}
	}
	return out
}

// FastOnly reports whether the fast lane is the only active lane. Fast-only
// plans have no narrower plan to retry into.
func (p *Plan) FastOnly() bool {
	lanes := p.ActiveLanes()
	return len(lanes) == 1 && lanes[0] == registry.LaneFast
}

func newCandidate(profile registry.ResponderProfile, lane registry.Lane, tokens int) Candidate {
	return Candidate{
		ID:              uuid.NewString(),
		ResponderName:   profile.Name,
		Lane:            lane,
		EstimatedCost:   float64(tokens) / 1000.0 * profile.CostPerUnit,
		EstimatedTimeMs: profile.TypicalLatencyMs,
		Status:          StatusPlanned,
	}
}

func newPlan(t task.Task, attempt, tournamentSize int, minConfidence float64) *Plan {
	return &Plan{
		ID:             uuid.NewString(),
		TaskID:         t.ID,
		Attempt:        attempt,
		Lanes:          make(map[registry.Lane][]Candidate),
		TournamentSize: tournamentSize,
		MinConfidence:  minConfidence,
		CreatedAt:      time.Now().UTC(),
	}
}
