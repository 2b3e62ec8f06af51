// Package orchestrator runs the full task lifecycle: plan, dispatch,
// score, then accept, retry with a narrower plan, or escalate. Escalation
// is a normal terminal state and carries the complete decision trail; the
// only hard errors out of Submit are malformed input and a dead context.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Dicklesworthstone/quorum/internal/aggregate"
	"github.com/Dicklesworthstone/quorum/internal/dispatch"
	"github.com/Dicklesworthstone/quorum/internal/ensemble"
	"github.com/Dicklesworthstone/quorum/internal/history"
	"github.com/Dicklesworthstone/quorum/internal/plan"
	"github.com/Dicklesworthstone/quorum/internal/registry"
	"github.com/Dicklesworthstone/quorum/internal/score"
	"github.com/Dicklesworthstone/quorum/internal/task"
)

// Final is the successful outcome: an accepted (possibly merged) answer.
type Final struct {
	Text       string          `json:"text"`
	Breakdown  score.Breakdown `json:"breakdown"`
	Responders []string        `json:"responders"`

	// Merged is set when two candidates were combined; Confidence then
	// holds the merged confidence rather than the single best overall.
	Merged     bool    `json:"merged"`
	Confidence float64 `json:"confidence"`

	Summary   aggregate.Summary `json:"summary"`
	Attempts  int               `json:"attempts"`
	TotalCost float64           `json:"total_cost"`
}

// AttemptRecord is one plan-and-decision pair in the trail.
type AttemptRecord struct {
	Plan     *plan.Plan       `json:"plan"`
	Decision history.Decision `json:"decision"`
}

// Escalation is the terminal outcome when no candidate reached acceptance
// confidence within the retry and wall-clock budgets.
type Escalation struct {
	Reason    string          `json:"reason"`
	Attempts  int             `json:"attempts"`
	Trail     []AttemptRecord `json:"trail"`
	TotalCost float64         `json:"total_cost"`
}

// Result is either a Final or an Escalation, never both.
type Result struct {
	TaskID     string      `json:"task_id"`
	Final      *Final      `json:"final,omitempty"`
	Escalation *Escalation `json:"escalation,omitempty"`
}

// Accepted reports whether the task produced a final answer.
func (r Result) Accepted() bool { return r.Final != nil }

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// WithHistory attaches a persistent outcome store. Without one the
// orchestrator still runs; reliability evidence just loses its recent
// success-rate signal.
func WithHistory(s *history.Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithThresholds overrides the acceptance and retry limits.
func WithThresholds(t score.Thresholds) Option {
	return func(o *Orchestrator) {
		if t.Validate() == nil {
			o.thresholds = t
		}
	}
}

// WithEnsembleThresholds overrides the merge gates.
func WithEnsembleThresholds(t ensemble.Thresholds) Option {
	return func(o *Orchestrator) { o.merger = ensemble.New(t) }
}

// WithCostNormalizer overrides the scorer's cost normalizer.
func WithCostNormalizer(n float64) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.costNormalizer = n
		}
	}
}

// WithRecentWindow overrides how many recent outcomes feed reliability.
func WithRecentWindow(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.recentWindow = n
		}
	}
}

// EvidenceSource supplies external scoring evidence for one candidate:
// deterministic check results, extracted claims with their source text,
// and fluency/relevance boosts. Reliability, peer agreement, and cost are
// filled in by the orchestrator itself.
type EvidenceSource func(t task.Task, c plan.Candidate) score.Evidence

// WithEvidenceSource attaches an external evidence collector. Without one,
// every external dimension scores at its neutral default.
func WithEvidenceSource(src EvidenceSource) Option {
	return func(o *Orchestrator) { o.evidence = src }
}

// Orchestrator coordinates one registry, one dispatcher, and one scorer
// configuration across task submissions.
type Orchestrator struct {
	handle     *registry.Handle
	planner    *plan.Planner
	dispatcher *dispatch.Dispatcher
	merger     *ensemble.Merger
	store      *history.Store

	plannerCfg     plan.Config
	evidence       EvidenceSource
	thresholds     score.Thresholds
	costNormalizer float64
	recentWindow   int
	log            *zap.Logger
}

// New wires an orchestrator. The registry handle allows catalog reloads
// between batches; the planner is rebuilt from the current registry at
// each submission so a mid-flight reload never changes an in-progress
// attempt.
func New(handle *registry.Handle, dispatcher *dispatch.Dispatcher, plannerCfg plan.Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		handle:         handle,
		dispatcher:     dispatcher,
		plannerCfg:     plannerCfg,
		merger:         ensemble.New(ensemble.DefaultThresholds()),
		thresholds:     score.DefaultThresholds(),
		costNormalizer: score.DefaultCostNormalizer,
		recentWindow:   history.DefaultRecentWindow,
		log:            zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Submit runs the task to a terminal state. The returned error is non-nil
// only for malformed input or context death; low confidence, responder
// failure, and empty plans all surface as an Escalation inside Result.
func (o *Orchestrator) Submit(ctx context.Context, t task.Task) (Result, error) {
	if t.ID == "" {
		return Result{}, errors.New("orchestrator: task has no id")
	}
	if err := t.Validate(); err != nil {
		return Result{}, err
	}

	planner := plan.NewPlanner(o.handle.Current(), o.plannerCfg)
	budget := planner.EffectiveBudget(t.Budget)
	deadline := time.Now().Add(budget.MaxWallClock)

	res := Result{TaskID: t.ID}
	var (
		trail     []AttemptRecord
		totalCost float64
		current   *plan.Plan
	)

	for attempt := 1; ; attempt++ {
		if current == nil {
			current = planner.Plan(t, attempt)
		}

		if current.Empty() {
			res.Escalation = o.escalate(t, trail, attempt, totalCost,
				"no responders available for the required lanes")
			return res, nil
		}

		batch, err := o.dispatcher.Run(ctx, current, t)
		if batch != nil {
			totalCost += batch.TotalCost
			o.recordBatch(batch)
		}
		if err != nil && !errors.Is(err, dispatch.ErrBatchFailed) {
			return res, fmt.Errorf("dispatch attempt %d: %w", attempt, err)
		}

		var (
			best     *scored
			accepted []scored
		)
		if err == nil {
			best, accepted = o.scoreBatch(t, batch)
		}

		decision := history.Decision{
			TaskID:    t.ID,
			PlanID:    current.ID,
			Attempt:   attempt,
			CreatedAt: time.Now().UTC(),
		}

		fate := score.FateEscalated
		switch {
		case best == nil:
			decision.Reason = "every candidate in the batch failed"
			if attempt < o.thresholds.MaxRetries {
				fate = score.FateRetry
			}
		default:
			decision.Overall = best.breakdown.Overall
			fate = score.DecideFate(best.breakdown.Overall, attempt, o.thresholds)
			switch fate {
			case score.FateAccepted:
				decision.Reason = fmt.Sprintf("confidence %.3f cleared floor %.3f",
					best.breakdown.Overall, o.thresholds.MinConfidence)
			case score.FateRetry:
				decision.Reason = fmt.Sprintf("confidence %.3f below floor %.3f, retrying",
					best.breakdown.Overall, o.thresholds.MinConfidence)
			default:
				decision.Reason = fmt.Sprintf("confidence %.3f below floor %.3f, retry budget exhausted",
					best.breakdown.Overall, o.thresholds.MinConfidence)
			}
		}

		// Wall-clock gate: never issue a further retry past the time cap.
		// Running dispatches are not aborted; only the next plan is refused.
		if fate == score.FateRetry && time.Now().After(deadline) {
			fate = score.FateEscalated
			decision.Reason = "wall-clock budget exhausted"
		}

		var next *plan.Plan
		if fate == score.FateRetry {
			narrowed, ok := planner.Narrower(t, current, totalCost, attempt+1)
			if !ok {
				fate = score.FateEscalated
				decision.Reason = "no narrower plan remains to retry into"
			} else {
				next = narrowed
			}
		}

		decision.Fate = fate.String()
		o.recordDecision(decision)
		trail = append(trail, AttemptRecord{Plan: current, Decision: decision})

		o.log.Info("attempt decided",
			zap.String("task_id", t.ID),
			zap.Int("attempt", attempt),
			zap.String("fate", decision.Fate),
			zap.Float64("overall", decision.Overall),
			zap.Float64("total_cost", totalCost))

		switch fate {
		case score.FateAccepted:
			res.Final = o.finalize(best, accepted, attempt, totalCost)
			return res, nil
		case score.FateEscalated:
			res.Escalation = o.escalate(t, trail, attempt, totalCost, decision.Reason)
			return res, nil
		}

		current = next
	}
}

type scored struct {
	outcome   dispatch.Outcome
	breakdown score.Breakdown
}

// scoreBatch scores every completed outcome and returns the best plus all
// candidates that individually cleared the acceptance floor.
func (o *Orchestrator) scoreBatch(t task.Task, batch *dispatch.Batch) (*scored, []scored) {
	reg := o.handle.Current()

	completed := batch.Completed()

	var best *scored
	var accepted []scored
	for i, out := range completed {
		var ev score.Evidence
		if o.evidence != nil {
			ev = o.evidence(t, out.Candidate)
		}
		ev.IncurredCost = out.IncurredCost
		ev.CostNormalizer = o.costNormalizer
		ev.PeerAgreement = nil
		for j, peer := range completed {
			if i == j {
				continue
			}
			ev.PeerAgreement = append(ev.PeerAgreement,
				ensemble.Similarity(out.Candidate.RawOutput, peer.Candidate.RawOutput))
		}
		if profile, ok := reg.Get(out.Candidate.ResponderName); ok {
			ev.ResponderBaseline = profile.ReliabilityBaseline
			ev.HasBaseline = true
		}
		if o.store != nil {
			if rate, ok, err := o.store.RecentSuccessRate(out.Candidate.ResponderName, o.recentWindow); err == nil && ok {
				ev.RecentSuccessRate = rate
				ev.HasRecentRate = true
			}
		}

		s := scored{outcome: out, breakdown: score.Score(out.Candidate.RawOutput, ev)}
		s.outcome.Candidate.Score = s.breakdown.Overall

		if s.breakdown.Overall >= o.thresholds.MinConfidence {
			accepted = append(accepted, s)
		}
		if best == nil || s.breakdown.Overall > best.breakdown.Overall {
			b := s
			best = &b
		}
	}
	return best, accepted
}

// finalize builds the Final from the winning candidate, merging with the
// runner-up when the pair is compatible, and aggregating every accepted
// output into the summary.
func (o *Orchestrator) finalize(best *scored, accepted []scored, attempts int, totalCost float64) *Final {
	f := &Final{
		Text:       best.outcome.Candidate.RawOutput,
		Breakdown:  best.breakdown,
		Responders: []string{best.outcome.Candidate.ResponderName},
		Confidence: best.breakdown.Overall,
		Attempts:   attempts,
		TotalCost:  totalCost,
	}

	if second := runnerUp(best, accepted); second != nil {
		merge := o.merger.Attempt(
			best.outcome.Candidate, second.outcome.Candidate,
			best.breakdown.Overall, second.breakdown.Overall)
		if merge.CanMerge {
			f.Merged = true
			f.Confidence = merge.MergedConfidence
			f.Responders = append(f.Responders, second.outcome.Candidate.ResponderName)
		}
	}

	inputs := make([]aggregate.Input, 0, len(accepted))
	for _, s := range accepted {
		inputs = append(inputs, aggregate.Input{
			Source:     s.outcome.Candidate.ResponderName,
			Text:       s.outcome.Candidate.RawOutput,
			Confidence: s.breakdown.Overall,
		})
	}
	if len(inputs) == 0 {
		inputs = []aggregate.Input{{
			Source:     best.outcome.Candidate.ResponderName,
			Text:       best.outcome.Candidate.RawOutput,
			Confidence: best.breakdown.Overall,
		}}
	}
	f.Summary = aggregate.Aggregate(inputs)
	return f
}

// runnerUp returns the highest-scoring accepted candidate other than best.
func runnerUp(best *scored, accepted []scored) *scored {
	var second *scored
	for i := range accepted {
		s := &accepted[i]
		if s.outcome.Candidate.ID == best.outcome.Candidate.ID {
			continue
		}
		if second == nil || s.breakdown.Overall > second.breakdown.Overall {
			second = s
		}
	}
	return second
}

func (o *Orchestrator) escalate(t task.Task, trail []AttemptRecord, attempts int, totalCost float64, reason string) *Escalation {
	o.log.Warn("task escalated",
		zap.String("task_id", t.ID),
		zap.Int("attempts", attempts),
		zap.String("reason", reason))
	return &Escalation{
		Reason:    reason,
		Attempts:  attempts,
		Trail:     trail,
		TotalCost: totalCost,
	}
}

func (o *Orchestrator) recordBatch(b *dispatch.Batch) {
	if o.store == nil {
		return
	}
	if err := o.store.RecordBatch(b); err != nil {
		o.log.Warn("record batch", zap.String("plan_id", b.PlanID), zap.Error(err))
	}
}

func (o *Orchestrator) recordDecision(d history.Decision) {
	if o.store == nil {
		return
	}
	if err := o.store.RecordDecision(d); err != nil {
		o.log.Warn("record decision", zap.String("task_id", d.TaskID), zap.Error(err))
	}
}
