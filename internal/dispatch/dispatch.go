// Package dispatch fans a plan out to its responders concurrently and
// collects per-candidate outcomes. One slow or failing responder never
// blocks or poisons the rest of the batch; the batch as a whole fails only
// when every candidate fails.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Dicklesworthstone/quorum/internal/plan"
	"github.com/Dicklesworthstone/quorum/internal/task"
)

// ErrBatchFailed is returned when no candidate in a plan produced output.
var ErrBatchFailed = errors.New("dispatch: every candidate in the batch failed")

// DefaultCandidateTimeout bounds a single responder call.
const DefaultCandidateTimeout = 30 * time.Second

// Response is one responder's answer to a prompt.
type Response struct {
	// Text is the generated output.
	Text string
	// CostUSD is the incurred cost as reported by the responder, zero
	// when the responder does not report spend.
	CostUSD float64
}

// Responder generates text for a prompt. Implementations must honor
// context cancellation.
type Responder interface {
	Name() string
	Generate(ctx context.Context, prompt string) (Response, error)
}

// Pool resolves responder names from a plan to live Responder clients.
type Pool struct {
	mu         sync.RWMutex
	responders map[string]Responder
}

// NewPool builds a pool from the given responders, keyed by Name().
func NewPool(responders ...Responder) *Pool {
	p := &Pool{responders: make(map[string]Responder, len(responders))}
	for _, r := range responders {
		p.responders[r.Name()] = r
	}
	return p
}

// Get returns the responder registered under name.
func (p *Pool) Get(name string) (Responder, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.responders[name]
	return r, ok
}

// Put registers or replaces a responder.
func (p *Pool) Put(r Responder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responders[r.Name()] = r
}

// Outcome is the dispatch result for one candidate, with the candidate's
// output fields already filled in.
type Outcome struct {
	Candidate plan.Candidate `json:"candidate"`
	// IncurredCost is the actual spend for this candidate; falls back to
	// the planner's estimate when the responder reports none.
	IncurredCost float64 `json:"incurred_cost"`
}

// Failed reports whether the candidate produced no usable output.
func (o Outcome) Failed() bool {
	return o.Candidate.Status == plan.StatusFailed
}

// Batch is the collected result of dispatching one plan.
type Batch struct {
	PlanID   string    `json:"plan_id"`
	TaskID   string    `json:"task_id"`
	Outcomes []Outcome `json:"outcomes"`
	// TotalCost sums incurred cost across all outcomes, including failed
	// ones; spend happens whether or not the output is usable.
	TotalCost float64 `json:"total_cost"`
	// Elapsed is the wall-clock time of the whole fan-out.
	Elapsed time.Duration `json:"elapsed"`
}

// Completed returns the outcomes that produced output.
func (b *Batch) Completed() []Outcome {
	var out []Outcome
	for _, o := range b.Outcomes {
		if !o.Failed() {
			out = append(out, o)
		}
	}
	return out
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCandidateTimeout overrides the per-candidate timeout.
func WithCandidateTimeout(d time.Duration) Option {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.timeout = d
		}
	}
}

// WithLogger attaches a logger; the default is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(dp *Dispatcher) {
		if l != nil {
			dp.log = l
		}
	}
}

// WithEventSink attaches a sink that observes dispatch lifecycle events.
func WithEventSink(s Sink) Option {
	return func(dp *Dispatcher) {
		if s != nil {
			dp.events = s
		}
	}
}

// Dispatcher runs plans against a responder pool.
type Dispatcher struct {
	pool    *Pool
	timeout time.Duration
	log     *zap.Logger
	events  Sink
}

// New builds a Dispatcher over the pool.
func New(pool *Pool, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		pool:    pool,
		timeout: DefaultCandidateTimeout,
		log:     zap.NewNop(),
		events:  nopSink{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run dispatches every candidate in the plan concurrently and waits for
// all of them. Individual failures are recorded on their candidates; Run
// itself errors only when the context dies or when the whole batch failed.
func (d *Dispatcher) Run(ctx context.Context, p *plan.Plan, t task.Task) (*Batch, error) {
	candidates := p.Candidates()
	if len(candidates) == 0 {
		return nil, fmt.Errorf("plan %s: %w", p.ID, ErrBatchFailed)
	}

	start := time.Now()
	outcomes := make([]Outcome, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range candidates {
		g.Go(func() error {
			outcomes[i] = d.runOne(gctx, c, t)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch := &Batch{
		PlanID:   p.ID,
		TaskID:   t.ID,
		Outcomes: outcomes,
		Elapsed:  time.Since(start),
	}
	completed := 0
	for _, o := range outcomes {
		batch.TotalCost += o.IncurredCost
		if !o.Failed() {
			completed++
		}
	}

	d.log.Info("batch dispatched",
		zap.String("plan_id", p.ID),
		zap.String("task_id", t.ID),
		zap.Int("candidates", len(candidates)),
		zap.Int("completed", completed),
		zap.Float64("total_cost", batch.TotalCost),
		zap.Duration("elapsed", batch.Elapsed))

	if completed == 0 {
		return batch, fmt.Errorf("plan %s: %w", p.ID, ErrBatchFailed)
	}
	return batch, nil
}

// runOne executes a single candidate under the per-candidate timeout and
// returns its outcome. It never returns an error: failures are captured on
// the candidate so sibling candidates keep running.
func (d *Dispatcher) runOne(ctx context.Context, c plan.Candidate, t task.Task) Outcome {
	out := Outcome{Candidate: c, IncurredCost: c.EstimatedCost}

	responder, ok := d.pool.Get(c.ResponderName)
	if !ok {
		out.Candidate.Status = plan.StatusFailed
		out.Candidate.Err = fmt.Sprintf("responder %q not in pool", c.ResponderName)
		d.publish(EventCandidateFailed, t.ID, out.Candidate)
		return out
	}

	d.publish(EventCandidateStarted, t.ID, out.Candidate)

	cctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	resp, err := responder.Generate(cctx, t.Prompt)
	out.Candidate.LatencyMs = time.Since(start).Milliseconds()

	if err != nil {
		out.Candidate.Status = plan.StatusFailed
		out.Candidate.Err = err.Error()
		d.log.Warn("candidate failed",
			zap.String("task_id", t.ID),
			zap.String("responder", c.ResponderName),
			zap.Int64("latency_ms", out.Candidate.LatencyMs),
			zap.Error(err))
		d.publish(EventCandidateFailed, t.ID, out.Candidate)
		return out
	}

	out.Candidate.Status = plan.StatusCompleted
	out.Candidate.RawOutput = resp.Text
	if resp.CostUSD > 0 {
		out.IncurredCost = resp.CostUSD
	}
	d.publish(EventCandidateCompleted, t.ID, out.Candidate)
	return out
}

func (d *Dispatcher) publish(kind EventKind, taskID string, c plan.Candidate) {
	d.events.Publish(Event{
		Kind:        kind,
		TaskID:      taskID,
		CandidateID: c.ID,
		Responder:   c.ResponderName,
		Lane:        c.Lane.String(),
		At:          time.Now().UTC(),
	})
}
