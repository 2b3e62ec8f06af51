package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Dicklesworthstone/quorum/internal/plan"
	"github.com/Dicklesworthstone/quorum/internal/registry"
	"github.com/Dicklesworthstone/quorum/internal/task"
)

type fakeResponder struct {
	name  string
	text  string
	cost  float64
	err   error
	delay time.Duration
}

func (f *fakeResponder) Name() string { return f.name }

func (f *fakeResponder) Generate(ctx context.Context, prompt string) (Response, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
	}
	if f.err != nil {
		return Response{}, f.err
	}
	return Response{Text: f.text, CostUSD: f.cost}, nil
}

func testPlan(names ...string) *plan.Plan {
	p := &plan.Plan{
		ID:     "plan-1",
		TaskID: "task-1",
		Lanes:  make(map[registry.Lane][]plan.Candidate),
	}
	for i, name := range names {
		p.Lanes[registry.LaneFocus] = append(p.Lanes[registry.LaneFocus], plan.Candidate{
			ID:            fmt.Sprintf("cand-%d", i),
			ResponderName: name,
			Lane:          registry.LaneFocus,
			EstimatedCost: 0.01,
			Status:        plan.StatusPlanned,
		})
	}
	return p
}

func testTask(t *testing.T) task.Task {
	t.Helper()
	tk, err := task.New("summarize the design notes", task.Budget{MaxCost: 1, MaxWallClock: time.Minute})
	if err != nil {
		t.Fatalf("task.New: %v", err)
	}
	tk.ID = "task-1"
	return tk
}

func TestRunCollectsAllOutcomes(t *testing.T) {
	pool := NewPool(
		&fakeResponder{name: "a", text: "answer from a", cost: 0.02},
		&fakeResponder{name: "b", text: "answer from b"},
	)
	d := New(pool)

	batch, err := d.Run(context.Background(), testPlan("a", "b"), testTask(t))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(batch.Outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(batch.Outcomes))
	}
	for _, o := range batch.Outcomes {
		if o.Candidate.Status != plan.StatusCompleted {
			t.Errorf("candidate %s status = %s, want completed", o.Candidate.ID, o.Candidate.Status)
		}
	}
	if got := batch.Outcomes[0].IncurredCost; got != 0.02 {
		t.Errorf("reported cost = %.3f, want responder-reported 0.02", got)
	}
	if got := batch.Outcomes[1].IncurredCost; got != 0.01 {
		t.Errorf("fallback cost = %.3f, want planner estimate 0.01", got)
	}
}

func TestRunOneFailureDoesNotPoisonBatch(t *testing.T) {
	pool := NewPool(
		&fakeResponder{name: "ok", text: "fine"},
		&fakeResponder{name: "broken", err: errors.New("upstream 500")},
	)
	d := New(pool)

	batch, err := d.Run(context.Background(), testPlan("ok", "broken"), testTask(t))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	completed := batch.Completed()
	if len(completed) != 1 || completed[0].Candidate.ResponderName != "ok" {
		t.Fatalf("completed = %+v, want exactly the ok responder", completed)
	}
	var failed *Outcome
	for i := range batch.Outcomes {
		if batch.Outcomes[i].Failed() {
			failed = &batch.Outcomes[i]
		}
	}
	if failed == nil || failed.Candidate.Err != "upstream 500" {
		t.Fatalf("failed outcome missing or wrong error: %+v", failed)
	}
}

func TestRunAllFailedReturnsErrBatchFailed(t *testing.T) {
	pool := NewPool(&fakeResponder{name: "broken", err: errors.New("down")})
	d := New(pool)

	batch, err := d.Run(context.Background(), testPlan("broken"), testTask(t))
	if !errors.Is(err, ErrBatchFailed) {
		t.Fatalf("err = %v, want ErrBatchFailed", err)
	}
	if batch == nil || len(batch.Outcomes) != 1 {
		t.Fatal("batch with outcomes should still be returned alongside the error")
	}
}

func TestRunEmptyPlanReturnsErrBatchFailed(t *testing.T) {
	d := New(NewPool())
	_, err := d.Run(context.Background(), testPlan(), testTask(t))
	if !errors.Is(err, ErrBatchFailed) {
		t.Fatalf("err = %v, want ErrBatchFailed", err)
	}
}

func TestRunUnknownResponderFailsCandidate(t *testing.T) {
	pool := NewPool(&fakeResponder{name: "ok", text: "fine"})
	d := New(pool)

	batch, err := d.Run(context.Background(), testPlan("ok", "ghost"), testTask(t))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(batch.Completed()) != 1 {
		t.Fatalf("completed = %d, want 1", len(batch.Completed()))
	}
}

func TestRunCandidateTimeout(t *testing.T) {
	pool := NewPool(
		&fakeResponder{name: "slow", text: "late", delay: time.Second},
		&fakeResponder{name: "quick", text: "on time"},
	)
	d := New(pool, WithCandidateTimeout(20*time.Millisecond))

	batch, err := d.Run(context.Background(), testPlan("slow", "quick"), testTask(t))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, o := range batch.Outcomes {
		switch o.Candidate.ResponderName {
		case "slow":
			if !o.Failed() {
				t.Error("slow responder should have timed out")
			}
		case "quick":
			if o.Failed() {
				t.Errorf("quick responder failed: %s", o.Candidate.Err)
			}
		}
	}
}

func TestRunTotalCostIncludesFailures(t *testing.T) {
	pool := NewPool(
		&fakeResponder{name: "ok", text: "fine", cost: 0.05},
		&fakeResponder{name: "broken", err: errors.New("down")},
	)
	d := New(pool)

	batch, err := d.Run(context.Background(), testPlan("ok", "broken"), testTask(t))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// 0.05 reported plus the 0.01 estimate for the failed candidate.
	want := 0.06
	if diff := batch.TotalCost - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("TotalCost = %.4f, want %.4f", batch.TotalCost, want)
	}
}

func TestEventsPublishedPerCandidate(t *testing.T) {
	pool := NewPool(
		&fakeResponder{name: "ok", text: "fine"},
		&fakeResponder{name: "broken", err: errors.New("down")},
	)

	var mu sync.Mutex
	kinds := make(map[EventKind]int)
	sink := SinkFunc(func(e Event) {
		mu.Lock()
		kinds[e.Kind]++
		mu.Unlock()
	})

	d := New(pool, WithEventSink(sink))
	if _, err := d.Run(context.Background(), testPlan("ok", "broken"), testTask(t)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if kinds[EventCandidateStarted] != 2 {
		t.Errorf("started events = %d, want 2", kinds[EventCandidateStarted])
	}
	if kinds[EventCandidateCompleted] != 1 {
		t.Errorf("completed events = %d, want 1", kinds[EventCandidateCompleted])
	}
	if kinds[EventCandidateFailed] != 1 {
		t.Errorf("failed events = %d, want 1", kinds[EventCandidateFailed])
	}
}
