package dispatch

import "time"

// EventKind labels a dispatch lifecycle event.
type EventKind string

const (
	EventCandidateStarted   EventKind = "candidate_started"
	EventCandidateCompleted EventKind = "candidate_completed"
	EventCandidateFailed    EventKind = "candidate_failed"
)

// Event is one observation of the dispatch lifecycle, suitable for
// streaming to subscribers.
type Event struct {
	Kind        EventKind `json:"kind"`
	TaskID      string    `json:"task_id"`
	CandidateID string    `json:"candidate_id"`
	Responder   string    `json:"responder"`
	Lane        string    `json:"lane"`
	At          time.Time `json:"at"`
}

// Sink receives dispatch events. Publish must not block: slow consumers
// are the sink's problem, not the dispatcher's.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Publish calls f.
func (f SinkFunc) Publish(e Event) { f(e) }

type nopSink struct{}

func (nopSink) Publish(Event) {}
