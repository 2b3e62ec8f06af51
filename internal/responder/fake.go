package responder

import (
	"context"
	"sync"

	"github.com/Dicklesworthstone/quorum/internal/dispatch"
)

// Static always returns the same text. Useful for dry runs and wiring
// tests.
type Static struct {
	ResponderName string
	Text          string
	Cost          float64
	Err           error
}

// Name implements dispatch.Responder.
func (s *Static) Name() string { return s.ResponderName }

// Generate returns the fixed text, or the fixed error.
func (s *Static) Generate(ctx context.Context, prompt string) (dispatch.Response, error) {
	if err := ctx.Err(); err != nil {
		return dispatch.Response{}, err
	}
	if s.Err != nil {
		return dispatch.Response{}, s.Err
	}
	return dispatch.Response{Text: s.Text, CostUSD: s.Cost}, nil
}

// Scripted returns a different canned step per call, repeating the last
// step once the script runs out. Calls are counted for assertions.
type Scripted struct {
	ResponderName string
	Steps         []ScriptStep

	mu    sync.Mutex
	calls int
}

// ScriptStep is one canned reply.
type ScriptStep struct {
	Text string
	Cost float64
	Err  error
}

// Name implements dispatch.Responder.
func (s *Scripted) Name() string { return s.ResponderName }

// Generate returns the next scripted step.
func (s *Scripted) Generate(ctx context.Context, prompt string) (dispatch.Response, error) {
	if err := ctx.Err(); err != nil {
		return dispatch.Response{}, err
	}

	s.mu.Lock()
	i := s.calls
	s.calls++
	s.mu.Unlock()

	if len(s.Steps) == 0 {
		return dispatch.Response{}, nil
	}
	if i >= len(s.Steps) {
		i = len(s.Steps) - 1
	}
	step := s.Steps[i]
	if step.Err != nil {
		return dispatch.Response{}, step.Err
	}
	return dispatch.Response{Text: step.Text, CostUSD: step.Cost}, nil
}

// Calls reports how many times Generate ran.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
