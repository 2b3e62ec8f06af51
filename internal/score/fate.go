package score

import "fmt"

// Fate is the terminal decision for a scored candidate.
type Fate string

const (
	// FateAccepted means the candidate met the confidence floor.
	FateAccepted Fate = "accepted"
	// FateRetry means the candidate fell short but retries remain.
	FateRetry Fate = "retry"
	// FateEscalated means the candidate fell short and retries are
	// exhausted; a human has to look.
	FateEscalated Fate = "escalated"
)

// IsValid reports whether f is a known fate.
func (f Fate) IsValid() bool {
	switch f {
	case FateAccepted, FateRetry, FateEscalated:
		return true
	}
	return false
}

func (f Fate) String() string { return string(f) }

// Thresholds parameterize the fate decision.
type Thresholds struct {
	// MinConfidence is the acceptance floor on the overall score.
	MinConfidence float64 `json:"min_confidence" toml:"min_confidence"`
	// MaxRetries bounds how many retry attempts a task may consume.
	MaxRetries int `json:"max_retries" toml:"max_retries"`
}

// DefaultThresholds matches the orchestrator defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{MinConfidence: 0.82, MaxRetries: 2}
}

// Validate rejects thresholds outside their sane ranges.
func (t Thresholds) Validate() error {
	if t.MinConfidence < 0 || t.MinConfidence > 1 {
		return fmt.Errorf("min_confidence %.3f outside [0,1]", t.MinConfidence)
	}
	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries %d is negative", t.MaxRetries)
	}
	return nil
}

// DecideFate maps an overall score and the attempt number (1-based) to a
// fate. A score at or above the floor is accepted regardless of attempt.
// Below the floor, retries are granted only while attempt < MaxRetries;
// the attempt that exhausts the retry budget escalates.
func DecideFate(overall float64, attempt int, t Thresholds) Fate {
	if overall >= t.MinConfidence {
		return FateAccepted
	}
	if attempt < t.MaxRetries {
		return FateRetry
	}
	return FateEscalated
}
