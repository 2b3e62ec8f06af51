// Package task defines the unit of work submitted to the dispatch
// subsystem: an opaque prompt plus a derived complexity class, a detected
// task type, and a cost/time budget.
package task

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Hard errors for malformed input. Everything else in the subsystem
// degrades to values (empty plans, failed outcomes, escalations).
var (
	// ErrEmptyPrompt is returned when a task has no content.
	ErrEmptyPrompt = errors.New("task: prompt is empty")
	// ErrInvalidBudget is returned for negative cost or time budgets.
	ErrInvalidBudget = errors.New("task: budget values must be non-negative")
)

// Complexity classifies how much work a task likely needs.
type Complexity string

const (
	// ComplexitySimple covers short, single-step prompts.
	ComplexitySimple Complexity = "simple"
	// ComplexityModerate covers mid-sized prompts.
	ComplexityModerate Complexity = "moderate"
	// ComplexityComplex covers long or multi-part prompts.
	ComplexityComplex Complexity = "complex"
)

// String returns the complexity as a string.
func (c Complexity) String() string {
	return string(c)
}

// Type is a categorical tag used for lane and responder affinity.
type Type string

const (
	TypeGeneral    Type = "general"
	TypeCode       Type = "code"
	TypeResearch   Type = "research"
	TypeCreative   Type = "creative"
	TypeValidation Type = "validation"
)

// String returns the task type as a string.
func (t Type) String() string {
	return string(t)
}

// Budget caps what one task may spend. Zero values mean "use the
// configured default"; negative values are programming errors.
type Budget struct {
	// MaxCost is the maximum dollar spend across all attempts.
	MaxCost float64 `json:"max_cost" yaml:"max_cost"`

	// MaxWallClock is the total wall-clock allowance for the task,
	// including retries. Running dispatches are never aborted when it
	// expires; it only gates issuing further retry plans.
	MaxWallClock time.Duration `json:"max_wall_clock" yaml:"max_wall_clock"`
}

// Validate checks the budget for programming errors.
func (b Budget) Validate() error {
	if b.MaxCost < 0 || b.MaxWallClock < 0 {
		return ErrInvalidBudget
	}
	return nil
}

// Task is one logical unit of work.
type Task struct {
	// ID uniquely identifies this task.
	ID string `json:"id"`

	// Prompt is the opaque content handed to responders.
	Prompt string `json:"prompt"`

	// Type is the detected categorical tag.
	Type Type `json:"type"`

	// Complexity is derived from content size.
	Complexity Complexity `json:"complexity"`

	// Tokens is the approximate token count of the prompt.
	Tokens int `json:"tokens"`

	// Budget caps cost and wall-clock time for this task.
	Budget Budget `json:"budget"`

	// SubmittedAt is when the task entered the system.
	SubmittedAt time.Time `json:"submitted_at"`
}

// New builds a task from a prompt, classifying complexity and type.
// Empty prompts and negative budgets are the only hard errors.
func New(prompt string, budget Budget) (Task, error) {
	if strings.TrimSpace(prompt) == "" {
		return Task{}, ErrEmptyPrompt
	}
	if err := budget.Validate(); err != nil {
		return Task{}, fmt.Errorf("task: %w", err)
	}

	tokens := EstimateTokens(prompt)
	return Task{
		ID:          uuid.NewString(),
		Prompt:      prompt,
		Type:        DetectType(prompt),
		Complexity:  ClassifyComplexity(tokens),
		Tokens:      tokens,
		Budget:      budget,
		SubmittedAt: time.Now().UTC(),
	}, nil
}

// EstimateTokens approximates the token count of text. Four characters per
// token is the usual rule of thumb for English prose and code.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}

// ClassifyComplexity maps an approximate token count to a complexity class.
func ClassifyComplexity(tokens int) Complexity {
	switch {
	case tokens > 500:
		return ComplexityComplex
	case tokens > 200:
		return ComplexityModerate
	default:
		return ComplexitySimple
	}
}

// typeKeywords maps keyword families to task types. Families are checked
// in a fixed order; the first family with a match wins.
var typeKeywords = []struct {
	taskType Type
	words    []string
}{
	{TypeCode, []string{
		"code", "function", "implement", "refactor", "bug", "compile",
		"debug", "api", "class", "struct", "unit test", "stack trace",
	}},
	{TypeResearch, []string{
		"research", "investigate", "compare", "summarize", "analyze",
		"survey", "literature", "sources", "evidence",
	}},
	{TypeCreative, []string{
		"write a story", "poem", "creative", "brainstorm", "imagine",
		"slogan", "naming", "tagline",
	}},
	{TypeValidation, []string{
		"validate", "verify", "check", "review", "audit", "proofread",
		"fact-check",
	}},
}

// DetectType tags a prompt with a task type via keyword families.
// First match wins; prompts matching nothing are "general".
func DetectType(prompt string) Type {
	text := strings.ToLower(prompt)
	for _, family := range typeKeywords {
		for _, word := range family.words {
			if strings.Contains(text, word) {
				return family.taskType
			}
		}
	}
	return TypeGeneral
}

// Validate re-checks an already-built task. Useful for tasks decoded from
// an API request rather than built through New.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Prompt) == "" {
		return ErrEmptyPrompt
	}
	return t.Budget.Validate()
}
