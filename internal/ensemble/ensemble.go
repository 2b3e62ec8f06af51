// Package ensemble tests whether two high-scoring candidates are
// compatible enough to combine into one higher-confidence answer. The
// check is advisory: it signals compatibility and the merged confidence,
// while the actual text synthesis stays with the aggregation step.
package ensemble

import (
	"fmt"
	"math"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/Dicklesworthstone/quorum/internal/plan"
)

// Default merge gates.
const (
	// DefaultMergeThreshold is the floor both scores must clear.
	DefaultMergeThreshold = 0.65
	// DefaultDiffThreshold caps how far apart the two scores may sit.
	DefaultDiffThreshold = 0.12
)

// Thresholds parameterize the merge decision.
type Thresholds struct {
	MergeThreshold float64 `json:"merge_threshold" toml:"merge_threshold"`
	DiffThreshold  float64 `json:"diff_threshold" toml:"diff_threshold"`
}

// DefaultThresholds returns the standard merge gates.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MergeThreshold: DefaultMergeThreshold,
		DiffThreshold:  DefaultDiffThreshold,
	}
}

// Validate rejects thresholds outside their sane ranges.
func (t Thresholds) Validate() error {
	if t.MergeThreshold < 0 || t.MergeThreshold > 1 {
		return fmt.Errorf("merge_threshold %.3f outside [0,1]", t.MergeThreshold)
	}
	if t.DiffThreshold < 0 || t.DiffThreshold > 1 {
		return fmt.Errorf("diff_threshold %.3f outside [0,1]", t.DiffThreshold)
	}
	return nil
}

// Result reports whether two candidates may merge and, when they may, the
// combined confidence and the pair involved.
type Result struct {
	CanMerge bool `json:"can_merge"`

	// MergedConfidence is the arithmetic mean of the two scores; zero
	// when CanMerge is false.
	MergedConfidence float64 `json:"merged_confidence,omitempty"`

	// CandidateIDs names the pair that was combined, in input order.
	CandidateIDs [2]string `json:"candidate_ids,omitempty"`

	// TextSimilarity is a [0,1] diagnostic of how alike the two raw
	// outputs are; it is reported for observability and does not gate
	// the merge.
	TextSimilarity float64 `json:"text_similarity"`

	// Reason explains a refused merge.
	Reason string `json:"reason,omitempty"`
}

// Merger evaluates candidate pairs against fixed thresholds.
type Merger struct {
	thresholds Thresholds
	dmp        *diffmatchpatch.DiffMatchPatch
}

// New builds a Merger; invalid thresholds fall back to the defaults.
func New(t Thresholds) *Merger {
	if t.Validate() != nil {
		t = DefaultThresholds()
	}
	return &Merger{thresholds: t, dmp: diffmatchpatch.New()}
}

// Attempt decides whether a and b can merge given their overall scores.
// The decision is symmetric in its arguments and has no side effects on
// either candidate.
func (m *Merger) Attempt(a, b plan.Candidate, scoreA, scoreB float64) Result {
	res := Result{
		CandidateIDs:   [2]string{a.ID, b.ID},
		TextSimilarity: m.similarity(a.RawOutput, b.RawOutput),
	}

	lo := math.Min(scoreA, scoreB)
	if lo < m.thresholds.MergeThreshold {
		res.Reason = fmt.Sprintf("score %.3f below merge threshold %.3f", lo, m.thresholds.MergeThreshold)
		return res
	}
	if diff := math.Abs(scoreA - scoreB); diff > m.thresholds.DiffThreshold {
		res.Reason = fmt.Sprintf("score gap %.3f exceeds diff threshold %.3f", diff, m.thresholds.DiffThreshold)
		return res
	}

	res.CanMerge = true
	res.MergedConfidence = (scoreA + scoreB) / 2
	return res
}

func (m *Merger) similarity(a, b string) float64 {
	return similarity(m.dmp, a, b)
}

// Similarity maps Levenshtein distance over the diff of two texts to
// [0,1], where 1 means identical. Used both as a merge diagnostic and as
// the cross-candidate agreement signal for scoring.
func Similarity(a, b string) float64 {
	return similarity(diffmatchpatch.New(), a, b)
}

func similarity(dmp *diffmatchpatch.DiffMatchPatch, a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	diffs := dmp.DiffMain(a, b, false)
	distance := dmp.DiffLevenshtein(diffs)
	if distance >= longest {
		return 0
	}
	return 1 - float64(distance)/float64(longest)
}
