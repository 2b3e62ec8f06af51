// Package score computes a weighted multi-dimensional confidence score for
// candidate outputs and decides, per attempt history, whether to accept,
// retry, or escalate. Scoring is a pure function over already-resolved
// evidence; missing evidence degrades to documented neutral defaults,
// never to an error.
package score

import (
	"math"
	"strings"
)

// Weights for the six score components. The magnitudes sum to 1.0; the
// cost weight is negative because cost is a penalty, not a bonus.
const (
	WeightDeterministic = 0.30
	WeightGrounding     = 0.20
	WeightCritic        = 0.15
	WeightSemantic      = 0.15
	WeightReliability   = 0.10
	WeightCost          = -0.10
)

// Neutral defaults applied when a dimension has no evidence.
const (
	neutralDeterministic = 0.5
	neutralGrounding     = 0.8
	neutralCritic        = 0.5
	neutralReliability   = 0.5
)

// DefaultCostNormalizer converts incurred dollar cost into the [0,1] cost
// ratio; spend at or above this is a maximal penalty.
const DefaultCostNormalizer = 1.0

// criticVariancePenalty scales how strongly disagreement among validators
// (their standard deviation) lowers the critic component.
const criticVariancePenalty = 0.5

// CheckResult is one deterministic pass/fail check (lint, tests, schema).
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
}

// Evidence carries whatever signals are available for scoring one
// candidate. Every field is optional; absent fields resolve to the
// documented neutral defaults.
type Evidence struct {
	// Checks are deterministic pass/fail results. Nil means no checks
	// were supplied (neutral 0.5).
	Checks []CheckResult `json:"checks,omitempty"`

	// Claims are statements extracted from the output. Nil means no
	// claims were extracted (neutral-high 0.8).
	Claims []string `json:"claims,omitempty"`

	// SourceText is the reference text claims are matched against.
	SourceText string `json:"source_text,omitempty"`

	// PeerAgreement holds cross-candidate agreement values in [0,1].
	PeerAgreement []float64 `json:"peer_agreement,omitempty"`

	// ResponderBaseline is the responder's empirical success-rate prior.
	// Ignored unless HasBaseline is set.
	ResponderBaseline float64 `json:"responder_baseline,omitempty"`
	HasBaseline       bool    `json:"has_baseline,omitempty"`

	// RecentSuccessRate is the responder's observed recent success rate.
	// Ignored unless HasRecentRate is set.
	RecentSuccessRate float64 `json:"recent_success_rate,omitempty"`
	HasRecentRate     bool    `json:"has_recent_rate,omitempty"`

	// IncurredCost is the dollar cost of producing this candidate.
	IncurredCost float64 `json:"incurred_cost,omitempty"`

	// CostNormalizer overrides DefaultCostNormalizer when positive.
	CostNormalizer float64 `json:"cost_normalizer,omitempty"`

	// FluencyBoost and RelevanceBoost are optional external semantic
	// signals added on top of the structural heuristics.
	FluencyBoost   float64 `json:"fluency_boost,omitempty"`
	RelevanceBoost float64 `json:"relevance_boost,omitempty"`
}

// Breakdown reports each component in [0,1] plus the weighted overall.
// The cost component is stored pre-inverted (1 − cost ratio), so a high
// value means cheap; its contribution to Overall is negative.
type Breakdown struct {
	Deterministic float64 `json:"deterministic"`
	Grounding     float64 `json:"grounding"`
	Critic        float64 `json:"critic"`
	Semantic      float64 `json:"semantic"`
	Reliability   float64 `json:"reliability"`
	Cost          float64 `json:"cost"`
	Overall       float64 `json:"overall"`
}

// Score computes the full breakdown for one candidate output.
func Score(output string, ev Evidence) Breakdown {
	b := Breakdown{
		Deterministic: deterministicComponent(ev.Checks),
		Grounding:     groundingComponent(ev.Claims, ev.SourceText),
		Critic:        criticComponent(ev.PeerAgreement),
		Semantic:      semanticComponent(output, ev.FluencyBoost, ev.RelevanceBoost),
		Reliability:   reliabilityComponent(ev),
	}

	costRatio := costRatio(ev.IncurredCost, ev.CostNormalizer)
	b.Cost = 1 - costRatio
	b.Overall = combine(b.Deterministic, b.Grounding, b.Critic, b.Semantic, b.Reliability, costRatio)
	return b
}

// combine folds the components into the weighted overall. The cost weight
// is applied to the raw cost ratio (not the inverted component): spending
// more can only ever lower the result. Applying the negative weight to the
// already-inverted component would flip the penalty into a bonus.
func combine(det, grounding, critic, semantic, reliability, costRatio float64) float64 {
	overall := WeightDeterministic*det +
		WeightGrounding*grounding +
		WeightCritic*critic +
		WeightSemantic*semantic +
		WeightReliability*reliability +
		WeightCost*costRatio
	return clamp(overall, 0, 1)
}

// deterministicComponent is the fraction of checks passing, 0.5 when no
// checks were supplied.
func deterministicComponent(checks []CheckResult) float64 {
	if len(checks) == 0 {
		return neutralDeterministic
	}
	passed := 0
	for _, c := range checks {
		if c.Passed {
			passed++
		}
	}
	return float64(passed) / float64(len(checks))
}

// groundingComponent is the fraction of claims found (case-insensitively)
// in the source text, 0.8 when no claims were extracted.
func groundingComponent(claims []string, source string) float64 {
	if len(claims) == 0 {
		return neutralGrounding
	}
	lowerSource := strings.ToLower(source)
	matched := 0
	for _, claim := range claims {
		claim = strings.TrimSpace(strings.ToLower(claim))
		if claim == "" {
			continue
		}
		if strings.Contains(lowerSource, claim) {
			matched++
		}
	}
	return float64(matched) / float64(len(claims))
}

// criticComponent is the mean of peer-agreement values minus a penalty
// proportional to their standard deviation: high variance among validators
// lowers the score even when the mean is high.
func criticComponent(agreement []float64) float64 {
	if len(agreement) == 0 {
		return neutralCritic
	}

	mean := 0.0
	for _, v := range agreement {
		mean += v
	}
	mean /= float64(len(agreement))

	variance := 0.0
	for _, v := range agreement {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(agreement))

	return clamp(mean-criticVariancePenalty*math.Sqrt(variance), 0, 1)
}

// Length band considered well-formed for the semantic heuristic.
const (
	semanticMinLength = 80
	semanticMaxLength = 8000
)

// semanticComponent applies structural and length heuristics: baseline
// 0.5, +0.2 for a well-formed length, +0.1 for structural markers,
// +0.1 for low special-character density, plus optional external boosts.
func semanticComponent(output string, fluencyBoost, relevanceBoost float64) float64 {
	s := 0.5

	if n := len(output); n >= semanticMinLength && n <= semanticMaxLength {
		s += 0.2
	}
	if hasStructuralMarkers(output) {
		s += 0.1
	}
	if specialCharDensity(output) < 0.10 {
		s += 0.1
	}

	s += fluencyBoost + relevanceBoost
	return clamp(s, 0, 1)
}

// hasStructuralMarkers detects headings, list items, or numbered lines.
func hasStructuralMarkers(output string) bool {
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "#") ||
			strings.HasPrefix(trimmed, "- ") ||
			strings.HasPrefix(trimmed, "* ") {
			return true
		}
		if len(trimmed) > 2 && trimmed[0] >= '0' && trimmed[0] <= '9' &&
			(trimmed[1] == '.' || trimmed[1] == ')') {
			return true
		}
	}
	return false
}

// specialCharDensity is the share of bytes that are neither alphanumeric,
// whitespace, nor common punctuation.
func specialCharDensity(output string) float64 {
	if len(output) == 0 {
		return 0
	}
	special := 0
	for _, r := range output {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == ' ', r == '\n', r == '\t', r == '\r':
		case strings.ContainsRune(".,;:!?'\"()-", r):
		default:
			special++
		}
	}
	return float64(special) / float64(len(output))
}

// reliabilityComponent blends the responder's fixed baseline 70/30 with
// its recently observed success rate. Missing signals fall back to the
// baseline, then to neutral.
func reliabilityComponent(ev Evidence) float64 {
	baseline := neutralReliability
	if ev.HasBaseline {
		baseline = clamp(ev.ResponderBaseline, 0, 1)
	}
	recent := baseline
	if ev.HasRecentRate {
		recent = clamp(ev.RecentSuccessRate, 0, 1)
	}
	return 0.7*baseline + 0.3*recent
}

// costRatio maps incurred cost to [0,1] against the normalizer.
func costRatio(cost, normalizer float64) float64 {
	if normalizer <= 0 {
		normalizer = DefaultCostNormalizer
	}
	if cost <= 0 {
		return 0
	}
	return math.Min(1, cost/normalizer)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
