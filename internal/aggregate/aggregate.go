// Package aggregate synthesizes accepted candidate outputs into a compact
// bullet summary, a recommendation list, and a one-paragraph narrative.
// It is independent of scoring and retry logic: inputs are raw texts with
// per-text confidence weights, and zero inputs degrade to an empty
// summary, never an error.
package aggregate

import (
	"regexp"
	"sort"
	"strings"
)

// Input is one accepted candidate's contribution.
type Input struct {
	// Source names the responder that produced the text.
	Source string `json:"source"`
	// Text is the raw output.
	Text string `json:"text"`
	// Confidence weights this source's sentences during ranking.
	Confidence float64 `json:"confidence"`
}

// Bullet is one ranked key sentence.
type Bullet struct {
	Text       string  `json:"text"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
}

// Summary is the aggregate of all accepted outputs.
type Summary struct {
	Bullets         []Bullet `json:"bullets"`
	Recommendations []string `json:"recommendations"`
	Narrative       string   `json:"narrative"`
	// Confidence is the mean of contributing inputs' confidences, zero
	// when there were no inputs.
	Confidence float64 `json:"confidence"`
	Sources    []string `json:"sources"`
}

// Empty reports whether the summary carries no content.
func (s Summary) Empty() bool {
	return len(s.Bullets) == 0 && len(s.Recommendations) == 0 && s.Narrative == ""
}

const (
	// maxBulletsPerSource caps how many leading sentences each input
	// contributes.
	maxBulletsPerSource = 3
	// maxNarrativeBullets caps how many top bullets feed the narrative.
	maxNarrativeBullets = 4
	// minSentenceLength drops fragments too short to be a key sentence.
	minSentenceLength = 20
)

var (
	sentenceBoundary = regexp.MustCompile(`[.!?]+\s+`)

	// recommendationTriggers mark sentences that read as advice.
	recommendationTriggers = []string{
		"recommend",
		"should",
		"next step",
		"suggest",
		"consider",
		"must ",
		"advise",
	}
)

// Aggregate builds a Summary from the inputs. Ordering is deterministic:
// bullets sort by descending confidence, ties broken by source name then
// original position.
func Aggregate(inputs []Input) Summary {
	var s Summary
	if len(inputs) == 0 {
		return s
	}

	total := 0.0
	seen := make(map[string]struct{})
	seenSource := make(map[string]struct{})
	var recommendations []string
	seenRec := make(map[string]struct{})

	type ranked struct {
		Bullet
		pos int
	}
	var all []ranked

	for _, in := range inputs {
		total += in.Confidence
		if _, dup := seenSource[in.Source]; !dup && in.Source != "" {
			seenSource[in.Source] = struct{}{}
			s.Sources = append(s.Sources, in.Source)
		}

		sentences := splitSentences(in.Text)
		taken := 0
		for pos, sentence := range sentences {
			if isRecommendation(sentence) {
				key := normalize(sentence)
				if _, dup := seenRec[key]; !dup {
					seenRec[key] = struct{}{}
					recommendations = append(recommendations, sentence)
				}
			}
			if taken >= maxBulletsPerSource || len(sentence) < minSentenceLength {
				continue
			}
			key := normalize(sentence)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			all = append(all, ranked{
				Bullet: Bullet{Text: sentence, Source: in.Source, Confidence: in.Confidence},
				pos:    pos,
			})
			taken++
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Confidence != all[j].Confidence {
			return all[i].Confidence > all[j].Confidence
		}
		if all[i].Source != all[j].Source {
			return all[i].Source < all[j].Source
		}
		return all[i].pos < all[j].pos
	})

	for _, r := range all {
		s.Bullets = append(s.Bullets, r.Bullet)
	}
	s.Recommendations = recommendations
	s.Narrative = narrative(s.Bullets)
	s.Confidence = total / float64(len(inputs))
	return s
}

// splitSentences breaks text on sentence boundaries and trims the pieces.
func splitSentences(text string) []string {
	var out []string
	for _, raw := range sentenceBoundary.Split(text, -1) {
		sentence := strings.TrimSpace(strings.TrimRight(raw, ".!?"))
		if sentence == "" {
			continue
		}
		out = append(out, sentence)
	}
	return out
}

// isRecommendation reports whether the sentence matches an advice trigger.
func isRecommendation(sentence string) bool {
	lower := strings.ToLower(sentence)
	for _, trigger := range recommendationTriggers {
		if strings.Contains(lower, trigger) {
			return true
		}
	}
	return false
}

// normalize collapses case and whitespace so near-identical sentences
// dedupe by exact match.
func normalize(sentence string) string {
	return strings.Join(strings.Fields(strings.ToLower(sentence)), " ")
}

// narrative joins the top-ranked bullets into one paragraph.
func narrative(bullets []Bullet) string {
	n := len(bullets)
	if n == 0 {
		return ""
	}
	if n > maxNarrativeBullets {
		n = maxNarrativeBullets
	}
	parts := make([]string, 0, n)
	for _, b := range bullets[:n] {
		parts = append(parts, strings.TrimRight(b.Text, ".")+".")
	}
	return strings.Join(parts, " ")
}
