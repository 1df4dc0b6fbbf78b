// Package accent scores a transcript plus acoustic features against a
// fixed set of English accent labels. Scoring is a pure function: the
// same inputs always produce the same table and winner.
package accent

import (
	"strings"

	"drawl/internal/features"
)

// Labels is the closed label set, in declaration order. Ties resolve to
// the earliest label.
var Labels = []string{"American", "British", "Australian", "Canadian", "Indian"}

const (
	keywordExactPoints   = 10
	keywordPartialPoints = 5
	acousticBonusPoints  = 15
)

// keywords maps each label to its lexical cues. A verbatim match scores
// full points; a match on any single word of a multi-word cue scores
// partial points.
var keywords = map[string][]string{
	"American": {
		"r", "t", "d", "water", "better", "matter", "letter", "butter",
		"flap", "rhotic", "cot-caught", "father-bother", "merry-marry",
	},
	"British": {
		"non-rhotic", "received pronunciation", "rp", "queen's english",
		"posh", "cockney", "estuary", "glottal stop", "t-glottalisation",
	},
	"Australian": {
		"strine", "broad australian", "general australian", "cultivated australian",
		"rising intonation", "question intonation", "mate", "g'day",
	},
	"Canadian": {
		"canadian raising", "about", "house", "out", "north", "force",
		"cot-caught merger", "canadian shift",
	},
	"Indian": {
		"indian english", "hindi influence", "retroflex", "aspirated",
		"tamil influence", "telugu influence", "bengali influence",
	},
}

// Thresholds are the per-label acoustic bonus predicates' cut points.
type Thresholds struct {
	AmericanCentroidHz    float64
	BritishPitchHz        float64
	AustralianTempoBPM    float64
	CanadianCentroidLowHz float64
	CanadianCentroidHiHz  float64
	IndianTempoBPM        float64
}

// DefaultThresholds returns the inherited heuristic cut points.
func DefaultThresholds() Thresholds {
	return Thresholds{
		AmericanCentroidHz:    2000,
		BritishPitchHz:        150,
		AustralianTempoBPM:    120,
		CanadianCentroidLowHz: 1800,
		CanadianCentroidHiHz:  2200,
		IndianTempoBPM:        100,
	}
}

// ScoreTable maps each label to its normalized score in [0, 100].
type ScoreTable map[string]float64

// Result is one classification outcome.
type Result struct {
	Label      string     `json:"label"`
	Confidence float64    `json:"confidence"`
	Scores     ScoreTable `json:"perAccentScores"`
	Transcript string     `json:"transcript"`
}

// Scorer combines lexical and acoustic evidence into per-label scores.
type Scorer struct {
	thresholds Thresholds
}

// NewScorer builds a scorer with the given acoustic thresholds.
func NewScorer(t Thresholds) *Scorer {
	return &Scorer{thresholds: t}
}

// Score classifies a transcript and feature vector. The maximum final
// score is exactly 100 unless every raw score is zero, in which case all
// entries are 0 and the winner is the first label in declaration order.
func (s *Scorer) Score(transcript string, v *features.Vector) *Result {
	lower := strings.ToLower(transcript)
	scores := make(ScoreTable, len(Labels))

	var maxRaw float64
	raw := make(map[string]float64, len(Labels))
	for _, label := range Labels {
		score := lexicalScore(lower, keywords[label])
		if s.acousticBonus(label, v) {
			score += acousticBonusPoints
		}
		raw[label] = score
		if score > maxRaw {
			maxRaw = score
		}
	}

	norm := maxRaw
	if norm == 0 {
		norm = 1
	}
	winner := Labels[0]
	best := -1.0
	for _, label := range Labels {
		final := raw[label] / norm * 100
		if final > 100 {
			final = 100
		}
		scores[label] = final
		if final > best {
			best = final
			winner = label
		}
	}

	return &Result{
		Label:      winner,
		Confidence: scores[winner],
		Scores:     scores,
		Transcript: transcript,
	}
}

func lexicalScore(transcriptLower string, cues []string) float64 {
	var score float64
	for _, cue := range cues {
		cue = strings.ToLower(cue)
		if strings.Contains(transcriptLower, cue) {
			score += keywordExactPoints
			continue
		}
		for _, word := range strings.Fields(cue) {
			if strings.Contains(transcriptLower, word) {
				score += keywordPartialPoints
				break
			}
		}
	}
	return score
}

// acousticBonus evaluates the single numeric predicate attached to each
// label. Predicates are independent and may hold for several labels at
// once.
func (s *Scorer) acousticBonus(label string, v *features.Vector) bool {
	if v == nil {
		return false
	}
	switch label {
	case "American":
		return v.SpectralCentroidMean > s.thresholds.AmericanCentroidHz
	case "British":
		return v.PitchMean > s.thresholds.BritishPitchHz
	case "Australian":
		return v.Tempo > s.thresholds.AustralianTempoBPM
	case "Canadian":
		return v.SpectralCentroidMean > s.thresholds.CanadianCentroidLowHz &&
			v.SpectralCentroidMean < s.thresholds.CanadianCentroidHiHz
	case "Indian":
		return v.Tempo < s.thresholds.IndianTempoBPM
	}
	return false
}
