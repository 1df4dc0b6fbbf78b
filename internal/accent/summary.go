package accent

import "fmt"

// descriptions are the canned linguistic explanations per label.
var descriptions = map[string]string{
	"American":   "American English is characterized by rhotic pronunciation (pronouncing 'r' sounds), flapped 't' sounds in words like 'water', and specific vowel patterns.",
	"British":    "British English features non-rhotic pronunciation (dropping 'r' sounds), distinctive vowel sounds, and often uses Received Pronunciation patterns.",
	"Australian": "Australian English is known for its rising intonation, distinctive vowel shifts, and unique slang expressions.",
	"Canadian":   "Canadian English features Canadian raising, specific vowel mergers, and often shows influence from both American and British English.",
	"Indian":     "Indian English has distinctive rhythm patterns, retroflex consonants, and often shows influence from local Indian languages.",
}

const genericDescription = "The accent analysis is based on pronunciation patterns, intonation, and linguistic features."

// Summary renders a human-readable explanation for a detected accent.
func Summary(label string, confidence float64) string {
	desc, ok := descriptions[label]
	if !ok {
		desc = genericDescription
	}
	var tier string
	switch {
	case confidence > 80:
		tier = "high confidence"
	case confidence > 60:
		tier = "moderate confidence"
	default:
		tier = "low confidence"
	}
	return fmt.Sprintf("Detected %s accent with %s (%.1f%%). %s", label, tier, confidence, desc)
}
