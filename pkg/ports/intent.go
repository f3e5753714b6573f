package ports

import "context"

// IntentMatch is the canonical form chosen for an utterance.
type IntentMatch struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// IntentMatcher maps raw user text onto one of the candidate intents.
// ok is false when no candidate fits; the interpreter then emits UnknownIntent.
type IntentMatcher interface {
	MatchIntent(ctx context.Context, utterance string, candidates []string) (match IntentMatch, ok bool, err error)
}
