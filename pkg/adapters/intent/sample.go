// Package intent provides ports.IntentMatcher implementations: a local
// matcher scoring utterances against declared samples, and a client for an
// external classification service.
package intent

import (
	"context"
	"strings"
	"unicode"

	"github.com/aretw0/guardrail/pkg/ports"
)

// DefaultThreshold is the minimum score SampleMatcher accepts.
const DefaultThreshold = 0.5

// SampleMatcher scores an utterance against the sample utterances of each
// candidate intent by token overlap (Jaccard index). An exact match of the
// normalized text scores 1.
type SampleMatcher struct {
	samples   map[string][][]string
	threshold float64
}

// NewSampleMatcher builds a matcher from intent samples, usually
// Program.UserMessages. A threshold <= 0 uses DefaultThreshold.
func NewSampleMatcher(samples map[string][]string, threshold float64) *SampleMatcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	m := &SampleMatcher{samples: make(map[string][][]string, len(samples)), threshold: threshold}
	for name, list := range samples {
		for _, s := range list {
			if toks := Tokenize(s); len(toks) > 0 {
				m.samples[name] = append(m.samples[name], toks)
			}
		}
	}
	return m
}

// MatchIntent returns the best scoring candidate. Ties go to the candidate
// listed first.
func (m *SampleMatcher) MatchIntent(ctx context.Context, utterance string, candidates []string) (ports.IntentMatch, bool, error) {
	words := Tokenize(utterance)
	if len(words) == 0 {
		return ports.IntentMatch{}, false, nil
	}

	var best ports.IntentMatch
	for _, name := range candidates {
		if err := ctx.Err(); err != nil {
			return ports.IntentMatch{}, false, err
		}
		score := 0.0
		if equal(words, Tokenize(strings.ReplaceAll(name, "_", " "))) {
			score = 1
		}
		for _, sample := range m.samples[name] {
			if s := jaccard(words, sample); s > score {
				score = s
			}
		}
		if score > best.Confidence {
			best = ports.IntentMatch{Intent: name, Confidence: score}
		}
	}
	if best.Intent == "" || best.Confidence < m.threshold {
		return ports.IntentMatch{}, false, nil
	}
	return best, true, nil
}

// Tokenize lowercases s and splits it into letter/digit runs.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func jaccard(a, b []string) float64 {
	set := make(map[string]int, len(a))
	for _, w := range a {
		set[w] |= 1
	}
	for _, w := range b {
		set[w] |= 2
	}
	inter := 0
	for _, v := range set {
		if v == 3 {
			inter++
		}
	}
	if len(set) == 0 {
		return 0
	}
	return float64(inter) / float64(len(set))
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
