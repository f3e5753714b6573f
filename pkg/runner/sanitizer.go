package runner

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/aretw0/guardrail/pkg/domain"
)

var (
	// DefaultMaxInputSize is 4KB (conservative default)
	DefaultMaxInputSize = 4096
	// EnvMaxInputSize is the environment variable to override the default
	EnvMaxInputSize = "GUARDRAIL_MAX_INPUT_SIZE"
)

var (
	ErrOutboundEvent = errors.New("event kind is outbound only")
	ErrInputTooLarge = errors.New("input exceeds maximum allowed size")
	ErrInvalidUTF8   = errors.New("input contains invalid UTF-8 sequences")
)

// SanitizeInput cleans user input by enforcing size limits,
// validating UTF-8, and stripping dangerous control characters.
// The limit comes from GUARDRAIL_MAX_INPUT_SIZE or DefaultMaxInputSize.
func SanitizeInput(input string) (string, error) {
	return SanitizeInputLimit(input, 0)
}

// SanitizeInputLimit is SanitizeInput with an explicit byte limit. A limit
// of zero or less falls back to the environment and then the default.
func SanitizeInputLimit(input string, limit int) (string, error) {
	// 1. Enforce Size Limit
	if limit <= 0 {
		limit = getMaxInputSize()
	}
	if len(input) > limit {
		// We explicitly reject rather than truncate to ensure deterministic state.
		return "", fmt.Errorf("%w: size=%d limit=%d", ErrInputTooLarge, len(input), limit)
	}

	// 2. Validate UTF-8
	if !utf8.ValidString(input) {
		return "", ErrInvalidUTF8
	}

	// 3. Strip Control Characters
	// We preserve:
	// - Newline (\n)
	// - Tab (\t)
	// - Carriage Return (\r) - treated as whitespace
	// We remove:
	// - ANSI codes (ESC), NULL, BEL, etc.
	// This prevents log poisoning and terminal corruption.

	// Fast path: if no control chars, return as is.
	clean := true
	for _, r := range input {
		if unicode.IsControl(r) && !isSafeControl(r) {
			clean = false
			break
		}
	}
	if clean {
		return input, nil
	}

	// Slow path: build clean string
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if !unicode.IsControl(r) || isSafeControl(r) {
			b.WriteRune(r)
		}
	}
	return b.String(), nil
}

func isSafeControl(r rune) bool {
	return r == '\n' || r == '\t' || r == '\r'
}

func getMaxInputSize() int {
	if val := os.Getenv(EnvMaxInputSize); val != "" {
		if size, err := strconv.Atoi(val); err == nil && size > 0 {
			return size
		}
	}
	return DefaultMaxInputSize
}

// outboundKinds are produced by the interpreter and never accepted as input.
var outboundKinds = map[domain.EventKind]bool{
	domain.KindStartUtterance: true,
	domain.KindStartAction:    true,
	domain.KindStartTimer:     true,
	domain.KindCancelAction:   true,
	domain.KindFlowError:      true,
}

// SanitizeEvent validates an inbound event from an untrusted host surface.
// Outbound kinds are rejected and free text is passed through
// SanitizeInputLimit.
func SanitizeEvent(ev domain.Event, limit int) (domain.Event, error) {
	if ev.Payload == nil {
		return domain.Event{}, errors.New("event has no payload")
	}
	if outboundKinds[ev.Kind()] {
		return domain.Event{}, fmt.Errorf("%w: %s", ErrOutboundEvent, ev.Kind())
	}
	switch p := ev.Payload.(type) {
	case domain.UserUtterance:
		clean, err := SanitizeInputLimit(p.Text, limit)
		if err != nil {
			return domain.Event{}, err
		}
		p.Text = clean
		ev.Payload = p
	case domain.UnknownIntent:
		clean, err := SanitizeInputLimit(p.Text, limit)
		if err != nil {
			return domain.Event{}, err
		}
		p.Text = clean
		ev.Payload = p
	}
	return ev, nil
}

// SanitizeEvents applies SanitizeEvent to a batch, failing on the first
// rejected event.
func SanitizeEvents(events []domain.Event, limit int) ([]domain.Event, error) {
	out := make([]domain.Event, 0, len(events))
	for i, ev := range events {
		clean, err := SanitizeEvent(ev, limit)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		out = append(out, clean)
	}
	return out, nil
}
