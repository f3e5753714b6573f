package runner

import (
	"context"

	"github.com/aretw0/guardrail/pkg/domain"
)

// IOHandler defines the strategy for interacting with the user.
// This allows switching between Text (CLI/TUI) and JSON (Structured) modes.
type IOHandler interface {
	// Output presents the outbound events of one turn. Handlers decide
	// which variants are worth showing; unknown ones are ignored.
	Output(ctx context.Context, events []domain.Event) error

	// Input reads the next inbound event. io.EOF ends the input stream.
	Input(ctx context.Context) (domain.Event, error)

	// SystemOutput presents a meta-message to the user (e.g. errors, prompts).
	// This is distinct from bot utterances.
	SystemOutput(ctx context.Context, msg string) error
}

// ContentRenderer is a function that transforms bot text before outputting it.
// This allows for TUI rendering (markdown to ANSI) without coupling the core package.
type ContentRenderer func(string) (string, error)

// Prompter asks the user a question outside the normal conversation.
type Prompter interface {
	Ask(ctx context.Context, question string) (string, error)
}
