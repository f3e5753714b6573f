/*
Package guardrail is an event-driven dialog engine: it runs flows written in a
small indentation-based language against a stream of conversation events.

A flow is a sequence of match steps (`user greeting`, `event TimerElapsed`)
and side effects (`bot greet back`, `execute lookup(id=$id)`). Many flows are
alive at once, each represented by a head waiting on its next match. When an
event arrives, the engine picks the single best head by priority and
specificity, advances it until it waits again, and returns the side effects
the host should perform as outbound events.

# Concept

The engine is turn based and keeps no state between calls. A turn takes the
session State and an ordered batch of events and returns the next State plus
outbound events (StartUtterance, StartAction, StartTimer, CancelAction,
FlowError). The host performs those effects and reports their outcome as
inbound events (ActionFinished, ActionFailed, TimerElapsed) on a later turn.
This keeps the core deterministic: the same State and events always produce
the same result.

State is serialized with pkg/codec, persisted by pkg/session and served over
pkg/adapters/http and pkg/adapters/mcp. pkg/runner hosts an interactive
session in a terminal.

# Usage

	eng, err := guardrail.New("./flows")
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	state, _, err := eng.Start(ctx, "session-123")
	if err != nil {
		log.Fatal(err)
	}

	state, out, err := eng.Advance(ctx, state, []domain.Event{
		{Payload: domain.UserUtterance{Text: "hello"}},
	})
	if err != nil {
		log.Fatal(err)
	}
	for _, ev := range out {
		if u, ok := ev.Payload.(domain.StartUtterance); ok {
			fmt.Println(u.Text)
		}
	}
*/
package guardrail
