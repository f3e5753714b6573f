/*
Package runner hosts a guardrail session in a live process.

The interpreter itself never performs side effects: each turn returns the
outbound events a host must act on. The Runner is that host for interactive
and piped use. It renders bot utterances through an IOHandler, dispatches
actions in goroutines, arms timers, and feeds every completion back into the
session as the next turn's events.

# Key Components

  - Runner: the event loop. Completions from actions and timers arrive on a
    channel inbox and are batched with user input into turns.
  - IOHandler: decouples how the session talks to the outside world.
  - TextHandler: line-based chat for terminals.
  - JSONHandler: JSON-Lines event envelopes for programmatic hosts.
  - ActionInterceptor: policy hook that can veto an action before it runs.

# Usage

	r := runner.NewRunner(
		runner.WithSessions(manager),
		runner.WithSessionID("user-1"),
		runner.WithDispatcher(reg),
		runner.WithInputHandler(runner.NewTextHandler(os.Stdin, os.Stdout)),
	)

	if err := r.Run(ctx); err != nil {
		log.Fatal(err)
	}
*/
package runner
