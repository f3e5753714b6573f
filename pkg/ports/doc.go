/*
Package ports defines the driven ports (interfaces) for the guardrail runtime.

These interfaces decouple the interpreter and the session layer from external
implementations, so storage backends, intent classifiers and action executors
can be swapped without touching the core.

# Key Interfaces

  - SourceLoader: Provides the dialog-language source units to compile.
  - StateStore: Persists encoded session State between turns.
  - TranscriptSink: Records each turn of a session.
  - IntentMatcher: Maps a raw utterance to a canonical intent.
  - ActionDispatcher: Executes a named side-effecting action.
  - DistributedLocker: Provides distributed locking for concurrent session access.
*/
package ports
