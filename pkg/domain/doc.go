/*
Package domain contains the core models shared by the guardrail compiler, the
flow interpreter and the hosts that drive it.

It defines the compiled form of the dialog language, the events exchanged with
the outside world and the serializable execution State. This package is kept
pure and free of I/O or persistence concerns, following Hexagonal Architecture
principles.

# Key Entities

  - Program: an arena of compiled FlowDefinitions, indexed by FlowID.
  - Element: one typed step of a flow (match, action, assignment, branch, jump).
  - Event: an immutable, typed occurrence flowing into or out of the interpreter.
  - FlowHead: a live cursor over a FlowDefinition.
  - ActionInvocation: a tracked request/response cycle for a side-effecting action.
  - State: the turn-to-turn snapshot of heads, Context and pending invocations.
*/
package domain
