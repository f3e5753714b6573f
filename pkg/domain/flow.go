package domain

import (
	"sort"
	"time"
)

// FlowID indexes a FlowDefinition inside a Program.
type FlowID int

// ElementKind enumerates the closed set of flow elements.
type ElementKind string

const (
	ElementMatchUserIntent ElementKind = "match_user_intent"
	ElementMatchEvent      ElementKind = "match_event"
	ElementWhen            ElementKind = "when"
	ElementRunAction       ElementKind = "run_action"
	ElementAssign          ElementKind = "assign"
	ElementIf              ElementKind = "if"
	ElementLabel           ElementKind = "label"
	ElementGoto            ElementKind = "goto"
	ElementStop            ElementKind = "stop"
)

// Reserved action names handled by the interpreter itself.
const (
	ActionUtter = "utter"
	ActionTimer = "timer"
)

// Program is the compiled output of one or more source units: an arena of
// flow definitions plus the message catalogs declared with `define user` and
// `define bot`. A Program is immutable once compiled.
type Program struct {
	Flows []FlowDefinition `json:"flows"`
	// UserMessages maps an intent name to its sample utterances.
	UserMessages map[string][]string `json:"user_messages,omitempty"`
	// BotMessages maps a bot intent to the texts it may be rendered as.
	BotMessages map[string][]string `json:"bot_messages,omitempty"`

	byName map[string]FlowID
}

// Index (re)builds the name lookup. The compiler calls it once.
func (p *Program) Index() {
	p.byName = make(map[string]FlowID, len(p.Flows))
	for i := range p.Flows {
		p.byName[p.Flows[i].Name] = FlowID(i)
	}
}

// Lookup returns the id of the flow with the given name.
func (p *Program) Lookup(name string) (FlowID, bool) {
	if p.byName == nil {
		p.Index()
	}
	id, ok := p.byName[name]
	return id, ok
}

// Flow returns the definition for id. It panics on an out of range id, which
// can only come from a State that was not decoded against this Program.
func (p *Program) Flow(id FlowID) *FlowDefinition {
	return &p.Flows[id]
}

// Intents returns the names of every declared user intent.
func (p *Program) Intents() []string {
	out := make([]string, 0, len(p.UserMessages))
	for name := range p.UserMessages {
		out = append(out, name)
	}
	return out
}

// FlowSummary is the introspection view of one compiled flow.
type FlowSummary struct {
	Name        string  `json:"name"`
	Priority    float64 `json:"priority"`
	IsExtension bool    `json:"is_extension,omitempty"`
	Activated   bool    `json:"activated"`
	Elements    int     `json:"elements"`
	Source      string  `json:"source,omitempty"`
	Line        int     `json:"line,omitempty"`
	Doc         string  `json:"doc,omitempty"`
}

// Summaries describes every flow, sorted by name.
func (p *Program) Summaries() []FlowSummary {
	out := make([]FlowSummary, 0, len(p.Flows))
	for _, f := range p.Flows {
		out = append(out, FlowSummary{
			Name:        f.Name,
			Priority:    f.Priority,
			IsExtension: f.IsExtension,
			Activated:   f.Activated,
			Elements:    len(f.Elements),
			Source:      f.Source,
			Line:        f.Line,
			Doc:         f.Doc,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FlowDefinition is a compiled flow. Control flow is flattened into Elements:
// branch and jump targets are element indices.
type FlowDefinition struct {
	Name        string    `json:"name"`
	Elements    []Element `json:"elements"`
	Priority    float64   `json:"priority"`
	IsExtension bool      `json:"is_extension,omitempty"`
	Activated   bool      `json:"activated"`
	Source      string    `json:"source,omitempty"`
	Line        int       `json:"line"`
	Doc         string    `json:"doc,omitempty"`
}

// Element is one step of a flow. Only the fields relevant to Kind are set.
type Element struct {
	Kind ElementKind `json:"kind"`
	Line int         `json:"line"`
	Doc  string      `json:"doc,omitempty"`

	// MatchUserIntent, MatchEvent
	Pattern *Pattern `json:"pattern,omitempty"`

	// When
	Branches []Branch `json:"branches,omitempty"`

	// RunAction
	Action *ActionSpec `json:"action,omitempty"`

	// Assign
	Variable string `json:"variable,omitempty"`

	// Assign value, If condition
	Expr string `json:"expr,omitempty"`

	// If: index of the else branch (or of the element after the if).
	// Goto: index of the resolved label.
	Target int `json:"target,omitempty"`

	// Label, Goto
	Label string `json:"label,omitempty"`
}

// IsMatch reports whether the element pauses a head until an event arrives.
func (e *Element) IsMatch() bool {
	switch e.Kind {
	case ElementMatchUserIntent, ElementMatchEvent, ElementWhen:
		return true
	}
	return false
}

// Pattern describes which inbound events a match element accepts.
type Pattern struct {
	Kind EventKind `json:"kind"`
	// Intent is set for UserIntentDetected patterns, empty for `user *`.
	Intent   string `json:"intent,omitempty"`
	Wildcard bool   `json:"wildcard,omitempty"`
	// Custom names the CustomEvent matched by `event NAME`.
	Custom    string `json:"custom,omitempty"`
	Predicate string `json:"predicate,omitempty"`
}

// Specificity ranks patterns for tie-breaking: a wildcard accepts anything of
// its kind, an exact pattern names what it wants, a predicate narrows further.
func (p *Pattern) Specificity() int {
	if p.Wildcard {
		return 0
	}
	if p.Predicate != "" {
		return 2
	}
	return 1
}

// Branch is one alternative of a When element.
type Branch struct {
	Pattern Pattern `json:"pattern"`
	Target  int     `json:"target"`
}

// ActionSpec is the static part of a RunAction element.
type ActionSpec struct {
	Name   string  `json:"name"`
	Params []Param `json:"params,omitempty"`
	// Binding receives the result (blocking) or the action id (non-blocking).
	Binding string `json:"binding,omitempty"`
	Wait    bool   `json:"wait"`
}

// Param is a named argument whose value is an expression.
type Param struct {
	Name string `json:"name"`
	Expr string `json:"expr"`
}

// Clock supplies time to the interpreter. Tests inject a fixed clock.
type Clock func() time.Time
