package dsl

import (
	"strconv"
	"strings"
)

// Argument is a named action parameter. Value is an expression.
type Argument struct {
	Name  string
	Value string
}

// Arg builds an Argument from an expression.
func Arg(name, expr string) Argument {
	return Argument{Name: name, Value: expr}
}

// Quote renders s as a string literal expression.
func Quote(s string) string {
	return strconv.Quote(s)
}

// FlowBuilder provides a fluent API for appending statements to a flow.
type FlowBuilder struct {
	name      string
	subflow   bool
	extension bool
	inactive  bool
	depth     int
	lines     []string
}

// Branch is one arm of a When block.
type Branch struct {
	Pattern string
	Body    func(*FlowBuilder)
}

// On builds a When branch.
func On(pattern string, body func(*FlowBuilder)) Branch {
	return Branch{Pattern: pattern, Body: body}
}

func (f *FlowBuilder) header() string {
	var mods []string
	if f.extension {
		mods = append(mods, "extension")
	}
	if f.inactive {
		mods = append(mods, "inactive")
	}
	kind := "flow"
	if f.subflow {
		kind = "subflow"
	}
	mods = append(mods, kind, f.name)
	return "define " + strings.Join(mods, " ") + "\n"
}

func (f *FlowBuilder) line(s string) *FlowBuilder {
	f.lines = append(f.lines, strings.Repeat("  ", f.depth)+s)
	return f
}

// Extension marks the flow as an observer that never owns an event.
func (f *FlowBuilder) Extension() *FlowBuilder {
	f.extension = true
	return f
}

// Inactive keeps the flow from being spawned at session start.
func (f *FlowBuilder) Inactive() *FlowBuilder {
	f.inactive = true
	return f
}

// Priority sets the flow priority. It must be called before any statement.
func (f *FlowBuilder) Priority(p float64) *FlowBuilder {
	return f.line("priority " + strconv.FormatFloat(p, 'g', -1, 64))
}

// User waits for a user intent.
func (f *FlowBuilder) User(intent string) *FlowBuilder {
	return f.line("user " + intent)
}

// AnyUser waits for any recognized user intent.
func (f *FlowBuilder) AnyUser() *FlowBuilder {
	return f.line("user *")
}

// Event waits for an event kind, optionally filtered by a predicate.
func (f *FlowBuilder) Event(kind, where string) *FlowBuilder {
	if where != "" {
		return f.line("event " + kind + " where " + where)
	}
	return f.line("event " + kind)
}

// Bot utters a declared bot message.
func (f *FlowBuilder) Bot(name string) *FlowBuilder {
	return f.line("bot " + name)
}

// Say utters literal text. $variables are interpolated at runtime.
func (f *FlowBuilder) Say(text string) *FlowBuilder {
	return f.line("bot " + strconv.Quote(text))
}

// Execute runs an action and waits for it to finish.
func (f *FlowBuilder) Execute(name string, args ...Argument) *FlowBuilder {
	return f.line("execute " + call(name, args))
}

// ExecuteInto runs an action, waits, and stores its result in variable.
func (f *FlowBuilder) ExecuteInto(variable, name string, args ...Argument) *FlowBuilder {
	return f.line("$" + variable + " = execute " + call(name, args))
}

// Start runs an action without waiting for it.
func (f *FlowBuilder) Start(name string, args ...Argument) *FlowBuilder {
	return f.line("start " + call(name, args))
}

// StartInto runs an action without waiting and stores its action id in variable.
func (f *FlowBuilder) StartInto(variable, name string, args ...Argument) *FlowBuilder {
	return f.line("$" + variable + " = start " + call(name, args))
}

// Set assigns an expression to a context variable.
func (f *FlowBuilder) Set(variable, expr string) *FlowBuilder {
	return f.line("$" + variable + " = " + expr)
}

// If appends a conditional. els may be nil.
func (f *FlowBuilder) If(cond string, then, els func(*FlowBuilder)) *FlowBuilder {
	f.line("if " + cond)
	f.nest(then)
	if els != nil {
		f.line("else")
		f.nest(els)
	}
	return f
}

// When waits for the first of several patterns.
func (f *FlowBuilder) When(branches ...Branch) *FlowBuilder {
	for i, br := range branches {
		kw := "when "
		if i > 0 {
			kw = "else when "
		}
		f.line(kw + br.Pattern)
		f.nest(br.Body)
	}
	return f
}

func (f *FlowBuilder) nest(body func(*FlowBuilder)) {
	f.depth++
	n := len(f.lines)
	if body != nil {
		body(f)
	}
	if len(f.lines) == n {
		f.line("label " + "_empty" + strconv.Itoa(n))
	}
	f.depth--
}

// Label marks a goto target.
func (f *FlowBuilder) Label(name string) *FlowBuilder {
	return f.line("label " + name)
}

// Goto jumps to a label.
func (f *FlowBuilder) Goto(name string) *FlowBuilder {
	return f.line("goto " + name)
}

// Do inlines another flow or subflow.
func (f *FlowBuilder) Do(flow string) *FlowBuilder {
	return f.line("do " + flow)
}

// Stop terminates the flow.
func (f *FlowBuilder) Stop() *FlowBuilder {
	return f.line("stop")
}

func call(name string, args []Argument) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.Name + "=" + a.Value
	}
	return name + "(" + strings.Join(parts, ", ") + ")"
}
