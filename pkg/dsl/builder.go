package dsl

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aretw0/guardrail/internal/compiler"
	"github.com/aretw0/guardrail/pkg/adapters/memory"
)

// Builder manages the construction of one source unit.
type Builder struct {
	name     string
	messages []message
	flows    []*FlowBuilder
	byName   map[string]*FlowBuilder
}

type message struct {
	bot     bool
	name    string
	samples []string
}

// New creates a builder for a source unit with the given name.
func New(name string) *Builder {
	if name == "" {
		name = "main.co"
	}
	return &Builder{name: name, byName: make(map[string]*FlowBuilder)}
}

// User declares the sample utterances of a user intent.
func (b *Builder) User(intent string, samples ...string) *Builder {
	b.messages = append(b.messages, message{name: intent, samples: samples})
	return b
}

// Bot declares the texts a bot message may be rendered as.
func (b *Builder) Bot(name string, samples ...string) *Builder {
	b.messages = append(b.messages, message{bot: true, name: name, samples: samples})
	return b
}

// Flow starts a new flow definition.
// If the flow already exists, it returns the existing builder.
func (b *Builder) Flow(name string) *FlowBuilder {
	if fb, ok := b.byName[name]; ok {
		return fb
	}
	fb := &FlowBuilder{name: name, depth: 1}
	b.flows = append(b.flows, fb)
	b.byName[name] = fb
	return fb
}

// Subflow starts a flow that is only reachable through `do`.
func (b *Builder) Subflow(name string) *FlowBuilder {
	fb := b.Flow(name)
	fb.subflow = true
	return fb
}

// Source renders the unit as dialog-language text.
func (b *Builder) Source() string {
	var sb strings.Builder
	for i, m := range b.messages {
		if i > 0 {
			sb.WriteString("\n")
		}
		kind := "user"
		if m.bot {
			kind = "bot"
		}
		fmt.Fprintf(&sb, "define %s %s\n", kind, m.name)
		for _, s := range m.samples {
			fmt.Fprintf(&sb, "  %s\n", strconv.Quote(s))
		}
	}
	for i, f := range b.flows {
		if i > 0 || len(b.messages) > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(f.header())
		for _, line := range f.lines {
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// Build renders the unit, checks that it compiles and wraps it in a loader.
func (b *Builder) Build() (*memory.Loader, error) {
	src := b.Source()
	if _, err := compiler.CompileSource(map[string][]byte{b.name: []byte(src)}); err != nil {
		return nil, fmt.Errorf("dsl: %w", err)
	}
	return memory.NewLoader(map[string]string{b.name: src}), nil
}
