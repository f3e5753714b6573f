package validator

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aretw0/guardrail/pkg/domain"
	"github.com/aretw0/guardrail/pkg/ports"
)

// Rule names a class of finding.
type Rule string

const (
	RuleUnreachable       Rule = "unreachable"
	RuleUnusedLabel       Rule = "unused_label"
	RuleIntentNoSamples   Rule = "intent_without_samples"
	RuleBotNoMessages     Rule = "bot_without_messages"
	RuleUnknownAction     Rule = "unknown_action"
	RuleUnusedUserMessage Rule = "unused_user_message"
)

// Finding is one lint result. Findings never stop a program from running;
// they point at code that is dead or cannot behave as written.
type Finding struct {
	Rule    Rule   `json:"rule"`
	Flow    string `json:"flow,omitempty"`
	Source  string `json:"source,omitempty"`
	Line    int    `json:"line,omitempty"`
	Message string `json:"message"`
}

func (f Finding) String() string {
	loc := f.Source
	if f.Line > 0 {
		loc = fmt.Sprintf("%s:%d", loc, f.Line)
	}
	if f.Flow != "" {
		return fmt.Sprintf("%s: [%s] flow %q: %s", loc, f.Rule, f.Flow, f.Message)
	}
	return fmt.Sprintf("%s: [%s] %s", loc, f.Rule, f.Message)
}

// Option configures Validate.
type Option func(*validator)

// WithCatalog also reports actions the catalog cannot dispatch.
func WithCatalog(c ports.ActionCatalog) Option {
	return func(v *validator) { v.catalog = c }
}

type validator struct {
	program  *domain.Program
	catalog  ports.ActionCatalog
	findings []Finding
	usedUser map[string]bool
}

// Validate lints a compiled program.
func Validate(program *domain.Program, opts ...Option) []Finding {
	v := &validator{program: program, usedUser: map[string]bool{}}
	for _, opt := range opts {
		opt(v)
	}
	for i := range program.Flows {
		v.flow(&program.Flows[i])
	}

	names := make([]string, 0, len(program.UserMessages))
	for name := range program.UserMessages {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !v.usedUser[name] {
			v.add(Finding{Rule: RuleUnusedUserMessage, Message: fmt.Sprintf("user intent %q is defined but no flow matches it", name)})
		}
	}
	return v.findings
}

// Check runs Validate and folds the findings into one error.
func Check(program *domain.Program, opts ...Option) error {
	findings := Validate(program, opts...)
	if len(findings) == 0 {
		return nil
	}
	lines := make([]string, len(findings))
	for i, f := range findings {
		lines[i] = f.String()
	}
	return fmt.Errorf("found %d problems:\n- %s", len(findings), strings.Join(lines, "\n- "))
}

func (v *validator) add(f Finding) {
	v.findings = append(v.findings, f)
}

func (v *validator) at(flow *domain.FlowDefinition, el *domain.Element, rule Rule, format string, args ...any) {
	v.add(Finding{
		Rule:    rule,
		Flow:    flow.Name,
		Source:  flow.Source,
		Line:    el.Line,
		Message: fmt.Sprintf(format, args...),
	})
}

func (v *validator) flow(flow *domain.FlowDefinition) {
	reached := reachable(flow.Elements)
	targeted := map[int]bool{}
	for _, el := range flow.Elements {
		if el.Kind == domain.ElementGoto && el.Label != "" {
			targeted[el.Target] = true
		}
	}

	inDeadRun := false
	for i := range flow.Elements {
		el := &flow.Elements[i]
		if !reached[i] {
			// Compiler-generated jumps out of if/when blocks carry no label
			// and are dead whenever the block ends in stop.
			synthetic := el.Kind == domain.ElementGoto && el.Label == ""
			if !inDeadRun && !synthetic {
				v.at(flow, el, RuleUnreachable, "%s is never reached", describe(el))
				inDeadRun = true
			}
		} else {
			inDeadRun = false
		}

		switch el.Kind {
		case domain.ElementLabel:
			if !targeted[i] {
				v.at(flow, el, RuleUnusedLabel, "label %q is never jumped to", displayLabel(el.Label))
			}
		case domain.ElementMatchUserIntent:
			v.userPattern(flow, el, el.Pattern)
		case domain.ElementWhen:
			for j := range el.Branches {
				v.userPattern(flow, el, &el.Branches[j].Pattern)
			}
		case domain.ElementRunAction:
			v.action(flow, el)
		}
	}
}

func (v *validator) userPattern(flow *domain.FlowDefinition, el *domain.Element, p *domain.Pattern) {
	if p == nil || p.Kind != domain.KindUserIntentDetected || p.Wildcard {
		return
	}
	v.usedUser[p.Intent] = true
	if len(v.program.UserMessages[p.Intent]) == 0 {
		v.at(flow, el, RuleIntentNoSamples, "user intent %q has no samples and only matches its exact name", p.Intent)
	}
}

func (v *validator) action(flow *domain.FlowDefinition, el *domain.Element) {
	spec := el.Action
	switch spec.Name {
	case domain.ActionUtter:
		for _, p := range spec.Params {
			if p.Name != "intent" {
				continue
			}
			intent, err := strconv.Unquote(p.Expr)
			if err != nil {
				return
			}
			if len(v.program.BotMessages[intent]) == 0 {
				v.at(flow, el, RuleBotNoMessages, "bot intent %q has no messages and is said verbatim", intent)
			}
		}
	case domain.ActionTimer:
	default:
		if v.catalog != nil && !v.catalog.Has(spec.Name) {
			v.at(flow, el, RuleUnknownAction, "action %q is not registered", spec.Name)
		}
	}
}

// reachable walks the control flow from the first element.
func reachable(elements []domain.Element) []bool {
	seen := make([]bool, len(elements))
	queue := []int{0}
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		if i < 0 || i >= len(elements) || seen[i] {
			continue
		}
		seen[i] = true

		el := &elements[i]
		switch el.Kind {
		case domain.ElementStop:
		case domain.ElementGoto:
			queue = append(queue, el.Target)
		case domain.ElementIf:
			queue = append(queue, i+1, el.Target)
		case domain.ElementWhen:
			for _, br := range el.Branches {
				queue = append(queue, br.Target)
			}
		default:
			queue = append(queue, i+1)
		}
	}
	return seen
}

func describe(el *domain.Element) string {
	switch {
	case el.Action != nil:
		return fmt.Sprintf("action %q", el.Action.Name)
	case el.Label != "":
		return fmt.Sprintf("%s %q", el.Kind, displayLabel(el.Label))
	default:
		return string(el.Kind)
	}
}

// displayLabel strips the inlining scope the compiler prefixes to labels.
func displayLabel(scoped string) string {
	if i := strings.LastIndex(scoped, "/"); i >= 0 {
		return scoped[i+1:]
	}
	return scoped
}
