package graph

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aretw0/guardrail/pkg/domain"
)

// GraphOverlay contains dynamic state data to visualize on the graph.
type GraphOverlay struct {
	// Waiting maps a flow name to the element indices where heads are paused.
	Waiting map[string][]int
	// Blocked maps a flow name to the indices of heads waiting on an action.
	Blocked map[string][]int
}

// OverlayFromState marks the position of every live head of state.
func OverlayFromState(program *domain.Program, state *domain.State) *GraphOverlay {
	o := &GraphOverlay{Waiting: map[string][]int{}, Blocked: map[string][]int{}}
	for _, h := range state.Heads {
		if !h.Status.Live() || int(h.FlowID) >= len(program.Flows) {
			continue
		}
		name := program.Flows[h.FlowID].Name
		if h.Wait != "" {
			o.Blocked[name] = append(o.Blocked[name], h.Position)
		} else {
			o.Waiting[name] = append(o.Waiting[name], h.Position)
		}
	}
	return o
}

// GenerateMermaid produces a Mermaid flowchart with one subgraph per flow.
// It applies semantic styling:
// - Match (user/event/when): [/Parallelogram/]
// - Action: [[Subroutine]]
// - If: {Rhombus}
// - Stop and end: ((Circle))
// - Default: [Rectangle]
// Jumps (goto) are drawn dotted. Overlay styles are applied if provided.
func GenerateMermaid(program *domain.Program, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for fi := range program.Flows {
		flow := &program.Flows[fi]
		title := flow.Name
		if flow.Priority != 0 {
			title = fmt.Sprintf("%s (priority %s)", title, strconv.FormatFloat(flow.Priority, 'f', -1, 64))
		}
		if !flow.Activated {
			title += " [inactive]"
		}
		fmt.Fprintf(&sb, "    subgraph %s[\"%s\"]\n", flowID(fi), escape(title))

		endUsed := false
		for i := range flow.Elements {
			el := &flow.Elements[i]
			if synthetic(el) {
				continue
			}
			opener, closer := shape(el)
			fmt.Fprintf(&sb, "        %s%s\"%s\"%s\n", nodeID(fi, i), opener, escape(label(el)), closer)

			for _, e := range edges(flow.Elements, i) {
				target := resolve(flow.Elements, e.to)
				if target >= len(flow.Elements) {
					endUsed = true
				}
				arrow := "-->"
				if e.jump {
					arrow = "-.->"
				}
				if e.label != "" {
					arrow = fmt.Sprintf("-- \"%s\" -->", escape(e.label))
					if e.jump {
						arrow = fmt.Sprintf("-. \"%s\" .->", escape(e.label))
					}
				}
				fmt.Fprintf(&sb, "        %s %s %s\n", nodeID(fi, i), arrow, nodeID(fi, target))
			}
		}
		if endUsed || len(flow.Elements) == 0 {
			fmt.Fprintf(&sb, "        %s((\"end\"))\n", nodeID(fi, len(flow.Elements)))
		}
		sb.WriteString("    end\n")
	}

	// Apply Overlay Styles
	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme (Light/Dark)
		sb.WriteString("    classDef waiting fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef blocked fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")
		for fi := range program.Flows {
			name := program.Flows[fi].Name
			writeClass(&sb, "waiting", fi, overlay.Waiting[name])
			writeClass(&sb, "blocked", fi, overlay.Blocked[name])
		}
	}

	return sb.String()
}

func writeClass(sb *strings.Builder, class string, fi int, positions []int) {
	seen := map[int]bool{}
	for _, pos := range positions {
		if seen[pos] {
			continue
		}
		seen[pos] = true
		fmt.Fprintf(sb, "    class %s %s;\n", nodeID(fi, pos), class)
	}
}

type edge struct {
	to    int
	label string
	jump  bool
}

func edges(elements []domain.Element, i int) []edge {
	el := &elements[i]
	switch el.Kind {
	case domain.ElementStop:
		return nil
	case domain.ElementGoto:
		return []edge{{to: el.Target, jump: true}}
	case domain.ElementIf:
		return []edge{{to: i + 1, label: "true"}, {to: el.Target, label: "else"}}
	case domain.ElementWhen:
		out := make([]edge, 0, len(el.Branches))
		for _, br := range el.Branches {
			out = append(out, edge{to: br.Target, label: patternText(&br.Pattern)})
		}
		return out
	default:
		return []edge{{to: i + 1}}
	}
}

// synthetic reports jumps the compiler inserted to leave if/when blocks.
func synthetic(el *domain.Element) bool {
	return el.Kind == domain.ElementGoto && el.Label == ""
}

// resolve follows synthetic jumps so edges land on real elements.
func resolve(elements []domain.Element, i int) int {
	for hops := 0; i < len(elements) && synthetic(&elements[i]) && hops < len(elements); hops++ {
		i = elements[i].Target
	}
	return i
}

func shape(el *domain.Element) (string, string) {
	switch el.Kind {
	case domain.ElementMatchUserIntent, domain.ElementMatchEvent, domain.ElementWhen:
		return "[/", "/]"
	case domain.ElementRunAction:
		if el.Action.Name == domain.ActionUtter {
			return "[", "]"
		}
		return "[[", "]]"
	case domain.ElementIf:
		return "{", "}"
	case domain.ElementStop:
		return "((", "))"
	case domain.ElementLabel:
		return "([", "])"
	default:
		return "[", "]"
	}
}

func label(el *domain.Element) string {
	switch el.Kind {
	case domain.ElementMatchUserIntent, domain.ElementMatchEvent:
		return patternText(el.Pattern)
	case domain.ElementWhen:
		return "when"
	case domain.ElementRunAction:
		return actionText(el.Action)
	case domain.ElementAssign:
		return fmt.Sprintf("$%s = %s", el.Variable, el.Expr)
	case domain.ElementIf:
		return "if " + el.Expr
	case domain.ElementLabel:
		return "label " + displayLabel(el.Label)
	case domain.ElementGoto:
		return "goto " + displayLabel(el.Label)
	default:
		return string(el.Kind)
	}
}

func patternText(p *domain.Pattern) string {
	if p == nil {
		return ""
	}
	var s string
	switch {
	case p.Kind == domain.KindUserIntentDetected && p.Wildcard:
		s = "user *"
	case p.Kind == domain.KindUserIntentDetected:
		s = "user " + p.Intent
	case p.Kind == domain.KindCustomEvent:
		s = "event " + p.Custom
	default:
		s = "event " + string(p.Kind)
	}
	if p.Predicate != "" {
		s += " where " + p.Predicate
	}
	return s
}

func actionText(a *domain.ActionSpec) string {
	if a.Name == domain.ActionUtter {
		for _, p := range a.Params {
			if v, err := strconv.Unquote(p.Expr); err == nil {
				if p.Name == "intent" {
					return "bot " + v
				}
				return "bot " + strconv.Quote(v)
			}
		}
		return "bot"
	}
	verb := "execute"
	if !a.Wait {
		verb = "start"
	}
	s := verb + " " + a.Name
	if len(a.Params) > 0 {
		args := make([]string, len(a.Params))
		for i, p := range a.Params {
			args[i] = p.Name + "=" + p.Expr
		}
		s += "(" + strings.Join(args, ", ") + ")"
	}
	if a.Binding != "" {
		s = "$" + a.Binding + " = " + s
	}
	return s
}

func flowID(fi int) string { return fmt.Sprintf("f%d", fi) }

func nodeID(fi, i int) string { return fmt.Sprintf("f%d_e%d", fi, i) }

// escape makes text safe inside a quoted Mermaid label.
func escape(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}

func displayLabel(scoped string) string {
	if i := strings.LastIndex(scoped, "/"); i >= 0 {
		return scoped[i+1:]
	}
	return scoped
}
