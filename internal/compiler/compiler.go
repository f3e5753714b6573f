// Package compiler lowers dialog-language syntax trees into a domain.Program.
//
// Structured statements (if/else, when/else when, do) are flattened into a
// linear element list with index targets, so a head position is a single
// integer and survives serialization.
package compiler

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/aretw0/guardrail/internal/expression"
	"github.com/aretw0/guardrail/internal/syntax"
	"github.com/aretw0/guardrail/pkg/domain"
)

// Compile lowers one or more parsed source units into a Program. Flows are
// kept in source order; files are processed in the order given.
func Compile(files ...*syntax.File) (*domain.Program, error) {
	c := &compiler{
		flows:   map[string]flowRef{},
		program: &domain.Program{UserMessages: map[string][]string{}, BotMessages: map[string][]string{}},
	}
	if err := c.collect(files); err != nil {
		return nil, err
	}
	for _, ref := range c.order {
		if ref.def.Subflow {
			continue
		}
		flow, err := c.lowerFlow(ref)
		if err != nil {
			return nil, err
		}
		c.program.Flows = append(c.program.Flows, *flow)
	}
	c.program.Index()
	return c.program, nil
}

// CompileSource parses and compiles named sources in one step.
func CompileSource(sources map[string][]byte, order ...string) (*domain.Program, error) {
	if len(order) == 0 {
		for name := range sources {
			order = append(order, name)
		}
		sort.Strings(order)
	}
	files := make([]*syntax.File, 0, len(order))
	for _, name := range order {
		f, err := syntax.Parse(name, sources[name])
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return Compile(files...)
}

type flowRef struct {
	source string
	def    *syntax.FlowDef
}

type compiler struct {
	flows   map[string]flowRef
	order   []flowRef
	program *domain.Program
}

func (c *compiler) collect(files []*syntax.File) error {
	msgLines := map[string]int{}
	for _, f := range files {
		for _, d := range f.Defines {
			switch def := d.(type) {
			case *syntax.MessageDef:
				key := "user " + def.Name
				target := c.program.UserMessages
				if def.Bot {
					key = "bot " + def.Name
					target = c.program.BotMessages
				}
				if prev, ok := msgLines[key]; ok {
					return &domain.CompileError{Source: f.Name, Line: def.Line,
						Message: fmt.Sprintf("duplicate message %q (first defined at line %d)", key, prev)}
				}
				msgLines[key] = def.Line
				target[def.Name] = append([]string(nil), def.Samples...)
			case *syntax.FlowDef:
				if prev, ok := c.flows[def.Name]; ok {
					return &domain.CompileError{Source: f.Name, Line: def.Line, Flow: def.Name,
						Message: fmt.Sprintf("duplicate flow name (first defined in %s at line %d)", displaySource(prev.source), prev.def.Line)}
				}
				ref := flowRef{source: f.Name, def: def}
				c.flows[def.Name] = ref
				c.order = append(c.order, ref)
			}
		}
	}
	return nil
}

func displaySource(s string) string {
	if s == "" {
		return "<input>"
	}
	return s
}

// lowering holds the per-flow emission state.
type lowering struct {
	c       *compiler
	source  string
	flow    string
	out     []domain.Element
	labels  map[string]int
	gotos   []pendingGoto
	inlines int
	stack   []string
}

type pendingGoto struct {
	index int
	label string
	line  int
}

func (c *compiler) lowerFlow(ref flowRef) (*domain.FlowDefinition, error) {
	def := ref.def
	l := &lowering{c: c, source: ref.source, flow: def.Name, labels: map[string]int{}, stack: []string{def.Name}}

	fd := &domain.FlowDefinition{
		Name:        def.Name,
		IsExtension: def.Extension,
		Activated:   !def.Inactive,
		Source:      ref.source,
		Line:        def.Line,
		Doc:         def.Doc,
	}

	body := def.Body
	if p, ok := body[0].(*syntax.PriorityStmt); ok {
		fd.Priority = p.Value
		body = body[1:]
	}

	if err := l.block(body, ""); err != nil {
		return nil, err
	}
	for _, g := range l.gotos {
		target, ok := l.labels[g.label]
		if !ok {
			return nil, l.errorf(g.line, "unresolved label %q", displayLabel(g.label))
		}
		l.out[g.index].Target = target
	}
	fd.Elements = l.out
	return fd, nil
}

func displayLabel(scoped string) string {
	for i := len(scoped) - 1; i >= 0; i-- {
		if scoped[i] == '/' {
			return scoped[i+1:]
		}
	}
	return scoped
}

func (l *lowering) errorf(line int, format string, args ...any) error {
	return &domain.CompileError{Source: l.source, Line: line, Flow: l.flow, Message: fmt.Sprintf(format, args...)}
}

func (l *lowering) emit(e domain.Element) int {
	l.out = append(l.out, e)
	return len(l.out) - 1
}

// block lowers statements; scope prefixes labels declared by inlined bodies.
func (l *lowering) block(stmts []syntax.Stmt, scope string) error {
	for _, s := range stmts {
		if err := l.stmt(s, scope); err != nil {
			return err
		}
	}
	return nil
}

func (l *lowering) stmt(s syntax.Stmt, scope string) error {
	pos := s.Position()
	base := domain.Element{Line: pos.Line, Doc: pos.Doc}

	switch st := s.(type) {
	case *syntax.PriorityStmt:
		return l.errorf(pos.Line, "priority must be the first statement of a flow")

	case *syntax.MatchStmt:
		pat, err := l.pattern(st.Pattern, pos.Line)
		if err != nil {
			return err
		}
		base.Kind = domain.ElementMatchEvent
		if st.Pattern.User {
			base.Kind = domain.ElementMatchUserIntent
		}
		base.Pattern = pat
		l.emit(base)

	case *syntax.WhenStmt:
		base.Kind = domain.ElementWhen
		when := l.emit(base)
		var exits []int
		branches := make([]domain.Branch, 0, len(st.Branches))
		for i, br := range st.Branches {
			pat, err := l.pattern(br.Pattern, br.Line)
			if err != nil {
				return err
			}
			branches = append(branches, domain.Branch{Pattern: *pat, Target: len(l.out)})
			if err := l.block(br.Body, scope); err != nil {
				return err
			}
			if i < len(st.Branches)-1 {
				exits = append(exits, l.emit(domain.Element{Kind: domain.ElementGoto, Line: br.Line}))
			}
		}
		for _, idx := range exits {
			l.out[idx].Target = len(l.out)
		}
		l.out[when].Branches = branches

	case *syntax.BotStmt:
		param := domain.Param{Name: "intent", Expr: strconv.Quote(st.Intent)}
		if st.Intent == "" {
			param = domain.Param{Name: "text", Expr: strconv.Quote(st.Text)}
		}
		base.Kind = domain.ElementRunAction
		base.Action = &domain.ActionSpec{Name: domain.ActionUtter, Params: []domain.Param{param}, Wait: true}
		l.emit(base)

	case *syntax.ActionStmt:
		if err := l.checkVar(st.Binding, pos.Line); err != nil {
			return err
		}
		spec := &domain.ActionSpec{Name: st.Name, Binding: st.Binding, Wait: st.Wait}
		for _, a := range st.Args {
			if err := l.checkExpr(a.Expr, pos.Line); err != nil {
				return err
			}
			spec.Params = append(spec.Params, domain.Param{Name: a.Name, Expr: a.Expr})
		}
		if st.Name == domain.ActionTimer && !hasParam(spec.Params, "seconds") {
			return l.errorf(pos.Line, "timer needs a seconds argument")
		}
		base.Kind = domain.ElementRunAction
		base.Action = spec
		l.emit(base)

	case *syntax.AssignStmt:
		if err := l.checkVar(st.Var, pos.Line); err != nil {
			return err
		}
		if err := l.checkExpr(st.Expr, pos.Line); err != nil {
			return err
		}
		base.Kind = domain.ElementAssign
		base.Variable = st.Var
		base.Expr = st.Expr
		l.emit(base)

	case *syntax.IfStmt:
		if err := l.checkExpr(st.Cond, pos.Line); err != nil {
			return err
		}
		base.Kind = domain.ElementIf
		base.Expr = st.Cond
		cond := l.emit(base)
		if err := l.block(st.Then, scope); err != nil {
			return err
		}
		if len(st.Else) == 0 {
			l.out[cond].Target = len(l.out)
			return nil
		}
		exit := l.emit(domain.Element{Kind: domain.ElementGoto, Line: pos.Line})
		l.out[cond].Target = len(l.out)
		if err := l.block(st.Else, scope); err != nil {
			return err
		}
		l.out[exit].Target = len(l.out)

	case *syntax.LabelStmt:
		name := scope + st.Name
		if _, dup := l.labels[name]; dup {
			return l.errorf(pos.Line, "duplicate label %q", st.Name)
		}
		base.Kind = domain.ElementLabel
		base.Label = name
		l.labels[name] = l.emit(base)

	case *syntax.GotoStmt:
		base.Kind = domain.ElementGoto
		base.Label = scope + st.Name
		idx := l.emit(base)
		l.gotos = append(l.gotos, pendingGoto{index: idx, label: base.Label, line: pos.Line})

	case *syntax.StopStmt:
		base.Kind = domain.ElementStop
		l.emit(base)

	case *syntax.DoStmt:
		return l.inline(st, scope)

	default:
		return l.errorf(pos.Line, "unsupported statement %T", s)
	}
	return nil
}

// inline copies the body of another flow or subflow in place.
func (l *lowering) inline(st *syntax.DoStmt, scope string) error {
	ref, ok := l.c.flows[st.Flow]
	if !ok {
		return l.errorf(st.Line, "unknown flow or subflow %q", st.Flow)
	}
	for _, name := range l.stack {
		if name == st.Flow {
			return l.errorf(st.Line, "recursive inclusion of %q", st.Flow)
		}
	}
	body := ref.def.Body
	if _, ok := body[0].(*syntax.PriorityStmt); ok {
		body = body[1:]
	}

	l.inlines++
	inner := fmt.Sprintf("%s%s#%d/", scope, st.Flow, l.inlines)
	l.stack = append(l.stack, st.Flow)
	defer func() { l.stack = l.stack[:len(l.stack)-1] }()
	return l.block(body, inner)
}

func (l *lowering) pattern(p syntax.Pattern, line int) (*domain.Pattern, error) {
	if p.User {
		if p.Wildcard {
			return &domain.Pattern{Kind: domain.KindUserIntentDetected, Wildcard: true}, nil
		}
		return &domain.Pattern{Kind: domain.KindUserIntentDetected, Intent: p.Intent}, nil
	}
	if p.Where != "" {
		if err := l.checkExpr(p.Where, line); err != nil {
			return nil, err
		}
	}
	kind := domain.EventKind(p.Event)
	if kind.IsBuiltin() {
		return &domain.Pattern{Kind: kind, Predicate: p.Where}, nil
	}
	return &domain.Pattern{Kind: domain.KindCustomEvent, Custom: p.Event, Predicate: p.Where}, nil
}

func (l *lowering) checkExpr(src string, line int) error {
	for _, v := range expression.Variables(src) {
		if v == expression.EventVar {
			return l.errorf(line, "$%s is reserved; use %s.field to read the current event", v, v)
		}
	}
	if _, err := expression.Compile(src); err != nil {
		return l.errorf(line, "invalid expression %q: %v", src, err)
	}
	return nil
}

func (l *lowering) checkVar(name string, line int) error {
	if name == expression.EventVar {
		return l.errorf(line, "cannot assign to reserved variable $%s", name)
	}
	return nil
}

func hasParam(params []domain.Param, name string) bool {
	for _, p := range params {
		if p.Name == name {
			return true
		}
	}
	return false
}
