// Package syntax turns dialog-language source text into a syntax tree.
//
// The language is line oriented and indentation sensitive. A source unit is a
// list of `define` blocks: message catalogs (`define user`, `define bot`) and
// flows (`define flow`, `define subflow`).
package syntax

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	wordsRe  = regexp.MustCompile(`^[\p{L}\p{N}_.\-]+( [\p{L}\p{N}_.\-]+)*$`)
	identRe  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	actionRe = regexp.MustCompile(`^(?:\$([A-Za-z_][A-Za-z0-9_]*)\s*=\s*)?(execute|run|start)\s+([A-Za-z_][A-Za-z0-9_.]*)\s*(?:\((.*)\))?$`)
	assignRe = regexp.MustCompile(`^\$([A-Za-z_][A-Za-z0-9_]*)\s*=([^=].*)$`)
)

// Parse parses one source unit. name is used in error messages.
func Parse(name string, src []byte) (*File, error) {
	text := strings.ReplaceAll(string(src), "\r\n", "\n")
	lx := &lexer{source: name, lines: strings.Split(text, "\n")}

	lines, err := lx.logicalLines()
	if err != nil {
		return nil, err
	}
	nodes, err := lx.blocks(lines)
	if err != nil {
		return nil, err
	}

	p := &parser{lx: lx}
	file := &File{Name: name}
	for _, n := range nodes {
		def, err := p.define(n)
		if err != nil {
			return nil, err
		}
		file.Defines = append(file.Defines, def)
	}
	return file, nil
}

type parser struct {
	lx *lexer
}

func (p *parser) errorf(n *node, format string, args ...any) error {
	return p.lx.errorf(n.num, format, args...)
}

func pos(n *node) Pos { return Pos{Line: n.num, Doc: n.doc} }

func (p *parser) define(n *node) (Define, error) {
	fields := strings.Fields(n.text)
	if len(fields) < 2 || fields[0] != "define" {
		return nil, p.errorf(n, "expected 'define', got %q", n.text)
	}

	switch fields[1] {
	case "user", "bot":
		return p.message(n, fields[1] == "bot", strings.Join(fields[2:], " "))
	}

	def := &FlowDef{Pos: pos(n)}
	i := 1
	for ; i < len(fields); i++ {
		switch fields[i] {
		case "extension":
			def.Extension = true
			continue
		case "inactive":
			def.Inactive = true
			continue
		case "flow":
		case "subflow":
			def.Subflow = true
		default:
			return nil, p.errorf(n, "expected 'flow' or 'subflow' after 'define', got %q", fields[i])
		}
		break
	}
	if i >= len(fields) {
		return nil, p.errorf(n, "missing flow keyword")
	}

	def.Name = strings.Join(fields[i+1:], " ")
	if !wordsRe.MatchString(def.Name) {
		return nil, p.errorf(n, "invalid flow name %q", def.Name)
	}
	if def.Subflow && (def.Extension || def.Inactive) {
		return nil, p.errorf(n, "subflows cannot be extension or inactive")
	}

	body, err := p.block(n.children)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, p.errorf(n, "flow %q has an empty body", def.Name)
	}
	def.Body = body
	return def, nil
}

func (p *parser) message(n *node, bot bool, name string) (*MessageDef, error) {
	if !wordsRe.MatchString(name) {
		return nil, p.errorf(n, "invalid message name %q", name)
	}
	def := &MessageDef{Pos: pos(n), Bot: bot, Name: name}
	for _, c := range n.children {
		if len(c.children) > 0 {
			return nil, p.errorf(c.children[0], "unexpected indented block")
		}
		s, rest, err := unquote(c.text)
		if err != nil {
			return nil, p.errorf(c, "%v", err)
		}
		if strings.TrimSpace(rest) != "" {
			return nil, p.errorf(c, "unexpected text after string literal")
		}
		def.Samples = append(def.Samples, s)
	}
	if len(def.Samples) == 0 {
		return nil, p.errorf(n, "message %q has no samples", name)
	}
	return def, nil
}

// block parses sibling statement nodes. if/else and when/else when chains are
// spread across siblings, so it walks them with an explicit index.
func (p *parser) block(nodes []*node) ([]Stmt, error) {
	var out []Stmt
	for i := 0; i < len(nodes); i++ {
		n := nodes[i]
		head, rest := keyword(n.text)

		switch head {
		case "if":
			stmt, next, err := p.ifChain(nodes, i)
			if err != nil {
				return nil, err
			}
			out = append(out, stmt)
			i = next - 1
			continue
		case "when":
			stmt, next, err := p.whenChain(nodes, i)
			if err != nil {
				return nil, err
			}
			out = append(out, stmt)
			i = next - 1
			continue
		case "else", "elif":
			return nil, p.errorf(n, "'%s' without matching 'if' or 'when'", head)
		}

		if len(n.children) > 0 {
			return nil, p.errorf(n.children[0], "unexpected indented block")
		}
		stmt, err := p.simple(n, head, rest)
		if err != nil {
			return nil, err
		}
		out = append(out, stmt)
	}
	return out, nil
}

func (p *parser) simple(n *node, head, rest string) (Stmt, error) {
	switch head {
	case "priority":
		v, err := strconv.ParseFloat(rest, 64)
		if err != nil {
			return nil, p.errorf(n, "invalid priority %q", rest)
		}
		return &PriorityStmt{Pos: pos(n), Value: v}, nil

	case "user", "event":
		pat, err := p.pattern(n, n.text)
		if err != nil {
			return nil, err
		}
		return &MatchStmt{Pos: pos(n), Pattern: pat}, nil

	case "bot":
		if rest == "" {
			return nil, p.errorf(n, "'bot' needs a message name or a string")
		}
		if rest[0] == '"' || rest[0] == '\'' {
			s, tail, err := unquote(rest)
			if err != nil {
				return nil, p.errorf(n, "%v", err)
			}
			if strings.TrimSpace(tail) != "" {
				return nil, p.errorf(n, "unexpected text after string literal")
			}
			return &BotStmt{Pos: pos(n), Text: s}, nil
		}
		name := normalizeWords(rest)
		if !wordsRe.MatchString(name) {
			return nil, p.errorf(n, "invalid bot message name %q", rest)
		}
		return &BotStmt{Pos: pos(n), Intent: name}, nil

	case "label", "goto":
		if !identRe.MatchString(rest) {
			return nil, p.errorf(n, "invalid label %q", rest)
		}
		if head == "label" {
			return &LabelStmt{Pos: pos(n), Name: rest}, nil
		}
		return &GotoStmt{Pos: pos(n), Name: rest}, nil

	case "stop":
		if rest != "" {
			return nil, p.errorf(n, "unexpected text after 'stop'")
		}
		return &StopStmt{Pos: pos(n)}, nil

	case "do":
		name := normalizeWords(rest)
		if !wordsRe.MatchString(name) {
			return nil, p.errorf(n, "invalid flow reference %q", rest)
		}
		return &DoStmt{Pos: pos(n), Flow: name}, nil
	}

	if m := actionRe.FindStringSubmatch(n.text); m != nil {
		args, err := parseArgs(m[4])
		if err != nil {
			return nil, p.errorf(n, "%v", err)
		}
		return &ActionStmt{
			Pos:     pos(n),
			Binding: m[1],
			Wait:    m[2] != "start",
			Name:    m[3],
			Args:    args,
		}, nil
	}

	if m := assignRe.FindStringSubmatch(n.text); m != nil {
		expr := strings.TrimSpace(m[2])
		if expr == "" {
			return nil, p.errorf(n, "missing expression after '='")
		}
		return &AssignStmt{Pos: pos(n), Var: m[1], Expr: expr}, nil
	}

	return nil, p.errorf(n, "unknown statement %q", n.text)
}

// pattern parses `user INTENT`, `user *` or `event KIND [where EXPR]`.
func (p *parser) pattern(n *node, text string) (Pattern, error) {
	head, rest := keyword(text)
	switch head {
	case "user":
		if rest == "*" {
			return Pattern{User: true, Wildcard: true}, nil
		}
		name := normalizeWords(rest)
		if !wordsRe.MatchString(name) {
			return Pattern{}, p.errorf(n, "invalid intent name %q", rest)
		}
		return Pattern{User: true, Intent: name}, nil
	case "event":
		kind, tail := keyword(rest)
		if kind == "" {
			return Pattern{}, p.errorf(n, "'event' needs an event kind")
		}
		if !identRe.MatchString(kind) {
			return Pattern{}, p.errorf(n, "invalid event kind %q", kind)
		}
		pat := Pattern{Event: kind}
		if tail != "" {
			kw, where := keyword(tail)
			if kw != "where" || where == "" {
				return Pattern{}, p.errorf(n, "expected 'where EXPR' after event kind, got %q", tail)
			}
			pat.Where = where
		}
		return pat, nil
	}
	return Pattern{}, p.errorf(n, "expected 'user' or 'event' clause, got %q", text)
}

func (p *parser) ifChain(nodes []*node, i int) (*IfStmt, int, error) {
	n := nodes[i]
	_, cond := keyword(n.text)
	if cond == "" {
		return nil, 0, p.errorf(n, "'if' needs a condition")
	}
	then, err := p.body(n)
	if err != nil {
		return nil, 0, err
	}
	stmt := &IfStmt{Pos: pos(n), Cond: cond, Then: then}
	i++
	if i >= len(nodes) {
		return stmt, i, nil
	}

	next := nodes[i]
	head, rest := keyword(next.text)
	switch {
	case head == "elif" || (head == "else" && strings.HasPrefix(rest, "if ")):
		// Rewrite `else if X` / `elif X` as a nested if in the else branch.
		if head == "else" {
			rest = strings.TrimSpace(strings.TrimPrefix(rest, "if"))
		}
		nested := *next
		nested.text = "if " + rest
		saved := nodes[i]
		nodes[i] = &nested
		inner, after, err := p.ifChain(nodes, i)
		nodes[i] = saved
		if err != nil {
			return nil, 0, err
		}
		stmt.Else = []Stmt{inner}
		return stmt, after, nil
	case head == "else" && rest == "":
		els, err := p.body(next)
		if err != nil {
			return nil, 0, err
		}
		stmt.Else = els
		return stmt, i + 1, nil
	}
	return stmt, i, nil
}

func (p *parser) whenChain(nodes []*node, i int) (*WhenStmt, int, error) {
	stmt := &WhenStmt{Pos: pos(nodes[i])}
	for ; i < len(nodes); i++ {
		n := nodes[i]
		head, rest := keyword(n.text)
		clause := ""
		switch {
		case len(stmt.Branches) == 0 && head == "when":
			clause = rest
		case len(stmt.Branches) > 0 && head == "else" && strings.HasPrefix(rest, "when "):
			clause = strings.TrimSpace(strings.TrimPrefix(rest, "when"))
		default:
			return stmt, i, nil
		}
		pat, err := p.pattern(n, clause)
		if err != nil {
			return nil, 0, err
		}
		body, err := p.block(n.children)
		if err != nil {
			return nil, 0, err
		}
		stmt.Branches = append(stmt.Branches, WhenBranch{Pos: pos(n), Pattern: pat, Body: body})
	}
	return stmt, i, nil
}

func (p *parser) body(n *node) ([]Stmt, error) {
	if len(n.children) == 0 {
		return nil, p.errorf(n, "expected an indented block")
	}
	return p.block(n.children)
}

// keyword splits off the first whitespace separated word.
func keyword(text string) (string, string) {
	text = strings.TrimSpace(text)
	idx := strings.IndexAny(text, " \t")
	if idx < 0 {
		return text, ""
	}
	return text[:idx], strings.TrimSpace(text[idx+1:])
}

func normalizeWords(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// parseArgs parses `name=expr, name=expr`.
func parseArgs(src string) ([]Arg, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, nil
	}
	var args []Arg
	seen := map[string]bool{}
	for _, part := range splitTopLevel(src, ',') {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("empty action argument")
		}
		idx := assignIndex(part)
		if idx < 0 {
			return nil, fmt.Errorf("action arguments must be named: %q", part)
		}
		name := strings.TrimSpace(part[:idx])
		name = strings.TrimPrefix(name, "$")
		if !identRe.MatchString(name) {
			return nil, fmt.Errorf("invalid argument name %q", name)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate argument %q", name)
		}
		seen[name] = true
		expr := strings.TrimSpace(part[idx+1:])
		if expr == "" {
			return nil, fmt.Errorf("missing value for argument %q", name)
		}
		args = append(args, Arg{Name: name, Expr: expr})
	}
	return args, nil
}

// assignIndex finds a lone '=' (not part of ==, !=, <=, >=) outside strings.
func assignIndex(s string) int {
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '=':
			if i+1 < len(s) && s[i+1] == '=' {
				return -1
			}
			if i > 0 && strings.ContainsRune("=!<>", rune(s[i-1])) {
				return -1
			}
			return i
		}
	}
	return -1
}

// splitTopLevel splits s on sep outside of strings and brackets.
func splitTopLevel(s string, sep byte) []string {
	var (
		parts []string
		quote byte
		depth int
		start int
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case sep:
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

// unquote reads a leading string literal from s and returns its value and
// whatever follows it.
func unquote(s string) (string, string, error) {
	s = strings.TrimSpace(s)
	if s == "" || (s[0] != '"' && s[0] != '\'') {
		return "", "", fmt.Errorf("expected a string literal")
	}
	quote := s[0]
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s):
			i++
			switch s[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(s[i])
			}
		case c == quote:
			return b.String(), s[i+1:], nil
		default:
			b.WriteByte(c)
		}
	}
	return "", "", fmt.Errorf("unterminated string literal")
}
