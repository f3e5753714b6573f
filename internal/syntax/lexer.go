package syntax

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aretw0/guardrail/pkg/domain"
)

// line is a logical line: physical lines joined by continuation, with
// comments stripped and indentation measured.
type line struct {
	num    int
	indent int
	text   string
	doc    string
}

// node is a logical line plus the indented block below it.
type node struct {
	line
	children []*node
}

type lexer struct {
	source string
	lines  []string
	pos    int
	// indentChar is the first whitespace character used for indentation in
	// the file; every other indented line must use the same one.
	indentChar byte
}

func (lx *lexer) errorf(num int, format string, args ...any) error {
	return &domain.SyntaxError{Source: lx.source, Line: num, Message: fmt.Sprintf(format, args...)}
}

// logicalLines splits the source into logical lines.
func (lx *lexer) logicalLines() ([]line, error) {
	var (
		out []line
		doc []string
	)
	for lx.pos < len(lx.lines) {
		num := lx.pos + 1
		raw := strings.TrimRight(lx.lines[lx.pos], " \t\r")
		lx.pos++

		trimmed := strings.TrimLeft(raw, " \t")
		if trimmed == "" {
			continue
		}

		if strings.HasPrefix(trimmed, `"""`) {
			text, err := lx.blockComment(num, trimmed[3:])
			if err != nil {
				return nil, err
			}
			doc = append(doc, text)
			continue
		}

		if strings.HasPrefix(trimmed, "#") {
			doc = append(doc, strings.TrimSpace(strings.TrimPrefix(trimmed, "#")))
			continue
		}

		indent, err := lx.measure(num, raw[:len(raw)-len(trimmed)])
		if err != nil {
			return nil, err
		}

		text, comment, err := lx.join(num, trimmed)
		if err != nil {
			return nil, err
		}
		if comment != "" {
			doc = append(doc, comment)
		}

		out = append(out, line{num: num, indent: indent, text: text, doc: strings.Join(doc, "\n")})
		doc = nil
	}
	return out, nil
}

// blockComment consumes a """...""" comment that starts on line num.
func (lx *lexer) blockComment(num int, rest string) (string, error) {
	if idx := strings.Index(rest, `"""`); idx >= 0 {
		if strings.TrimSpace(rest[idx+3:]) != "" {
			return "", lx.errorf(num, "unexpected text after block comment")
		}
		return strings.TrimSpace(rest[:idx]), nil
	}
	parts := []string{strings.TrimSpace(rest)}
	for lx.pos < len(lx.lines) {
		l := lx.lines[lx.pos]
		lx.pos++
		if idx := strings.Index(l, `"""`); idx >= 0 {
			if strings.TrimSpace(l[idx+3:]) != "" {
				return "", lx.errorf(lx.pos, "unexpected text after block comment")
			}
			parts = append(parts, strings.TrimSpace(l[:idx]))
			return strings.TrimSpace(strings.Join(parts, "\n")), nil
		}
		parts = append(parts, strings.TrimSpace(l))
	}
	return "", lx.errorf(num, "unterminated block comment")
}

func (lx *lexer) measure(num int, prefix string) (int, error) {
	if prefix == "" {
		return 0, nil
	}
	if strings.Contains(prefix, " ") && strings.Contains(prefix, "\t") {
		return 0, lx.errorf(num, "mixed tabs and spaces in indentation")
	}
	if lx.indentChar == 0 {
		lx.indentChar = prefix[0]
	} else if prefix[0] != lx.indentChar {
		return 0, lx.errorf(num, "mixed tabs and spaces in indentation")
	}
	return len(prefix), nil
}

// join strips the trailing comment from text and pulls in continuation lines.
// It returns the joined text and the comment, if any.
func (lx *lexer) join(num int, text string) (string, string, error) {
	var (
		b        strings.Builder
		comments []string
	)
	for {
		code, comment, err := splitComment(text)
		if err != nil {
			return "", "", lx.errorf(lx.pos, "%v", err)
		}
		if comment != "" {
			comments = append(comments, comment)
		}
		code = strings.TrimRight(code, " \t")

		cont := false
		switch {
		case strings.HasSuffix(code, `\`):
			code = strings.TrimRight(strings.TrimSuffix(code, `\`), " \t")
			cont = true
		case endsWithOperator(code):
			cont = true
		}
		b.WriteString(code)

		depth, err := bracketDepth(b.String())
		if err != nil {
			return "", "", lx.errorf(lx.pos, "%v", err)
		}
		if !cont && depth == 0 {
			break
		}
		if lx.pos >= len(lx.lines) {
			if depth > 0 {
				return "", "", lx.errorf(num, "unclosed bracket")
			}
			return "", "", lx.errorf(num, "line continuation at end of file")
		}
		text = strings.TrimSpace(lx.lines[lx.pos])
		lx.pos++
		b.WriteString(" ")
	}
	return strings.TrimSpace(b.String()), strings.Join(comments, " "), nil
}

func endsWithOperator(code string) bool {
	fields := strings.Fields(code)
	if len(fields) < 2 {
		return false
	}
	last := fields[len(fields)-1]
	return last == "or" || last == "and" || last == "||" || last == "&&"
}

// splitComment separates code from a trailing # comment, ignoring # inside
// string literals. An unterminated string is an error.
func splitComment(text string) (code, comment string, err error) {
	var quote byte
	for i := 0; i < len(text); i++ {
		c := text[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '#':
			return text[:i], strings.TrimSpace(text[i+1:]), nil
		}
	}
	if quote != 0 {
		return "", "", errors.New("unterminated string literal")
	}
	return text, "", nil
}

// bracketDepth returns how many brackets are left open in s.
func bracketDepth(s string) (int, error) {
	var (
		quote byte
		depth int
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
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
			if depth < 0 {
				return 0, errors.New("unbalanced closing bracket")
			}
		}
	}
	return depth, nil
}

// blocks arranges logical lines into a tree by indentation.
func (lx *lexer) blocks(lines []line) ([]*node, error) {
	root := &node{line: line{indent: -1}}
	stack := []*node{root}
	widths := []int{0}

	for i := range lines {
		l := lines[i]
		n := &node{line: l}

		current := widths[len(widths)-1]
		switch {
		case l.indent > current:
			parent := stack[len(stack)-1]
			if len(parent.children) == 0 {
				return nil, lx.errorf(l.num, "unexpected indent")
			}
			last := parent.children[len(parent.children)-1]
			stack = append(stack, last)
			widths = append(widths, l.indent)
		case l.indent < current:
			for len(widths) > 1 && widths[len(widths)-1] > l.indent {
				widths = widths[:len(widths)-1]
				stack = stack[:len(stack)-1]
			}
			if widths[len(widths)-1] != l.indent {
				return nil, lx.errorf(l.num, "unindent does not match any outer indentation level")
			}
		}

		parent := stack[len(stack)-1]
		parent.children = append(parent.children, n)
	}
	return root.children, nil
}
