// Package expression compiles and evaluates the expressions embedded in flows
// (assignments, conditions, `where` predicates and action arguments).
//
// Flow variables are written `$name` in source. Rewrite turns them into plain
// identifiers, so an expression is evaluated against an environment holding
// the session context plus the reserved `event` variable.
package expression

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// EventVar is the identifier under which the last consumed event is exposed.
const EventVar = "event"

var functions = []expr.Option{
	expr.Function("base64_encode", func(params ...any) (any, error) {
		s, _ := params[0].(string)
		return base64.StdEncoding.EncodeToString([]byte(s)), nil
	}, new(func(string) string)),
	expr.Function("base64_decode", func(params ...any) (any, error) {
		s, _ := params[0].(string)
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return "", err
		}
		return string(decoded), nil
	}, new(func(string) string)),
}

// Compile rewrites `$name` references and compiles src.
func Compile(src string) (*vm.Program, error) {
	opts := []expr.Option{
		expr.AllowUndefinedVariables(), // Missing variables evaluate to nil
	}
	opts = append(opts, functions...)
	return expr.Compile(Rewrite(src), opts...)
}

// Run evaluates a compiled expression.
func Run(program *vm.Program, env map[string]any) (any, error) {
	return expr.Run(program, env)
}

// Rewrite replaces `$name` with `name` outside of string literals.
func Rewrite(src string) string {
	var (
		b     strings.Builder
		quote rune
		esc   bool
	)
	b.Grow(len(src))
	runes := []rune(src)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if quote != 0 {
			b.WriteRune(r)
			switch {
			case esc:
				esc = false
			case r == '\\':
				esc = true
			case r == quote:
				quote = 0
			}
			continue
		}
		switch r {
		case '"', '\'', '`':
			quote = r
		case '$':
			if i+1 < len(runes) && isIdentStart(runes[i+1]) {
				continue
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Variables returns the `$name` references in src, in order of appearance.
func Variables(src string) []string {
	var out []string
	seen := map[string]bool{}
	runes := []rune(src)
	var quote rune
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if quote != 0 {
			if r == '\\' {
				i++
			} else if r == quote {
				quote = 0
			}
			continue
		}
		switch r {
		case '"', '\'', '`':
			quote = r
		case '$':
			j := i + 1
			for j < len(runes) && isIdentPart(runes[j]) {
				j++
			}
			if j > i+1 {
				name := string(runes[i+1 : j])
				if !seen[name] {
					seen[name] = true
					out = append(out, name)
				}
				i = j - 1
			}
		}
	}
	return out
}

// Truthy maps an evaluation result onto a branch decision.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array, reflect.String:
		return rv.Len() > 0
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

// Interpolate replaces `$name` and `$name.path` in text with values from vars.
// Missing values render as the empty string.
func Interpolate(text string, vars map[string]any) string {
	if !strings.Contains(text, "$") {
		return text
	}
	var b strings.Builder
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '$' || i+1 >= len(runes) || !isIdentStart(runes[i+1]) {
			b.WriteRune(r)
			continue
		}
		j := i + 1
		for j < len(runes) && (isIdentPart(runes[j]) || (runes[j] == '.' && j+1 < len(runes) && isIdentStart(runes[j+1]))) {
			j++
		}
		b.WriteString(Format(lookup(vars, strings.Split(string(runes[i+1:j]), "."))))
		i = j - 1
	}
	return b.String()
}

func lookup(vars map[string]any, path []string) any {
	var cur any = vars
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[key]
	}
	return cur
}

// Format renders a value for display in an utterance.
func Format(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}

func isIdentStart(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || (r >= '0' && r <= '9')
}
