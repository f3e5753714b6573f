package compiler

import (
	"errors"
	"testing"

	"github.com/aretw0/guardrail/internal/syntax"
	"github.com/aretw0/guardrail/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compile(t *testing.T, src string) *domain.Program {
	t.Helper()
	f, err := syntax.Parse("test.co", []byte(src))
	require.NoError(t, err)
	prog, err := Compile(f)
	require.NoError(t, err)
	return prog
}

func compileErr(t *testing.T, src string) *domain.CompileError {
	t.Helper()
	f, err := syntax.Parse("test.co", []byte(src))
	require.NoError(t, err)
	_, err = Compile(f)
	require.Error(t, err)
	var ce *domain.CompileError
	require.True(t, errors.As(err, &ce), "expected CompileError, got %T: %v", err, err)
	return ce
}

func TestCompile_Greet(t *testing.T) {
	prog := compile(t, `
define flow greet
  user greeting
  execute say(text="hi")
`)
	require.Len(t, prog.Flows, 1)
	flow := prog.Flows[0]
	assert.Equal(t, "greet", flow.Name)
	assert.Equal(t, 0.0, flow.Priority)
	assert.True(t, flow.Activated)
	assert.False(t, flow.IsExtension)

	require.Len(t, flow.Elements, 2)
	assert.Equal(t, domain.ElementMatchUserIntent, flow.Elements[0].Kind)
	assert.Equal(t, &domain.Pattern{Kind: domain.KindUserIntentDetected, Intent: "greeting"}, flow.Elements[0].Pattern)
	assert.Equal(t, domain.ElementRunAction, flow.Elements[1].Kind)
	assert.Equal(t, &domain.ActionSpec{
		Name:   "say",
		Params: []domain.Param{{Name: "text", Expr: `"hi"`}},
		Wait:   true,
	}, flow.Elements[1].Action)

	id, ok := prog.Lookup("greet")
	assert.True(t, ok)
	assert.Equal(t, domain.FlowID(0), id)
}

func TestCompile_PriorityAndModifiers(t *testing.T) {
	prog := compile(t, `
define extension flow audit
  priority 5
  user *

define inactive flow survey
  event order_shipped where event.data.total > 10
`)
	audit := prog.Flows[0]
	assert.Equal(t, 5.0, audit.Priority)
	assert.True(t, audit.IsExtension)
	assert.True(t, audit.Elements[0].Pattern.Wildcard)

	survey := prog.Flows[1]
	assert.False(t, survey.Activated)
	assert.Equal(t, &domain.Pattern{Kind: domain.KindCustomEvent, Custom: "order_shipped", Predicate: "event.data.total > 10"}, survey.Elements[0].Pattern)
}

func TestCompile_IfElseFlattening(t *testing.T) {
	prog := compile(t, `
define flow branch
  if $n > 1
    $a = 1
  else
    $a = 2
  stop
`)
	els := prog.Flows[0].Elements
	// 0 if, 1 assign a=1, 2 goto end, 3 assign a=2, 4 stop
	require.Len(t, els, 5)
	assert.Equal(t, domain.ElementIf, els[0].Kind)
	assert.Equal(t, 3, els[0].Target)
	assert.Equal(t, domain.ElementGoto, els[2].Kind)
	assert.Equal(t, 4, els[2].Target)
	assert.Equal(t, domain.ElementStop, els[4].Kind)
}

func TestCompile_WhenFlattening(t *testing.T) {
	prog := compile(t, `
define flow race
  $t = start timer(seconds=5)
  when event ActionFinished
    bot "done"
  else when event TimerElapsed
    bot "too slow"
`)
	els := prog.Flows[0].Elements
	// 0 start timer, 1 when, 2 utter done, 3 goto end, 4 utter too slow
	require.Len(t, els, 5)
	when := els[1]
	assert.Equal(t, domain.ElementWhen, when.Kind)
	require.Len(t, when.Branches, 2)
	assert.Equal(t, 2, when.Branches[0].Target)
	assert.Equal(t, domain.KindActionFinished, when.Branches[0].Pattern.Kind)
	assert.Equal(t, 4, when.Branches[1].Target)
	assert.Equal(t, 5, els[3].Target)
	assert.Equal(t, domain.ActionUtter, els[4].Action.Name)
	assert.Equal(t, []domain.Param{{Name: "text", Expr: `"too slow"`}}, els[4].Action.Params)
}

func TestCompile_LabelsAndSubflows(t *testing.T) {
	prog := compile(t, `
define subflow ask
  label again
  bot "Really?"
  when user yes
    stop
  else when user no
    goto again

define flow main
  label again
  user hello
  do ask
  goto again
`)
	require.Len(t, prog.Flows, 1, "subflows are inlined, not compiled standalone")
	els := prog.Flows[0].Elements
	assert.Equal(t, "again", els[0].Label)
	last := els[len(els)-1]
	assert.Equal(t, domain.ElementGoto, last.Kind)
	assert.Equal(t, 0, last.Target)

	// The inlined goto resolves to the inlined label, not the outer one.
	var inner *domain.Element
	for i := range els {
		if els[i].Kind == domain.ElementGoto && els[i].Label != "" && els[i].Label != "again" {
			inner = &els[i]
		}
	}
	require.NotNil(t, inner)
	assert.Equal(t, domain.ElementLabel, els[inner.Target].Kind)
	assert.NotEqual(t, 0, inner.Target)
}

func TestCompile_Messages(t *testing.T) {
	prog := compile(t, `
define user greeting
  "hi"
  "hello"

define bot greeting
  "Hello!"

define flow greet
  user greeting
  bot greeting
`)
	assert.Equal(t, []string{"hi", "hello"}, prog.UserMessages["greeting"])
	assert.Equal(t, []string{"Hello!"}, prog.BotMessages["greeting"])
	assert.Equal(t, []domain.Param{{Name: "intent", Expr: `"greeting"`}}, prog.Flows[0].Elements[1].Action.Params)
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		line int
		msg  string
	}{
		{"duplicate flow", "define flow a\n  stop\ndefine flow a\n  stop\n", 3, "duplicate flow name"},
		{"unresolved label", "define flow a\n  goto nowhere\n", 2, "unresolved label"},
		{"duplicate label", "define flow a\n  label x\n  label x\n", 3, "duplicate label"},
		{"unknown subflow", "define flow a\n  do missing\n", 2, "unknown flow or subflow"},
		{"recursion", "define subflow a\n  do b\ndefine subflow b\n  do a\ndefine flow c\n  do a\n", 4, "recursive"},
		{"late priority", "define flow a\n  stop\n  priority 2\n", 3, "priority must be the first"},
		{"bad expression", "define flow a\n  $x = 1 +\n", 2, "invalid expression"},
		{"reserved variable", "define flow a\n  $event = 1\n", 2, "reserved"},
		{"timer without seconds", "define flow a\n  execute timer()\n", 2, "seconds"},
		{"duplicate message", "define user hi\n  \"a\"\ndefine user hi\n  \"b\"\n", 3, "duplicate message"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := compileErr(t, tt.src)
			assert.Equal(t, tt.line, ce.Line)
			assert.Contains(t, ce.Message, tt.msg)
		})
	}
}

func TestCompileSource_MultipleFiles(t *testing.T) {
	_, err := CompileSource(map[string][]byte{
		"a.co": []byte("define flow x\n  stop\n"),
		"b.co": []byte("define flow x\n  stop\n"),
	})
	var ce *domain.CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "b.co", ce.Source)
	assert.Contains(t, ce.Message, "a.co")

	_, err = CompileSource(map[string][]byte{"bad.co": []byte("define flow\n")})
	var se *domain.SyntaxError
	assert.True(t, errors.As(err, &se))
}
