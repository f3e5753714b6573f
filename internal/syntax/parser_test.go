package syntax

import (
	"errors"
	"testing"

	"github.com/aretw0/guardrail/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const greetSource = `
# Greets the user back.
define user express greeting
  "hello"
  "hi there"

define bot express greeting
  "Hello $name!"

define flow greet
  """
  Main greeting flow.
  """
  priority 2
  user express greeting
  bot express greeting
  $reply = execute say(text="hi", loud=false)  # trailing comment
`

func TestParse_Greeting(t *testing.T) {
	file, err := Parse("greet.co", []byte(greetSource))
	require.NoError(t, err)
	require.Len(t, file.Defines, 3)

	user, ok := file.Defines[0].(*MessageDef)
	require.True(t, ok)
	assert.False(t, user.Bot)
	assert.Equal(t, "express greeting", user.Name)
	assert.Equal(t, []string{"hello", "hi there"}, user.Samples)
	assert.Equal(t, "Greets the user back.", user.Doc)
	assert.Equal(t, 3, user.Line)

	flow, ok := file.Defines[2].(*FlowDef)
	require.True(t, ok)
	assert.Equal(t, "greet", flow.Name)
	require.Len(t, flow.Body, 4)

	prio := flow.Body[0].(*PriorityStmt)
	assert.Equal(t, 2.0, prio.Value)
	assert.Equal(t, "Main greeting flow.", prio.Doc)

	match := flow.Body[1].(*MatchStmt)
	assert.Equal(t, Pattern{User: true, Intent: "express greeting"}, match.Pattern)

	bot := flow.Body[2].(*BotStmt)
	assert.Equal(t, "express greeting", bot.Intent)

	act := flow.Body[3].(*ActionStmt)
	assert.Equal(t, "say", act.Name)
	assert.Equal(t, "reply", act.Binding)
	assert.True(t, act.Wait)
	assert.Equal(t, []Arg{{Name: "text", Expr: `"hi"`}, {Name: "loud", Expr: "false"}}, act.Args)
	assert.Equal(t, "trailing comment", act.Doc)
}

func TestParse_Modifiers(t *testing.T) {
	src := `
define extension flow audit
  user *
  start log(kind="turn")

define inactive flow later
  event order_shipped where event.data.id == $order
  stop

define subflow helper
  $x = 1
`
	file, err := Parse("", []byte(src))
	require.NoError(t, err)

	audit := file.Defines[0].(*FlowDef)
	assert.True(t, audit.Extension)
	assert.Equal(t, Pattern{User: true, Wildcard: true}, audit.Body[0].(*MatchStmt).Pattern)
	assert.False(t, audit.Body[1].(*ActionStmt).Wait)

	later := file.Defines[1].(*FlowDef)
	assert.True(t, later.Inactive)
	assert.Equal(t, Pattern{Event: "order_shipped", Where: "event.data.id == $order"}, later.Body[0].(*MatchStmt).Pattern)
	assert.IsType(t, &StopStmt{}, later.Body[1])

	helper := file.Defines[2].(*FlowDef)
	assert.True(t, helper.Subflow)
	assert.Equal(t, &AssignStmt{Pos: Pos{Line: 11}, Var: "x", Expr: "1"}, helper.Body[0])
}

func TestParse_Branches(t *testing.T) {
	src := `
define flow branchy
  if $n > 10
    bot "big"
  elif $n > 5
    bot "medium"
  else
    bot "small"
  when user yes
    bot "great"
  else when event TimerElapsed
    goto done
  label done
`
	file, err := Parse("", []byte(src))
	require.NoError(t, err)
	flow := file.Defines[0].(*FlowDef)
	require.Len(t, flow.Body, 3)

	ifs := flow.Body[0].(*IfStmt)
	assert.Equal(t, "$n > 10", ifs.Cond)
	require.Len(t, ifs.Else, 1)
	nested := ifs.Else[0].(*IfStmt)
	assert.Equal(t, "$n > 5", nested.Cond)
	assert.Equal(t, "small", nested.Else[0].(*BotStmt).Text)

	when := flow.Body[1].(*WhenStmt)
	require.Len(t, when.Branches, 2)
	assert.Equal(t, "yes", when.Branches[0].Pattern.Intent)
	assert.Equal(t, "TimerElapsed", when.Branches[1].Pattern.Event)
	assert.Equal(t, "done", when.Branches[1].Body[0].(*GotoStmt).Name)

	assert.Equal(t, "done", flow.Body[2].(*LabelStmt).Name)
}

func TestParse_Continuation(t *testing.T) {
	src := "define flow cont\n" +
		"  $ok = $a > 1 or\n" +
		"    $b < 2\n" +
		"  $sum = 1 + \\\n" +
		"    2\n" +
		"  $list = [1,\n" +
		"    2, 3]\n" +
		"  execute notify(to={\"a\": 1,\n" +
		"    \"b\": 2})\n"

	file, err := Parse("", []byte(src))
	require.NoError(t, err)
	body := file.Defines[0].(*FlowDef).Body
	require.Len(t, body, 4)
	assert.Equal(t, "$a > 1 or $b < 2", body[0].(*AssignStmt).Expr)
	assert.Equal(t, "1 + 2", body[1].(*AssignStmt).Expr)
	assert.Equal(t, "[1, 2, 3]", body[2].(*AssignStmt).Expr)
	assert.Equal(t, `{"a": 1, "b": 2}`, body[3].(*ActionStmt).Args[0].Expr)
	assert.Equal(t, 8, body[3].Position().Line)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		line int
		msg  string
	}{
		{"mixed tabs and spaces", "define flow a\n \tstop\n", 2, "mixed tabs and spaces"},
		{"tabs then spaces", "define flow a\n\tstop\ndefine flow b\n  stop\n", 4, "mixed tabs and spaces"},
		{"bad unindent", "define flow a\n    user hi\n  stop\n", 3, "unindent"},
		{"unexpected indent", "  define flow a\n", 1, "unexpected indent"},
		{"unterminated string", "define flow a\n  bot \"oops\n", 2, "unterminated string"},
		{"unclosed bracket", "define flow a\n  $x = [1,\n", 2, "unclosed bracket"},
		{"unknown statement", "define flow a\n  dance\n", 2, "unknown statement"},
		{"empty body", "define flow a\n", 1, "empty body"},
		{"positional args", "define flow a\n  execute say(\"hi\")\n", 2, "must be named"},
		{"stray else", "define flow a\n  else\n    stop\n", 2, "without matching"},
		{"not a define", "flow a\n", 1, "expected 'define'"},
		{"unterminated block comment", "\"\"\"\nabc\n", 1, "unterminated block comment"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("unit.co", []byte(tt.src))
			require.Error(t, err)
			var se *domain.SyntaxError
			require.True(t, errors.As(err, &se), "expected SyntaxError, got %T", err)
			assert.Equal(t, tt.line, se.Line)
			assert.Contains(t, se.Message, tt.msg)
			assert.Equal(t, "unit.co", se.Source)
		})
	}
}
