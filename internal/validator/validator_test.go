package validator

import (
	"testing"

	"github.com/aretw0/guardrail/internal/testutils"
	"github.com/aretw0/guardrail/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rules(findings []Finding) []Rule {
	out := make([]Rule, len(findings))
	for i, f := range findings {
		out[i] = f.Rule
	}
	return out
}

func TestValidate_CleanProgram(t *testing.T) {
	prog := testutils.Program(t, testutils.GreetSource)
	assert.Empty(t, Validate(prog))
	assert.NoError(t, Check(prog))
}

func TestValidate_Findings(t *testing.T) {
	prog := testutils.Program(t, `
define user greeting
  "hello"

define user thanks
  "thank you"

define flow greet
  user greeting
  label unused
  bot "hi"
  stop
  bot "never said"
  bot "nor this"

define flow ask
  user question
  bot answer
`)

	findings := Validate(prog)
	assert.ElementsMatch(t, []Rule{
		RuleUnusedLabel,
		RuleUnreachable,
		RuleIntentNoSamples,
		RuleBotNoMessages,
		RuleUnusedUserMessage,
	}, rules(findings))

	for _, f := range findings {
		switch f.Rule {
		case RuleUnreachable:
			assert.Equal(t, "greet", f.Flow)
			assert.Equal(t, 13, f.Line, "only the first element of a dead run is reported")
		case RuleUnusedUserMessage:
			assert.Contains(t, f.Message, `"thanks"`)
		case RuleIntentNoSamples:
			assert.Contains(t, f.Message, `"question"`)
		}
	}
}

func TestValidate_GotoKeepsCodeAlive(t *testing.T) {
	prog := testutils.Program(t, `
define flow loop
  event tick
  goto again
  stop
  label again
  bot "tock"
`)
	// The stop right after goto is dead, the labelled tail is not.
	findings := Validate(prog)
	require.Len(t, findings, 1)
	assert.Equal(t, RuleUnreachable, findings[0].Rule)
	assert.Equal(t, 5, findings[0].Line)
}

func TestValidate_IfElseEndingInStop(t *testing.T) {
	prog := testutils.Program(t, `
define flow check
  event tick
  if $n > 1
    stop
  else
    bot "small"
  bot "after"
`)
	assert.Empty(t, Validate(prog), "the synthetic jump past else is not reported")
}

func TestValidate_Catalog(t *testing.T) {
	reg := registry.NewRegistry()
	reg.Register("lookup", nil)
	prog := testutils.Program(t, `
define flow f
  event tick
  execute lookup
  execute missing
  execute timer(seconds=1)
`)
	findings := Validate(prog, WithCatalog(reg))
	require.Len(t, findings, 1)
	assert.Equal(t, RuleUnknownAction, findings[0].Rule)
	assert.Contains(t, findings[0].Message, `"missing"`)

	err := Check(prog, WithCatalog(reg))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "found 1 problems")
}
