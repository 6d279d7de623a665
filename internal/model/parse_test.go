package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/reagent/internal/executor"
)

func TestParseCodeActionWithRationale(t *testing.T) {
	raw := "I will look up the file first.\n```\nf = read_file({\"path\": \"a.txt\"})\nprint(f)\n```"
	act, err := ParseCodeAction(raw)
	require.NoError(t, err)
	assert.Equal(t, executor.ActionCode, act.Kind)
	assert.Equal(t, "I will look up the file first.", act.Rationale)
	assert.Contains(t, act.Code, "read_file")
}

func TestParseCodeActionFinalAnswerCall(t *testing.T) {
	raw := "Done.\n```\nfinal_answer({\"answer\": \"42\"})\n```"
	act, err := ParseCodeAction(raw)
	require.NoError(t, err)
	assert.Equal(t, executor.ActionFinalAnswer, act.Kind)
	assert.Equal(t, "42", act.Answer)
}

func TestParseCodeActionFinalAnswerBareString(t *testing.T) {
	act, err := ParseCodeAction("```\nfinal_answer(\"it works\")\n```")
	require.NoError(t, err)
	assert.Equal(t, executor.ActionFinalAnswer, act.Kind)
	assert.Equal(t, "it works", act.Answer)
}

func TestParseCodeActionWithoutFenceIsMalformed(t *testing.T) {
	_, err := ParseCodeAction("just some prose with no code")
	var merr *MalformedActionError
	require.ErrorAs(t, err, &merr)
	assert.Contains(t, merr.Reason, "fenced")
}

func TestParseCodeActionBadFinalPayload(t *testing.T) {
	_, err := ParseCodeAction("```\nfinal_answer(oops)\n```")
	var merr *MalformedActionError
	assert.ErrorAs(t, err, &merr)
}

func TestParseToolCallAction(t *testing.T) {
	raw := `Let me check the file. {"name": "read_file", "arguments": {"path": "a.txt"}}`
	act, err := ParseToolCallAction(raw)
	require.NoError(t, err)
	assert.Equal(t, executor.ActionToolCall, act.Kind)
	assert.Equal(t, "read_file", act.Name)
	assert.Equal(t, "a.txt", act.Args["path"])
	assert.Equal(t, "Let me check the file.", act.Rationale)
}

func TestParseToolCallActionFenced(t *testing.T) {
	raw := "```json\n{\"name\": \"list_dir\", \"arguments\": {}}\n```"
	act, err := ParseToolCallAction(raw)
	require.NoError(t, err)
	assert.Equal(t, executor.ActionToolCall, act.Kind)
	assert.Equal(t, "list_dir", act.Name)
}

func TestParseToolCallActionFinalAnswer(t *testing.T) {
	act, err := ParseToolCallAction(`{"name": "final_answer", "arguments": {"answer": "done"}}`)
	require.NoError(t, err)
	assert.Equal(t, executor.ActionFinalAnswer, act.Kind)
	assert.Equal(t, "done", act.Answer)
}

func TestParseToolCallActionMalformed(t *testing.T) {
	for _, raw := range []string{
		"no json here",
		`{"arguments": {}}`,
		`{{{`,
	} {
		_, err := ParseToolCallAction(raw)
		var merr *MalformedActionError
		assert.ErrorAs(t, err, &merr, "raw %q", raw)
	}
}
