// Package providers implements the reasoning model interface against real
// LLM APIs. Each provider supports two dispatch styles: code, where the
// model answers with a fenced fragment, and tool-call, where it uses the
// provider's native function calling.
package providers

import (
	"encoding/json"
	"fmt"

	"github.com/ChamsBouzaiene/reagent/internal/capability"
	"github.com/ChamsBouzaiene/reagent/internal/executor"
	"github.com/ChamsBouzaiene/reagent/internal/model"
)

// Dispatch selects how actions cross the wire.
type Dispatch string

const (
	DispatchCode     Dispatch = "code"
	DispatchToolCall Dispatch = "tool_call"
)

// Options configures a provider-backed model.
type Options struct {
	APIKey          string
	Model           string
	BaseURL         string
	MaxOutputTokens int
	Temperature     float32
	Dispatch        Dispatch
}

func (o Options) withDefaults() Options {
	if o.MaxOutputTokens <= 0 {
		o.MaxOutputTokens = 4096
	}
	if o.Dispatch == "" {
		o.Dispatch = DispatchToolCall
	}
	return o
}

// finalAnswerSchema is the synthetic terminal tool exposed in tool-call
// dispatch so the model can conclude through the same channel it acts.
const finalAnswerSchema = `{
	"type": "object",
	"properties": {
		"answer": {
			"type": "string",
			"description": "The complete final answer to the task."
		}
	},
	"required": ["answer"]
}`

// codeModeReminder is appended to the transcript in code dispatch. The
// fragment grammar mirrors what the sandbox evaluator accepts.
const codeModeReminder = "Respond with brief reasoning followed by exactly one fenced code block. " +
	"Inside it, call capabilities as name({\"arg\": \"value\"}), assign with x = name({...}), " +
	"observe values with print(x), and finish the task with final_answer({\"answer\": \"...\"})."

// planPrompt asks for a strategy instead of an action.
const planPrompt = "Before acting further, produce a concise numbered plan for solving the task " +
	"given everything observed so far. Output only the plan."

func parseSchema(s capability.Schema) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s.JSONSchema), &obj); err != nil {
		return nil, fmt.Errorf("invalid schema JSON for capability %s: %w", s.Name, err)
	}
	return obj, nil
}

func parseArgs(raw string) map[string]any {
	args := map[string]any{}
	if raw == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{}
	}
	return args
}

// parseText converts a content-only reply into an action per dispatch
// style. In tool-call dispatch a plain text reply, like a stop finish from
// the API, is the model concluding.
func parseText(dispatch Dispatch, content string) (model.Response, error) {
	if dispatch == DispatchCode {
		act, err := model.ParseCodeAction(content)
		if err != nil {
			return model.Response{}, err
		}
		return model.Response{Action: act, Raw: content}, nil
	}
	return model.Response{
		Action: executor.Action{Kind: executor.ActionFinalAnswer, Answer: content},
		Raw:    content,
	}, nil
}
