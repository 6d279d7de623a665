package model

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/ChamsBouzaiene/reagent/internal/executor"
)

var fenceRe = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*\n(.*?)```")

// finalCallRe matches a fragment consisting solely of a final_answer call.
var finalCallRe = regexp.MustCompile(`(?s)^\s*final_answer\s*\((.*)\)\s*$`)

// ParseCodeAction parses free-form model output in code mode: rationale
// text followed by a fenced fragment. A fragment consisting of a single
// final_answer call becomes the terminal action. Output without a fence is
// a *MalformedActionError.
func ParseCodeAction(raw string) (executor.Action, error) {
	m := fenceRe.FindStringSubmatchIndex(raw)
	if m == nil {
		return executor.Action{}, &MalformedActionError{
			Raw:    raw,
			Reason: "no fenced code block found; emit your action inside ``` fences",
		}
	}
	code := strings.TrimSpace(raw[m[2]:m[3]])
	rationale := strings.TrimSpace(raw[:m[0]])

	if fm := finalCallRe.FindStringSubmatch(code); fm != nil {
		answer, ok := parseFinalPayload(fm[1])
		if !ok {
			return executor.Action{}, &MalformedActionError{
				Raw:    raw,
				Reason: "final_answer arguments must be a JSON object or string",
			}
		}
		return executor.Action{Kind: executor.ActionFinalAnswer, Rationale: rationale, Answer: answer}, nil
	}

	return executor.Action{Kind: executor.ActionCode, Rationale: rationale, Code: code}, nil
}

// toolCallFrame is the JSON shape expected from tool-call-mode text output.
type toolCallFrame struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ParseToolCallAction parses model output in structured mode: a JSON object
// naming a capability and its arguments, optionally inside fences. A call
// to the designated final_answer name becomes the terminal action.
func ParseToolCallAction(raw string) (executor.Action, error) {
	payload := raw
	if m := fenceRe.FindStringSubmatch(raw); m != nil {
		payload = m[1]
	}
	payload = strings.TrimSpace(payload)

	// Tolerate leading prose by scanning to the first object start.
	if idx := strings.Index(payload, "{"); idx > 0 {
		payload = payload[idx:]
	}

	var frame toolCallFrame
	if err := json.Unmarshal([]byte(payload), &frame); err != nil || frame.Name == "" {
		return executor.Action{}, &MalformedActionError{
			Raw:    raw,
			Reason: `expected a JSON object like {"name": "...", "arguments": {...}}`,
		}
	}

	rationale := strings.TrimSpace(raw[:strings.Index(raw, "{")])
	if frame.Name == FinalAnswerName {
		answer := ""
		if v, ok := frame.Arguments["answer"].(string); ok {
			answer = v
		}
		return executor.Action{Kind: executor.ActionFinalAnswer, Rationale: rationale, Answer: answer}, nil
	}
	return executor.Action{
		Kind:      executor.ActionToolCall,
		Rationale: rationale,
		Name:      frame.Name,
		Args:      frame.Arguments,
	}, nil
}

// parseFinalPayload accepts either a JSON object with an "answer" key or a
// bare JSON string.
func parseFinalPayload(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err == nil {
		if v, ok := obj["answer"].(string); ok {
			return v, true
		}
		return "", false
	}
	var s string
	if err := json.Unmarshal([]byte(raw), &s); err == nil {
		return s, true
	}
	return "", false
}
