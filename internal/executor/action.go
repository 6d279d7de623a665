package executor

import (
	"fmt"
	"strings"
)

// ActionKind discriminates the closed action variant. Every dispatch site
// switches over it exhaustively; there is no open-ended dispatch.
type ActionKind int

const (
	// ActionCode is a free-form program fragment to run in a sandbox.
	ActionCode ActionKind = iota
	// ActionToolCall is a structured invocation of a registered capability.
	ActionToolCall
	// ActionFinalAnswer terminates the run. It is never dispatched; the
	// loop consumes it directly.
	ActionFinalAnswer
)

func (k ActionKind) String() string {
	switch k {
	case ActionCode:
		return "code"
	case ActionToolCall:
		return "tool_call"
	case ActionFinalAnswer:
		return "final_answer"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Action is one proposed step from the reasoning engine.
type Action struct {
	Kind      ActionKind
	Rationale string

	// Code fields.
	Code string

	// ToolCall fields.
	Name string
	Args map[string]any

	// FinalAnswer payload.
	Answer string
}

// Empty reports whether the action carries no work: a blank fragment or a
// call with no name. Dispatching an empty action yields the no-output
// marker, not an error.
func (a Action) Empty() bool {
	switch a.Kind {
	case ActionCode:
		return strings.TrimSpace(a.Code) == ""
	case ActionToolCall:
		return a.Name == ""
	default:
		return false
	}
}
