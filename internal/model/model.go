// Package model defines the reasoning-engine boundary: given the transcript
// so far and the available capabilities, produce the next action or a plan.
// Provider adapters live in internal/providers; this package owns the
// contract, transcript rendering, and action-text parsing.
package model

import (
	"context"
	"fmt"

	"github.com/ChamsBouzaiene/reagent/internal/capability"
	"github.com/ChamsBouzaiene/reagent/internal/executor"
	"github.com/ChamsBouzaiene/reagent/internal/memory"
)

// FinalAnswerName is the designated capability name a reasoning engine uses
// to signal termination. It is intercepted by the loop and never dispatched.
const FinalAnswerName = "final_answer"

// Response is one normalized reasoning result.
type Response struct {
	Action executor.Action
	Raw    string
	Usage  memory.Usage
}

// Model is the reasoning engine interface. Implementations must be safe for
// sequential use by one run; they may be shared across runs if internally
// stateless.
type Model interface {
	// NextAction produces the next proposed action from the rendered
	// transcript. Unreachable providers return an error (retried with
	// backoff by the loop); unparsable output returns *MalformedActionError.
	NextAction(ctx context.Context, transcript []memory.Entry, caps []capability.Schema) (Response, error)

	// Plan produces a high-level strategy for a planning step.
	Plan(ctx context.Context, transcript []memory.Entry, caps []capability.Schema) (string, memory.Usage, error)
}

// MalformedActionError indicates the reasoning engine produced output that
// does not parse into an action. Surfaced to the engine as an observation
// so the model sees its own mistake, never as a fatal abort.
type MalformedActionError struct {
	Raw    string
	Reason string
}

func (e *MalformedActionError) Error() string {
	return fmt.Sprintf("malformed action: %s", e.Reason)
}

// Role mirrors provider chat roles.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a provider-agnostic chat message rendered from the transcript.
type Message struct {
	Role    Role
	Content string
}

// RenderTranscript converts transcript entries into chat messages. Action
// observations and captured errors are rendered as user-visible feedback so
// the next reasoning call sees the outcome of the previous step.
func RenderTranscript(entries []memory.Entry) []Message {
	msgs := make([]Message, 0, len(entries)*2)
	for _, e := range entries {
		switch s := e.Step.(type) {
		case memory.SystemStep:
			msgs = append(msgs, Message{Role: RoleSystem, Content: s.Instructions})
		case memory.TaskStep:
			msgs = append(msgs, Message{Role: RoleUser, Content: "Task: " + s.Task})
		case memory.PlanningStep:
			msgs = append(msgs, Message{Role: RoleAssistant, Content: "Plan:\n" + s.Plan})
		case memory.ActionStep:
			msgs = append(msgs, Message{Role: RoleAssistant, Content: renderAction(s)})
			msgs = append(msgs, Message{Role: RoleUser, Content: renderOutcome(s)})
		case memory.FinalStep:
			msgs = append(msgs, Message{Role: RoleAssistant, Content: s.Answer})
		}
	}
	return msgs
}

func renderAction(s memory.ActionStep) string {
	head := s.Rationale
	switch {
	case s.Code != "":
		if head != "" {
			head += "\n"
		}
		return head + "```\n" + s.Code + "\n```"
	case s.ToolName != "":
		if head != "" {
			head += "\n"
		}
		return head + fmt.Sprintf("Calling %s with %v", s.ToolName, s.ToolArgs)
	default:
		return head
	}
}

func renderOutcome(s memory.ActionStep) string {
	if s.Failed() {
		return fmt.Sprintf("Error (%s): %s\nCorrect the mistake and try again.", s.ErrorKind, s.Error)
	}
	return "Observation:\n" + s.Observation
}
