// Package modeltest provides a deterministic reasoning model for loop
// tests: responses play back in order, with optional scripted failures.
package modeltest

import (
	"context"
	"fmt"
	"sync"

	"github.com/ChamsBouzaiene/reagent/internal/capability"
	"github.com/ChamsBouzaiene/reagent/internal/executor"
	"github.com/ChamsBouzaiene/reagent/internal/memory"
	"github.com/ChamsBouzaiene/reagent/internal/model"
)

// Turn configures one scripted model turn.
type Turn struct {
	Action executor.Action
	Usage  memory.Usage
	Err    error
}

// Scripted is a deterministic model.Model for tests. Each NextAction call
// consumes the next turn; running past the script is an error so tests
// catch loops that think longer than expected.
type Scripted struct {
	mu    sync.Mutex
	index int
	turns []Turn

	// PlanText is returned by every Plan call. PlanErr wins when set.
	PlanText string
	PlanErr  error

	// Calls counts NextAction invocations including retried ones.
	Calls int
}

var _ model.Model = (*Scripted)(nil)

func New(turns ...Turn) *Scripted {
	cloned := make([]Turn, len(turns))
	copy(cloned, turns)
	return &Scripted{turns: cloned, PlanText: "1. Solve the task."}
}

// NextAction implements model.Model.
func (s *Scripted) NextAction(_ context.Context, _ []memory.Entry, _ []capability.Schema) (model.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++

	if s.index >= len(s.turns) {
		return model.Response{}, fmt.Errorf("script exhausted at turn %d", s.index+1)
	}
	current := s.turns[s.index]
	s.index++
	if current.Err != nil {
		return model.Response{}, current.Err
	}
	return model.Response{Action: current.Action, Usage: current.Usage}, nil
}

// Plan implements model.Model.
func (s *Scripted) Plan(_ context.Context, _ []memory.Entry, _ []capability.Schema) (string, memory.Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PlanErr != nil {
		return "", memory.Usage{}, s.PlanErr
	}
	return s.PlanText, memory.Usage{}, nil
}

// Remaining reports how many scripted turns were not consumed.
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns) - s.index
}

// Code is shorthand for a code action turn.
func Code(code string) Turn {
	return Turn{Action: executor.Action{Kind: executor.ActionCode, Code: code}}
}

// ToolCall is shorthand for a structured call turn.
func ToolCall(name string, args map[string]any) Turn {
	return Turn{Action: executor.Action{Kind: executor.ActionToolCall, Name: name, Args: args}}
}

// Final is shorthand for a terminal turn.
func Final(answer string) Turn {
	return Turn{Action: executor.Action{Kind: executor.ActionFinalAnswer, Answer: answer}}
}
