package memory

import (
	"time"
)

// StepKind discriminates the step variants stored in a run transcript.
type StepKind string

const (
	KindSystem   StepKind = "system"
	KindTask     StepKind = "task"
	KindPlanning StepKind = "planning"
	KindAction   StepKind = "action"
	KindFinal    StepKind = "final"
)

// ExitReason explains why a run produced its FinalStep.
type ExitReason string

const (
	ExitFinalAnswer        ExitReason = "final_answer"
	ExitStepBudgetExceeded ExitReason = "step_budget_exceeded"
	ExitFatalError         ExitReason = "fatal_error"
	ExitInterrupted        ExitReason = "interrupted"
)

// Step is the closed set of transcript entries. Only the types in this
// package implement it.
type Step interface {
	Kind() StepKind
}

// Usage holds token accounting attributed to a single step.
type Usage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// Add accumulates another usage sample.
func (u *Usage) Add(other Usage) {
	u.Prompt += other.Prompt
	u.Completion += other.Completion
	u.Total += other.Total
}

// SystemStep carries the operating instructions given to the reasoning
// engine. Created once per run.
type SystemStep struct {
	Instructions string `json:"instructions"`
}

func (SystemStep) Kind() StepKind { return KindSystem }

// TaskStep is the accepted task. Immutable once appended.
type TaskStep struct {
	Task    string         `json:"task"`
	Context map[string]any `json:"context,omitempty"`
}

func (TaskStep) Kind() StepKind { return KindTask }

// PlanningStep records the reasoning engine's high-level strategy. It is the
// only step that may be rewritten, and only while it is the newest entry
// (the human-in-the-loop edit window).
type PlanningStep struct {
	Plan   string `json:"plan"`
	Usage  Usage  `json:"usage"`
	Edited bool   `json:"edited,omitempty"`
}

func (PlanningStep) Kind() StepKind { return KindPlanning }

// ActionStep records one reasoning/acting/observing iteration.
type ActionStep struct {
	// Number is the 1-based action counter within the run. It is assigned
	// by the loop, not the store, and increases without gaps.
	Number    int            `json:"number"`
	Rationale string         `json:"rationale,omitempty"`
	Code      string         `json:"code,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	ToolArgs  map[string]any `json:"tool_args,omitempty"`

	Observation string `json:"observation,omitempty"`
	// Error holds the captured per-step failure, if any. It is fed back to
	// the reasoning engine as the next observation rather than aborting the
	// run.
	Error     string        `json:"error,omitempty"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Usage     Usage         `json:"usage"`
	Duration  time.Duration `json:"duration"`
}

func (ActionStep) Kind() StepKind { return KindAction }

// Failed reports whether the step captured an error.
func (s ActionStep) Failed() bool { return s.Error != "" }

// FinalStep terminates a run. Exactly one exists per run and it is always
// the last entry.
type FinalStep struct {
	Answer string     `json:"answer"`
	Reason ExitReason `json:"reason"`
}

func (FinalStep) Kind() StepKind { return KindFinal }
