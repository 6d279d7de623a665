package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/ChamsBouzaiene/reagent/internal/memory"
)

// State names the phases of the run loop. Transitions are published to
// hooks in order; a run always ends in StateTerminating.
type State string

const (
	StateInit        State = "init"
	StatePlanning    State = "planning"
	StateReasoning   State = "reasoning"
	StateDispatching State = "dispatching"
	StateObserving   State = "observing"
	StateTerminating State = "terminating"
)

// RunInfo identifies the run a hook event belongs to.
type RunInfo struct {
	RunID string
	Agent string
	Step  int
}

// StateEvent is one loop transition.
type StateEvent struct {
	RunInfo
	State State
	At    time.Time
	// Elapsed is the time spent in the previous state.
	Elapsed time.Duration
	// Usage is the cumulative token accounting at the transition.
	Usage memory.Usage
}

// Hook observes the run loop. Implementations must not block; slow sinks
// should buffer internally. Hook errors are not a thing: observation never
// influences control flow.
type Hook interface {
	OnRunStart(ctx context.Context, info RunInfo, task string)
	OnTransition(ctx context.Context, ev StateEvent)
	OnPlanningStep(ctx context.Context, info RunInfo, step memory.PlanningStep)
	OnActionStep(ctx context.Context, info RunInfo, step memory.ActionStep)
	OnRetryAttempt(ctx context.Context, info RunInfo, attempt int, delay time.Duration, err error)
	OnDone(ctx context.Context, info RunInfo, final memory.FinalStep, totals memory.Usage)
}

// NopHook implements Hook with no-ops; embed it to pick out the events you
// care about.
type NopHook struct{}

func (NopHook) OnRunStart(context.Context, RunInfo, string)                       {}
func (NopHook) OnTransition(context.Context, StateEvent)                          {}
func (NopHook) OnPlanningStep(context.Context, RunInfo, memory.PlanningStep)      {}
func (NopHook) OnActionStep(context.Context, RunInfo, memory.ActionStep)          {}
func (NopHook) OnRetryAttempt(context.Context, RunInfo, int, time.Duration, error) {}
func (NopHook) OnDone(context.Context, RunInfo, memory.FinalStep, memory.Usage)   {}

// Hooks fans one event out to every registered hook, in order.
type Hooks []Hook

func (hs Hooks) OnRunStart(ctx context.Context, info RunInfo, task string) {
	for _, h := range hs {
		h.OnRunStart(ctx, info, task)
	}
}

func (hs Hooks) OnTransition(ctx context.Context, ev StateEvent) {
	for _, h := range hs {
		h.OnTransition(ctx, ev)
	}
}

func (hs Hooks) OnPlanningStep(ctx context.Context, info RunInfo, step memory.PlanningStep) {
	for _, h := range hs {
		h.OnPlanningStep(ctx, info, step)
	}
}

func (hs Hooks) OnActionStep(ctx context.Context, info RunInfo, step memory.ActionStep) {
	for _, h := range hs {
		h.OnActionStep(ctx, info, step)
	}
}

func (hs Hooks) OnRetryAttempt(ctx context.Context, info RunInfo, attempt int, delay time.Duration, err error) {
	for _, h := range hs {
		h.OnRetryAttempt(ctx, info, attempt, delay, err)
	}
}

func (hs Hooks) OnDone(ctx context.Context, info RunInfo, final memory.FinalStep, totals memory.Usage) {
	for _, h := range hs {
		h.OnDone(ctx, info, final, totals)
	}
}

// LoggerHook writes run events through slog.
type LoggerHook struct {
	NopHook
	Log *slog.Logger
}

func NewLoggerHook(log *slog.Logger) *LoggerHook {
	if log == nil {
		log = slog.Default()
	}
	return &LoggerHook{Log: log}
}

func (h *LoggerHook) OnRunStart(ctx context.Context, info RunInfo, task string) {
	h.Log.InfoContext(ctx, "run started",
		"run_id", info.RunID, "agent", info.Agent, "task", task)
}

func (h *LoggerHook) OnTransition(ctx context.Context, ev StateEvent) {
	h.Log.DebugContext(ctx, "state transition",
		"run_id", ev.RunID, "agent", ev.Agent, "step", ev.Step,
		"state", string(ev.State), "elapsed", ev.Elapsed,
		"total_tokens", ev.Usage.Total)
}

func (h *LoggerHook) OnPlanningStep(ctx context.Context, info RunInfo, step memory.PlanningStep) {
	h.Log.InfoContext(ctx, "plan recorded",
		"run_id", info.RunID, "agent", info.Agent, "step", info.Step,
		"edited", step.Edited, "plan_chars", len(step.Plan))
}

func (h *LoggerHook) OnActionStep(ctx context.Context, info RunInfo, step memory.ActionStep) {
	if step.Failed() {
		h.Log.WarnContext(ctx, "action failed",
			"run_id", info.RunID, "agent", info.Agent, "action", step.Number,
			"error_kind", step.ErrorKind, "error", step.Error, "duration", step.Duration)
		return
	}
	h.Log.InfoContext(ctx, "action completed",
		"run_id", info.RunID, "agent", info.Agent, "action", step.Number,
		"tool", step.ToolName, "duration", step.Duration,
		"observation_chars", len(step.Observation))
}

func (h *LoggerHook) OnRetryAttempt(ctx context.Context, info RunInfo, attempt int, delay time.Duration, err error) {
	h.Log.WarnContext(ctx, "provider retry",
		"run_id", info.RunID, "agent", info.Agent, "attempt", attempt,
		"delay", delay, "error", err)
}

func (h *LoggerHook) OnDone(ctx context.Context, info RunInfo, final memory.FinalStep, totals memory.Usage) {
	h.Log.InfoContext(ctx, "run finished",
		"run_id", info.RunID, "agent", info.Agent,
		"reason", string(final.Reason), "steps", info.Step,
		"prompt_tokens", totals.Prompt, "completion_tokens", totals.Completion)
}

// Event is the union published by ChannelHook.
type Event struct {
	Info       RunInfo
	Task       string
	Transition *StateEvent
	Planning   *memory.PlanningStep
	Action     *memory.ActionStep
	Final      *memory.FinalStep
	Totals     memory.Usage
}

// ChannelHook forwards run events to a channel for external consumers
// such as a UI. Events are dropped, never blocked on, when the consumer
// falls behind.
type ChannelHook struct {
	NopHook
	ch chan Event
}

func NewChannelHook(buffer int) *ChannelHook {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelHook{ch: make(chan Event, buffer)}
}

// Events returns the receive side.
func (h *ChannelHook) Events() <-chan Event { return h.ch }

func (h *ChannelHook) send(ev Event) {
	select {
	case h.ch <- ev:
	default:
	}
}

func (h *ChannelHook) OnRunStart(_ context.Context, info RunInfo, task string) {
	h.send(Event{Info: info, Task: task})
}

func (h *ChannelHook) OnTransition(_ context.Context, ev StateEvent) {
	h.send(Event{Info: ev.RunInfo, Transition: &ev})
}

func (h *ChannelHook) OnPlanningStep(_ context.Context, info RunInfo, step memory.PlanningStep) {
	h.send(Event{Info: info, Planning: &step})
}

func (h *ChannelHook) OnActionStep(_ context.Context, info RunInfo, step memory.ActionStep) {
	h.send(Event{Info: info, Action: &step})
}

func (h *ChannelHook) OnDone(_ context.Context, info RunInfo, final memory.FinalStep, totals memory.Usage) {
	h.send(Event{Info: info, Final: &final, Totals: totals})
}
