// Package engine runs the reasoning loop: it asks the model for the next
// action, dispatches it through an executor, records the observation, and
// repeats until a final answer, the step budget, a fatal error, or an
// interruption ends the run. Every run terminates with exactly one
// FinalStep appended to memory.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ChamsBouzaiene/reagent/internal/capability"
	"github.com/ChamsBouzaiene/reagent/internal/executor"
	"github.com/ChamsBouzaiene/reagent/internal/memory"
	"github.com/ChamsBouzaiene/reagent/internal/model"
)

// Config tunes the run loop. Zero values are replaced by defaults at
// construction; invalid values are rejected there, never mid-run.
type Config struct {
	// MaxSteps is the action budget per run. The loop records at most this
	// many action steps before it terminates with a budget exit.
	MaxSteps int

	// PlanInterval inserts a planning step before every Nth action.
	// Zero disables planning entirely.
	PlanInterval int

	// MaxLimitRetries is how many resource-limit step failures are fed back
	// to the model before the run aborts as fatal.
	MaxLimitRetries int

	// MaxDelegationDepth caps how deep a delegation chain may recurse.
	MaxDelegationDepth int

	// SystemPrompt overrides the generated system step text.
	SystemPrompt string

	Retry     RetryPolicy
	Retention memory.RetentionPolicy
}

// DefaultConfig returns the baseline loop configuration.
func DefaultConfig() Config {
	return Config{
		MaxSteps:           10,
		PlanInterval:       0,
		MaxLimitRetries:    2,
		MaxDelegationDepth: 3,
		Retry:              DefaultRetryPolicy(),
		Retention:          memory.DefaultRetentionPolicy(),
	}
}

func (c Config) validate() error {
	if c.MaxSteps <= 0 {
		return fmt.Errorf("max steps must be positive, got %d", c.MaxSteps)
	}
	if c.PlanInterval < 0 {
		return fmt.Errorf("plan interval must not be negative, got %d", c.PlanInterval)
	}
	if c.MaxLimitRetries < 0 {
		return fmt.Errorf("max limit retries must not be negative, got %d", c.MaxLimitRetries)
	}
	if c.MaxDelegationDepth < 1 {
		return fmt.Errorf("max delegation depth must be at least 1, got %d", c.MaxDelegationDepth)
	}
	return nil
}

// PlanDecision is the reviewer's verdict on a freshly produced plan.
type PlanDecision int

const (
	PlanApprove PlanDecision = iota
	PlanEdit
	PlanCancel
)

// PlanReview carries the verdict; EditedPlan is read only for PlanEdit.
type PlanReview struct {
	Decision   PlanDecision
	EditedPlan string
}

// PlanReviewFunc is the human-in-the-loop gate invoked after each planning
// step while it is still the newest memory entry. Nil means auto-approve.
type PlanReviewFunc func(ctx context.Context, step memory.PlanningStep) PlanReview

// Option configures an Agent at construction.
type Option func(*Agent)

func WithConfig(cfg Config) Option    { return func(a *Agent) { a.cfg = cfg } }
func WithDescription(d string) Option { return func(a *Agent) { a.description = d } }
func WithHooks(hooks ...Hook) Option  { return func(a *Agent) { a.hooks = append(a.hooks, hooks...) } }

func WithPlanReview(fn PlanReviewFunc) Option { return func(a *Agent) { a.planReview = fn } }

// Agent owns one memory store, one executor, and one reasoning model. One
// run at a time; starting a second concurrent run is misuse.
type Agent struct {
	id          string
	name        string
	description string
	cfg         Config

	model    model.Model
	registry *capability.Registry
	exec     executor.Executor
	hooks    Hooks

	planReview PlanReviewFunc
	mem        *memory.Store
	managed    []*Agent

	running atomic.Bool
	totals  memory.Usage
}

// New builds an agent. All invariants are checked here so Run never fails
// on configuration.
func New(name string, m model.Model, registry *capability.Registry, exec executor.Executor, opts ...Option) (*Agent, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("agent name must not be empty")
	}
	if m == nil {
		return nil, fmt.Errorf("agent %q requires a reasoning model", name)
	}
	if registry == nil {
		return nil, fmt.Errorf("agent %q requires a capability registry", name)
	}
	if exec == nil {
		return nil, fmt.Errorf("agent %q requires an executor", name)
	}
	a := &Agent{
		id:       uuid.NewString(),
		name:     name,
		cfg:      DefaultConfig(),
		model:    m,
		registry: registry,
		exec:     exec,
		mem:      memory.NewStore(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.cfg.validate(); err != nil {
		return nil, fmt.Errorf("agent %q: %w", name, err)
	}
	return a, nil
}

// Name returns the agent's name.
func (a *Agent) Name() string { return a.name }

// ID returns the agent's stable identifier.
func (a *Agent) ID() string { return a.id }

// Memory exposes the agent's store for persistence and inspection. Callers
// must not mutate it while a run is active.
func (a *Agent) Memory() *memory.Store { return a.mem }

// Usage returns cumulative token accounting across all runs.
func (a *Agent) Usage() memory.Usage { return a.totals }

// Close releases the executor and any sandbox session it holds.
func (a *Agent) Close() error { return a.exec.Close() }

// run carries per-run loop state.
type run struct {
	info      RunInfo
	actionNum int
	// limitFailures counts consecutive-run resource-limit errors; crossing
	// MaxLimitRetries turns the next one fatal.
	limitFailures int
	stateSince    time.Time
}

// Run executes the loop for one task and returns the terminal step. The
// returned error is non-nil only for fatal aborts, interruption, and API
// misuse; budget exhaustion and normal answers return nil.
//
// resetHistory clears prior turns; with it false the task is appended to
// the existing transcript for a multi-turn conversation.
func (a *Agent) Run(ctx context.Context, task string, resetHistory bool) (memory.FinalStep, error) {
	if !a.running.CompareAndSwap(false, true) {
		return memory.FinalStep{}, ErrRunActive
	}
	defer a.running.Store(false)
	// The sandbox session is released on every exit path; the next run
	// opens a fresh one.
	defer a.exec.Close()

	if resetHistory || a.mem.Len() == 0 {
		a.mem.Reset()
		if _, err := a.mem.Append(memory.SystemStep{Instructions: a.systemPrompt()}); err != nil {
			return memory.FinalStep{}, err
		}
	} else if a.mem.Finalized() {
		// Multi-turn continuation: the previous turn stays as leading
		// context.
		a.mem.BeginTurn()
	}
	if _, err := a.mem.Append(memory.TaskStep{Task: task}); err != nil {
		return memory.FinalStep{}, err
	}

	r := &run{
		info:       RunInfo{RunID: uuid.NewString(), Agent: a.name},
		stateSince: time.Now(),
	}
	a.hooks.OnRunStart(ctx, r.info, task)
	a.transition(ctx, r, StateInit)

	for r.actionNum < a.cfg.MaxSteps {
		if ctx.Err() != nil {
			return a.finishInterrupted(ctx, r, ctx.Err())
		}
		r.info.Step = r.actionNum + 1

		if a.cfg.PlanInterval > 0 && r.actionNum%a.cfg.PlanInterval == 0 {
			final, done, err := a.planOnce(ctx, r)
			if done {
				return final, err
			}
		}

		a.transition(ctx, r, StateReasoning)
		resp, err := a.nextAction(ctx, r)
		if err != nil {
			final, done, ferr := a.handleReasoningError(ctx, r, err)
			if done {
				return final, ferr
			}
			continue
		}
		a.totals.Add(resp.Usage)

		if resp.Action.Kind == executor.ActionFinalAnswer {
			return a.finish(ctx, r, memory.FinalStep{
				Answer: resp.Action.Answer,
				Reason: memory.ExitFinalAnswer,
			}, nil)
		}

		a.transition(ctx, r, StateDispatching)
		step := a.dispatch(ctx, resp)
		a.transition(ctx, r, StateObserving)

		if ctx.Err() != nil && step.Failed() {
			// The failure is cancellation fallout, not a real step error.
			return a.finishInterrupted(ctx, r, ctx.Err())
		}

		r.actionNum++
		step.Number = r.actionNum
		if _, err := a.mem.Append(step); err != nil {
			return memory.FinalStep{}, err
		}
		a.hooks.OnActionStep(ctx, r.info, step)

		if step.ErrorKind == ErrKindLimit {
			r.limitFailures++
			if r.limitFailures > a.cfg.MaxLimitRetries {
				ferr := &FatalError{Reason: "resource limits exhausted", Err: fmt.Errorf("%s", step.Error)}
				return a.finish(ctx, r, memory.FinalStep{
					Answer: ferr.Error(),
					Reason: memory.ExitFatalError,
				}, ferr)
			}
		}
	}

	return a.finish(ctx, r, memory.FinalStep{
		Answer: a.budgetAnswer(),
		Reason: memory.ExitStepBudgetExceeded,
	}, nil)
}

type planResult struct {
	text  string
	usage memory.Usage
}

// planOnce produces, reviews, and records one planning step. done reports
// that the run terminated inside the planning phase.
func (a *Agent) planOnce(ctx context.Context, r *run) (memory.FinalStep, bool, error) {
	a.transition(ctx, r, StatePlanning)

	res, err := retryWithPolicy(ctx, a.cfg.Retry,
		func(ctx context.Context) (planResult, error) {
			text, u, err := a.model.Plan(ctx, a.mem.Snapshot(a.cfg.Retention), a.registry.Schemas())
			return planResult{text: text, usage: u}, err
		},
		func(attempt int, delay time.Duration, err error) {
			a.hooks.OnRetryAttempt(ctx, r.info, attempt, delay, err)
		})
	if err != nil {
		if ctx.Err() != nil {
			final, ferr := a.finishInterrupted(ctx, r, ctx.Err())
			return final, true, ferr
		}
		ferr := &FatalError{Reason: "planning failed", Err: err}
		final, _ := a.finishFatal(ctx, r, ferr)
		return final, true, ferr
	}
	a.totals.Add(res.usage)

	step := memory.PlanningStep{Plan: res.text, Usage: res.usage}
	if _, err := a.mem.Append(step); err != nil {
		return memory.FinalStep{}, true, err
	}

	if a.planReview != nil {
		review := a.planReview(ctx, step)
		switch review.Decision {
		case PlanEdit:
			if err := a.mem.AmendPlan(review.EditedPlan); err != nil {
				return memory.FinalStep{}, true, err
			}
			step.Plan = review.EditedPlan
			step.Edited = true
		case PlanCancel:
			final, ferr := a.finishInterrupted(ctx, r, fmt.Errorf("plan rejected by reviewer"))
			return final, true, ferr
		}
	}
	a.hooks.OnPlanningStep(ctx, r.info, step)
	return memory.FinalStep{}, false, nil
}

func (a *Agent) nextAction(ctx context.Context, r *run) (model.Response, error) {
	return retryWithPolicy(ctx, a.cfg.Retry,
		func(ctx context.Context) (model.Response, error) {
			return a.model.NextAction(ctx, a.mem.Snapshot(a.cfg.Retention), a.registry.Schemas())
		},
		func(attempt int, delay time.Duration, err error) {
			a.hooks.OnRetryAttempt(ctx, r.info, attempt, delay, err)
		})
}

// handleReasoningError classifies a NextAction failure. Malformed output is
// captured as a failed action step and fed back; everything else that
// survives retries is fatal.
func (a *Agent) handleReasoningError(ctx context.Context, r *run, err error) (memory.FinalStep, bool, error) {
	if ctx.Err() != nil {
		final, ferr := a.finishInterrupted(ctx, r, ctx.Err())
		return final, true, ferr
	}
	if classifyStepError(err) == ErrKindMalformed {
		r.actionNum++
		step := memory.ActionStep{
			Number:    r.actionNum,
			Error:     err.Error(),
			ErrorKind: ErrKindMalformed,
		}
		if _, aerr := a.mem.Append(step); aerr != nil {
			return memory.FinalStep{}, true, aerr
		}
		a.hooks.OnActionStep(ctx, r.info, step)
		return memory.FinalStep{}, false, nil
	}
	ferr := &FatalError{Reason: "reasoning provider failed", Err: err}
	final, _ := a.finishFatal(ctx, r, ferr)
	return final, true, ferr
}

// dispatch runs one non-terminal action and folds the outcome, success or
// captured failure, into an action step.
func (a *Agent) dispatch(ctx context.Context, resp model.Response) memory.ActionStep {
	act := resp.Action
	step := memory.ActionStep{
		Rationale: act.Rationale,
		Usage:     resp.Usage,
	}
	switch act.Kind {
	case executor.ActionCode:
		step.Code = act.Code
	case executor.ActionToolCall:
		step.ToolName = act.Name
		step.ToolArgs = act.Args
	}

	started := time.Now()
	obs, err := a.exec.Dispatch(ctx, act)
	step.Duration = time.Since(started)
	if err != nil {
		step.Error = err.Error()
		step.ErrorKind = classifyStepError(err)
		return step
	}
	step.Observation = obs
	return step
}

func (a *Agent) finish(ctx context.Context, r *run, final memory.FinalStep, runErr error) (memory.FinalStep, error) {
	a.transition(ctx, r, StateTerminating)
	if _, err := a.mem.Append(final); err != nil && runErr == nil {
		runErr = err
	}
	a.hooks.OnDone(ctx, r.info, final, a.totals)
	return final, runErr
}

func (a *Agent) finishFatal(ctx context.Context, r *run, ferr *FatalError) (memory.FinalStep, error) {
	return a.finish(ctx, r, memory.FinalStep{
		Answer: ferr.Error(),
		Reason: memory.ExitFatalError,
	}, ferr)
}

func (a *Agent) finishInterrupted(ctx context.Context, r *run, cause error) (memory.FinalStep, error) {
	return a.finish(ctx, r, memory.FinalStep{
		Answer: fmt.Sprintf("run interrupted: %v", cause),
		Reason: memory.ExitInterrupted,
	}, fmt.Errorf("run interrupted: %w", cause))
}

// budgetAnswer synthesizes a closing answer from the most recent
// observation when the budget runs out before the model concludes.
func (a *Agent) budgetAnswer() string {
	if obs := a.mem.LastObservation(); obs != "" {
		return fmt.Sprintf("Step budget of %d exhausted before a final answer. Last observation:\n%s", a.cfg.MaxSteps, obs)
	}
	return fmt.Sprintf("Step budget of %d exhausted before a final answer.", a.cfg.MaxSteps)
}

func (a *Agent) transition(ctx context.Context, r *run, state State) {
	now := time.Now()
	a.hooks.OnTransition(ctx, StateEvent{
		RunInfo: r.info,
		State:   state,
		At:      now,
		Elapsed: now.Sub(r.stateSince),
		Usage:   a.totals,
	})
	r.stateSince = now
}

func (a *Agent) systemPrompt() string {
	if a.cfg.SystemPrompt != "" {
		return a.cfg.SystemPrompt
	}
	var b strings.Builder
	b.WriteString("You are ")
	b.WriteString(a.name)
	if a.description != "" {
		b.WriteString(", ")
		b.WriteString(a.description)
	}
	b.WriteString(".\nSolve the task step by step. Each turn, either act using one of the available capabilities or finish with a final answer.\n")
	if names := a.registry.Names(); len(names) > 0 {
		b.WriteString("Available capabilities: ")
		b.WriteString(strings.Join(names, ", "))
		b.WriteString(".\n")
	}
	fmt.Fprintf(&b, "You have at most %d action steps.", a.cfg.MaxSteps)
	return b.String()
}
