package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/reagent/internal/capability"
	"github.com/ChamsBouzaiene/reagent/internal/engine"
	"github.com/ChamsBouzaiene/reagent/internal/executor"
	"github.com/ChamsBouzaiene/reagent/internal/memory"
	"github.com/ChamsBouzaiene/reagent/internal/model"
	"github.com/ChamsBouzaiene/reagent/internal/modeltest"
	"github.com/ChamsBouzaiene/reagent/internal/sandbox"
)

// fakeExec scripts dispatch outcomes and counts teardowns.
type fakeExec struct {
	mu       sync.Mutex
	dispatch func(ctx context.Context, action executor.Action) (string, error)
	calls    int
	closes   int
}

func (f *fakeExec) Dispatch(ctx context.Context, action executor.Action) (string, error) {
	f.mu.Lock()
	f.calls++
	fn := f.dispatch
	f.mu.Unlock()
	if action.Kind == executor.ActionFinalAnswer {
		return "", executor.ErrNotDispatchable
	}
	if fn != nil {
		return fn(ctx, action)
	}
	return "ok", nil
}

func (f *fakeExec) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func emptyRegistry(t *testing.T) *capability.Registry {
	t.Helper()
	reg, err := capability.NewRegistry()
	require.NoError(t, err)
	return reg
}

func fastConfig() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.Retry = engine.RetryPolicy{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	return cfg
}

func newAgent(t *testing.T, m *modeltest.Scripted, exec *fakeExec, mutate func(*engine.Config), opts ...engine.Option) *engine.Agent {
	t.Helper()
	cfg := fastConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	opts = append([]engine.Option{engine.WithConfig(cfg)}, opts...)
	a, err := engine.New("tester", m, emptyRegistry(t), exec, opts...)
	require.NoError(t, err)
	return a
}

func actionSteps(s *memory.Store) []memory.ActionStep {
	var out []memory.ActionStep
	for _, e := range s.Entries() {
		if as, ok := e.Step.(memory.ActionStep); ok {
			out = append(out, as)
		}
	}
	return out
}

func TestImmediateFinalAnswer(t *testing.T) {
	m := modeltest.New(modeltest.Final("42"))
	exec := &fakeExec{}
	a := newAgent(t, m, exec, nil)

	final, err := a.Run(context.Background(), "what is 6*7", true)
	require.NoError(t, err)
	assert.Equal(t, "42", final.Answer)
	assert.Equal(t, memory.ExitFinalAnswer, final.Reason)

	assert.Empty(t, actionSteps(a.Memory()))
	assert.Zero(t, exec.calls)
	assert.Equal(t, 1, exec.closes)

	stored, ok := a.Memory().Final()
	require.True(t, ok)
	assert.Equal(t, final, stored)
	require.NoError(t, a.Memory().Validate())
}

func TestStepBudgetProducesExactlyKActions(t *testing.T) {
	m := modeltest.New(
		modeltest.ToolCall("probe", nil),
		modeltest.ToolCall("probe", nil),
		modeltest.ToolCall("probe", nil),
		modeltest.Final("never reached"),
	)
	exec := &fakeExec{dispatch: func(context.Context, executor.Action) (string, error) {
		return "partial result", nil
	}}
	a := newAgent(t, m, exec, func(c *engine.Config) { c.MaxSteps = 3 })

	final, err := a.Run(context.Background(), "task", true)
	require.NoError(t, err)
	assert.Equal(t, memory.ExitStepBudgetExceeded, final.Reason)
	assert.Contains(t, final.Answer, "partial result")

	steps := actionSteps(a.Memory())
	require.Len(t, steps, 3)
	for i, s := range steps {
		assert.Equal(t, i+1, s.Number)
	}
	assert.Equal(t, 1, m.Remaining())
}

func TestStepErrorIsCapturedAndFedBack(t *testing.T) {
	m := modeltest.New(
		modeltest.ToolCall("missing", nil),
		modeltest.Final("recovered"),
	)
	exec := &fakeExec{dispatch: func(_ context.Context, action executor.Action) (string, error) {
		return "", &capability.NotFoundError{Name: action.Name, Available: []string{"echo"}}
	}}
	a := newAgent(t, m, exec, nil)

	final, err := a.Run(context.Background(), "task", true)
	require.NoError(t, err)
	assert.Equal(t, "recovered", final.Answer)

	steps := actionSteps(a.Memory())
	require.Len(t, steps, 1)
	assert.True(t, steps[0].Failed())
	assert.Equal(t, engine.ErrKindNotFound, steps[0].ErrorKind)
	assert.Contains(t, steps[0].Error, "missing")
}

func TestMalformedOutputBecomesFailedActionStep(t *testing.T) {
	m := modeltest.New(
		modeltest.Turn{Err: &model.MalformedActionError{Raw: "word salad", Reason: "no action found"}},
		modeltest.Final("done"),
	)
	exec := &fakeExec{}
	a := newAgent(t, m, exec, nil)

	final, err := a.Run(context.Background(), "task", true)
	require.NoError(t, err)
	assert.Equal(t, "done", final.Answer)

	steps := actionSteps(a.Memory())
	require.Len(t, steps, 1)
	assert.Equal(t, engine.ErrKindMalformed, steps[0].ErrorKind)
	assert.Zero(t, exec.calls)
}

func TestProviderFailureIsFatalAfterRetries(t *testing.T) {
	m := modeltest.New(
		modeltest.Turn{Err: errors.New("connection refused")},
		modeltest.Turn{Err: errors.New("connection refused")},
	)
	exec := &fakeExec{}
	a := newAgent(t, m, exec, nil)

	final, err := a.Run(context.Background(), "task", true)
	var ferr *engine.FatalError
	require.ErrorAs(t, err, &ferr)
	var un *engine.ProviderUnavailableError
	assert.ErrorAs(t, err, &un)

	assert.Equal(t, memory.ExitFatalError, final.Reason)
	assert.True(t, a.Memory().Finalized())
	assert.Equal(t, 2, m.Calls)
	assert.Equal(t, 1, exec.closes)
}

func TestResourceLimitEscalatesToFatal(t *testing.T) {
	m := modeltest.New(
		modeltest.ToolCall("heavy", nil),
		modeltest.ToolCall("heavy", nil),
		modeltest.Final("never"),
	)
	exec := &fakeExec{dispatch: func(context.Context, executor.Action) (string, error) {
		return "", &sandbox.LimitError{Resource: "wall_clock", Detail: "30s"}
	}}
	a := newAgent(t, m, exec, func(c *engine.Config) { c.MaxLimitRetries = 1 })

	final, err := a.Run(context.Background(), "task", true)
	var ferr *engine.FatalError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, memory.ExitFatalError, final.Reason)

	steps := actionSteps(a.Memory())
	require.Len(t, steps, 2)
	assert.Equal(t, engine.ErrKindLimit, steps[0].ErrorKind)
	assert.Equal(t, engine.ErrKindLimit, steps[1].ErrorKind)
	assert.Equal(t, 1, exec.closes)
}

func TestPlanningWithEditReview(t *testing.T) {
	m := modeltest.New(modeltest.Final("done"))
	m.PlanText = "1. original plan"
	exec := &fakeExec{}

	review := func(_ context.Context, step memory.PlanningStep) engine.PlanReview {
		assert.Equal(t, "1. original plan", step.Plan)
		return engine.PlanReview{Decision: engine.PlanEdit, EditedPlan: "1. better plan"}
	}
	a := newAgent(t, m, exec,
		func(c *engine.Config) { c.PlanInterval = 1 },
		engine.WithPlanReview(review))

	_, err := a.Run(context.Background(), "task", true)
	require.NoError(t, err)

	var plan memory.PlanningStep
	found := false
	for _, e := range a.Memory().Entries() {
		if ps, ok := e.Step.(memory.PlanningStep); ok {
			plan, found = ps, true
		}
	}
	require.True(t, found)
	assert.Equal(t, "1. better plan", plan.Plan)
	assert.True(t, plan.Edited)
}

func TestPlanCancelInterruptsRun(t *testing.T) {
	m := modeltest.New(modeltest.Final("never"))
	exec := &fakeExec{}
	review := func(context.Context, memory.PlanningStep) engine.PlanReview {
		return engine.PlanReview{Decision: engine.PlanCancel}
	}
	a := newAgent(t, m, exec,
		func(c *engine.Config) { c.PlanInterval = 1 },
		engine.WithPlanReview(review))

	final, err := a.Run(context.Background(), "task", true)
	require.Error(t, err)
	assert.Equal(t, memory.ExitInterrupted, final.Reason)
	assert.True(t, a.Memory().Finalized())
	assert.Equal(t, 1, exec.closes)
}

func TestCancellationDuringDispatchInterrupts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := modeltest.New(
		modeltest.ToolCall("slow", nil),
		modeltest.Final("never"),
	)
	exec := &fakeExec{dispatch: func(ctx context.Context, _ executor.Action) (string, error) {
		cancel()
		return "", ctx.Err()
	}}
	a := newAgent(t, m, exec, nil)

	final, err := a.Run(ctx, "task", true)
	require.Error(t, err)
	assert.Equal(t, memory.ExitInterrupted, final.Reason)
	assert.Equal(t, 1, exec.closes)

	last, ok := a.Memory().Last()
	require.True(t, ok)
	assert.Equal(t, memory.KindFinal, last.Step.Kind())
}

func TestConcurrentRunIsRejected(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	m := modeltest.New(modeltest.ToolCall("wait", nil), modeltest.Final("done"))
	exec := &fakeExec{dispatch: func(context.Context, executor.Action) (string, error) {
		close(started)
		<-release
		return "ok", nil
	}}
	a := newAgent(t, m, exec, nil)

	done := make(chan error, 1)
	go func() {
		_, err := a.Run(context.Background(), "task", true)
		done <- err
	}()

	<-started
	_, err := a.Run(context.Background(), "another", true)
	assert.ErrorIs(t, err, engine.ErrRunActive)

	close(release)
	require.NoError(t, <-done)
}

func TestMultiTurnKeepsHistory(t *testing.T) {
	m := modeltest.New(modeltest.Final("first"), modeltest.Final("second"))
	exec := &fakeExec{}
	a := newAgent(t, m, exec, nil)

	_, err := a.Run(context.Background(), "turn one", true)
	require.NoError(t, err)
	_, err = a.Run(context.Background(), "turn two", false)
	require.NoError(t, err)

	// Both turns share the transcript; the first turn's final answer is
	// leading context for the second.
	tasks, finals := 0, 0
	for _, e := range a.Memory().Entries() {
		switch e.Step.(type) {
		case memory.TaskStep:
			tasks++
		case memory.FinalStep:
			finals++
		}
	}
	assert.Equal(t, 2, tasks)
	assert.Equal(t, 2, finals)
	require.NoError(t, a.Memory().Validate())
	assert.Equal(t, 2, exec.closes)

	// An explicit reset discards it all again.
	m2 := modeltest.New(modeltest.Final("fresh"))
	exec2 := &fakeExec{}
	b := newAgent(t, m2, exec2, nil)
	_, err = b.Run(context.Background(), "only turn", true)
	require.NoError(t, err)
	assert.Equal(t, 3, b.Memory().Len())
}

func TestUsageAccumulatesAcrossSteps(t *testing.T) {
	m := modeltest.New(
		modeltest.Turn{
			Action: executor.Action{Kind: executor.ActionToolCall, Name: "probe"},
			Usage:  memory.Usage{Prompt: 10, Completion: 2, Total: 12},
		},
		modeltest.Turn{
			Action: executor.Action{Kind: executor.ActionFinalAnswer, Answer: "done"},
			Usage:  memory.Usage{Prompt: 20, Completion: 3, Total: 23},
		},
	)
	exec := &fakeExec{}
	a := newAgent(t, m, exec, nil)

	_, err := a.Run(context.Background(), "task", true)
	require.NoError(t, err)
	assert.Equal(t, 35, a.Usage().Total)
}
