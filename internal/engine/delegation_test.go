package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/reagent/internal/capability"
	"github.com/ChamsBouzaiene/reagent/internal/engine"
	"github.com/ChamsBouzaiene/reagent/internal/executor"
	"github.com/ChamsBouzaiene/reagent/internal/memory"
	"github.com/ChamsBouzaiene/reagent/internal/modeltest"
)

func mustStructured(t *testing.T, reg *capability.Registry) *executor.StructuredExecutor {
	t.Helper()
	exec, err := executor.NewStructuredExecutor(reg)
	require.NoError(t, err)
	return exec
}

func namedAgent(t *testing.T, name string) *engine.Agent {
	t.Helper()
	a, err := engine.New(name, modeltest.New(), emptyRegistry(t), &fakeExec{},
		engine.WithConfig(fastConfig()))
	require.NoError(t, err)
	return a
}

func TestManageRejectsCycles(t *testing.T) {
	parent := namedAgent(t, "parent")
	child := namedAgent(t, "child")
	grandchild := namedAgent(t, "grandchild")

	require.NoError(t, parent.Manage(child))
	require.NoError(t, child.Manage(grandchild))

	assert.ErrorIs(t, parent.Manage(parent), engine.ErrDelegationCycle)
	assert.ErrorIs(t, child.Manage(parent), engine.ErrDelegationCycle)
	assert.ErrorIs(t, grandchild.Manage(parent), engine.ErrDelegationCycle)
	assert.Len(t, parent.Managed(), 1)
}

func TestManageRejectsDuplicateName(t *testing.T) {
	parent := namedAgent(t, "parent")
	childA := namedAgent(t, "helper")
	childB := namedAgent(t, "helper")

	require.NoError(t, parent.Manage(childA))
	assert.Error(t, parent.Manage(childB))
}

func TestDelegatedRunFeedsObservationToParent(t *testing.T) {
	subModel := modeltest.New(modeltest.Final("the capital is Paris"))
	sub, err := engine.New("geographer", subModel, emptyRegistry(t), &fakeExec{},
		engine.WithConfig(fastConfig()),
		engine.WithDescription("answers geography questions"))
	require.NoError(t, err)

	parentModel := modeltest.New(
		modeltest.ToolCall("geographer", map[string]any{"task": "capital of France?"}),
		modeltest.Final("Paris"),
	)
	parentReg := emptyRegistry(t)
	parent, err := engine.New("coordinator", parentModel, parentReg,
		mustStructured(t, parentReg), engine.WithConfig(fastConfig()))
	require.NoError(t, err)
	require.NoError(t, parent.Manage(sub))

	final, err := parent.Run(context.Background(), "find the capital of France", true)
	require.NoError(t, err)
	assert.Equal(t, "Paris", final.Answer)

	steps := actionSteps(parent.Memory())
	require.Len(t, steps, 1)
	assert.False(t, steps[0].Failed())
	assert.Equal(t, "the capital is Paris", steps[0].Observation)

	// The sub-agent finished its own run with a fresh transcript.
	subFinal, ok := sub.Memory().Final()
	require.True(t, ok)
	assert.Equal(t, memory.ExitFinalAnswer, subFinal.Reason)
}

func TestDelegationValidatesTaskArgument(t *testing.T) {
	sub, err := engine.New("worker", modeltest.New(modeltest.Final("x")), emptyRegistry(t), &fakeExec{},
		engine.WithConfig(fastConfig()))
	require.NoError(t, err)

	parentModel := modeltest.New(
		modeltest.ToolCall("worker", map[string]any{"wrong": "field"}),
		modeltest.Final("gave up"),
	)
	parentReg := emptyRegistry(t)
	parent, err := engine.New("coordinator", parentModel, parentReg,
		mustStructured(t, parentReg), engine.WithConfig(fastConfig()))
	require.NoError(t, err)
	require.NoError(t, parent.Manage(sub))

	_, err = parent.Run(context.Background(), "task", true)
	require.NoError(t, err)

	steps := actionSteps(parent.Memory())
	require.Len(t, steps, 1)
	assert.Equal(t, engine.ErrKindValidation, steps[0].ErrorKind)
	// The sub-agent never ran.
	assert.Zero(t, sub.Memory().Len())
}

func TestDelegationDepthCeiling(t *testing.T) {
	leaf, err := engine.New("leaf", modeltest.New(modeltest.Final("leaf done")), emptyRegistry(t), &fakeExec{},
		engine.WithConfig(fastConfig()))
	require.NoError(t, err)

	midReg := emptyRegistry(t)
	midModel := modeltest.New(
		modeltest.ToolCall("leaf", map[string]any{"task": "go deeper"}),
		modeltest.Final("mid done"),
	)
	cfg := fastConfig()
	cfg.MaxDelegationDepth = 1
	mid, err := engine.New("mid", midModel, midReg, mustStructured(t, midReg), engine.WithConfig(cfg))
	require.NoError(t, err)
	require.NoError(t, mid.Manage(leaf))

	topReg := emptyRegistry(t)
	topModel := modeltest.New(
		modeltest.ToolCall("mid", map[string]any{"task": "delegate onward"}),
		modeltest.Final("top done"),
	)
	topCfg := fastConfig()
	topCfg.MaxDelegationDepth = 1
	top, err := engine.New("top", topModel, topReg, mustStructured(t, topReg), engine.WithConfig(topCfg))
	require.NoError(t, err)
	require.NoError(t, top.Manage(mid))

	final, err := top.Run(context.Background(), "task", true)
	require.NoError(t, err)
	assert.Equal(t, "top done", final.Answer)

	// The mid agent ran at depth 1; its own delegation to leaf crossed the
	// ceiling and was captured as a step error in mid's transcript.
	midSteps := actionSteps(mid.Memory())
	require.Len(t, midSteps, 1)
	assert.True(t, midSteps[0].Failed())
	assert.Contains(t, midSteps[0].Error, "depth")
	assert.Zero(t, leaf.Memory().Len())
}
