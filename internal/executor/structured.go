package executor

import (
	"context"
	"fmt"

	"github.com/ChamsBouzaiene/reagent/internal/capability"
)

// StructuredExecutor dispatches structured calls: validate the arguments
// against the capability's declared schema, then invoke. A validation
// failure never invokes the capability.
type StructuredExecutor struct {
	registry *capability.Registry
}

// NewStructuredExecutor creates the structured-call variant.
func NewStructuredExecutor(registry *capability.Registry) (*StructuredExecutor, error) {
	if registry == nil {
		return nil, fmt.Errorf("structured executor requires a capability registry")
	}
	return &StructuredExecutor{registry: registry}, nil
}

// Dispatch implements Executor.
func (e *StructuredExecutor) Dispatch(ctx context.Context, action Action) (string, error) {
	switch action.Kind {
	case ActionFinalAnswer:
		return "", ErrNotDispatchable
	case ActionCode:
		return "", fmt.Errorf("structured executor cannot run code fragments; propose a tool call instead")
	case ActionToolCall:
	default:
		return "", fmt.Errorf("unhandled action kind: %s", action.Kind)
	}

	if action.Empty() {
		return NoOutput, nil
	}
	return invokeStructured(ctx, e.registry, action)
}

// Close implements Executor. The structured variant owns no session.
func (e *StructuredExecutor) Close() error { return nil }

// invokeStructured is the shared lookup → validate → invoke → serialize
// path. Shared with the code executor's structured fallback.
func invokeStructured(ctx context.Context, registry *capability.Registry, action Action) (string, error) {
	cap, err := registry.Lookup(action.Name)
	if err != nil {
		return "", err
	}
	if err := cap.ValidateArgs(action.Args); err != nil {
		return "", err
	}
	raw, err := cap.Fn(ctx, action.Args)
	if err != nil {
		return "", fmt.Errorf("execution failed for capability %s: %w", action.Name, err)
	}
	return cap.SerializeResult(raw), nil
}
