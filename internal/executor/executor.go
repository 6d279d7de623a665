// Package executor dispatches one proposed action to completion and returns
// a structured observation or a typed failure. Two interchangeable
// strategies share the contract: free-form code run inside a sandbox
// session, and schema-validated structured calls against the capability
// registry.
package executor

import (
	"context"
	"errors"
	"fmt"
)

// NoOutput is the observation recorded for an empty or no-op action.
const NoOutput = "(no output)"

// Executor runs one action to completion. Implementations are selected per
// agent configuration, not per call.
type Executor interface {
	// Dispatch returns the observation text. Failures are returned as
	// typed errors; the loop captures them into the action step instead of
	// aborting.
	Dispatch(ctx context.Context, action Action) (string, error)

	// Close releases resources on every exit path. Idempotent.
	Close() error
}

// ErrNotDispatchable is returned when a final-answer action reaches
// Dispatch. The loop must consume terminal actions itself; seeing one here
// is programming misuse, not a recoverable step error.
var ErrNotDispatchable = errors.New("executor: final answer actions are not dispatchable")

// PermissionError indicates a code action referenced an import outside the
// executor's allow-list. Never silently ignored.
type PermissionError struct {
	Import string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("import not allowed: %s", e.Import)
}
