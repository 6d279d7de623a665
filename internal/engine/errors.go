package engine

import (
	"errors"
	"fmt"

	"github.com/ChamsBouzaiene/reagent/internal/capability"
	"github.com/ChamsBouzaiene/reagent/internal/executor"
	"github.com/ChamsBouzaiene/reagent/internal/model"
	"github.com/ChamsBouzaiene/reagent/internal/sandbox"
)

// Step error kinds recorded on ActionStep.ErrorKind. Every captured failure
// is classified so transcripts and hooks can aggregate without string
// matching.
const (
	ErrKindValidation  = "validation"
	ErrKindNotFound    = "capability_not_found"
	ErrKindPermission  = "permission_denied"
	ErrKindLimit       = "resource_limit"
	ErrKindMalformed   = "malformed_action"
	ErrKindExecution   = "execution"
	ErrKindUnavailable = "provider_unavailable"
)

var (
	// ErrRunActive is returned when Run is called on an agent whose
	// previous run has not finished. Concurrent runs on one agent are
	// programming misuse.
	ErrRunActive = errors.New("engine: a run is already active on this agent")

	// ErrDelegationCycle is returned by Manage when adopting the candidate
	// would make the management graph cyclic.
	ErrDelegationCycle = errors.New("engine: delegation would form a cycle")

	// ErrDelegationDepth is returned when a delegated task would exceed the
	// configured recursion ceiling.
	ErrDelegationDepth = errors.New("engine: delegation depth limit exceeded")
)

// FatalError terminates the run itself. It is recorded as the run's
// FinalStep and also returned from Run so callers can distinguish a fatal
// abort from a normal completion.
type FatalError struct {
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fatal: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("fatal: %s", e.Reason)
}

func (e *FatalError) Unwrap() error { return e.Err }

// ProviderUnavailableError wraps a reasoning-provider failure that
// persisted through every retry attempt.
type ProviderUnavailableError struct {
	Attempts int
	Err      error
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("reasoning provider unavailable after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ProviderUnavailableError) Unwrap() error { return e.Err }

// classifyStepError maps a captured per-step failure onto the error
// taxonomy. Unknown failures fall through to plain execution errors.
func classifyStepError(err error) string {
	var (
		validation *capability.ValidationError
		notFound   *capability.NotFoundError
		permission *executor.PermissionError
		denied     *sandbox.DeniedError
		limit      *sandbox.LimitError
		malformed  *model.MalformedActionError
	)
	switch {
	case errors.As(err, &validation):
		return ErrKindValidation
	case errors.As(err, &notFound):
		return ErrKindNotFound
	case errors.As(err, &permission), errors.As(err, &denied):
		return ErrKindPermission
	case errors.As(err, &limit):
		return ErrKindLimit
	case errors.As(err, &malformed):
		return ErrKindMalformed
	default:
		return ErrKindExecution
	}
}
