package sandbox

import (
	"context"
	"errors"
	"sync"
)

// LocalSession evaluates fragments in-process with a deny-list and an
// op-count ceiling. It is the cheapest kind: no process boundary, so it is
// only as strong as the evaluator's own confinement.
type LocalSession struct {
	limits Limits
	deny   []string

	mu   sync.Mutex
	down bool
}

// NewLocalSession creates a local evaluator session.
func NewLocalSession(limits Limits, deny []string) *LocalSession {
	return &LocalSession{limits: limits.withDefaults(), deny: deny}
}

// Capabilities implements Session.
func (s *LocalSession) Capabilities() Capabilities {
	return Capabilities{
		Isolate:      true,
		LimitNetwork: true,
		HostFuncs:    true,
	}
}

// Execute implements Session. Each call gets a fresh variable environment.
func (s *LocalSession) Execute(ctx context.Context, fragment string, funcs map[string]HostFunc) (Output, error) {
	s.mu.Lock()
	if s.down {
		s.mu.Unlock()
		return Output{}, errors.New("sandbox session is torn down")
	}
	s.mu.Unlock()

	if err := checkDenyList(fragment, s.deny); err != nil {
		return Output{}, err
	}

	execCtx, cancel := context.WithTimeout(ctx, s.limits.WallClock)
	defer cancel()

	ev := newEvaluator(s.limits.MaxOps, true)
	ev.funcs = funcs

	out, err := ev.run(execCtx, fragment)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		// The session's own wall-clock limit fired, not the caller's
		// context.
		return out, &LimitError{Resource: "wall_clock", Detail: s.limits.WallClock.String()}
	}
	return out, err
}

// Teardown implements Session. Idempotent; the local kind holds no
// external resources.
func (s *LocalSession) Teardown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = true
	return nil
}
