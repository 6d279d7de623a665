package sandbox

import (
	"context"
	"errors"
	"sync"
)

// InlineSession is the memory-isolated embedded evaluator for lightweight,
// side-effect-free fragments. Host functions are never exposed (any call is
// denied) and variable bindings persist across Execute calls for the life
// of the session.
type InlineSession struct {
	limits Limits

	mu   sync.Mutex
	ev   *evaluator
	down bool
}

// NewInlineSession creates an inline evaluator session.
func NewInlineSession(limits Limits) *InlineSession {
	l := limits.withDefaults()
	return &InlineSession{
		limits: l,
		ev:     newEvaluator(l.MaxOps, false),
	}
}

// Capabilities implements Session.
func (s *InlineSession) Capabilities() Capabilities {
	return Capabilities{
		Isolate:            true,
		LimitNetwork:       true,
		PersistAcrossCalls: true,
	}
}

// Execute implements Session. The op ceiling spans the whole session, not a
// single call, since state persists between calls.
func (s *InlineSession) Execute(ctx context.Context, fragment string, _ map[string]HostFunc) (Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return Output{}, errors.New("sandbox session is torn down")
	}

	if err := checkDenyList(fragment, nil); err != nil {
		return Output{}, err
	}

	execCtx, cancel := context.WithTimeout(ctx, s.limits.WallClock)
	defer cancel()

	out, err := s.ev.run(execCtx, fragment)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return out, &LimitError{Resource: "wall_clock", Detail: s.limits.WallClock.String()}
	}
	return out, err
}

// Teardown implements Session. Drops the variable environment.
func (s *InlineSession) Teardown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = true
	s.ev = nil
	return nil
}
