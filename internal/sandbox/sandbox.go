// Package sandbox provides the isolation boundary that code actions run
// inside. Four session kinds share one execute/observe/teardown contract so
// the agent core never branches on how the isolation is achieved.
package sandbox

import (
	"context"
	"fmt"
	"time"
)

// Kind selects a session implementation.
type Kind string

const (
	// KindLocal is the in-process restricted evaluator: cheapest, weakest
	// isolation. Blocks a deny-list of operations and enforces an op-count
	// ceiling.
	KindLocal Kind = "local"
	// KindContainer runs fragments in a Docker container.
	KindContainer Kind = "container"
	// KindRemote delegates execution to a micro-VM service over HTTP.
	KindRemote Kind = "remote"
	// KindInline is the memory-isolated evaluator for side-effect-free
	// fragments; variables persist across calls.
	KindInline Kind = "inline"
)

// Capabilities describes what guarantees and features a session kind
// negotiates.
type Capabilities struct {
	Isolate            bool
	LimitCPU           bool
	LimitMemory        bool
	LimitNetwork       bool
	PersistAcrossCalls bool
	// HostFuncs reports whether registered capabilities can be exposed
	// inside the session as directly callable functions. Only in-process
	// kinds support it; container and remote kinds isolate at the process
	// boundary and do not proxy host calls.
	HostFuncs bool
}

// Limits bounds one execution. Violations surface as *LimitError, never as
// a hang.
type Limits struct {
	WallClock   time.Duration
	MaxOps      int
	MemoryBytes int64
}

// DefaultLimits returns the limits used when a caller passes the zero
// value.
func DefaultLimits() Limits {
	return Limits{
		WallClock: 30 * time.Second,
		MaxOps:    10000,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.WallClock <= 0 {
		l.WallClock = d.WallClock
	}
	if l.MaxOps <= 0 {
		l.MaxOps = d.MaxOps
	}
	return l
}

// HostFunc is a capability exposed inside a session as a callable function.
type HostFunc func(ctx context.Context, args map[string]any) (string, error)

// Output captures what a fragment produced on its stdout/return channel.
type Output struct {
	Stdout      string
	ReturnValue string
}

// Combined joins return value and stdout into one observation text.
func (o Output) Combined() string {
	switch {
	case o.ReturnValue != "" && o.Stdout != "":
		return o.Stdout + "\n" + o.ReturnValue
	case o.ReturnValue != "":
		return o.ReturnValue
	default:
		return o.Stdout
	}
}

// Session is one isolation boundary instance, exclusively owned by the
// executor that created it.
//
// Execute runs a fragment to completion. A fault inside the fragment is
// returned as an error, never re-raised past the caller. Teardown is
// idempotent and must release underlying resources even if Execute faulted.
type Session interface {
	Execute(ctx context.Context, fragment string, funcs map[string]HostFunc) (Output, error)
	Capabilities() Capabilities
	Teardown() error
}

// Provider creates sessions of a negotiated kind.
type Provider interface {
	CreateSession(ctx context.Context, kind Kind, limits Limits) (Session, error)
}

// DefaultProvider dispatches on Kind using a shared Config.
type DefaultProvider struct {
	cfg Config
}

// NewProvider creates a provider with the given configuration.
func NewProvider(cfg Config) *DefaultProvider {
	return &DefaultProvider{cfg: cfg}
}

// CreateSession implements Provider.
func (p *DefaultProvider) CreateSession(ctx context.Context, kind Kind, limits Limits) (Session, error) {
	switch kind {
	case KindLocal, "":
		return NewLocalSession(limits, p.cfg.DenyList), nil
	case KindInline:
		return NewInlineSession(limits), nil
	case KindContainer:
		return NewContainerSession(ctx, p.cfg, limits)
	case KindRemote:
		return NewRemoteSession(ctx, p.cfg.RemoteBaseURL, limits)
	default:
		return nil, fmt.Errorf("unknown sandbox kind: %s", kind)
	}
}

// LimitError indicates a resource limit was hit. Resource is one of
// "wall_clock", "op_count", "memory".
type LimitError struct {
	Resource string
	Detail   string
}

func (e *LimitError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("sandbox limit exceeded (%s): %s", e.Resource, e.Detail)
	}
	return fmt.Sprintf("sandbox limit exceeded (%s)", e.Resource)
}

// DeniedError indicates a fragment referenced an operation on the
// deny-list.
type DeniedError struct {
	Op string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("operation denied by sandbox policy: %s", e.Op)
}
