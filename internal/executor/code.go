package executor

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/ChamsBouzaiene/reagent/internal/capability"
	"github.com/ChamsBouzaiene/reagent/internal/sandbox"
)

var importLineRe = regexp.MustCompile(`(?m)^\s*import\s+([A-Za-z_][A-Za-z0-9_.]*)\s*$`)

// CodeExecutor runs code actions inside an exclusively-owned sandbox
// session. The session is created lazily from the provider on first
// dispatch and released in Close; a later dispatch after Close opens a
// fresh one. Registered capabilities are exposed to the session as host
// functions when the session kind supports them.
type CodeExecutor struct {
	provider sandbox.Provider
	kind     sandbox.Kind
	limits   sandbox.Limits
	registry *capability.Registry
	// allowedImports is the explicit allow-list of modules a fragment may
	// declare. Anything else is a permission error before the fragment
	// reaches the sandbox.
	allowedImports map[string]bool

	mu      sync.Mutex
	session sandbox.Session
}

// NewCodeExecutor creates the code-execution variant. Sessions are drawn
// from the provider one at a time and torn down on Close.
func NewCodeExecutor(provider sandbox.Provider, kind sandbox.Kind, limits sandbox.Limits, registry *capability.Registry, allowedImports []string) (*CodeExecutor, error) {
	if provider == nil {
		return nil, fmt.Errorf("code executor requires a sandbox provider")
	}
	if registry == nil {
		return nil, fmt.Errorf("code executor requires a capability registry")
	}
	allowed := make(map[string]bool, len(allowedImports))
	for _, imp := range allowedImports {
		allowed[imp] = true
	}
	return &CodeExecutor{
		provider:       provider,
		kind:           kind,
		limits:         limits,
		registry:       registry,
		allowedImports: allowed,
	}, nil
}

// Dispatch implements Executor.
func (e *CodeExecutor) Dispatch(ctx context.Context, action Action) (string, error) {
	switch action.Kind {
	case ActionFinalAnswer:
		return "", ErrNotDispatchable
	case ActionToolCall:
		// A code-configured agent can still receive a structured call when
		// the model ignores instructions; route it through the registry so
		// the model's mistake yields a useful observation either way.
		return invokeStructured(ctx, e.registry, action)
	case ActionCode:
	default:
		return "", fmt.Errorf("unhandled action kind: %s", action.Kind)
	}

	if action.Empty() {
		return NoOutput, nil
	}
	if err := e.checkImports(action.Code); err != nil {
		return "", err
	}

	sess, err := e.ensureSession(ctx)
	if err != nil {
		return "", fmt.Errorf("sandbox unavailable: %w", err)
	}
	out, err := sess.Execute(ctx, action.Code, e.hostFuncs(sess))
	if err != nil {
		// Sandbox faults are wrapped for the transcript, never re-raised.
		return "", fmt.Errorf("code execution failed: %w", err)
	}
	text := out.Combined()
	if strings.TrimSpace(text) == "" {
		return NoOutput, nil
	}
	return text, nil
}

// Close implements Executor. Tears the current session down; safe to call
// repeatedly or with no session open.
func (e *CodeExecutor) Close() error {
	e.mu.Lock()
	sess := e.session
	e.session = nil
	e.mu.Unlock()
	if sess == nil {
		return nil
	}
	return sess.Teardown()
}

func (e *CodeExecutor) ensureSession(ctx context.Context) (sandbox.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		return e.session, nil
	}
	sess, err := e.provider.CreateSession(ctx, e.kind, e.limits)
	if err != nil {
		return nil, err
	}
	e.session = sess
	return sess, nil
}

func (e *CodeExecutor) checkImports(code string) error {
	for _, m := range importLineRe.FindAllStringSubmatch(code, -1) {
		if !e.allowedImports[m[1]] {
			return &PermissionError{Import: m[1]}
		}
	}
	return nil
}

// hostFuncs adapts the registry into sandbox host functions. Sessions that
// do not negotiate HostFuncs get none; their isolation boundary has no
// transport back to the host.
func (e *CodeExecutor) hostFuncs(sess sandbox.Session) map[string]sandbox.HostFunc {
	if !sess.Capabilities().HostFuncs {
		return nil
	}
	funcs := make(map[string]sandbox.HostFunc, e.registry.Len())
	for _, name := range e.registry.Names() {
		c, err := e.registry.Lookup(name)
		if err != nil {
			continue
		}
		funcs[name] = func(ctx context.Context, args map[string]any) (string, error) {
			if err := c.ValidateArgs(args); err != nil {
				return "", err
			}
			raw, err := c.Fn(ctx, args)
			if err != nil {
				return "", err
			}
			return c.SerializeResult(raw), nil
		}
	}
	return funcs
}
