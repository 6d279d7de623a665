package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// The in-process kinds evaluate a small line-oriented fragment language:
//
//	# comment
//	import web
//	result = search({"query": "go concurrency"})
//	print(result)
//	return result
//
// One statement per line. Call arguments are a JSON object; string values
// beginning with "$" are substituted from previously bound variables.
// Import lines are declarations only; the executor checks them against its
// allow-list before the fragment ever reaches a session.

var (
	assignRe = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*=\s*(.+)$`)
	callRe   = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*\((.*)\)$`)
)

type evaluator struct {
	vars    map[string]string
	maxOps  int
	ops     int
	funcs   map[string]HostFunc
	callsOK bool // false for the side-effect-free inline kind
}

func newEvaluator(maxOps int, callsOK bool) *evaluator {
	return &evaluator{
		vars:    make(map[string]string),
		maxOps:  maxOps,
		callsOK: callsOK,
	}
}

// run executes the fragment against the current variable environment. The
// op ceiling counts executed statements; hitting it is a *LimitError, not a
// hang.
func (ev *evaluator) run(ctx context.Context, fragment string) (Output, error) {
	var out Output
	var stdout strings.Builder

	for _, raw := range strings.Split(fragment, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return Output{Stdout: stdout.String()}, err
		}
		ev.ops++
		if ev.ops > ev.maxOps {
			return Output{Stdout: stdout.String()}, &LimitError{
				Resource: "op_count",
				Detail:   fmt.Sprintf("ceiling of %d statements reached", ev.maxOps),
			}
		}

		switch {
		case strings.HasPrefix(line, "import "):
			// Declaration only; enforcement happens upstream.
			continue

		case strings.HasPrefix(line, "return"):
			expr := strings.TrimSpace(strings.TrimPrefix(line, "return"))
			val, err := ev.eval(expr)
			if err != nil {
				return Output{Stdout: stdout.String()}, err
			}
			out.ReturnValue = val
			out.Stdout = strings.TrimSuffix(stdout.String(), "\n")
			return out, nil

		case strings.HasPrefix(line, "print(") && strings.HasSuffix(line, ")"):
			expr := strings.TrimSuffix(strings.TrimPrefix(line, "print("), ")")
			val, err := ev.eval(strings.TrimSpace(expr))
			if err != nil {
				return Output{Stdout: stdout.String()}, err
			}
			stdout.WriteString(val)
			stdout.WriteString("\n")

		default:
			if m := assignRe.FindStringSubmatch(line); m != nil {
				val, err := ev.evalRHS(ctx, m[2])
				if err != nil {
					return Output{Stdout: stdout.String()}, err
				}
				ev.vars[m[1]] = val
				continue
			}
			if callRe.MatchString(line) {
				if _, err := ev.call(ctx, line); err != nil {
					return Output{Stdout: stdout.String()}, err
				}
				continue
			}
			return Output{Stdout: stdout.String()}, fmt.Errorf("cannot parse statement: %q", line)
		}
	}

	out.Stdout = strings.TrimSuffix(stdout.String(), "\n")
	return out, nil
}

// evalRHS evaluates the right-hand side of an assignment: a call or a plain
// expression.
func (ev *evaluator) evalRHS(ctx context.Context, rhs string) (string, error) {
	rhs = strings.TrimSpace(rhs)
	if callRe.MatchString(rhs) {
		return ev.call(ctx, rhs)
	}
	return ev.eval(rhs)
}

// eval resolves a plain expression: a quoted string literal, a bound
// variable, or a bare number.
func (ev *evaluator) eval(expr string) (string, error) {
	if expr == "" {
		return "", nil
	}
	if strings.HasPrefix(expr, `"`) && strings.HasSuffix(expr, `"`) && len(expr) >= 2 {
		var s string
		if err := json.Unmarshal([]byte(expr), &s); err != nil {
			return "", fmt.Errorf("bad string literal %s: %w", expr, err)
		}
		return s, nil
	}
	if v, ok := ev.vars[expr]; ok {
		return v, nil
	}
	// Bare numbers pass through untouched.
	var num json.Number
	if err := json.Unmarshal([]byte(expr), &num); err == nil {
		return num.String(), nil
	}
	return "", fmt.Errorf("undefined variable: %s", expr)
}

func (ev *evaluator) call(ctx context.Context, stmt string) (string, error) {
	m := callRe.FindStringSubmatch(stmt)
	name, rawArgs := m[1], strings.TrimSpace(m[2])

	if !ev.callsOK {
		return "", &DeniedError{Op: name}
	}
	fn, ok := ev.funcs[name]
	if !ok {
		return "", fmt.Errorf("unknown function: %s", name)
	}

	args := map[string]any{}
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return "", fmt.Errorf("arguments to %s are not a JSON object: %w", name, err)
		}
	}
	// Substitute "$var" string values from the environment.
	for k, v := range args {
		s, ok := v.(string)
		if !ok || !strings.HasPrefix(s, "$") {
			continue
		}
		bound, ok := ev.vars[s[1:]]
		if !ok {
			return "", fmt.Errorf("undefined variable: %s", s[1:])
		}
		args[k] = bound
	}

	return fn(ctx, args)
}

// checkDenyList scans a fragment for denied operations before execution.
func checkDenyList(fragment string, extra []string) error {
	for _, list := range [][]string{defaultDenyList, extra} {
		for _, op := range list {
			if strings.Contains(fragment, op) {
				return &DeniedError{Op: strings.TrimSuffix(op, "(")}
			}
		}
	}
	return nil
}
