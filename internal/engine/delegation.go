package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/reagent/internal/capability"
)

// delegateSchemaJSON is the argument contract every managed agent exposes.
const delegateSchemaJSON = `{
	"type": "object",
	"properties": {
		"task": {
			"type": "string",
			"description": "The task to delegate to this agent, stated completely and self-contained."
		}
	},
	"required": ["task"],
	"additionalProperties": false
}`

type delegationDepthKey struct{}

func delegationDepth(ctx context.Context) int {
	d, _ := ctx.Value(delegationDepthKey{}).(int)
	return d
}

// Manage adopts sub as a managed agent and registers it as a capability in
// this agent's registry, invocable like any other capability. Adoption is
// rejected with ErrDelegationCycle when sub already manages this agent,
// directly or transitively. Call between runs only.
func (a *Agent) Manage(sub *Agent) error {
	if sub == nil {
		return fmt.Errorf("managed agent must not be nil")
	}
	if sub == a || sub.reaches(a) {
		return ErrDelegationCycle
	}
	if err := a.registry.Register(a.delegateCapability(sub)); err != nil {
		return err
	}
	a.managed = append(a.managed, sub)
	return nil
}

// Managed returns the agents this one delegates to.
func (a *Agent) Managed() []*Agent {
	out := make([]*Agent, len(a.managed))
	copy(out, a.managed)
	return out
}

// reaches reports whether target is in a's management graph.
func (a *Agent) reaches(target *Agent) bool {
	for _, m := range a.managed {
		if m == target || m.reaches(target) {
			return true
		}
	}
	return false
}

// delegateCapability wraps sub behind the uniform capability interface. A
// delegated run always starts from fresh history; the sub-agent's final
// answer becomes the caller's observation, and its failure a captured step
// error.
func (a *Agent) delegateCapability(sub *Agent) capability.Capability {
	desc := sub.description
	if desc == "" {
		desc = fmt.Sprintf("Delegate a sub-task to the %s agent and receive its final answer.", sub.name)
	}
	return capability.Capability{
		Name:        sub.name,
		Description: desc,
		SchemaJSON:  delegateSchemaJSON,
		Returns:     capability.ReturnText,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			depth := delegationDepth(ctx) + 1
			if depth > a.cfg.MaxDelegationDepth {
				return "", fmt.Errorf("%w: depth %d exceeds limit %d", ErrDelegationDepth, depth, a.cfg.MaxDelegationDepth)
			}
			task, _ := args["task"].(string)
			if strings.TrimSpace(task) == "" {
				return "", fmt.Errorf("delegated task must not be empty")
			}
			final, err := sub.Run(context.WithValue(ctx, delegationDepthKey{}, depth), task, true)
			if err != nil {
				return "", fmt.Errorf("delegated agent %q: %w", sub.name, err)
			}
			return final.Answer, nil
		},
	}
}
