// Package capability holds the registry of named, schema-described units of
// functionality an agent may invoke by structured call: plain tools and
// managed sub-agents alike.
package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// InvokeFunc executes a capability with already-validated arguments.
type InvokeFunc func(ctx context.Context, args map[string]any) (string, error)

// ReturnType tags how a capability's result is serialized into the
// observation.
type ReturnType string

const (
	ReturnText ReturnType = "text"
	ReturnJSON ReturnType = "json"
)

// Capability describes one invocable unit: a unique name, a purpose
// description the reasoning engine selects on, a JSON schema for its
// parameters, and the invoke handle.
type Capability struct {
	Name        string
	Description string
	SchemaJSON  string
	Returns     ReturnType
	Fn          InvokeFunc
}

// Schema is the provider-facing descriptor exported to reasoning engines.
type Schema struct {
	Name        string
	Description string
	JSONSchema  string
	Returns     ReturnType
}

// ValidateArgs validates args against the capability's JSON schema. A
// failure is a *ValidationError; the capability is never invoked on
// validation failure.
func (c Capability) ValidateArgs(args map[string]any) error {
	if c.SchemaJSON == "" {
		return nil
	}
	schemaLoader := gojsonschema.NewStringLoader(c.SchemaJSON)
	documentLoader := gojsonschema.NewGoLoader(args)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		var problems []string
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return &ValidationError{Name: c.Name, Problems: problems}
	}
	return nil
}

// SerializeResult renders a raw invocation result according to the declared
// return type.
func (c Capability) SerializeResult(raw string) string {
	switch c.Returns {
	case ReturnJSON:
		// Re-indent when the payload is already valid JSON; pass through
		// otherwise so a misbehaving capability still yields an observation.
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return raw
		}
		out, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return raw
		}
		return string(out)
	default:
		return raw
	}
}

// ValidationError indicates capability arguments failed schema validation.
type ValidationError struct {
	Name     string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("capability %s validation failed: %s", e.Name, strings.Join(e.Problems, "; "))
}

// NotFoundError indicates a capability name is not registered.
type NotFoundError struct {
	Name      string
	Available []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("capability not found: %s (available: %s)", e.Name, strings.Join(e.Available, ", "))
}
