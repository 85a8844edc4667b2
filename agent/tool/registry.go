// Package tool is the bridge between the reasoning layer and the commerce
// backend: a registry of schema-validated tools and the invoker that
// executes them, translating every failure into a stable result kind the
// reasoning layer can react to.
package tool

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/cloudwego/eino/schema"

	statex "github.com/chatcart-ai/chatcart/agent/state"
)

var (
	ErrDuplicateTool = errors.New("tool already registered")
	ErrUnknownTool   = errors.New("unknown tool")
)

// SchemaValidationError rejects a malformed tool call before anything
// reaches the backend. Field names the offending argument.
type SchemaValidationError struct {
	Tool   string
	Field  string
	Reason string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("tool %s: field %q %s", e.Tool, e.Field, e.Reason)
}

// Runner executes one validated tool call. Mutating runners record their
// outcome on the session's cart reference before returning.
type Runner func(ctx context.Context, sess *statex.Session, args map[string]any) (any, error)

// Spec declares one callable tool. Params must be the same map handed to
// schema.NewParamsOneOfByParams inside Info, so what the model is told and
// what the invoker enforces cannot drift apart.
type Spec struct {
	Info     *schema.ToolInfo
	Params   map[string]*schema.ParameterInfo
	Mutating bool
	Run      Runner
}

// Registry keys tool specs by name. Registration happens at startup;
// lookups run on every turn.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]Spec
	order []string
}

func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]Spec)}
}

func (r *Registry) Register(spec Spec) error {
	if spec.Info == nil {
		return errors.New("tool spec needs Info")
	}
	name := strings.TrimSpace(spec.Info.Name)
	if name == "" {
		return errors.New("tool spec needs a name")
	}
	if spec.Run == nil {
		return fmt.Errorf("tool %s needs a runner", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.specs[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	r.specs[name] = spec
	r.order = append(r.order, name)
	return nil
}

func (r *Registry) MustRegister(spec Spec) {
	if err := r.Register(spec); err != nil {
		panic(err)
	}
}

func (r *Registry) Spec(name string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[name]
	return spec, ok
}

// Infos returns tool declarations for the named tools in registration
// order, or every registered tool when names is empty. Unknown names are
// skipped.
func (r *Registry) Infos(names ...string) []*schema.ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	infos := make([]*schema.ToolInfo, 0, len(r.order))
	for _, name := range r.order {
		if len(names) > 0 && !wanted[name] {
			continue
		}
		infos = append(infos, r.specs[name].Info)
	}
	return infos
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

/* ------------------------------ argument validation ------------------------------ */

// validateArgs checks required-ness, rejects undeclared arguments, and
// enforces declared types. JSON decoding hands numbers over as float64, so
// Integer accepts a float64 with no fractional part.
func validateArgs(name string, params map[string]*schema.ParameterInfo, args map[string]any) *SchemaValidationError {
	for field, p := range params {
		if p == nil {
			continue
		}
		val, present := args[field]
		if !present {
			if p.Required {
				return &SchemaValidationError{Tool: name, Field: field, Reason: "is required"}
			}
			continue
		}
		if reason := checkType(p.Type, val); reason != "" {
			return &SchemaValidationError{Tool: name, Field: field, Reason: reason}
		}
	}

	for field := range args {
		if _, declared := params[field]; !declared {
			return &SchemaValidationError{Tool: name, Field: field, Reason: "is not a declared parameter"}
		}
	}
	return nil
}

func checkType(want schema.DataType, val any) string {
	switch want {
	case schema.String:
		if _, ok := val.(string); !ok {
			return "must be a string"
		}
	case schema.Integer:
		switch v := val.(type) {
		case float64:
			if v != math.Trunc(v) {
				return "must be an integer"
			}
		case int, int32, int64:
		default:
			return "must be an integer"
		}
	case schema.Number:
		switch val.(type) {
		case float64, float32, int, int32, int64:
		default:
			return "must be a number"
		}
	case schema.Boolean:
		if _, ok := val.(bool); !ok {
			return "must be a boolean"
		}
	case schema.Object:
		if _, ok := val.(map[string]any); !ok {
			return "must be an object"
		}
	case schema.Array:
		if _, ok := val.([]any); !ok {
			return "must be an array"
		}
	}
	return ""
}
