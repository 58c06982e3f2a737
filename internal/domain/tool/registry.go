package tool

import (
	"fmt"
	"sort"

	"github.com/google/cel-go/cel"

	"github.com/seclens/seclens/internal/domain/delegation"
)

// registered pairs a definition with its compiled guard program.
type registered struct {
	def   Definition
	guard cel.Program // nil when the definition has no guard
}

// Registry holds the tool catalog. Tools are registered during startup and
// the registry is read-only afterwards, so lookups need no locking.
type Registry struct {
	tools     map[string]*registered
	guardEval *GuardEvaluator
	sealed    bool
}

// NewRegistry creates an empty registry.
func NewRegistry() (*Registry, error) {
	guardEval, err := NewGuardEvaluator()
	if err != nil {
		return nil, err
	}
	return &Registry{
		tools:     make(map[string]*registered),
		guardEval: guardEval,
	}, nil
}

// Register adds a tool definition. Duplicate names, missing handlers, and
// malformed guard expressions are registration errors so misconfiguration
// fails at startup rather than at dispatch time.
func (r *Registry) Register(def Definition) error {
	if r.sealed {
		return fmt.Errorf("registry is sealed, cannot register %q", def.Name)
	}
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool %q is already registered", def.Name)
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %q has no handler", def.Name)
	}
	if def.Auth == nil {
		return fmt.Errorf("tool %q has no authorization predicate", def.Name)
	}

	entry := &registered{def: def}
	if def.Guard != "" {
		prg, err := r.guardEval.Compile(def.Guard)
		if err != nil {
			return fmt.Errorf("tool %q guard: %w", def.Name, err)
		}
		entry.guard = prg
	}

	r.tools[def.Name] = entry
	return nil
}

// Seal marks the registry read-only. Register calls after Seal fail.
func (r *Registry) Seal() {
	r.sealed = true
}

// Get returns the definition for a name, or nil when unknown.
func (r *Registry) Get(name string) *Definition {
	entry, ok := r.tools[name]
	if !ok {
		return nil
	}
	return &entry.def
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.tools)
}

// List returns the definitions the execution context is authorized to run,
// sorted by name. Unauthorized tools are not advertised, so listing leaks
// nothing about restricted operations.
func (r *Registry) List(execCtx *delegation.ExecutionContext) []Definition {
	var result []Definition
	for _, entry := range r.tools {
		if entry.def.Auth.Authorize(execCtx) != nil {
			continue
		}
		result = append(result, entry.def)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}
