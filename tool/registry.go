package tool

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alexbeletsky/transcribe-talk/core"
	"github.com/alexbeletsky/transcribe-talk/internal/util"
	"github.com/alexbeletsky/transcribe-talk/model"
)

type entry struct {
	tool   Tool
	def    Definition
	schema map[string]any
}

// Registry is the catalog of invocable tools. Declarations are generated at
// registration time and served from cache.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	order   []string
	decls   []model.ToolDefinition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds tools in order. It fails with core.ErrDuplicateTool when a
// name is taken and core.ErrInvalidDefinition for malformed definitions; tools
// preceding the failing one stay registered.
func (r *Registry) Register(tools ...Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range tools {
		if t == nil {
			return fmt.Errorf("%w: nil tool", core.ErrInvalidDefinition)
		}
		def := t.Definition()
		if err := def.Validate(); err != nil {
			return err
		}
		if _, exists := r.entries[def.Name]; exists {
			return fmt.Errorf("%w: %s", core.ErrDuplicateTool, def.Name)
		}
		r.entries[def.Name] = entry{tool: t, def: def, schema: def.Schema()}
		r.order = append(r.order, def.Name)
		r.decls = append(r.decls, def.Declaration())
	}

	return nil
}

// MustRegister is like Register but panics on error. Intended for static
// startup wiring.
func (r *Registry) MustRegister(tools ...Tool) *Registry {
	if err := r.Register(tools...); err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownTool, name)
	}
	return e.tool, nil
}

// Definition returns the definition registered under name.
func (r *Registry) Definition(name string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", core.ErrUnknownTool, name)
	}
	return e.def, nil
}

// Validate checks that name is registered and args satisfy its schema.
func (r *Registry) Validate(name string, args map[string]any) error {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", core.ErrUnknownTool, name)
	}
	if err := util.ValidateParameters(args, e.schema); err != nil {
		return fmt.Errorf("%w: %s: %w", core.ErrToolValidation, name, err)
	}
	return nil
}

// Declarations returns the model declarations in registration order.
func (r *Registry) Declarations() []model.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]model.ToolDefinition(nil), r.decls...)
}

// Names returns registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]string(nil), r.order...)
}

// List returns definitions in the given category sorted by name. An empty
// category lists every tool.
func (r *Registry) List(category string) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Definition
	for _, name := range r.order {
		if e := r.entries[name]; category == "" || e.def.Category == category {
			out = append(out, e.def)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.order)
}
