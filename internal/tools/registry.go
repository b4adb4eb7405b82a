// Package tools implements the tool registry: named definitions with JSON
// schemas, alias mapping, input validation, and uniform dispatch that turns
// every failure mode into an error ToolResult the model can read.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"github.com/cccntu/llmproc/pkg/models"
)

// Registry maps tool names to definitions. Names are unique; aliases rebind
// the exposed name of a single target each.
type Registry struct {
	mu      sync.RWMutex
	defs    map[string]*Definition
	order   []string
	aliases map[string]string // alias -> target
	reverse map[string]string // target -> alias
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		defs:    make(map[string]*Definition),
		aliases: make(map[string]string),
		reverse: make(map[string]string),
		logger:  logger.With("component", "tools"),
	}
}

// Register adds a definition. Duplicate names and nil handlers are rejected.
func (r *Registry) Register(def *Definition) error {
	if def == nil || def.Name == "" {
		return fmt.Errorf("tool definition requires a name")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %q has no handler", def.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Name]; exists {
		return fmt.Errorf("tool %q is already registered", def.Name)
	}
	r.defs[def.Name] = def
	r.order = append(r.order, def.Name)
	r.logger.Debug("registered tool", "tool", def.Name, "access", def.Access.String())
	return nil
}

// SetAliases installs the alias table. Each alias maps to exactly one
// registered target and each target carries at most one alias.
func (r *Registry) SetAliases(aliases map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]string, len(aliases))
	for alias, target := range aliases {
		if alias == target {
			return fmt.Errorf("alias %q maps to itself", alias)
		}
		if _, ok := r.defs[target]; !ok {
			return fmt.Errorf("alias %q targets unknown tool %q", alias, target)
		}
		if _, ok := r.defs[alias]; ok {
			return fmt.Errorf("alias %q collides with a registered tool name", alias)
		}
		if prev, ok := seen[target]; ok {
			return fmt.Errorf("tool %q has two aliases: %q and %q", target, prev, alias)
		}
		seen[target] = alias
	}

	r.aliases = make(map[string]string, len(aliases))
	r.reverse = make(map[string]string, len(aliases))
	for alias, target := range aliases {
		r.aliases[alias] = target
		r.reverse[target] = alias
	}
	return nil
}

// Resolve maps an incoming call name through the alias table.
func (r *Registry) Resolve(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if target, ok := r.aliases[name]; ok {
		return target
	}
	return name
}

// Has reports whether a name (canonical or alias) is callable.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if target, ok := r.aliases[name]; ok {
		name = target
	}
	_, ok := r.defs[name]
	return ok
}

// Definitions returns the advertised schemas in registration order, with
// aliased tools exposed under their alias names, filtered to the given
// access ceiling.
func (r *Registry) Definitions(ceiling AccessLevel) []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]*Definition, 0, len(r.order))
	for _, name := range r.order {
		def := r.defs[name]
		if def.Access > ceiling {
			continue
		}
		if alias, ok := r.reverse[name]; ok {
			def = def.renamed(alias)
		}
		defs = append(defs, def)
	}
	return defs
}

// Names returns the advertised (aliased) tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.order))
	for _, name := range r.order {
		if alias, ok := r.reverse[name]; ok {
			name = alias
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call dispatches a tool by name. Unknown names, missing runtime
// dependencies, schema violations, handler errors, and handler panics all
// come back as error ToolResults; Call never returns nil.
func (r *Registry) Call(ctx context.Context, name string, input json.RawMessage, rc *RuntimeContext) (res *models.ToolResult) {
	r.mu.RLock()
	canonical := name
	if target, ok := r.aliases[name]; ok {
		canonical = target
	}
	def, ok := r.defs[canonical]
	r.mu.RUnlock()

	if !ok {
		return models.ErrorResultf("Error: Tool '%s' not found.\n\nAvailable tools: %s",
			name, strings.Join(r.Names(), ", "))
	}

	if missing := rc.missing(def.Needs); missing != "" {
		return models.ErrorResultf("Error: Tool '%s' requires runtime context dependency '%s' which is not available", name, missing)
	}

	if schema := def.validator(); schema != nil && len(input) > 0 {
		var decoded any
		if err := json.Unmarshal(input, &decoded); err != nil {
			return models.ErrorResultf("Error: Tool '%s' received malformed JSON input: %v", name, err)
		}
		if err := schema.Validate(decoded); err != nil {
			return models.ErrorResultf("Error: Tool '%s' input failed validation: %v", name, err)
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool handler panic", "tool", canonical, "panic", rec, "stack", string(debug.Stack()))
			res = models.ErrorResultf("Error: Tool '%s' failed: internal error", name)
		}
	}()

	result := def.Handler(ctx, input, rc)
	if result == nil {
		return models.ErrorResultf("Error: Tool '%s' returned no result", name)
	}
	return result
}
