// Package program implements the declarative program layer: TOML loading,
// validation, compilation (including linked program resolution with cycle
// detection), and the environment info builder.
package program

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cccntu/llmproc/internal/mcp"
)

// BuiltinTools is the set of tool names a program may enable.
var BuiltinTools = map[string]bool{
	"calculator": true,
	"read_file":  true,
	"read_fd":    true,
	"fd_to_file": true,
	"spawn":      true,
	"goto":       true,
	"fork":       true,
}

// toolCapableProviders can execute tool calls.
var toolCapableProviders = map[string]bool{
	"anthropic":        true,
	"anthropic_vertex": true,
}

// Program is a compiled program definition: everything a process needs to
// start. Mutation is rejected once Compile has run.
type Program struct {
	ModelName     string
	Provider      string
	DisplayName   string
	SystemPrompt  string
	UserPrompt    string
	MaxIterations int
	Parameters    Parameters

	PreloadFiles []string
	EnvInfo      EnvInfoConfig

	EnabledTools []string
	ToolAliases  map[string]string
	AccessLevel  string

	MCPConfigPath string
	MCPTools      mcp.ToolSelection

	LinkedPrograms            map[string]*Program
	LinkedProgramDescriptions map[string]string

	FileDescriptor FDConfig

	DemoPrompts []string
	DemoPause   bool

	// sourcePath is the absolute path of the TOML file this program was
	// loaded from; empty for programs built in code.
	sourcePath string

	mu       sync.Mutex
	compiled bool
}

// New creates an uncompiled program for a model and provider.
func New(modelName, provider string) *Program {
	return &Program{
		ModelName:                 modelName,
		Provider:                  provider,
		ToolAliases:               map[string]string{},
		LinkedPrograms:            map[string]*Program{},
		LinkedProgramDescriptions: map[string]string{},
	}
}

// SourcePath returns the file the program was loaded from, if any.
func (p *Program) SourcePath() string {
	return p.sourcePath
}

// Compiled reports whether Compile has completed.
func (p *Program) Compiled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.compiled
}

func (p *Program) mutate(f func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.compiled {
		return fmt.Errorf("program is compiled and can no longer be modified")
	}
	f()
	return nil
}

// SetSystemPrompt sets the base system prompt.
func (p *Program) SetSystemPrompt(prompt string) error {
	return p.mutate(func() { p.SystemPrompt = prompt })
}

// SetUserPrompt sets the embedded user prompt used when no input is given.
func (p *Program) SetUserPrompt(prompt string) error {
	return p.mutate(func() { p.UserPrompt = prompt })
}

// SetEnabledTools replaces the enabled tool list.
func (p *Program) SetEnabledTools(names []string) error {
	return p.mutate(func() { p.EnabledTools = append([]string(nil), names...) })
}

// AddPreloadFile appends a file to preload into the system prompt.
func (p *Program) AddPreloadFile(path string) error {
	return p.mutate(func() { p.PreloadFiles = append(p.PreloadFiles, path) })
}

// AddLinkedProgram links a child program under a name.
func (p *Program) AddLinkedProgram(name string, child *Program, description string) error {
	return p.mutate(func() {
		p.LinkedPrograms[name] = child
		if description != "" {
			p.LinkedProgramDescriptions[name] = description
		}
	})
}

// SetToolAliases replaces the alias table.
func (p *Program) SetToolAliases(aliases map[string]string) error {
	return p.mutate(func() {
		p.ToolAliases = make(map[string]string, len(aliases))
		for k, v := range aliases {
			p.ToolAliases[k] = v
		}
	})
}

// Compile validates and freezes the program. It is idempotent: compiling a
// compiled program is a no-op. Linked programs are compiled recursively;
// linkage cycles are an error.
func (p *Program) Compile() error {
	return p.compileWith(newCompileState())
}

type compileState struct {
	inProgress map[*Program]bool
	chain      []string
}

func newCompileState() *compileState {
	return &compileState{inProgress: make(map[*Program]bool)}
}

func (p *Program) compileWith(state *compileState) error {
	p.mu.Lock()
	if p.compiled {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	label := p.sourcePath
	if label == "" {
		label = p.ModelName
	}
	if state.inProgress[p] {
		return fmt.Errorf("linked program cycle detected: %s", strings.Join(append(state.chain, label), " -> "))
	}
	state.inProgress[p] = true
	state.chain = append(state.chain, label)
	defer func() {
		delete(state.inProgress, p)
		state.chain = state.chain[:len(state.chain)-1]
	}()

	if err := p.validate(); err != nil {
		return err
	}
	p.applyToolImplications()

	names := make([]string, 0, len(p.LinkedPrograms))
	for name := range p.LinkedPrograms {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := p.LinkedPrograms[name].compileWith(state); err != nil {
			return fmt.Errorf("linked program %q: %w", name, err)
		}
	}

	p.mu.Lock()
	p.compiled = true
	p.mu.Unlock()
	return nil
}

func (p *Program) validate() error {
	if p.ModelName == "" {
		return fmt.Errorf("model name is required")
	}
	if p.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if !supportedProvider(p.Provider) {
		return fmt.Errorf("unknown provider %q", p.Provider)
	}
	if p.MaxIterations < 0 {
		return fmt.Errorf("max_iterations must not be negative")
	}

	for _, name := range p.EnabledTools {
		if !BuiltinTools[name] {
			return fmt.Errorf("unknown tool %q: available tools are %s", name, strings.Join(builtinToolNames(), ", "))
		}
	}

	usesTools := len(p.EnabledTools) > 0 || len(p.MCPTools) > 0
	if usesTools && !toolCapableProviders[p.Provider] {
		return fmt.Errorf("provider %q does not support tool execution; enabled tools require anthropic or anthropic_vertex", p.Provider)
	}

	if contains(p.EnabledTools, "spawn") && len(p.LinkedPrograms) == 0 {
		return fmt.Errorf("the spawn tool requires at least one linked program")
	}

	if len(p.MCPTools) > 0 && p.MCPConfigPath == "" {
		return fmt.Errorf("mcp tools are selected but mcp config_path is not set")
	}

	if _, err := p.aliasTable(); err != nil {
		return err
	}
	return nil
}

// aliasTable validates the alias map: aliases are one-to-one onto enabled
// tool names (or namespaced MCP names).
func (p *Program) aliasTable() (map[string]string, error) {
	if len(p.ToolAliases) == 0 {
		return nil, nil
	}
	enabled := make(map[string]bool, len(p.EnabledTools))
	for _, name := range p.EnabledTools {
		enabled[name] = true
	}
	targets := make(map[string]string, len(p.ToolAliases))
	for alias, target := range p.ToolAliases {
		if alias == target {
			return nil, fmt.Errorf("alias %q maps to itself", alias)
		}
		isMCP := strings.Contains(target, mcp.NamespaceSeparator)
		if !enabled[target] && !isMCP {
			return nil, fmt.Errorf("alias %q targets %q which is not an enabled tool", alias, target)
		}
		if prev, ok := targets[target]; ok {
			return nil, fmt.Errorf("tool %q has two aliases: %q and %q", target, prev, alias)
		}
		targets[target] = alias
	}
	return p.ToolAliases, nil
}

// applyToolImplications keeps the file descriptor subsystem and its tools
// consistent: enabling an fd tool enables the subsystem, and an enabled
// subsystem always exposes read_fd.
func (p *Program) applyToolImplications() {
	if contains(p.EnabledTools, "read_fd") || contains(p.EnabledTools, "fd_to_file") {
		p.FileDescriptor.Enabled = true
	}
	if p.FileDescriptor.Enabled && !contains(p.EnabledTools, "read_fd") {
		p.EnabledTools = append(p.EnabledTools, "read_fd")
	}
}

func supportedProvider(name string) bool {
	switch name {
	case "anthropic", "anthropic_vertex", "openai", "gemini":
		return true
	}
	return false
}

func builtinToolNames() []string {
	names := make([]string, 0, len(BuiltinTools))
	for name := range BuiltinTools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func contains(list []string, name string) bool {
	for _, item := range list {
		if item == name {
			return true
		}
	}
	return false
}

// resolvePreloadFiles converts preload paths to absolute ones, relative to
// the program file (default) or the working directory. Missing files are
// kept; the process warns and skips them at start time.
func resolvePreloadFiles(files []string, relativeTo, sourcePath string) ([]string, error) {
	if len(files) == 0 {
		return nil, nil
	}
	var base string
	switch relativeTo {
	case "", "program":
		if sourcePath != "" {
			base = filepath.Dir(sourcePath)
		}
	case "cwd":
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		base = wd
	default:
		return nil, fmt.Errorf("invalid preload relative_to %q: expected program or cwd", relativeTo)
	}

	out := make([]string, 0, len(files))
	for _, f := range files {
		if filepath.IsAbs(f) || base == "" {
			out = append(out, filepath.Clean(f))
			continue
		}
		out = append(out, filepath.Join(base, f))
	}
	return out, nil
}
