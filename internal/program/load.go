package program

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// checkUndecoded enforces the config strictness policy: unknown top-level
// sections are errors, unknown keys inside known sections only warn.
func checkUndecoded(md toml.MetaData, path string) error {
	var sections []string
	for _, key := range md.Undecoded() {
		if len(key) == 1 {
			sections = append(sections, key.String())
			continue
		}
		slog.Warn("ignoring unknown program key", "program", path, "key", key.String())
	}
	if len(sections) > 0 {
		return fmt.Errorf("program %s has unknown sections: %s", path, strings.Join(sections, ", "))
	}
	return nil
}

// Load reads a TOML program file and returns an uncompiled program. Linked
// program paths are resolved relative to the file but not loaded; use
// CompileFile to load and compile the whole tree.
func Load(path string) (*Program, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve program path %q: %w", path, err)
	}

	var cfg fileConfig
	md, err := toml.DecodeFile(abs, &cfg)
	if err != nil {
		return nil, fmt.Errorf("parse program %s: %w", abs, err)
	}
	if err := checkUndecoded(md, abs); err != nil {
		return nil, err
	}

	return fromConfig(&cfg, abs)
}

func fromConfig(cfg *fileConfig, sourcePath string) (*Program, error) {
	p := New(cfg.Model.Name, cfg.Model.Provider)
	p.sourcePath = sourcePath
	p.DisplayName = cfg.Model.DisplayName
	p.MaxIterations = cfg.Model.MaxIterations
	p.Parameters = cfg.Parameters
	p.EnvInfo = cfg.EnvInfo
	p.EnabledTools = append([]string(nil), cfg.Tools.Enabled...)
	p.AccessLevel = cfg.Tools.AccessLevel
	p.MCPConfigPath = cfg.MCP.ConfigPath
	p.MCPTools = cfg.MCP.selection()
	p.FileDescriptor = cfg.FileDescriptor
	p.DemoPrompts = append([]string(nil), cfg.Demo.Prompts...)
	p.DemoPause = cfg.Demo.PauseBetweenPrompts
	p.UserPrompt = cfg.Prompt.User

	for alias, target := range cfg.Tools.Aliases {
		p.ToolAliases[alias] = target
	}

	prompt, err := resolveSystemPrompt(cfg.Prompt, sourcePath)
	if err != nil {
		return nil, err
	}
	p.SystemPrompt = prompt

	files, err := resolvePreloadFiles(cfg.Preload.Files, cfg.Preload.RelativeTo, sourcePath)
	if err != nil {
		return nil, fmt.Errorf("program %s: %w", sourcePath, err)
	}
	p.PreloadFiles = files

	if p.MCPConfigPath != "" && !filepath.IsAbs(p.MCPConfigPath) && sourcePath != "" {
		p.MCPConfigPath = filepath.Join(filepath.Dir(sourcePath), p.MCPConfigPath)
	}

	return p, nil
}

// resolveSystemPrompt returns the inline prompt or the contents of
// system_prompt_file, which wins over the inline form when both are set.
func resolveSystemPrompt(prompt promptSection, sourcePath string) (string, error) {
	if prompt.SystemPromptFile == "" {
		return prompt.SystemPrompt, nil
	}
	path := prompt.SystemPromptFile
	if !filepath.IsAbs(path) && sourcePath != "" {
		path = filepath.Join(filepath.Dir(sourcePath), path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read system_prompt_file: %w", err)
	}
	return string(data), nil
}

// CompileFile loads a program file, recursively loads its linked programs,
// and compiles the whole tree. Each file is loaded once; a file that links
// back to an ancestor is a cycle error.
func CompileFile(path string) (*Program, error) {
	reg := NewRegistry()
	p, err := reg.load(path)
	if err != nil {
		return nil, err
	}
	if err := p.Compile(); err != nil {
		return nil, err
	}
	return p, nil
}

// Registry caches loaded programs by absolute path so shared linked
// programs compile to a single instance.
type Registry struct {
	mu       sync.Mutex
	programs map[string]*Program
}

// NewRegistry creates an empty program registry.
func NewRegistry() *Registry {
	return &Registry{programs: make(map[string]*Program)}
}

// Get returns the cached program for a path, if loaded.
func (r *Registry) Get(path string) (*Program, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.programs[abs]
	return p, ok
}

// Load loads a program file and its linked program tree into the registry
// without compiling. A file is loaded once; a file that links back to an
// ancestor produces a cyclic graph that Compile rejects.
func (r *Registry) Load(path string) (*Program, error) {
	return r.load(path)
}

func (r *Registry) load(path string) (*Program, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve program path %q: %w", path, err)
	}
	r.mu.Lock()
	p, ok := r.programs[abs]
	r.mu.Unlock()
	if ok {
		return p, nil
	}

	var cfg fileConfig
	md, err := toml.DecodeFile(abs, &cfg)
	if err != nil {
		return nil, fmt.Errorf("parse program %s: %w", abs, err)
	}
	if err := checkUndecoded(md, abs); err != nil {
		return nil, err
	}

	p, err = fromConfig(&cfg, abs)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.programs[abs] = p
	r.mu.Unlock()

	for name, entry := range cfg.LinkedPrograms {
		childPath := entry.Path
		if !filepath.IsAbs(childPath) {
			childPath = filepath.Join(filepath.Dir(abs), childPath)
		}
		child, err := r.load(childPath)
		if err != nil {
			return nil, fmt.Errorf("linked program %q: %w", name, err)
		}
		p.LinkedPrograms[name] = child
		if entry.Description != "" {
			p.LinkedProgramDescriptions[name] = entry.Description
		}
	}
	return p, nil
}
