package program

import (
	"fmt"

	"github.com/cccntu/llmproc/internal/mcp"
)

// fileConfig mirrors the TOML program format section by section.
type fileConfig struct {
	Model          modelSection      `toml:"model"`
	Prompt         promptSection     `toml:"prompt"`
	Parameters     Parameters        `toml:"parameters"`
	Preload        preloadSection    `toml:"preload"`
	EnvInfo        EnvInfoConfig     `toml:"env_info"`
	Tools          toolsSection      `toml:"tools"`
	MCP            mcpSection        `toml:"mcp"`
	LinkedPrograms map[string]linkedProgramEntry `toml:"linked_programs"`
	FileDescriptor FDConfig          `toml:"file_descriptor"`
	Demo           demoSection       `toml:"demo"`
}

type modelSection struct {
	Name                    string `toml:"name"`
	Provider                string `toml:"provider"`
	DisplayName             string `toml:"display_name"`
	MaxIterations           int    `toml:"max_iterations"`
	DisableAutomaticCaching bool   `toml:"disable_automatic_caching"`
}

type promptSection struct {
	SystemPrompt     string `toml:"system_prompt"`
	SystemPromptFile string `toml:"system_prompt_file"`
	User             string `toml:"user"`
}

// Parameters are the sampling parameters forwarded to the provider.
type Parameters struct {
	MaxTokens      int               `toml:"max_tokens"`
	Temperature    *float64          `toml:"temperature"`
	ThinkingBudget int               `toml:"thinking_budget"`
	ExtraHeaders   map[string]string `toml:"extra_headers"`
}

type preloadSection struct {
	Files      []string `toml:"files"`
	RelativeTo string   `toml:"relative_to"` // program (default) or cwd
}

// EnvInfoConfig selects the variables of the <env> block added to the
// system prompt. Variables may be the single string "all".
type EnvInfoConfig struct {
	Variables StringList        `toml:"variables"`
	Custom    map[string]string `toml:"custom"`
}

type toolsSection struct {
	Enabled     []string          `toml:"enabled"`
	Aliases     map[string]string `toml:"aliases"`
	AccessLevel string            `toml:"access_level"`
}

type mcpSection struct {
	ConfigPath string                `toml:"config_path"`
	Tools      map[string]StringList `toml:"tools"`
}

type demoSection struct {
	Prompts             []string `toml:"prompts"`
	PauseBetweenPrompts bool     `toml:"pause_between_prompts"`
}

// FDConfig configures the file descriptor subsystem.
type FDConfig struct {
	Enabled             bool `toml:"enabled"`
	MaxDirectOutputChars int `toml:"max_direct_output_chars"`
	DefaultPageSize     int  `toml:"default_page_size"`
	MaxInputChars       int  `toml:"max_input_chars"`
	PagePerTurn         int  `toml:"page_per_turn"`
	PageUserInput       bool `toml:"page_user_input"`
	EnableReferences    bool `toml:"enable_references"`
}

// StringList decodes either a TOML string or an array of strings, so
// variables = "all" and variables = ["date"] both work.
type StringList []string

// UnmarshalTOML implements toml.Unmarshaler.
func (s *StringList) UnmarshalTOML(v any) error {
	switch value := v.(type) {
	case string:
		*s = StringList{value}
		return nil
	case []any:
		out := make(StringList, 0, len(value))
		for _, item := range value {
			str, ok := item.(string)
			if !ok {
				return fmt.Errorf("expected string list, found %T", item)
			}
			out = append(out, str)
		}
		*s = out
		return nil
	default:
		return fmt.Errorf("expected string or string list, found %T", v)
	}
}

// linkedProgramEntry decodes either a bare path string or a table with
// path and description keys.
type linkedProgramEntry struct {
	Path        string
	Description string
}

// UnmarshalTOML implements toml.Unmarshaler.
func (e *linkedProgramEntry) UnmarshalTOML(v any) error {
	switch value := v.(type) {
	case string:
		e.Path = value
		return nil
	case map[string]any:
		if path, ok := value["path"].(string); ok {
			e.Path = path
		}
		if desc, ok := value["description"].(string); ok {
			e.Description = desc
		}
		if e.Path == "" {
			return fmt.Errorf("linked program table requires a path key")
		}
		for key := range value {
			if key != "path" && key != "description" {
				return fmt.Errorf("unknown linked program key %q", key)
			}
		}
		return nil
	default:
		return fmt.Errorf("expected path string or table, found %T", v)
	}
}

// mcpSelection converts the config section to the connector's selection
// type.
func (s mcpSection) selection() mcp.ToolSelection {
	if len(s.Tools) == 0 {
		return nil
	}
	out := make(mcp.ToolSelection, len(s.Tools))
	for server, names := range s.Tools {
		out[server] = []string(names)
	}
	return out
}
