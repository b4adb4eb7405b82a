package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cccntu/llmproc/internal/tools"
	"github.com/cccntu/llmproc/pkg/models"
)

// NamespaceSeparator joins server and tool names in the exposed name, so
// search__query reaches the query tool of the search server.
const NamespaceSeparator = "__"

// ToolSelection maps a server name to the tools a program wants from it.
// The single entry "all" selects every tool the server advertises.
type ToolSelection map[string][]string

// RegisterTools registers the selected tools of every connected server into
// the registry under namespaced names. Selecting a tool the server does not
// advertise is an error.
func RegisterTools(manager *Manager, selection ToolSelection, registry *tools.Registry, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mcp")

	for server, wanted := range selection {
		client, ok := manager.Client(server)
		if !ok {
			return fmt.Errorf("mcp server %q is not connected", server)
		}

		available := client.Tools()
		byName := make(map[string]*Tool, len(available))
		for _, tool := range available {
			byName[tool.Name] = tool
		}

		all := len(wanted) == 1 && wanted[0] == "all"
		var selected []*Tool
		if all {
			selected = available
		} else {
			for _, name := range wanted {
				tool, ok := byName[name]
				if !ok {
					return fmt.Errorf("mcp server %q does not provide tool %q (available: %s)",
						server, name, strings.Join(toolNames(available), ", "))
				}
				selected = append(selected, tool)
			}
		}

		for _, tool := range selected {
			def := bridgeDefinition(client, server, tool)
			if err := registry.Register(def); err != nil {
				return fmt.Errorf("register mcp tool: %w", err)
			}
			logger.Debug("registered mcp tool", "server", server, "tool", tool.Name, "as", def.Name)
		}
	}
	return nil
}

// bridgeDefinition wraps one remote tool as a registry definition. Remote
// failures become error results so the model can see and react to them.
func bridgeDefinition(client *Client, server string, tool *Tool) *tools.Definition {
	namespaced := server + NamespaceSeparator + tool.Name
	description := tool.Description
	if description == "" {
		description = fmt.Sprintf("Tool %s provided by MCP server %s.", tool.Name, server)
	}
	return &tools.Definition{
		Name:        namespaced,
		Description: description,
		InputSchema: tool.InputSchema,
		Access:      tools.AccessWrite,
		Handler: func(ctx context.Context, input json.RawMessage, _ *tools.RuntimeContext) *models.ToolResult {
			result, err := client.CallTool(ctx, tool.Name, input)
			if err != nil {
				return models.ErrorResultf("Error: MCP tool '%s' failed: %v", namespaced, err)
			}
			text := result.Text()
			if result.IsError {
				if text == "" {
					text = fmt.Sprintf("Error: MCP tool '%s' reported an error", namespaced)
				}
				return models.ErrorResult(text)
			}
			return models.NewToolResult(text)
		},
	}
}

func toolNames(ts []*Tool) []string {
	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = t.Name
	}
	return names
}
