// Package mcp implements the external-tool connector: a Model Context
// Protocol client that discovers tools on configured servers and exposes
// them through the tool registry under namespaced names.
package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// TransportType selects the wire transport for a server.
type TransportType string

const (
	TransportStdio TransportType = "stdio"
	TransportHTTP  TransportType = "http"
)

// ServerConfig describes one MCP server. Stdio servers are spawned as
// subprocesses; HTTP servers are reached at a URL.
type ServerConfig struct {
	Name      string        `json:"-"`
	Transport TransportType `json:"type,omitempty"`

	// Stdio transport.
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	WorkDir string            `json:"cwd,omitempty"`

	// HTTP transport.
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	Timeout time.Duration `json:"-"`
}

// Validate checks that the config names a usable transport.
func (c *ServerConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("server name is required")
	}
	switch c.effectiveTransport() {
	case TransportStdio:
		if c.Command == "" {
			return fmt.Errorf("server %q: command is required for stdio transport", c.Name)
		}
	case TransportHTTP:
		if !strings.HasPrefix(c.URL, "http://") && !strings.HasPrefix(c.URL, "https://") {
			return fmt.Errorf("server %q: url must start with http:// or https://", c.Name)
		}
	default:
		return fmt.Errorf("server %q: unknown transport %q", c.Name, c.Transport)
	}
	return nil
}

func (c *ServerConfig) effectiveTransport() TransportType {
	if c.Transport != "" {
		return c.Transport
	}
	if c.URL != "" {
		return TransportHTTP
	}
	return TransportStdio
}

// serversFile is the standard MCP configuration file shape.
type serversFile struct {
	MCPServers map[string]*ServerConfig `json:"mcpServers"`
}

// LoadServersFile reads an MCP server configuration file (the usual
// {"mcpServers": {...}} JSON shape) and returns the named configs.
func LoadServersFile(path string) (map[string]*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mcp config %s: %w", path, err)
	}
	var file serversFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse mcp config %s: %w", path, err)
	}
	for name, cfg := range file.MCPServers {
		cfg.Name = name
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("mcp config %s: %w", path, err)
		}
	}
	return file.MCPServers, nil
}

// Tool is a tool advertised by an MCP server.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ToolCallResult is the result of tools/call.
type ToolCallResult struct {
	Content []ToolResultContent `json:"content"`
	IsError bool                `json:"isError,omitempty"`
}

// ToolResultContent is one piece of tool result content.
type ToolResultContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Text flattens the textual content of a result.
func (r *ToolCallResult) Text() string {
	var parts []string
	for _, c := range r.Content {
		if c.Type == "text" && c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// JSON-RPC 2.0 message types.

type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonRPCError   `json:"error,omitempty"`
}

type jsonRPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ServerInfo identifies a connected server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeResult struct {
	ProtocolVersion string     `json:"protocolVersion"`
	ServerInfo      ServerInfo `json:"serverInfo"`
}

type listToolsResult struct {
	Tools []*Tool `json:"tools"`
}

type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}
