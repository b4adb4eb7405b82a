// Package models defines the provider-neutral conversation data model shared
// by the program compiler, the process runtime, and the provider adapters.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// BlockType discriminates the content block variants.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockThinking   BlockType = "thinking"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one element of a message body. Exactly one variant is
// populated, selected by Type.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// Text is set for text and thinking blocks.
	Text string `json:"text,omitempty"`

	// Tool use fields.
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// Tool result fields.
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolUseBlock builds a tool invocation block.
func ToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock builds a tool result block paired to a tool_use ID.
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// Message is one entry in a process's conversation log. IDs follow the
// "msg_N" scheme where N is the zero-based append index; the process assigns
// them when a message enters the log.
type Message struct {
	ID     string         `json:"id,omitempty"`
	Role   Role           `json:"role"`
	Blocks []ContentBlock `json:"blocks"`
}

// UserText builds a user message holding a single text block.
func UserText(text string) Message {
	return Message{Role: RoleUser, Blocks: []ContentBlock{TextBlock(text)}}
}

// AssistantText builds an assistant message holding a single text block.
func AssistantText(text string) Message {
	return Message{Role: RoleAssistant, Blocks: []ContentBlock{TextBlock(text)}}
}

// Text returns the concatenated text blocks of the message. Thinking, tool
// use, and tool result blocks are skipped.
func (m Message) Text() string {
	var b strings.Builder
	for _, blk := range m.Blocks {
		if blk.Type == BlockText {
			b.WriteString(blk.Text)
		}
	}
	return b.String()
}

// ToolCalls extracts the tool_use blocks of the message in order.
func (m Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, blk := range m.Blocks {
		if blk.Type == BlockToolUse {
			calls = append(calls, ToolCall{ID: blk.ID, Name: blk.Name, Input: blk.Input})
		}
	}
	return calls
}

// MessageID formats the canonical ID for the message at the given log index.
func MessageID(index int) string {
	return fmt.Sprintf("msg_%d", index)
}

// ParseMessageID extracts the log index from a "msg_N" identifier.
func ParseMessageID(id string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(id, "msg_%d", &n); err != nil || n < 0 || id != MessageID(n) {
		return 0, fmt.Errorf("invalid message identifier %q: expected msg_<index>", id)
	}
	return n, nil
}

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the uniform outcome of executing a tool. Content carries the
// payload or a human-readable error description; IsError distinguishes the
// two. Abort asks the executor to stop the iteration loop after recording
// the result.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
	Abort   bool   `json:"abort,omitempty"`
}

// NewToolResult builds a successful tool result.
func NewToolResult(content string) *ToolResult {
	return &ToolResult{Content: content}
}

// ErrorResult builds an error tool result with the given description.
func ErrorResult(msg string) *ToolResult {
	return &ToolResult{Content: msg, IsError: true}
}

// ErrorResultf builds an error tool result from a format string.
func ErrorResultf(format string, args ...any) *ToolResult {
	return &ToolResult{Content: fmt.Sprintf(format, args...), IsError: true}
}
