package models

// StopReason explains why a provider turn ended, normalized across
// providers.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
	StopSequence  StopReason = "stop_sequence"
	StopUnknown   StopReason = "unknown"
)

// Usage holds token accounting for one provider call.
type Usage struct {
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	CacheReadTokens  int `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int `json:"cache_write_tokens,omitempty"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Add accumulates another usage record into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheReadTokens += other.CacheReadTokens
	u.CacheWriteTokens += other.CacheWriteTokens
}

// ProviderResponse is one complete provider turn: content blocks (text,
// thinking, tool_use), the normalized stop reason, and token usage.
type ProviderResponse struct {
	ID         string         `json:"id,omitempty"`
	Model      string         `json:"model,omitempty"`
	Blocks     []ContentBlock `json:"blocks"`
	StopReason StopReason     `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// Text returns the concatenated text blocks of the response.
func (r *ProviderResponse) Text() string {
	return Message{Blocks: r.Blocks}.Text()
}

// ToolCalls extracts the tool_use blocks of the response in order.
func (r *ProviderResponse) ToolCalls() []ToolCall {
	return Message{Blocks: r.Blocks}.ToolCalls()
}

// HasToolCalls reports whether the response requested any tool execution.
func (r *ProviderResponse) HasToolCalls() bool {
	for _, blk := range r.Blocks {
		if blk.Type == BlockToolUse {
			return true
		}
	}
	return false
}
