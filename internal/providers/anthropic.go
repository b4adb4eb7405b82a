package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/vertex"

	"github.com/cccntu/llmproc/internal/tools"
	"github.com/cccntu/llmproc/pkg/models"
)

const defaultAnthropicMaxTokens = 4096

// Anthropic is the Claude Messages API adapter. It is also used for Vertex
// AI hosted Claude via the SDK's vertex option.
type Anthropic struct {
	client     sdk.Client
	name       string
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

func newAnthropic(apiKey string, opts Options) *Anthropic {
	return &Anthropic{
		client:     sdk.NewClient(option.WithAPIKey(apiKey)),
		name:       "anthropic",
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		logger:     slog.Default().With("provider", "anthropic"),
	}
}

func newAnthropicVertex(opts Options) (*Anthropic, error) {
	client := sdk.NewClient(vertex.WithGoogleAuth(context.Background(), opts.VertexRegion, opts.VertexProject))
	return &Anthropic{
		client:     client,
		name:       "anthropic_vertex",
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		logger:     slog.Default().With("provider", "anthropic_vertex"),
	}, nil
}

// Name returns the provider identifier.
func (p *Anthropic) Name() string { return p.name }

// SupportsTools reports tool calling support.
func (p *Anthropic) SupportsTools() bool { return true }

// Complete issues a Messages.New request with retry on transient failures.
func (p *Anthropic) Complete(ctx context.Context, req *Request) (*models.ProviderResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			delay := p.retryDelay * time.Duration(1<<uint(attempt-1))
			p.logger.Warn("retrying request", "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		msg, err := p.client.Messages.New(ctx, *params, requestOptions(req)...)
		if err != nil {
			lastErr = classify(p.name, err)
			if !isRetryable(lastErr) {
				return nil, lastErr
			}
			continue
		}
		return translateAnthropicResponse(msg), nil
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", p.maxRetries+1, lastErr)
}

func (p *Anthropic) buildParams(req *Request) (*sdk.MessageNewParams, error) {
	if req.Model == "" {
		return nil, fmt.Errorf("%s: model is required", p.name)
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	msgs, err := encodeAnthropicMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}
	if len(req.Tools) > 0 {
		toolParams, err := encodeAnthropicTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = toolParams
	}
	if req.ThinkingBudget > 0 {
		if req.ThinkingBudget >= maxTokens {
			return nil, fmt.Errorf("%s: thinking budget %d must be less than max_tokens %d", p.name, req.ThinkingBudget, maxTokens)
		}
		params.Thinking = sdk.ThinkingConfigParamOfEnabled(int64(req.ThinkingBudget))
	}
	return &params, nil
}

// requestOptions applies per-program extra headers to a single request.
func requestOptions(req *Request) []option.RequestOption {
	if len(req.ExtraHeaders) == 0 {
		return nil
	}
	opts := make([]option.RequestOption, 0, len(req.ExtraHeaders))
	for k, v := range req.ExtraHeaders {
		opts = append(opts, option.WithHeader(k, v))
	}
	return opts
}

func encodeAnthropicMessages(msgs []models.Message) ([]sdk.MessageParam, error) {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Blocks))
		for _, blk := range m.Blocks {
			switch blk.Type {
			case models.BlockText:
				if blk.Text != "" {
					blocks = append(blocks, sdk.NewTextBlock(blk.Text))
				}
			case models.BlockToolUse:
				blocks = append(blocks, sdk.NewToolUseBlock(blk.ID, blk.Input, blk.Name))
			case models.BlockToolResult:
				blocks = append(blocks, sdk.NewToolResultBlock(blk.ToolUseID, blk.Content, blk.IsError))
			case models.BlockThinking:
				// Thinking blocks are not re-encoded on the way back in.
			}
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case models.RoleUser:
			out = append(out, sdk.NewUserMessage(blocks...))
		case models.RoleAssistant:
			out = append(out, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("anthropic: at least one message is required")
	}
	return out, nil
}

func encodeAnthropicTools(defs []*tools.Definition) ([]sdk.ToolUnionParam, error) {
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		var schema map[string]any
		if len(def.InputSchema) > 0 {
			if err := json.Unmarshal(def.InputSchema, &schema); err != nil {
				return nil, fmt.Errorf("anthropic: tool %q schema: %w", def.Name, err)
			}
		}
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: schema}, def.Name)
		if u.OfTool != nil && def.Description != "" {
			u.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, u)
	}
	return out, nil
}

func translateAnthropicResponse(msg *sdk.Message) *models.ProviderResponse {
	resp := &models.ProviderResponse{
		ID:    msg.ID,
		Model: string(msg.Model),
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				resp.Blocks = append(resp.Blocks, models.TextBlock(block.Text))
			}
		case "thinking":
			resp.Blocks = append(resp.Blocks, models.ContentBlock{Type: models.BlockThinking, Text: block.Thinking})
		case "tool_use":
			resp.Blocks = append(resp.Blocks, models.ToolUseBlock(block.ID, block.Name, json.RawMessage(block.Input)))
		}
	}
	switch msg.StopReason {
	case "end_turn":
		resp.StopReason = models.StopEndTurn
	case "tool_use":
		resp.StopReason = models.StopToolUse
	case "max_tokens":
		resp.StopReason = models.StopMaxTokens
	case "stop_sequence":
		resp.StopReason = models.StopSequence
	default:
		resp.StopReason = models.StopUnknown
	}
	resp.Usage = models.Usage{
		InputTokens:      int(msg.Usage.InputTokens),
		OutputTokens:     int(msg.Usage.OutputTokens),
		CacheReadTokens:  int(msg.Usage.CacheReadInputTokens),
		CacheWriteTokens: int(msg.Usage.CacheCreationInputTokens),
	}
	return resp
}
