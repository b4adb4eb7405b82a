package providers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/cccntu/llmproc/pkg/models"
)

// OpenAI is the chat completions adapter. Tool execution is not wired for
// this provider; programs that enable tools must run on a tool-capable one,
// and the compiler enforces that.
type OpenAI struct {
	client     *openai.Client
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

func newOpenAI(apiKey string, opts Options) *OpenAI {
	return &OpenAI{
		client:     openai.NewClient(apiKey),
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		logger:     slog.Default().With("provider", "openai"),
	}
}

// Name returns the provider identifier.
func (p *OpenAI) Name() string { return "openai" }

// SupportsTools reports tool calling support.
func (p *OpenAI) SupportsTools() bool { return false }

// Complete issues a chat completion request with retry on transient
// failures.
func (p *OpenAI) Complete(ctx context.Context, req *Request) (*models.ProviderResponse, error) {
	if req.Model == "" {
		return nil, fmt.Errorf("openai: model is required")
	}
	if len(req.Tools) > 0 {
		return nil, fmt.Errorf("openai: tool execution is not supported by this provider")
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: encodeOpenAIMessages(req.System, req.Messages),
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
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

		resp, err := p.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			lastErr = classify("openai", err)
			if !isRetryable(lastErr) {
				return nil, lastErr
			}
			continue
		}
		return translateOpenAIResponse(&resp)
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", p.maxRetries+1, lastErr)
}

func encodeOpenAIMessages(system string, msgs []models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, m := range msgs {
		text := m.Text()
		if text == "" {
			continue
		}
		role := openai.ChatMessageRoleUser
		if m.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: text})
	}
	return out
}

func translateOpenAIResponse(resp *openai.ChatCompletionResponse) (*models.ProviderResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: response contained no choices")
	}
	choice := resp.Choices[0]

	out := &models.ProviderResponse{
		ID:    resp.ID,
		Model: resp.Model,
		Usage: models.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	if choice.Message.Content != "" {
		out.Blocks = append(out.Blocks, models.TextBlock(choice.Message.Content))
	}
	switch choice.FinishReason {
	case openai.FinishReasonStop:
		out.StopReason = models.StopEndTurn
	case openai.FinishReasonLength:
		out.StopReason = models.StopMaxTokens
	case openai.FinishReasonToolCalls:
		out.StopReason = models.StopToolUse
	default:
		out.StopReason = models.StopUnknown
	}
	return out, nil
}
