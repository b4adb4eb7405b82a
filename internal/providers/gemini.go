package providers

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"google.golang.org/genai"

	"github.com/cccntu/llmproc/pkg/models"
)

// Gemini is the Google Gen AI adapter. Like the OpenAI adapter it is
// text-only; the compiler routes tool-enabled programs elsewhere.
type Gemini struct {
	client     *genai.Client
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

func newGemini(apiKey string, opts Options) (*Gemini, error) {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create client: %w", err)
	}
	return &Gemini{
		client:     client,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		logger:     slog.Default().With("provider", "gemini"),
	}, nil
}

// Name returns the provider identifier.
func (p *Gemini) Name() string { return "gemini" }

// SupportsTools reports tool calling support.
func (p *Gemini) SupportsTools() bool { return false }

// Complete issues a GenerateContent request with retry on transient
// failures.
func (p *Gemini) Complete(ctx context.Context, req *Request) (*models.ProviderResponse, error) {
	if req.Model == "" {
		return nil, fmt.Errorf("gemini: model is required")
	}
	if len(req.Tools) > 0 {
		return nil, fmt.Errorf("gemini: tool execution is not supported by this provider")
	}

	contents := encodeGeminiContents(req.Messages)
	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.MaxTokens > 0 {
		maxTokens := min(req.MaxTokens, math.MaxInt32)
		config.MaxOutputTokens = int32(maxTokens)
	}
	if req.Temperature != nil {
		temp := float32(*req.Temperature)
		config.Temperature = &temp
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

		resp, err := p.client.Models.GenerateContent(ctx, req.Model, contents, config)
		if err != nil {
			lastErr = classify("gemini", err)
			if !isRetryable(lastErr) {
				return nil, lastErr
			}
			continue
		}
		return translateGeminiResponse(resp)
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", p.maxRetries+1, lastErr)
}

func encodeGeminiContents(msgs []models.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		text := m.Text()
		if text == "" {
			continue
		}
		role := genai.RoleUser
		if m.Role == models.RoleAssistant {
			role = genai.RoleModel
		}
		out = append(out, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: text}},
		})
	}
	return out
}

func translateGeminiResponse(resp *genai.GenerateContentResponse) (*models.ProviderResponse, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("gemini: response contained no candidates")
	}
	candidate := resp.Candidates[0]

	out := &models.ProviderResponse{}
	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			out.Blocks = append(out.Blocks, models.TextBlock(part.Text))
		}
	}
	switch candidate.FinishReason {
	case genai.FinishReasonStop:
		out.StopReason = models.StopEndTurn
	case genai.FinishReasonMaxTokens:
		out.StopReason = models.StopMaxTokens
	default:
		out.StopReason = models.StopUnknown
	}
	if resp.UsageMetadata != nil {
		out.Usage = models.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out, nil
}
