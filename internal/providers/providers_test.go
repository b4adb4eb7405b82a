package providers

import (
	"errors"
	"testing"
	"time"

	"github.com/cccntu/llmproc/pkg/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		msg       string
		reason    Reason
		retryable bool
	}{
		{"429 too many requests", ReasonRateLimited, true},
		{"model is overloaded", ReasonOverloaded, true},
		{"401 unauthorized", ReasonAuth, false},
		{"invalid request: bad field", ReasonInvalidRequest, false},
		{"503 service unavailable", ReasonServerError, true},
		{"context deadline exceeded", ReasonNetwork, true},
		{"something novel", ReasonUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			pe := classify("test", errors.New(tt.msg))
			if pe.Reason != tt.reason {
				t.Errorf("reason = %s, want %s", pe.Reason, tt.reason)
			}
			if isRetryable(pe) != tt.retryable {
				t.Errorf("retryable = %v, want %v", isRetryable(pe), tt.retryable)
			}
		})
	}
}

func TestNewUnknownProvider(t *testing.T) {
	if _, err := New("aliens", Options{}); err == nil {
		t.Error("expected error for unknown provider")
	}
	if Supported("aliens") {
		t.Error("aliens should not be supported")
	}
	for _, name := range []string{"anthropic", "anthropic_vertex", "openai", "gemini"} {
		if !Supported(name) {
			t.Errorf("%s should be supported", name)
		}
	}
}

func TestAnthropicBuildParams(t *testing.T) {
	p := newAnthropic("test-key", Options{MaxRetries: 1, RetryDelay: time.Millisecond})

	req := &Request{
		Model:    "claude-sonnet-4-20250514",
		System:   "be brief",
		Messages: []models.Message{models.UserText("hi")},
	}
	params, err := p.buildParams(req)
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if params.MaxTokens != defaultAnthropicMaxTokens {
		t.Errorf("expected default max tokens, got %d", params.MaxTokens)
	}
	if len(params.System) != 1 || params.System[0].Text != "be brief" {
		t.Errorf("system prompt not encoded: %+v", params.System)
	}

	// Thinking budget must stay under max_tokens.
	req.MaxTokens = 1000
	req.ThinkingBudget = 2000
	if _, err := p.buildParams(req); err == nil {
		t.Error("expected error when thinking budget exceeds max_tokens")
	}

	req.Model = ""
	if _, err := p.buildParams(req); err == nil {
		t.Error("expected error for missing model")
	}
}

func TestEncodeAnthropicMessagesRejectsEmpty(t *testing.T) {
	if _, err := encodeAnthropicMessages(nil); err == nil {
		t.Error("expected error for empty conversation")
	}
}

func TestEncodeOpenAIMessages(t *testing.T) {
	msgs := encodeOpenAIMessages("sys", []models.Message{
		models.UserText("question"),
		models.AssistantText("answer"),
	})
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Role != "system" || msgs[1].Role != "user" || msgs[2].Role != "assistant" {
		t.Errorf("unexpected roles: %s %s %s", msgs[0].Role, msgs[1].Role, msgs[2].Role)
	}
}

func TestEncodeGeminiContents(t *testing.T) {
	contents := encodeGeminiContents([]models.Message{
		models.UserText("question"),
		models.AssistantText("answer"),
	})
	if len(contents) != 2 {
		t.Fatalf("expected 2 contents, got %d", len(contents))
	}
	if contents[1].Role != "model" {
		t.Errorf("assistant should map to model role, got %s", contents[1].Role)
	}
}
