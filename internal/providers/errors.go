package providers

import (
	"errors"
	"fmt"
	"strings"
)

// Reason classifies a provider failure.
type Reason string

const (
	ReasonRateLimited    Reason = "rate_limited"
	ReasonOverloaded     Reason = "overloaded"
	ReasonAuth           Reason = "auth"
	ReasonInvalidRequest Reason = "invalid_request"
	ReasonServerError    Reason = "server_error"
	ReasonNetwork        Reason = "network"
	ReasonUnknown        Reason = "unknown"
)

// IsRetryable reports whether failures with this reason are worth retrying.
func (r Reason) IsRetryable() bool {
	switch r {
	case ReasonRateLimited, ReasonOverloaded, ReasonServerError, ReasonNetwork:
		return true
	}
	return false
}

// ProviderError wraps a provider failure with its classification.
type ProviderError struct {
	Provider string
	Reason   Reason
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Reason, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// AsProviderError extracts a ProviderError from an error chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// classify wraps an SDK error with a reason derived from its message. The
// SDKs do not expose a shared taxonomy, so this falls back to substring
// matching on the rendered error.
func classify(provider string, err error) *ProviderError {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	reason := ReasonUnknown
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") ||
		strings.Contains(msg, "too many requests") || strings.Contains(msg, "quota") ||
		strings.Contains(msg, "resource exhausted"):
		reason = ReasonRateLimited
	case strings.Contains(msg, "overloaded") || strings.Contains(msg, "529"):
		reason = ReasonOverloaded
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key") ||
		strings.Contains(msg, "authentication"):
		reason = ReasonAuth
	case strings.Contains(msg, "400") || strings.Contains(msg, "invalid request") ||
		strings.Contains(msg, "invalid_request"):
		reason = ReasonInvalidRequest
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "504") ||
		strings.Contains(msg, "internal server error") || strings.Contains(msg, "bad gateway") ||
		strings.Contains(msg, "service unavailable"):
		reason = ReasonServerError
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "connection reset") || strings.Contains(msg, "connection refused"):
		reason = ReasonNetwork
	}
	return &ProviderError{Provider: provider, Reason: reason, Err: err}
}

// isRetryable reports whether an error should trigger another attempt.
func isRetryable(err error) bool {
	if pe, ok := AsProviderError(err); ok {
		return pe.Reason.IsRetryable()
	}
	return false
}
