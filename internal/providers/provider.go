// Package providers contains the LLM provider clients. Each adapter maps
// the neutral conversation model onto one vendor SDK and normalizes the
// response (content blocks, stop reason, usage) back out.
package providers

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cccntu/llmproc/internal/tools"
	"github.com/cccntu/llmproc/pkg/models"
)

// Request is one provider turn: the full conversation so far plus the
// advertised tools and sampling parameters.
type Request struct {
	Model       string
	System      string
	Messages    []models.Message
	Tools       []*tools.Definition
	MaxTokens   int
	Temperature *float64

	// ThinkingBudget enables extended thinking with the given token
	// budget on providers that support it.
	ThinkingBudget int

	// ExtraHeaders are merged into the outgoing HTTP request. Existing
	// headers keep their values.
	ExtraHeaders map[string]string
}

// Client is a provider adapter.
type Client interface {
	// Complete issues one non-streaming request and returns the
	// normalized response.
	Complete(ctx context.Context, req *Request) (*models.ProviderResponse, error)

	// Name returns the stable provider identifier.
	Name() string

	// SupportsTools reports whether the provider can execute tool calls.
	SupportsTools() bool
}

// Options configures provider construction.
type Options struct {
	// APIKey overrides the environment variable lookup.
	APIKey string

	// Vertex AI options for anthropic_vertex.
	VertexProject string
	VertexRegion  string

	MaxRetries int
	RetryDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	return o
}

// New constructs the named provider. Supported names: anthropic,
// anthropic_vertex, openai, gemini.
func New(name string, opts Options) (Client, error) {
	opts = opts.withDefaults()
	switch name {
	case "anthropic":
		key := opts.APIKey
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("anthropic: ANTHROPIC_API_KEY is not set")
		}
		return newAnthropic(key, opts), nil
	case "anthropic_vertex":
		if opts.VertexProject == "" {
			opts.VertexProject = os.Getenv("ANTHROPIC_VERTEX_PROJECT_ID")
		}
		if opts.VertexRegion == "" {
			opts.VertexRegion = os.Getenv("CLOUD_ML_REGION")
		}
		if opts.VertexProject == "" || opts.VertexRegion == "" {
			return nil, fmt.Errorf("anthropic_vertex: project and region are required (ANTHROPIC_VERTEX_PROJECT_ID, CLOUD_ML_REGION)")
		}
		return newAnthropicVertex(opts)
	case "openai":
		key := opts.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("openai: OPENAI_API_KEY is not set")
		}
		return newOpenAI(key, opts), nil
	case "gemini":
		key := opts.APIKey
		if key == "" {
			key = os.Getenv("GEMINI_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("gemini: GEMINI_API_KEY is not set")
		}
		return newGemini(key, opts)
	default:
		return nil, fmt.Errorf("unknown provider %q: expected anthropic, anthropic_vertex, openai, or gemini", name)
	}
}

// Supported reports whether a provider name is recognized without
// constructing a client.
func Supported(name string) bool {
	switch name {
	case "anthropic", "anthropic_vertex", "openai", "gemini":
		return true
	}
	return false
}
