package process

import (
	"time"

	"github.com/cccntu/llmproc/pkg/models"
)

// StopMaxIterations is the stop reason recorded when the executor gives up
// after max_iterations turns.
const StopMaxIterations = models.StopReason("max_iterations")

// maxIterationsMessage is the fallback RunTillTextResponse returns when
// every nudge ran out of iterations without assistant text. It is never
// appended to the conversation.
const maxIterationsMessage = "Maximum iterations reached without final response."

// APICall records one provider round trip within a run.
type APICall struct {
	Model      string            `json:"model"`
	StopReason models.StopReason `json:"stop_reason"`
	Usage      models.Usage      `json:"usage"`
	Duration   time.Duration     `json:"duration"`
}

// RunResult summarizes one Run: every provider call made, the tool call
// count, aggregate token usage, and the final stop reason.
type RunResult struct {
	ID          string            `json:"id"`
	APICalls    []APICall         `json:"api_calls"`
	ToolCalls   int               `json:"tool_calls"`
	Usage       models.Usage      `json:"usage"`
	StopReason  models.StopReason `json:"stop_reason"`
	LastMessage string            `json:"last_message"`
	Duration    time.Duration     `json:"duration"`
}

func (r *RunResult) record(model string, resp *models.ProviderResponse, elapsed time.Duration) {
	r.APICalls = append(r.APICalls, APICall{
		Model:      model,
		StopReason: resp.StopReason,
		Usage:      resp.Usage,
		Duration:   elapsed,
	})
	r.Usage.Add(resp.Usage)
}
