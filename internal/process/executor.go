package process

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cccntu/llmproc/internal/providers"
	"github.com/cccntu/llmproc/internal/tools/builtin"
	"github.com/cccntu/llmproc/pkg/models"
)

// forkChildGuidance is delivered to each forked child as the result of the
// fork call it inherited, before its own task prompt.
const forkChildGuidance = "pid==0, you are a child instance produced from a fork. " +
	"you are not allowed to use the fork tool. " +
	"please continue the conversation with only the assigned goal"

// executor drives the provider iteration loop for one Run: request,
// response, tool dispatch, repeat, until the model stops or the iteration
// cap is hit.
type executor struct {
	proc   *Process
	logger *slog.Logger
}

func (e *executor) run(ctx context.Context) (*RunResult, error) {
	p := e.proc
	maxIterations := p.prog.MaxIterations
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}

	result := &RunResult{}
	for turn := 1; turn <= maxIterations; turn++ {
		p.callbacks.turnStart(turn)

		req := e.buildRequest()
		callStart := time.Now()
		resp, err := p.client.Complete(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("provider call failed on turn %d: %w", turn, err)
		}
		result.record(req.Model, resp, time.Since(callStart))
		p.callbacks.apiResponse(resp)

		// An empty response is never appended: an empty assistant message
		// would poison the next request.
		if len(resp.Blocks) == 0 {
			p.callbacks.turnEnd(turn)
			result.StopReason = resp.StopReason
			return result, nil
		}

		p.appendMessage(models.Message{Role: models.RoleAssistant, Blocks: resp.Blocks})
		if text := resp.Text(); text != "" {
			p.callbacks.response(text)
		}

		calls := resp.ToolCalls()
		if len(calls) == 0 {
			p.callbacks.turnEnd(turn)
			result.StopReason = resp.StopReason
			return result, nil
		}

		rewinds := p.rewindCount()
		resultBlocks, abort := e.dispatch(ctx, calls, result)
		p.callbacks.turnEnd(turn)

		// A rewinding tool (goto) truncated the log under us: the tool_use
		// message is gone, so its results have nowhere to attach. Continue
		// from the rewound state.
		if p.rewindCount() != rewinds {
			continue
		}

		p.appendMessage(models.Message{Role: models.RoleUser, Blocks: resultBlocks})
		if abort {
			result.StopReason = models.StopToolUse
			return result, nil
		}
	}

	e.logger.Warn("iteration cap reached", "max_iterations", maxIterations)
	result.StopReason = StopMaxIterations
	return result, nil
}

func (e *executor) buildRequest() *providers.Request {
	p := e.proc
	req := &providers.Request{
		Model:          p.prog.ModelName,
		System:         p.EnrichedSystemPrompt(),
		Messages:       p.Messages(),
		MaxTokens:      p.prog.Parameters.MaxTokens,
		Temperature:    p.prog.Parameters.Temperature,
		ThinkingBudget: p.prog.Parameters.ThinkingBudget,
		ExtraHeaders:   p.prog.Parameters.ExtraHeaders,
	}
	if p.client.SupportsTools() {
		req.Tools = p.registry.Definitions(p.ceiling)
	}
	return req
}

// dispatch executes the turn's tool calls in order and returns their
// tool_result blocks plus whether any result asked to abort the loop.
func (e *executor) dispatch(ctx context.Context, calls []models.ToolCall, result *RunResult) ([]models.ContentBlock, bool) {
	p := e.proc
	blocks := make([]models.ContentBlock, 0, len(calls))
	abort := false
	for _, call := range calls {
		p.callbacks.toolStart(call.Name, call.Input)
		result.ToolCalls++

		var res *models.ToolResult
		if p.registry.Resolve(call.Name) == builtin.ForkToolName {
			res = e.runFork(ctx, call)
		} else {
			res = p.registry.Call(ctx, call.Name, call.Input, p.runtimeContext())
		}
		if p.prog.FileDescriptor.Enabled {
			res = p.fds.WrapToolOutput(p.registry.Resolve(call.Name), res)
		}

		p.callbacks.toolEnd(call.Name, res)
		blocks = append(blocks, models.ToolResultBlock(call.ID, res.Content, res.IsError))
		if res.Abort {
			abort = true
		}
	}
	return blocks, abort
}

// runFork executes the fork tool: one deep-copied child per prompt, run in
// parallel to a text response, results aggregated as JSON.
func (e *executor) runFork(ctx context.Context, call models.ToolCall) *models.ToolResult {
	p := e.proc
	prompts, err := builtin.ParseForkPrompts(call.Input)
	if err != nil {
		return models.ErrorResultf("Error: %v", err)
	}
	if p.forked {
		return models.ErrorResult("Error: forked processes cannot fork again.")
	}

	type forkReply struct {
		ID      int    `json:"id"`
		Message string `json:"message"`
	}
	replies := make([]forkReply, len(prompts))

	g, gctx := errgroup.WithContext(ctx)
	for i, prompt := range prompts {
		child, err := p.Fork(ctx)
		if err != nil {
			return models.ErrorResultf("Error: fork failed: %v", err)
		}
		// Sibling tool calls in the forking response have no results yet;
		// strip them so the child sees only its own fork call, then answer
		// that call so the log stays well-formed.
		child.stripSiblingToolUses(call.ID)
		child.appendMessage(models.Message{
			Role:   models.RoleUser,
			Blocks: []models.ContentBlock{models.ToolResultBlock(call.ID, forkChildGuidance, false)},
		})

		g.Go(func() error {
			text, err := child.RunTillTextResponse(gctx, prompt)
			if err != nil {
				return fmt.Errorf("fork child %d: %w", i, err)
			}
			replies[i] = forkReply{ID: i, Message: text}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.ErrorResultf("Error: %v", err)
	}

	payload, err := json.Marshal(replies)
	if err != nil {
		return models.ErrorResultf("Error: failed to encode fork results: %v", err)
	}
	return models.NewToolResult(string(payload))
}
