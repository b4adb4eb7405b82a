package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cccntu/llmproc/internal/tools"
	"github.com/cccntu/llmproc/pkg/models"
)

// ForkToolName is the tool the executor intercepts before dispatch; the
// registered handler only exists so the schema is advertised.
const ForkToolName = "fork"

type forkArgs struct {
	Prompts []string `json:"prompts" jsonschema:"description=One goal per child process; children run in parallel"`
}

// ParseForkPrompts extracts the prompts argument from a fork tool call.
func ParseForkPrompts(input json.RawMessage) ([]string, error) {
	var args forkArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, err
	}
	if len(args.Prompts) == 0 {
		return nil, fmt.Errorf("fork requires at least one prompt")
	}
	return args.Prompts, nil
}

// Fork advertises the fork schema. Forking duplicates the whole process
// (messages and descriptors included), so the executor must run it against
// the live process; a direct registry dispatch cannot.
func Fork() *tools.Definition {
	return tools.FuncDef(ForkToolName,
		"Create copies of this process to handle multiple tasks in parallel. Each prompt becomes one child working with a full copy of the current conversation state. Returns all child responses together.",
		tools.AccessRead,
		func(_ context.Context, _ forkArgs, _ *tools.RuntimeContext) *models.ToolResult {
			return models.ErrorResult("Error: fork can only be executed by the process executor, not dispatched directly")
		})
}
