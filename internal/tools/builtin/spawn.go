package builtin

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/cccntu/llmproc/internal/tools"
	"github.com/cccntu/llmproc/pkg/models"
)

type spawnArgs struct {
	ProgramName            string   `json:"program_name" jsonschema:"description=Name of the linked program to run"`
	Prompt                 string   `json:"prompt" jsonschema:"description=The prompt to send to the linked program"`
	AdditionalPreloadFiles []string `json:"additional_preload_files,omitempty" jsonschema:"description=Extra file paths to preload into the child before running"`
	AdditionalPreloadFDs   []string `json:"additional_preload_fds,omitempty" jsonschema:"description=File descriptor identifiers whose content is copied into the child before running"`
}

// Spawn delegates a prompt to a linked program. The child process is
// created on first use and kept alive, so repeated spawns of the same
// program continue one conversation.
func Spawn(descriptions map[string]string) *tools.Definition {
	var doc strings.Builder
	doc.WriteString("Send a prompt to a linked program and return its response. Available programs:\n")
	names := make([]string, 0, len(descriptions))
	for name := range descriptions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if desc := descriptions[name]; desc != "" {
			fmt.Fprintf(&doc, "- %s: %s\n", name, desc)
		} else {
			fmt.Fprintf(&doc, "- %s\n", name)
		}
	}

	return tools.FuncDef("spawn", doc.String(), tools.AccessRead,
		func(ctx context.Context, args spawnArgs, rc *tools.RuntimeContext) *models.ToolResult {
			if args.ProgramName == "" || args.Prompt == "" {
				return models.ErrorResult("Error: program_name and prompt are required")
			}
			linked, ok := rc.Linked[args.ProgramName]
			if !ok {
				available := make([]string, 0, len(rc.Linked))
				for name := range rc.Linked {
					available = append(available, name)
				}
				sort.Strings(available)
				return models.ErrorResultf("Error: Program '%s' not found.\n\nAvailable programs: %s",
					args.ProgramName, strings.Join(available, ", "))
			}

			child, err := linked.Process(ctx)
			if err != nil {
				return models.ErrorResultf("Error: Cannot start program '%s': %v", args.ProgramName, err)
			}

			if len(args.AdditionalPreloadFiles) > 0 {
				child.PreloadFiles(args.AdditionalPreloadFiles)
			}

			if rc.FDs != nil {
				if childFDs := child.FDs(); childFDs != nil {
					// Explicitly named descriptors must exist.
					for _, id := range args.AdditionalPreloadFDs {
						content, err := rc.FDs.Get(id)
						if err != nil {
							return models.ErrorResultf("Error: Cannot share %s with '%s': %v", id, args.ProgramName, err)
						}
						if err := childFDs.Set(id, content); err != nil {
							return models.ErrorResultf("Error: Cannot share %s with '%s': %v", id, args.ProgramName, err)
						}
					}
					// Reference descriptors are shared automatically.
					for _, id := range rc.FDs.IDs() {
						if !strings.HasPrefix(id, "ref:") || childFDs.Exists(id) {
							continue
						}
						if content, err := rc.FDs.Get(id); err == nil {
							_ = childFDs.Set(id, content)
						}
					}
				}
			}

			if err := child.Run(ctx, args.Prompt); err != nil {
				return models.ErrorResultf("Error: Program '%s' failed: %v", args.ProgramName, err)
			}
			return models.NewToolResult(child.LastMessage())
		}).Requires(tools.Capabilities{Linked: true})
}
