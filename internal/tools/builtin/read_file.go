package builtin

import (
	"context"
	"os"
	"path/filepath"

	"github.com/cccntu/llmproc/internal/tools"
	"github.com/cccntu/llmproc/pkg/models"
)

type readFileArgs struct {
	FilePath string `json:"file_path" jsonschema:"description=Absolute or relative path of the file to read"`
}

// ReadFile reads a file from disk and returns its content. Failures come
// back as error results so the model can adjust the path and retry.
func ReadFile() *tools.Definition {
	return tools.FuncDef("read_file",
		"Read a file from the local filesystem and return its full content.",
		tools.AccessRead,
		func(_ context.Context, args readFileArgs, _ *tools.RuntimeContext) *models.ToolResult {
			if args.FilePath == "" {
				return models.ErrorResult("Error: file_path is required")
			}
			abs, err := filepath.Abs(args.FilePath)
			if err != nil {
				return models.ErrorResultf("Error: Cannot resolve path %q: %v", args.FilePath, err)
			}
			data, err := os.ReadFile(abs)
			if err != nil {
				return models.ErrorResultf("Error: Cannot read file %q: %v", abs, err)
			}
			return models.NewToolResult(string(data))
		})
}
