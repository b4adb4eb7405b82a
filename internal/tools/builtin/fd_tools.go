package builtin

import (
	"context"
	"errors"

	"github.com/cccntu/llmproc/internal/fd"
	"github.com/cccntu/llmproc/internal/tools"
	"github.com/cccntu/llmproc/pkg/models"
)

type readFDArgs struct {
	FD             string `json:"fd" jsonschema:"description=The file descriptor to read (fd:1 or ref:name)"`
	ReadAll        bool   `json:"read_all,omitempty" jsonschema:"description=Return the entire content instead of one page"`
	ExtractToNewFD bool   `json:"extract_to_new_fd,omitempty" jsonschema:"description=Copy the selection into a new file descriptor instead of returning it"`
	Mode           string `json:"mode,omitempty" jsonschema:"description=Positioning mode: page (default), line, or char"`
	Start          int    `json:"start,omitempty" jsonschema:"description=Page or line number (1-based) or character offset (0-based)"`
	Count          int    `json:"count,omitempty" jsonschema:"description=Number of pages, lines, or characters to read"`
}

// fdErrorResult surfaces a descriptor failure as its XML error envelope.
func fdErrorResult(err error) *models.ToolResult {
	var fe *fd.Error
	if errors.As(err, &fe) {
		return models.ErrorResult(fe.Envelope())
	}
	return models.ErrorResultf("Error: %v", err)
}

// ReadFD pages through stored file descriptor content.
func ReadFD() *tools.Definition {
	return tools.FuncDef("read_fd",
		"Read content from a file descriptor created for large output. Defaults to the first page; use start to select a page, read_all for everything, or mode=line/char for precise ranges.",
		tools.AccessRead,
		func(_ context.Context, args readFDArgs, rc *tools.RuntimeContext) *models.ToolResult {
			if args.FD == "" {
				return fdErrorResult(fd.NewError(fd.ErrReadError, "", "fd is required"))
			}
			out, err := rc.FDs.ReadFD(args.FD, fd.ReadOptions{
				ReadAll:        args.ReadAll,
				ExtractToNewFD: args.ExtractToNewFD,
				Mode:           args.Mode,
				Start:          args.Start,
				Count:          args.Count,
			})
			if err != nil {
				return fdErrorResult(err)
			}
			return models.NewToolResult(out)
		}).Requires(tools.Capabilities{FDs: true})
}

type fdToFileArgs struct {
	FD       string `json:"fd" jsonschema:"description=The file descriptor to export"`
	FilePath string `json:"file_path" jsonschema:"description=Destination file path"`
	Mode     string `json:"mode,omitempty" jsonschema:"description=write (default) or append"`
	Create   *bool  `json:"create,omitempty" jsonschema:"description=Allow creating the file if it does not exist (default true)"`
	ExistOK  *bool  `json:"exist_ok,omitempty" jsonschema:"description=Allow writing to an existing file (default true)"`
}

// FDToFile exports descriptor content to disk under the create/exist_ok
// policy matrix.
func FDToFile() *tools.Definition {
	return tools.FuncDef("fd_to_file",
		"Write the content of a file descriptor to a file. create and exist_ok control whether new files may be created and existing files overwritten.",
		tools.AccessWrite,
		func(_ context.Context, args fdToFileArgs, rc *tools.RuntimeContext) *models.ToolResult {
			if args.FD == "" || args.FilePath == "" {
				return models.ErrorResult("Error: fd and file_path are required")
			}
			opts := fd.DefaultWriteOptions()
			if args.Mode != "" {
				opts.Mode = args.Mode
			}
			if args.Create != nil {
				opts.Create = *args.Create
			}
			if args.ExistOK != nil {
				opts.ExistOK = *args.ExistOK
			}
			out, err := rc.FDs.WriteToFile(args.FD, args.FilePath, opts)
			if err != nil {
				return fdErrorResult(err)
			}
			return models.NewToolResult(out)
		}).Requires(tools.Capabilities{FDs: true})
}
