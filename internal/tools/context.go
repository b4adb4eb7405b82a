package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/cccntu/llmproc/internal/fd"
	"github.com/cccntu/llmproc/pkg/models"
)

// ProcessState is the view of a live process that state-mutating tools
// (goto) need. Implemented by the process runtime; declared here to keep
// the tool layer free of a dependency on it.
type ProcessState interface {
	// Messages returns the conversation log in order.
	Messages() []models.Message
	// Rewind truncates the log to its first keep messages, records the
	// rewind in the time-travel history, and returns how many messages
	// were removed.
	Rewind(keep int) int
	// AppendUserMessage appends a user message and returns it with its
	// assigned ID.
	AppendUserMessage(text string) models.Message
}

// ProcessHandle is the view of a child process that spawn needs.
type ProcessHandle interface {
	Run(ctx context.Context, input string) error
	LastMessage() string
	FDs() *fd.Manager
	PreloadFiles(paths []string)
}

// ProgramRef starts a process from a compiled program.
type ProgramRef interface {
	Start(ctx context.Context) (ProcessHandle, error)
}

// LinkedProgram is one entry in a process's linked-program table: either a
// cold program started on first use (and cached for reuse), or a process
// that is already live.
type LinkedProgram struct {
	Ref         ProgramRef
	Description string

	mu   sync.Mutex
	proc ProcessHandle
}

// NewLinkedProgram wraps a cold program reference.
func NewLinkedProgram(ref ProgramRef, description string) *LinkedProgram {
	return &LinkedProgram{Ref: ref, Description: description}
}

// NewLinkedProcess wraps an already-live process.
func NewLinkedProcess(proc ProcessHandle, description string) *LinkedProgram {
	return &LinkedProgram{Description: description, proc: proc}
}

// Process returns the live child, starting it on first use. Subsequent
// calls reuse the same child so the conversation continues across spawns.
func (lp *LinkedProgram) Process(ctx context.Context) (ProcessHandle, error) {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	if lp.proc != nil {
		return lp.proc, nil
	}
	if lp.Ref == nil {
		return nil, fmt.Errorf("linked program has neither a process nor a program reference")
	}
	proc, err := lp.Ref.Start(ctx)
	if err != nil {
		return nil, err
	}
	lp.proc = proc
	return proc, nil
}

// Capabilities declares which runtime context fields a handler requires.
// The registry validates the declared set before dispatching.
type Capabilities struct {
	Process bool
	FDs     bool
	Linked  bool
}

// RuntimeContext carries the per-process dependencies injected into
// context-aware tool handlers. Context-free handlers ignore it.
type RuntimeContext struct {
	Process ProcessState
	FDs     *fd.Manager
	Linked  map[string]*LinkedProgram
}

// missing returns the name of the first declared capability absent from the
// context, or "" when all requirements are satisfied.
func (rc *RuntimeContext) missing(needs Capabilities) string {
	if needs.Process && (rc == nil || rc.Process == nil) {
		return "process"
	}
	if needs.FDs && (rc == nil || rc.FDs == nil) {
		return "fd_manager"
	}
	if needs.Linked && (rc == nil || rc.Linked == nil) {
		return "linked_programs"
	}
	return ""
}
