// Package process implements the runtime: a Process owns one conversation
// with a provider-backed model, dispatching tool calls through the registry
// until the model produces a final text response.
package process

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cccntu/llmproc/internal/fd"
	"github.com/cccntu/llmproc/internal/mcp"
	"github.com/cccntu/llmproc/internal/program"
	"github.com/cccntu/llmproc/internal/providers"
	"github.com/cccntu/llmproc/internal/tools"
	"github.com/cccntu/llmproc/internal/tools/builtin"
	"github.com/cccntu/llmproc/pkg/models"
)

const defaultMaxIterations = 10

// TimeTravelRecord notes one conversation rewind.
type TimeTravelRecord struct {
	At      time.Time `json:"at"`
	Kept    int       `json:"kept"`
	Removed int       `json:"removed"`
}

// Process is a running instance of a compiled program: the conversation
// log, the tool registry, the file descriptor table, and the provider
// client, plus everything a forked copy needs to carry over.
type Process struct {
	prog     *program.Program
	client   providers.Client
	registry *tools.Registry
	fds      *fd.Manager
	linked   map[string]*tools.LinkedProgram
	mcpMgr   *mcp.Manager
	ceiling  tools.AccessLevel
	opts     []Option
	logger   *slog.Logger

	callbacks callbackSet

	mu             sync.Mutex
	messages       []models.Message
	enrichedPrompt string
	enriched       bool
	extraPreload   []string
	timeTravel     []TimeTravelRecord
	usage          models.Usage
	toolCallCount  int
	forked         bool
}

// Option configures a process at start.
type Option func(*Process)

// WithClient overrides the provider client, bypassing environment-based
// construction. Tests inject fakes this way.
func WithClient(c providers.Client) Option {
	return func(p *Process) { p.client = c }
}

// WithLogger sets the process logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Process) { p.logger = l }
}

// Start creates a process from a compiled program: provider client from the
// environment, tool registry from the enabled set, external tools connected
// and bridged. Uncompiled programs are compiled first.
func Start(ctx context.Context, prog *program.Program, opts ...Option) (*Process, error) {
	if !prog.Compiled() {
		if err := prog.Compile(); err != nil {
			return nil, fmt.Errorf("compile program: %w", err)
		}
	}

	p := &Process{
		prog:   prog,
		opts:   opts,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "process", "model", prog.ModelName)
	p.callbacks.logger = p.logger

	if p.client == nil {
		client, err := providers.New(prog.Provider, providers.Options{})
		if err != nil {
			return nil, err
		}
		p.client = client
	}

	p.ceiling = tools.AccessWrite
	if prog.AccessLevel != "" {
		ceiling, err := tools.ParseAccessLevel(prog.AccessLevel)
		if err != nil {
			return nil, fmt.Errorf("tools access_level: %w", err)
		}
		p.ceiling = ceiling
	}

	p.fds = fd.NewManager(fd.Settings{
		DefaultPageSize: prog.FileDescriptor.DefaultPageSize,
		MaxDirectOutput: prog.FileDescriptor.MaxDirectOutputChars,
		MaxInputChars:   prog.FileDescriptor.MaxInputChars,
		PagePerTurn:     prog.FileDescriptor.PagePerTurn,
		PageUserInput:   prog.FileDescriptor.PageUserInput,
	}, p.logger)

	p.linked = make(map[string]*tools.LinkedProgram, len(prog.LinkedPrograms))
	for name, child := range prog.LinkedPrograms {
		p.linked[name] = tools.NewLinkedProgram(
			&programRef{prog: child, opts: opts},
			prog.LinkedProgramDescriptions[name],
		)
	}

	if err := p.buildRegistry(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// programRef starts a linked program on first spawn.
type programRef struct {
	prog *program.Program
	opts []Option
}

// Start implements tools.ProgramRef.
func (r *programRef) Start(ctx context.Context) (tools.ProcessHandle, error) {
	child, err := Start(ctx, r.prog, r.opts...)
	if err != nil {
		return nil, err
	}
	return handle{child}, nil
}

func (p *Process) buildRegistry(ctx context.Context) error {
	p.registry = tools.NewRegistry(p.logger)

	for _, name := range p.prog.EnabledTools {
		var def *tools.Definition
		switch name {
		case "calculator":
			def = builtin.Calculator()
		case "read_file":
			def = builtin.ReadFile()
		case "read_fd":
			def = builtin.ReadFD()
		case "fd_to_file":
			def = builtin.FDToFile()
		case "spawn":
			def = builtin.Spawn(p.prog.LinkedProgramDescriptions)
		case "goto":
			def = builtin.Goto()
		case "fork":
			def = builtin.Fork()
		default:
			return fmt.Errorf("no implementation for tool %q", name)
		}
		if err := p.registry.Register(def); err != nil {
			return err
		}
	}

	if len(p.prog.MCPTools) > 0 {
		servers, err := mcp.LoadServersFile(p.prog.MCPConfigPath)
		if err != nil {
			return err
		}
		p.mcpMgr = mcp.NewManager(servers, p.logger)
		if err := p.mcpMgr.Start(ctx); err != nil {
			return err
		}
		if err := mcp.RegisterTools(p.mcpMgr, p.prog.MCPTools, p.registry, p.logger); err != nil {
			p.mcpMgr.Stop()
			return err
		}
	}

	if err := p.registry.SetAliases(p.prog.ToolAliases); err != nil {
		return err
	}
	return nil
}

// Close releases external resources (connected tool servers).
func (p *Process) Close() {
	if p.mcpMgr != nil {
		p.mcpMgr.Stop()
	}
}

// Program returns the program this process runs.
func (p *Process) Program() *program.Program {
	return p.prog
}

// FDManager returns the process's file descriptor table.
func (p *Process) FDManager() *fd.Manager {
	return p.fds
}

// AddCallbacks registers an observer set. Sets fire in registration order.
func (p *Process) AddCallbacks(cb *Callbacks) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callbacks.sets = append(p.callbacks.sets, cb)
}

// EnrichedSystemPrompt assembles base prompt + env block + preload block.
// The result is frozen on first use so every turn of a conversation sees
// the same prompt.
func (p *Process) EnrichedSystemPrompt() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enrichedPromptLocked()
}

func (p *Process) enrichedPromptLocked() string {
	if p.enriched {
		return p.enrichedPrompt
	}
	parts := []string{}
	if p.prog.SystemPrompt != "" {
		parts = append(parts, p.prog.SystemPrompt)
	}
	if env := program.BuildEnvInfo(p.prog.EnvInfo); env != "" {
		parts = append(parts, env)
	}
	files := append(append([]string(nil), p.prog.PreloadFiles...), p.extraPreload...)
	if preload := program.BuildPreloadContent(files); preload != "" {
		parts = append(parts, preload)
	}
	p.enrichedPrompt = strings.Join(parts, "\n\n")
	p.enriched = true
	return p.enrichedPrompt
}

// PreloadFiles adds files to the system prompt's preload block. After the
// prompt is frozen the content is appended to it directly.
func (p *Process) PreloadFiles(paths []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.enriched {
		p.extraPreload = append(p.extraPreload, paths...)
		return
	}
	if block := program.BuildPreloadContent(paths); block != "" {
		if p.enrichedPrompt != "" {
			p.enrichedPrompt += "\n\n"
		}
		p.enrichedPrompt += block
	}
}

// Run sends one user input through the iteration loop and returns the run
// summary. Empty input is an error.
func (p *Process) Run(ctx context.Context, input string) (*RunResult, error) {
	if strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("cannot run with empty input")
	}

	start := time.Now()
	if p.prog.FileDescriptor.Enabled {
		// The wrapped replacement directs the model to read_fd, which only
		// exists when the descriptor subsystem is on.
		if wrapped, ok := p.fds.WrapUserInput(input); ok {
			input = wrapped
		}
	}
	p.AppendUserMessage(input)

	exec := &executor{proc: p, logger: p.logger.With("component", "executor")}
	result, err := exec.run(ctx)
	if err != nil {
		return nil, err
	}
	result.ID = uuid.NewString()
	result.Duration = time.Since(start)
	result.LastMessage = p.LastMessage()

	p.mu.Lock()
	p.usage.Add(result.Usage)
	p.toolCallCount += result.ToolCalls
	p.mu.Unlock()
	return result, nil
}

// RunTillTextResponse runs the input and, when the conversation stalls
// without assistant text, nudges the model up to twice before giving up
// with a fixed fallback message.
func (p *Process) RunTillTextResponse(ctx context.Context, input string) (string, error) {
	nudges := []string{
		input,
		"Please stop using tools and summarize your progress so far",
		"Please respond with a text response",
	}
	for _, prompt := range nudges {
		if _, err := p.Run(ctx, prompt); err != nil {
			return "", err
		}
		if text := p.LastMessage(); text != "" {
			return text, nil
		}
	}
	return maxIterationsMessage, nil
}

// LastMessage returns the flattened text of the final log entry when it is
// an assistant message, or "" otherwise. A run that stalled mid tool loop
// therefore reads as having no answer yet.
func (p *Process) LastMessage() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.messages); n > 0 && p.messages[n-1].Role == models.RoleAssistant {
		return p.messages[n-1].Text()
	}
	return ""
}

// stripSiblingToolUses rewrites the final assistant message to drop every
// tool_use block except keepID. Forked children use this: sibling calls in
// the forking response have no results in the child's log.
func (p *Process) stripSiblingToolUses(keepID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.messages)
	if n == 0 || p.messages[n-1].Role != models.RoleAssistant {
		return
	}
	var blocks []models.ContentBlock
	for _, blk := range p.messages[n-1].Blocks {
		if blk.Type == models.BlockToolUse && blk.ID != keepID {
			continue
		}
		blocks = append(blocks, blk)
	}
	p.messages[n-1].Blocks = blocks
}

// Messages returns a copy of the conversation log.
func (p *Process) Messages() []models.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.Message, len(p.messages))
	copy(out, p.messages)
	return out
}

// AppendUserMessage appends a user message, assigning its msg_N ID.
func (p *Process) AppendUserMessage(text string) models.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.appendLocked(models.UserText(text))
}

func (p *Process) appendLocked(msg models.Message) models.Message {
	msg.ID = models.MessageID(len(p.messages))
	p.messages = append(p.messages, msg)
	return msg
}

func (p *Process) appendMessage(msg models.Message) models.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.appendLocked(msg)
}

// rewindCount reports how many rewinds the process has recorded. The
// executor snapshots it around tool dispatch: a goto can truncate and
// append in one step, leaving the log length unchanged, so length alone
// cannot detect the rewind.
func (p *Process) rewindCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.timeTravel)
}

// Rewind truncates the conversation to its first keep messages and records
// the rewind in the time-travel history.
func (p *Process) Rewind(keep int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if keep < 0 {
		keep = 0
	}
	if keep >= len(p.messages) {
		return 0
	}
	removed := len(p.messages) - keep
	p.messages = p.messages[:keep]
	p.timeTravel = append(p.timeTravel, TimeTravelRecord{At: time.Now(), Kept: keep, Removed: removed})
	p.logger.Info("conversation rewound", "kept", keep, "removed", removed)
	return removed
}

// TimeTravelHistory returns the recorded rewinds.
func (p *Process) TimeTravelHistory() []TimeTravelRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]TimeTravelRecord, len(p.timeTravel))
	copy(out, p.timeTravel)
	return out
}

// Reset clears the conversation and accumulated counters. The program and
// the enriched system prompt are kept.
func (p *Process) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = nil
	p.timeTravel = nil
	p.usage = models.Usage{}
	p.toolCallCount = 0
}

// Usage returns the token usage accumulated across runs.
func (p *Process) Usage() models.Usage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usage
}

// ToolCallCount returns the number of tool calls dispatched across runs.
func (p *Process) ToolCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.toolCallCount
}

// Fork returns an independent copy of this process: same program, deep
// copies of the conversation, descriptor table, and counters. Forked
// copies cannot fork again.
func (p *Process) Fork(ctx context.Context) (*Process, error) {
	p.mu.Lock()
	if p.forked {
		p.mu.Unlock()
		return nil, fmt.Errorf("forked processes cannot fork again")
	}
	prompt := p.enrichedPromptLocked()
	msgs := make([]models.Message, len(p.messages))
	copy(msgs, p.messages)
	usage := p.usage
	toolCalls := p.toolCallCount
	p.mu.Unlock()

	opts := make([]Option, 0, len(p.opts)+1)
	opts = append(opts, p.opts...)
	opts = append(opts, WithClient(p.client))
	child, err := Start(ctx, p.prog, opts...)
	if err != nil {
		return nil, err
	}
	child.mu.Lock()
	child.messages = msgs
	child.enrichedPrompt = prompt
	child.enriched = true
	child.usage = usage
	child.toolCallCount = toolCalls
	child.forked = true
	child.fds = p.fds.Copy()
	child.mu.Unlock()
	return child, nil
}

// CallTool dispatches a tool directly through the registry with this
// process's runtime context. Aliases resolve the same way model-initiated
// calls do.
func (p *Process) CallTool(ctx context.Context, name string, input json.RawMessage) *models.ToolResult {
	return p.registry.Call(ctx, name, input, p.runtimeContext())
}

// ToolNames returns the advertised tool names.
func (p *Process) ToolNames() []string {
	return p.registry.Names()
}

func (p *Process) runtimeContext() *tools.RuntimeContext {
	return &tools.RuntimeContext{Process: p, FDs: p.fds, Linked: p.linked}
}

// Handle returns the process as a spawn target.
func (p *Process) Handle() tools.ProcessHandle {
	return handle{p}
}

// handle adapts Process to the child-process view spawn needs: Run without
// the result summary.
type handle struct {
	p *Process
}

func (h handle) Run(ctx context.Context, input string) error {
	_, err := h.p.Run(ctx, input)
	return err
}

func (h handle) LastMessage() string         { return h.p.LastMessage() }
func (h handle) FDs() *fd.Manager            { return h.p.fds }
func (h handle) PreloadFiles(paths []string) { h.p.PreloadFiles(paths) }
