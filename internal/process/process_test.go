package process

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/cccntu/llmproc/internal/program"
	"github.com/cccntu/llmproc/internal/providers"
	"github.com/cccntu/llmproc/pkg/models"
)

// fakeClient replays scripted responses, or answers via fn when set.
type fakeClient struct {
	mu       sync.Mutex
	script   []*models.ProviderResponse
	fn       func(req *providers.Request) *models.ProviderResponse
	requests []*providers.Request
}

func (f *fakeClient) Complete(_ context.Context, req *providers.Request) (*models.ProviderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.fn != nil {
		return f.fn(req), nil
	}
	if len(f.script) == 0 {
		return nil, fmt.Errorf("fake provider: script exhausted")
	}
	resp := f.script[0]
	f.script = f.script[1:]
	return resp, nil
}

func (f *fakeClient) Name() string        { return "fake" }
func (f *fakeClient) SupportsTools() bool { return true }

func textResponse(text string) *models.ProviderResponse {
	return &models.ProviderResponse{
		Blocks:     []models.ContentBlock{models.TextBlock(text)},
		StopReason: models.StopEndTurn,
		Usage:      models.Usage{InputTokens: 10, OutputTokens: 5},
	}
}

func toolResponse(id, name string, input string) *models.ProviderResponse {
	return &models.ProviderResponse{
		Blocks:     []models.ContentBlock{models.ToolUseBlock(id, name, json.RawMessage(input))},
		StopReason: models.StopToolUse,
		Usage:      models.Usage{InputTokens: 10, OutputTokens: 5},
	}
}

func testProgram(t *testing.T, mutate func(p *program.Program)) *program.Program {
	t.Helper()
	prog := program.New("test-model", "anthropic")
	prog.SystemPrompt = "You are a test assistant."
	if mutate != nil {
		mutate(prog)
	}
	if err := prog.Compile(); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return prog
}

func startProcess(t *testing.T, prog *program.Program, client providers.Client) *Process {
	t.Helper()
	p, err := Start(context.Background(), prog, WithClient(client))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return p
}

func TestRunTextResponse(t *testing.T) {
	fake := &fakeClient{script: []*models.ProviderResponse{textResponse("hello there")}}
	p := startProcess(t, testProgram(t, nil), fake)

	res, err := p.Run(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.StopReason != models.StopEndTurn {
		t.Errorf("stop reason = %s", res.StopReason)
	}
	if res.LastMessage != "hello there" || p.LastMessage() != "hello there" {
		t.Errorf("last message = %q", res.LastMessage)
	}
	if res.ID == "" {
		t.Error("run result should carry an ID")
	}
	if len(res.APICalls) != 1 || res.Usage.Total() != 15 {
		t.Errorf("api accounting wrong: %+v", res)
	}

	msgs := p.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].ID != "msg_0" || msgs[1].ID != "msg_1" {
		t.Errorf("message IDs = %s, %s", msgs[0].ID, msgs[1].ID)
	}
	if p.Usage().Total() != 15 {
		t.Errorf("accumulated usage = %+v", p.Usage())
	}
}

func TestRunRejectsEmptyInput(t *testing.T) {
	p := startProcess(t, testProgram(t, nil), &fakeClient{})
	if _, err := p.Run(context.Background(), "   "); err == nil {
		t.Error("expected error for empty input")
	}
}

func TestRunToolLoop(t *testing.T) {
	fake := &fakeClient{script: []*models.ProviderResponse{
		toolResponse("call_1", "calculator", `{"expression": "6 * 7"}`),
		textResponse("the answer is 42"),
	}}
	prog := testProgram(t, func(p *program.Program) {
		p.EnabledTools = []string{"calculator"}
	})
	p := startProcess(t, prog, fake)

	var events []string
	p.AddCallbacks(&Callbacks{
		TurnStart: func(turn int) { events = append(events, fmt.Sprintf("turn_start:%d", turn)) },
		ToolStart: func(name string, _ []byte) { events = append(events, "tool_start:"+name) },
		ToolEnd:   func(name string, _ *models.ToolResult) { events = append(events, "tool_end:"+name) },
		Response:  func(string) { events = append(events, "response") },
	})

	res, err := p.Run(context.Background(), "what is 6*7?")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ToolCalls != 1 {
		t.Errorf("tool calls = %d", res.ToolCalls)
	}
	if len(res.APICalls) != 2 {
		t.Errorf("api calls = %d", len(res.APICalls))
	}
	if p.LastMessage() != "the answer is 42" {
		t.Errorf("last message = %q", p.LastMessage())
	}

	msgs := p.Messages()
	// user, assistant(tool_use), user(tool_result), assistant(text)
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	resultBlk := msgs[2].Blocks[0]
	if resultBlk.Type != models.BlockToolResult || resultBlk.ToolUseID != "call_1" {
		t.Errorf("tool result block malformed: %+v", resultBlk)
	}
	if resultBlk.Content != "42" {
		t.Errorf("calculator result = %q", resultBlk.Content)
	}

	want := []string{"turn_start:1", "tool_start:calculator", "tool_end:calculator", "turn_start:2", "response"}
	got := strings.Join(events, " ")
	for _, e := range want {
		if !strings.Contains(got, e) {
			t.Errorf("missing event %q in %q", e, got)
		}
	}
}

func TestToolsAdvertisedToProvider(t *testing.T) {
	fake := &fakeClient{script: []*models.ProviderResponse{textResponse("done")}}
	prog := testProgram(t, func(p *program.Program) {
		p.EnabledTools = []string{"calculator", "read_file"}
		p.ToolAliases = map[string]string{"calc": "calculator"}
	})
	p := startProcess(t, prog, fake)

	if _, err := p.Run(context.Background(), "hi"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	req := fake.requests[0]
	if req.System == "" || !strings.Contains(req.System, "test assistant") {
		t.Errorf("system prompt missing: %q", req.System)
	}
	names := make([]string, 0, len(req.Tools))
	for _, def := range req.Tools {
		names = append(names, def.Name)
	}
	joined := strings.Join(names, " ")
	if !strings.Contains(joined, "calc") || strings.Contains(joined, "calculator") {
		t.Errorf("aliased tool not advertised correctly: %v", names)
	}
	if !strings.Contains(joined, "read_file") {
		t.Errorf("read_file missing: %v", names)
	}
}

func TestOversizedToolOutputWrapped(t *testing.T) {
	dir := t.TempDir()
	big := filepath.Join(dir, "big.txt")
	if err := os.WriteFile(big, []byte(strings.Repeat("x", 500)), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	fake := &fakeClient{script: []*models.ProviderResponse{
		toolResponse("call_1", "read_file", fmt.Sprintf(`{"file_path": %q}`, big)),
		textResponse("read it"),
	}}
	prog := testProgram(t, func(p *program.Program) {
		p.EnabledTools = []string{"read_file"}
		p.FileDescriptor = program.FDConfig{Enabled: true, MaxDirectOutputChars: 100, DefaultPageSize: 50}
	})
	p := startProcess(t, prog, fake)

	if _, err := p.Run(context.Background(), "read the file"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	resultBlk := p.Messages()[2].Blocks[0]
	if !strings.Contains(resultBlk.Content, "<fd_result fd=\"fd:1\"") {
		t.Errorf("oversized output should be wrapped: %q", resultBlk.Content)
	}
	if !p.FDManager().Exists("fd:1") {
		t.Error("descriptor should be stored")
	}
}

func TestOversizedUserInputWrapped(t *testing.T) {
	fake := &fakeClient{script: []*models.ProviderResponse{textResponse("ok")}}
	prog := testProgram(t, func(p *program.Program) {
		p.FileDescriptor = program.FDConfig{
			Enabled: true, PageUserInput: true, MaxInputChars: 100, PagePerTurn: 20,
		}
	})
	p := startProcess(t, prog, fake)

	if _, err := p.Run(context.Background(), strings.Repeat("y", 500)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	first := p.Messages()[0].Text()
	if !strings.Contains(first, "<fd:1 ") || !strings.Contains(first, `type="user_input"`) {
		t.Errorf("user input should be wrapped: %q", first)
	}
}

func TestUserInputNotWrappedWithoutFDSubsystem(t *testing.T) {
	fake := &fakeClient{script: []*models.ProviderResponse{textResponse("ok")}}
	prog := testProgram(t, func(p *program.Program) {
		// page_user_input without the subsystem: the replacement text
		// would point at read_fd, which is not registered.
		p.FileDescriptor = program.FDConfig{PageUserInput: true, MaxInputChars: 100}
	})
	p := startProcess(t, prog, fake)

	input := strings.Repeat("y", 500)
	if _, err := p.Run(context.Background(), input); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if p.Messages()[0].Text() != input {
		t.Errorf("input should pass through unwrapped: %q", p.Messages()[0].Text())
	}
}

func TestMaxIterations(t *testing.T) {
	fake := &fakeClient{fn: func(*providers.Request) *models.ProviderResponse {
		return toolResponse("call_x", "calculator", `{"expression": "1+1"}`)
	}}
	prog := testProgram(t, func(p *program.Program) {
		p.EnabledTools = []string{"calculator"}
		p.MaxIterations = 3
	})
	p := startProcess(t, prog, fake)

	res, err := p.Run(context.Background(), "loop forever")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.StopReason != StopMaxIterations {
		t.Errorf("stop reason = %s", res.StopReason)
	}
	// Exhaustion is not an error and nothing synthetic is appended: the
	// log ends on the pending tool results.
	if p.LastMessage() != "" {
		t.Errorf("last message = %q", p.LastMessage())
	}
	if len(res.APICalls) != 3 {
		t.Errorf("api calls = %d", len(res.APICalls))
	}
}

func TestGotoRewindsConversation(t *testing.T) {
	fake := &fakeClient{script: []*models.ProviderResponse{
		textResponse("first answer"),
		toolResponse("call_1", "goto", `{"position": "msg_0", "message": "starting over"}`),
		textResponse("after rewind"),
	}}
	prog := testProgram(t, func(p *program.Program) {
		p.EnabledTools = []string{"goto"}
	})
	p := startProcess(t, prog, fake)

	if _, err := p.Run(context.Background(), "question one"); err != nil {
		t.Fatalf("Run 1: %v", err)
	}
	if _, err := p.Run(context.Background(), "go back to the start"); err != nil {
		t.Fatalf("Run 2: %v", err)
	}

	msgs := p.Messages()
	// The target survives; everything after it is replaced by the combined
	// system-note message, then the final assistant text.
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages after rewind, got %d", len(msgs))
	}
	if msgs[0].Text() != "question one" {
		t.Errorf("target message should survive: %q", msgs[0].Text())
	}
	if !strings.Contains(msgs[1].Text(), "[SYSTEM NOTE:") {
		t.Errorf("rewind note missing: %q", msgs[1].Text())
	}
	if !strings.Contains(msgs[1].Text(), "<time_travel>") {
		t.Errorf("time travel message missing: %q", msgs[1].Text())
	}
	if msgs[1].ID != "msg_1" {
		t.Errorf("IDs should continue from the rewound length: %s", msgs[1].ID)
	}
	for _, msg := range msgs {
		for _, blk := range msg.Blocks {
			if blk.Type == models.BlockToolResult {
				t.Errorf("no tool result should survive a rewind: %+v", blk)
			}
		}
	}
	if len(p.TimeTravelHistory()) != 1 {
		t.Errorf("time travel history = %+v", p.TimeTravelHistory())
	}
	if p.LastMessage() != "after rewind" {
		t.Errorf("last message = %q", p.LastMessage())
	}
}

func TestGotoRewindToLatestUserMessage(t *testing.T) {
	// Rewinding to the message right before the goto call truncates one
	// message and appends one, so the log length never changes. The
	// executor must still drop the pending tool result, or the next
	// request would carry a tool_result with no matching tool_use.
	fake := &fakeClient{script: []*models.ProviderResponse{
		textResponse("first answer"),
		toolResponse("call_g", "goto", `{"position": "msg_2", "message": "redo"}`),
		textResponse("redone"),
	}}
	prog := testProgram(t, func(p *program.Program) {
		p.EnabledTools = []string{"goto"}
	})
	p := startProcess(t, prog, fake)

	if _, err := p.Run(context.Background(), "question one"); err != nil {
		t.Fatalf("Run 1: %v", err)
	}
	if _, err := p.Run(context.Background(), "try again"); err != nil {
		t.Fatalf("Run 2: %v", err)
	}

	msgs := p.Messages()
	// u0, a1, u2 (target, kept), combined note, final assistant text.
	if len(msgs) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(msgs))
	}
	if msgs[2].Text() != "try again" {
		t.Errorf("target message should survive: %q", msgs[2].Text())
	}
	if !strings.Contains(msgs[3].Text(), "<time_travel>") {
		t.Errorf("rewind note missing: %q", msgs[3].Text())
	}
	for _, msg := range msgs {
		for _, blk := range msg.Blocks {
			if blk.Type == models.BlockToolResult {
				t.Errorf("no tool result should survive a rewind: %+v", blk)
			}
		}
	}
	if p.LastMessage() != "redone" {
		t.Errorf("last message = %q", p.LastMessage())
	}
}

func TestFork(t *testing.T) {
	fake := &fakeClient{fn: func(req *providers.Request) *models.ProviderResponse {
		last := req.Messages[len(req.Messages)-1]
		text := last.Text()
		switch {
		case strings.Contains(text, "split up"):
			return &models.ProviderResponse{
				Blocks: []models.ContentBlock{
					models.ToolUseBlock("call_f", "fork", json.RawMessage(`{"prompts": ["count to three", "name a color"]}`)),
				},
				StopReason: models.StopToolUse,
			}
		case strings.Contains(text, "count to three"):
			return textResponse("1 2 3")
		case strings.Contains(text, "name a color"):
			return textResponse("blue")
		default:
			return textResponse("all done")
		}
	}}
	prog := testProgram(t, func(p *program.Program) {
		p.EnabledTools = []string{"fork"}
	})
	p := startProcess(t, prog, fake)

	res, err := p.Run(context.Background(), "split up this work")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if p.LastMessage() != "all done" {
		t.Errorf("last message = %q", p.LastMessage())
	}

	forkResult := p.Messages()[2].Blocks[0]
	var replies []struct {
		ID      int    `json:"id"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(forkResult.Content), &replies); err != nil {
		t.Fatalf("fork result is not JSON: %q", forkResult.Content)
	}
	if len(replies) != 2 || replies[0].Message != "1 2 3" || replies[1].Message != "blue" {
		t.Errorf("fork replies = %+v", replies)
	}
	if res.ToolCalls != 1 {
		t.Errorf("tool calls = %d", res.ToolCalls)
	}
	// The parent's own log is untouched by the children.
	if len(p.Messages()) != 4 {
		t.Errorf("parent log length = %d", len(p.Messages()))
	}
}

func TestForkResultWrappedWhenOversized(t *testing.T) {
	fake := &fakeClient{fn: func(req *providers.Request) *models.ProviderResponse {
		last := req.Messages[len(req.Messages)-1]
		text := last.Text()
		switch {
		case strings.Contains(text, "split up"):
			return &models.ProviderResponse{
				Blocks: []models.ContentBlock{
					models.ToolUseBlock("call_f", "fork", json.RawMessage(`{"prompts": ["write a saga"]}`)),
				},
				StopReason: models.StopToolUse,
			}
		case strings.Contains(text, "write a saga"):
			return textResponse(strings.Repeat("z", 200))
		default:
			return textResponse("wrapped up")
		}
	}}
	prog := testProgram(t, func(p *program.Program) {
		p.EnabledTools = []string{"fork"}
		p.FileDescriptor = program.FDConfig{Enabled: true, MaxDirectOutputChars: 50, DefaultPageSize: 40}
	})
	p := startProcess(t, prog, fake)

	if _, err := p.Run(context.Background(), "split up this work"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// The aggregated child replies exceed the direct-output threshold, so
	// the fork result lands in a descriptor like any other tool output.
	forkResult := p.Messages()[2].Blocks[0]
	if !strings.Contains(forkResult.Content, "<fd_result fd=\"fd:1\"") {
		t.Errorf("oversized fork result should be wrapped: %q", forkResult.Content)
	}
	if !p.FDManager().Exists("fd:1") {
		t.Error("descriptor should be stored")
	}
}

func TestForkedProcessCannotFork(t *testing.T) {
	p := startProcess(t, testProgram(t, nil), &fakeClient{})
	child, err := p.Fork(context.Background())
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	if _, err := child.Fork(context.Background()); err == nil {
		t.Error("forked child should not fork again")
	}
}

func TestForkIsDeepCopy(t *testing.T) {
	fake := &fakeClient{script: []*models.ProviderResponse{textResponse("parent answer")}}
	p := startProcess(t, testProgram(t, nil), fake)
	if _, err := p.Run(context.Background(), "hello"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	p.FDManager().CreateFromContent("shared data")

	child, err := p.Fork(context.Background())
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	if len(child.Messages()) != len(p.Messages()) {
		t.Errorf("child should inherit the conversation")
	}
	if !child.FDManager().Exists("fd:1") {
		t.Error("child should inherit descriptors")
	}

	child.AppendUserMessage("child only")
	child.FDManager().CreateFromContent("child data")
	if len(p.Messages()) == len(child.Messages()) {
		t.Error("child log should be independent")
	}
	if p.FDManager().Exists("fd:2") {
		t.Error("child descriptors should not leak to the parent")
	}
}

func TestReset(t *testing.T) {
	fake := &fakeClient{script: []*models.ProviderResponse{textResponse("hi"), textResponse("again")}}
	p := startProcess(t, testProgram(t, nil), fake)
	if _, err := p.Run(context.Background(), "one"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	prompt := p.EnrichedSystemPrompt()

	p.Reset()
	if len(p.Messages()) != 0 || p.Usage().Total() != 0 {
		t.Error("reset should clear conversation state")
	}
	if p.EnrichedSystemPrompt() != prompt {
		t.Error("reset should keep the enriched prompt")
	}
	if _, err := p.Run(context.Background(), "two"); err != nil {
		t.Fatalf("Run after reset: %v", err)
	}
	if p.Messages()[0].ID != "msg_0" {
		t.Errorf("IDs should restart after reset: %s", p.Messages()[0].ID)
	}
}

func TestRunTillTextResponseNudges(t *testing.T) {
	calls := 0
	fake := &fakeClient{fn: func(*providers.Request) *models.ProviderResponse {
		calls++
		// Stall twice (tool loop to exhaustion), then answer on the nudge.
		if calls <= 2 {
			return toolResponse("call_x", "calculator", `{"expression": "1"}`)
		}
		return textResponse("finally, text")
	}}
	prog := testProgram(t, func(p *program.Program) {
		p.EnabledTools = []string{"calculator"}
		p.MaxIterations = 1
	})
	p := startProcess(t, prog, fake)

	text, err := p.RunTillTextResponse(context.Background(), "work on it")
	if err != nil {
		t.Fatalf("RunTillTextResponse: %v", err)
	}
	if text != "finally, text" {
		t.Errorf("text = %q", text)
	}
}

func TestCallToolDirect(t *testing.T) {
	prog := testProgram(t, func(p *program.Program) {
		p.EnabledTools = []string{"calculator"}
		p.ToolAliases = map[string]string{"calc": "calculator"}
	})
	p := startProcess(t, prog, &fakeClient{})

	res := p.CallTool(context.Background(), "calc", json.RawMessage(`{"expression": "2+2"}`))
	if res.IsError || res.Content != "4" {
		t.Errorf("result = %+v", res)
	}
	res = p.CallTool(context.Background(), "nope", json.RawMessage(`{}`))
	if !res.IsError || !strings.Contains(res.Content, "not found") {
		t.Errorf("unknown tool result = %+v", res)
	}
}

func TestEnrichedPromptFrozen(t *testing.T) {
	dir := t.TempDir()
	note := filepath.Join(dir, "note.txt")
	if err := os.WriteFile(note, []byte("preloaded fact"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	prog := testProgram(t, func(p *program.Program) {
		p.PreloadFiles = []string{note}
		p.EnvInfo = program.EnvInfoConfig{Variables: program.StringList{"platform"}}
	})
	p := startProcess(t, prog, &fakeClient{script: []*models.ProviderResponse{textResponse("ok")}})

	prompt := p.EnrichedSystemPrompt()
	if !strings.Contains(prompt, "test assistant") ||
		!strings.Contains(prompt, "<env>") ||
		!strings.Contains(prompt, "preloaded fact") {
		t.Errorf("enriched prompt incomplete: %q", prompt)
	}
	if p.EnrichedSystemPrompt() != prompt {
		t.Error("prompt should be frozen")
	}
}

func TestCallbackPanicDoesNotAbortRun(t *testing.T) {
	fake := &fakeClient{script: []*models.ProviderResponse{textResponse("survived")}}
	p := startProcess(t, testProgram(t, nil), fake)
	p.AddCallbacks(&Callbacks{
		Response: func(string) { panic("observer bug") },
	})
	if _, err := p.Run(context.Background(), "hi"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if p.LastMessage() != "survived" {
		t.Errorf("last message = %q", p.LastMessage())
	}
}
