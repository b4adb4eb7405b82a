package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/cccntu/llmproc/internal/fd"
	"github.com/cccntu/llmproc/pkg/models"
)

func echoDef(name string) *Definition {
	return &Definition{
		Name:        name,
		Description: "echoes its input",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"],"additionalProperties":false}`),
		Handler: func(_ context.Context, input json.RawMessage, _ *RuntimeContext) *models.ToolResult {
			var args struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(input, &args); err != nil {
				return models.ErrorResultf("Error: %v", err)
			}
			return models.NewToolResult(args.Text)
		},
	}
}

func TestRegisterAndCall(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(echoDef("echo")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	res := r.Call(context.Background(), "echo", json.RawMessage(`{"text":"hello"}`), nil)
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.Content)
	}
	if res.Content != "hello" {
		t.Errorf("expected hello, got %q", res.Content)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(echoDef("echo")); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(echoDef("echo")); err == nil {
		t.Error("expected duplicate registration error")
	}
}

func TestCallUnknownTool(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(echoDef("echo")); err != nil {
		t.Fatal(err)
	}

	res := r.Call(context.Background(), "missing", nil, nil)
	if !res.IsError {
		t.Fatal("expected error result for unknown tool")
	}
	if !strings.Contains(res.Content, "Error: Tool 'missing' not found.") {
		t.Errorf("unexpected message: %s", res.Content)
	}
	if !strings.Contains(res.Content, "Available tools: echo") {
		t.Errorf("message should list available tools: %s", res.Content)
	}
}

func TestSchemaValidation(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(echoDef("echo")); err != nil {
		t.Fatal(err)
	}

	// Missing required field.
	res := r.Call(context.Background(), "echo", json.RawMessage(`{}`), nil)
	if !res.IsError || !strings.Contains(res.Content, "failed validation") {
		t.Errorf("expected validation failure, got: %s", res.Content)
	}

	// Malformed JSON.
	res = r.Call(context.Background(), "echo", json.RawMessage(`{not json`), nil)
	if !res.IsError || !strings.Contains(res.Content, "malformed JSON") {
		t.Errorf("expected malformed JSON error, got: %s", res.Content)
	}
}

func TestAliases(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(echoDef("echo")); err != nil {
		t.Fatal(err)
	}
	if err := r.SetAliases(map[string]string{"say": "echo"}); err != nil {
		t.Fatalf("SetAliases: %v", err)
	}

	res := r.Call(context.Background(), "say", json.RawMessage(`{"text":"hi"}`), nil)
	if res.IsError || res.Content != "hi" {
		t.Errorf("alias call failed: %s", res.Content)
	}

	defs := r.Definitions(AccessAdmin)
	if len(defs) != 1 || defs[0].Name != "say" {
		t.Errorf("aliased tool should be advertised under the alias, got %+v", defs)
	}
}

func TestAliasValidation(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(echoDef("echo")); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(echoDef("other")); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		aliases map[string]string
	}{
		{"unknown target", map[string]string{"say": "nope"}},
		{"self alias", map[string]string{"echo": "echo"}},
		{"collides with tool", map[string]string{"other": "echo"}},
		{"two aliases one target", map[string]string{"a": "echo", "b": "echo"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := r.SetAliases(tt.aliases); err == nil {
				t.Error("expected alias validation error")
			}
		})
	}
}

func TestCapabilityValidation(t *testing.T) {
	r := NewRegistry(nil)
	def := &Definition{
		Name:        "needs_fds",
		Description: "requires the fd manager",
		Needs:       Capabilities{FDs: true},
		Handler: func(_ context.Context, _ json.RawMessage, rc *RuntimeContext) *models.ToolResult {
			return models.NewToolResult("ok")
		},
	}
	if err := r.Register(def); err != nil {
		t.Fatal(err)
	}

	res := r.Call(context.Background(), "needs_fds", nil, &RuntimeContext{})
	if !res.IsError || !strings.Contains(res.Content, "fd_manager") {
		t.Errorf("expected missing dependency error, got: %s", res.Content)
	}

	rc := &RuntimeContext{FDs: fd.NewManager(fd.Settings{}, nil)}
	res = r.Call(context.Background(), "needs_fds", nil, rc)
	if res.IsError {
		t.Errorf("unexpected error with satisfied capabilities: %s", res.Content)
	}
}

func TestHandlerPanicBecomesErrorResult(t *testing.T) {
	r := NewRegistry(nil)
	def := &Definition{
		Name:        "boom",
		Description: "panics",
		Handler: func(_ context.Context, _ json.RawMessage, _ *RuntimeContext) *models.ToolResult {
			panic("kaboom")
		},
	}
	if err := r.Register(def); err != nil {
		t.Fatal(err)
	}

	res := r.Call(context.Background(), "boom", nil, nil)
	if !res.IsError {
		t.Fatal("expected error result from panicking handler")
	}
}

func TestAccessLevelFiltering(t *testing.T) {
	r := NewRegistry(nil)
	read := echoDef("reader")
	write := echoDef("writer")
	write.Access = AccessWrite
	if err := r.Register(read); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(write); err != nil {
		t.Fatal(err)
	}

	defs := r.Definitions(AccessRead)
	if len(defs) != 1 || defs[0].Name != "reader" {
		t.Errorf("read ceiling should hide write tools, got %d defs", len(defs))
	}
	if got := len(r.Definitions(AccessAdmin)); got != 2 {
		t.Errorf("admin ceiling should expose everything, got %d", got)
	}
}

func TestFuncDefSchemaDerivation(t *testing.T) {
	type args struct {
		Expression string `json:"expression" jsonschema:"description=The expression to evaluate"`
		Precision  int    `json:"precision,omitempty"`
	}
	def := FuncDef("calc", "evaluates", AccessRead, func(_ context.Context, a args, _ *RuntimeContext) *models.ToolResult {
		return models.NewToolResult(a.Expression)
	})

	var schema map[string]any
	if err := json.Unmarshal(def.InputSchema, &schema); err != nil {
		t.Fatalf("derived schema is not valid JSON: %v", err)
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		t.Fatalf("schema missing properties: %v", schema)
	}
	if _, ok := props["expression"]; !ok {
		t.Error("schema missing expression property")
	}

	r := NewRegistry(nil)
	if err := r.Register(def); err != nil {
		t.Fatal(err)
	}
	res := r.Call(context.Background(), "calc", json.RawMessage(`{"expression":"1+1"}`), nil)
	if res.IsError || res.Content != "1+1" {
		t.Errorf("FuncDef dispatch failed: %s", res.Content)
	}
}
