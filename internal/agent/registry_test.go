package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/tessellate-ai/loom/pkg/models"
)

// fakeTool is a configurable tool for registry tests.
type fakeTool struct {
	name       string
	schema     json.RawMessage
	readOnly   bool
	restricted bool
	execute    func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error)
	calls      int
}

func (f *fakeTool) Name() string                { return f.name }
func (f *fakeTool) Description() string         { return "fake tool" }
func (f *fakeTool) Schema() json.RawMessage     { return f.schema }
func (f *fakeTool) ReadOnly() bool              { return f.readOnly }
func (f *fakeTool) RestrictedInSubAgents() bool { return f.restricted }

func (f *fakeTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	f.calls++
	if f.execute != nil {
		return f.execute(ctx, params)
	}
	return &models.ToolResult{Content: "ok"}, nil
}

func errorType(res *models.ToolResult) string {
	if res.Metadata == nil {
		return ""
	}
	s, _ := res.Metadata["error_type"].(string)
	return s
}

func TestRegistryExecuteUnknownTool(t *testing.T) {
	r := NewToolRegistry()

	res := r.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "nope"})
	if !res.IsError {
		t.Fatal("unknown tool must produce an error result")
	}
	if res.ToolCallID != "c1" {
		t.Fatalf("tool call id not echoed: %s", res.ToolCallID)
	}
	if errorType(res) != string(ToolErrorNotFound) {
		t.Fatalf("expected not_found, got %s", errorType(res))
	}
}

func TestRegistryExecutePanicIsolation(t *testing.T) {
	r := NewToolRegistry()
	tool := &fakeTool{
		name: "bomb",
		execute: func(context.Context, json.RawMessage) (*models.ToolResult, error) {
			panic("kaboom")
		},
	}
	if err := r.Register(tool); err != nil {
		t.Fatalf("register: %v", err)
	}

	res := r.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "bomb"})
	if !res.IsError {
		t.Fatal("panic must come back as an error result")
	}
	if errorType(res) != string(ToolErrorPanic) {
		t.Fatalf("expected panic classification, got %s", errorType(res))
	}
	if !strings.Contains(res.Content, "kaboom") {
		t.Fatalf("panic value lost: %s", res.Content)
	}
}

func TestRegistryPlanModeGate(t *testing.T) {
	r := NewToolRegistry()
	mutating := &fakeTool{name: "write_thing"}
	reader := &fakeTool{name: "read_thing", readOnly: true}
	exit := &fakeTool{name: ExitPlanModeToolName}
	for _, tool := range []Tool{mutating, reader, exit} {
		if err := r.Register(tool); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	ctx := WithToolContext(context.Background(), &ToolContext{PlanMode: true})

	res := r.Execute(ctx, models.ToolCall{ID: "c1", Name: "write_thing"})
	if !res.IsError {
		t.Fatal("mutating tool must be blocked in plan mode")
	}
	if errorType(res) != string(ToolErrorPermission) {
		t.Fatalf("expected permission error, got %s", errorType(res))
	}
	if mutating.calls != 0 {
		t.Fatal("blocked tool must not execute")
	}

	if res := r.Execute(ctx, models.ToolCall{ID: "c2", Name: "read_thing"}); res.IsError {
		t.Fatalf("read-only tool should run in plan mode: %s", res.Content)
	}
	if res := r.Execute(ctx, models.ToolCall{ID: "c3", Name: ExitPlanModeToolName}); res.IsError {
		t.Fatalf("exit tool should run in plan mode: %s", res.Content)
	}
}

func TestRegistrySchemaValidation(t *testing.T) {
	r := NewToolRegistry()
	tool := &fakeTool{
		name:   "strictish",
		schema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`),
	}
	if err := r.Register(tool); err != nil {
		t.Fatalf("register: %v", err)
	}

	res := r.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "strictish", Input: json.RawMessage(`{}`)})
	if !res.IsError {
		t.Fatal("missing required field should fail validation")
	}
	if errorType(res) != string(ToolErrorInvalidInput) {
		t.Fatalf("expected invalid_input, got %s", errorType(res))
	}
	if tool.calls != 0 {
		t.Fatal("tool must not run on invalid input")
	}

	res = r.Execute(context.Background(), models.ToolCall{ID: "c2", Name: "strictish", Input: json.RawMessage(`{"path":"a.txt"}`)})
	if res.IsError {
		t.Fatalf("valid input rejected: %s", res.Content)
	}
	if tool.calls != 1 {
		t.Fatal("tool should have run once")
	}
}

func TestRegistryExecuteSizeGuards(t *testing.T) {
	r := NewToolRegistry()

	longName := strings.Repeat("x", MaxToolNameLength+1)
	res := r.Execute(context.Background(), models.ToolCall{ID: "c1", Name: longName})
	if !res.IsError || errorType(res) != string(ToolErrorInvalidInput) {
		t.Fatalf("oversized name not rejected: %+v", res)
	}

	tool := &fakeTool{name: "big"}
	if err := r.Register(tool); err != nil {
		t.Fatalf("register: %v", err)
	}
	huge := json.RawMessage(strings.Repeat("a", MaxToolParamsSize+1))
	res = r.Execute(context.Background(), models.ToolCall{ID: "c2", Name: "big", Input: huge})
	if !res.IsError || errorType(res) != string(ToolErrorInvalidInput) {
		t.Fatalf("oversized input not rejected: %+v", res)
	}
	if tool.calls != 0 {
		t.Fatal("tool must not run on oversized input")
	}
}

func TestRegistryResultTruncation(t *testing.T) {
	r := NewToolRegistry()
	tool := &fakeTool{
		name: "chatty",
		execute: func(context.Context, json.RawMessage) (*models.ToolResult, error) {
			return &models.ToolResult{Content: strings.Repeat("z", MaxToolResultSize+100)}, nil
		},
	}
	if err := r.Register(tool); err != nil {
		t.Fatalf("register: %v", err)
	}

	res := r.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "chatty"})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Content)
	}
	if len(res.Content) > MaxToolResultSize+len("\n...[truncated]") {
		t.Fatalf("result not truncated: %d bytes", len(res.Content))
	}
	if !strings.HasSuffix(res.Content, "[truncated]") {
		t.Fatal("truncation marker missing")
	}
}

func TestRegistryErrorReturnBecomesResult(t *testing.T) {
	r := NewToolRegistry()
	tool := &fakeTool{
		name: "failing",
		execute: func(context.Context, json.RawMessage) (*models.ToolResult, error) {
			return nil, context.DeadlineExceeded
		},
	}
	if err := r.Register(tool); err != nil {
		t.Fatalf("register: %v", err)
	}

	res := r.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "failing"})
	if !res.IsError {
		t.Fatal("error return must become an error result")
	}
	if errorType(res) != string(ToolErrorTimeout) {
		t.Fatalf("expected timeout classification, got %s", errorType(res))
	}
}

func TestRegistryToolsFor(t *testing.T) {
	r := NewToolRegistry()
	reader := &fakeTool{name: "read_thing", readOnly: true}
	writer := &fakeTool{name: "write_thing"}
	spawner := &fakeTool{name: "spawn_thing", restricted: true}
	exit := &fakeTool{name: ExitPlanModeToolName}
	for _, tool := range []Tool{reader, writer, spawner, exit} {
		if err := r.Register(tool); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	names := func(tools []Tool) []string {
		out := make([]string, len(tools))
		for i, tool := range tools {
			out[i] = tool.Name()
		}
		return out
	}

	all := names(r.ToolsFor(false, false))
	if len(all) != 4 {
		t.Fatalf("expected all 4 tools, got %v", all)
	}

	plan := names(r.ToolsFor(true, false))
	if len(plan) != 2 {
		t.Fatalf("plan mode should keep read-only plus exit, got %v", plan)
	}
	for _, n := range plan {
		if n != "read_thing" && n != ExitPlanModeToolName {
			t.Fatalf("unexpected tool in plan mode: %s", n)
		}
	}

	sub := names(r.ToolsFor(false, true))
	for _, n := range sub {
		if n == "spawn_thing" {
			t.Fatal("restricted tool leaked into sub-agent set")
		}
	}
	if len(sub) != 3 {
		t.Fatalf("expected 3 tools for sub-agents, got %v", sub)
	}
}

func TestDefinitionsNormalizeSchema(t *testing.T) {
	tool := &fakeTool{
		name:   "loose",
		schema: json.RawMessage(`{"properties":{"a":{"type":"string"}}}`),
	}
	defs := Definitions([]Tool{tool, &fakeTool{name: "bare"}})
	if len(defs) != 2 {
		t.Fatalf("expected 2 definitions, got %d", len(defs))
	}

	var m map[string]any
	if err := json.Unmarshal(defs[0].InputSchema, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["type"] != "object" {
		t.Fatalf("schema root type not normalized: %v", m["type"])
	}

	if err := json.Unmarshal(defs[1].InputSchema, &m); err != nil {
		t.Fatalf("unmarshal fallback: %v", err)
	}
	if m["type"] != "object" {
		t.Fatal("nil schema should fall back to an empty object schema")
	}
}
