package providers

import (
	"encoding/json"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tessellate-ai/loom/internal/agent"
	"github.com/tessellate-ai/loom/pkg/models"
)

func intPtr(i int) *int { return &i }

func TestToolCallAccumulatorMergesByIndex(t *testing.T) {
	acc := newToolCallAccumulator()

	// First fragment carries id and name; followups only arguments.
	acc.add(openai.ToolCall{
		Index: intPtr(0),
		ID:    "call_1",
		Function: openai.FunctionCall{
			Name:      "read_file",
			Arguments: `{"path":`,
		},
	})
	acc.add(openai.ToolCall{
		Index: intPtr(0),
		Function: openai.FunctionCall{
			Arguments: `"a.txt"}`,
		},
	})

	calls := acc.flush()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	call := calls[0]
	if call.ID != "call_1" || call.Name != "read_file" {
		t.Fatalf("unexpected call identity: %+v", call)
	}
	if string(call.Input) != `{"path":"a.txt"}` {
		t.Fatalf("arguments not merged: %s", call.Input)
	}
}

func TestToolCallAccumulatorParallelCalls(t *testing.T) {
	acc := newToolCallAccumulator()

	acc.add(openai.ToolCall{Index: intPtr(1), ID: "call_b", Function: openai.FunctionCall{Name: "b"}})
	acc.add(openai.ToolCall{Index: intPtr(0), ID: "call_a", Function: openai.FunctionCall{Name: "a", Arguments: `{}`}})
	acc.add(openai.ToolCall{Index: intPtr(1), Function: openai.FunctionCall{Arguments: `{"x":1}`}})

	calls := acc.flush()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	// Arrival order, not index order.
	if calls[0].ID != "call_b" || calls[1].ID != "call_a" {
		t.Fatalf("calls out of arrival order: %s, %s", calls[0].ID, calls[1].ID)
	}
	if string(calls[0].Input) != `{"x":1}` {
		t.Fatalf("unexpected merged input: %s", calls[0].Input)
	}
}

func TestToolCallAccumulatorDropsIncomplete(t *testing.T) {
	acc := newToolCallAccumulator()

	// Never got an id: dropped at flush.
	acc.add(openai.ToolCall{Index: intPtr(0), Function: openai.FunctionCall{Name: "orphan", Arguments: `{}`}})
	// Never got a name: dropped at flush.
	acc.add(openai.ToolCall{Index: intPtr(1), ID: "call_2"})
	// Complete but empty arguments: defaults to {}.
	acc.add(openai.ToolCall{Index: intPtr(2), ID: "call_3", Function: openai.FunctionCall{Name: "ping"}})

	calls := acc.flush()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if string(calls[0].Input) != `{}` {
		t.Fatalf("expected empty object input, got %s", calls[0].Input)
	}

	// flush resets the accumulator.
	if again := acc.flush(); len(again) != 0 {
		t.Fatalf("expected empty flush after reset, got %d", len(again))
	}
}

func TestConvertOpenAIMessages(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleSystem, Content: "inline system is dropped"},
		{Role: models.RoleUser, Content: "hi"},
		{
			Role:    models.RoleAssistant,
			Content: "checking",
			ToolCalls: []models.ToolCall{
				{ID: "call_1", Name: "read_file", Input: json.RawMessage(`{"path":"a.txt"}`)},
			},
		},
		{
			Role: models.RoleTool,
			ToolResults: []models.ToolResult{
				{ToolCallID: "call_1", Content: "contents"},
				{ToolCallID: "call_2", Content: "more"},
			},
		},
	}

	out := convertOpenAIMessages(messages, "be helpful")

	// system + user + assistant + two tool messages
	if len(out) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(out))
	}
	if out[0].Role != openai.ChatMessageRoleSystem || out[0].Content != "be helpful" {
		t.Fatalf("system prompt not injected first: %+v", out[0])
	}
	if out[2].Role != openai.ChatMessageRoleAssistant || len(out[2].ToolCalls) != 1 {
		t.Fatalf("assistant tool calls lost: %+v", out[2])
	}
	if out[2].ToolCalls[0].Function.Arguments != `{"path":"a.txt"}` {
		t.Fatalf("tool call arguments mangled: %s", out[2].ToolCalls[0].Function.Arguments)
	}
	if out[3].Role != openai.ChatMessageRoleTool || out[3].ToolCallID != "call_1" {
		t.Fatalf("first tool result wrong: %+v", out[3])
	}
	if out[4].ToolCallID != "call_2" {
		t.Fatalf("second tool result wrong: %+v", out[4])
	}
}

func TestConvertOpenAITools(t *testing.T) {
	defs := []agent.ToolDefinition{
		{
			Name:        "write_file",
			Description: "write a file",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`),
		},
		{
			Name:        "broken",
			InputSchema: json.RawMessage(`{bad`),
		},
	}

	out := convertOpenAITools(defs)
	if len(out) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(out))
	}

	fn := out[0].Function
	if fn.Name != "write_file" || !fn.Strict {
		t.Fatalf("unexpected function definition: %+v", fn)
	}
	params := fn.Parameters.(map[string]any)
	if params["additionalProperties"] != false {
		t.Fatal("strict transform not applied")
	}

	// A broken schema degrades to an empty strict object.
	broken := out[1].Function.Parameters.(map[string]any)
	if broken["type"] != "object" || broken["additionalProperties"] != false {
		t.Fatalf("broken schema fallback wrong: %v", broken)
	}
}

func TestOpenAIResolveModel(t *testing.T) {
	p := &OpenAIProvider{defaultModel: "gpt-4o"}

	cases := map[string]string{
		"4o-mini":        "gpt-4o-mini",
		"GPT":            "gpt-4o",
		"gpt-4o":         "gpt-4o",
		"custom-model-x": "custom-model-x",
	}
	for alias, want := range cases {
		if got := p.ResolveModel(alias); got != want {
			t.Errorf("ResolveModel(%q) = %q, want %q", alias, got, want)
		}
	}

	if p.model("") != "gpt-4o" {
		t.Fatal("empty model should use default")
	}
}

func TestNewOpenAIProviderRequiresKey(t *testing.T) {
	if _, err := NewOpenAIProvider(OpenAIConfig{}); err == nil {
		t.Fatal("expected error without api key")
	}
}
