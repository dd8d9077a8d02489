// Package agent implements the agentic loop: streaming completions
// from an LLM provider, executing the tools it requests, and feeding
// results back until the model produces a final answer.
package agent

import (
	"context"
	"encoding/json"

	"github.com/tessellate-ai/loom/pkg/models"
)

// Provider is the LLM provider abstraction. Adapters translate the
// canonical request/chunk shapes to their provider's wire format; the
// loop never sees provider SDK types.
type Provider interface {
	// Name returns the provider identifier ("anthropic", "openai").
	Name() string

	// ResolveModel maps a short alias to a full model id. Unknown
	// aliases pass through unchanged.
	ResolveModel(alias string) string

	// Models returns the model ids this provider supports.
	Models() []string

	// SupportsTools reports whether the provider handles tool calls.
	SupportsTools() bool

	// Complete streams a completion. The returned channel is closed
	// when the stream ends; the final chunk has Done set and carries
	// usage, or Error set on failure.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)
}

// ToolChoiceType controls how the model may use tools.
type ToolChoiceType string

const (
	// ToolChoiceAuto lets the model decide (the default).
	ToolChoiceAuto ToolChoiceType = "auto"

	// ToolChoiceAny forces the model to call some tool.
	ToolChoiceAny ToolChoiceType = "any"

	// ToolChoiceTool forces a specific tool by name.
	ToolChoiceTool ToolChoiceType = "tool"

	// ToolChoiceNone forbids tool calls for this request.
	ToolChoiceNone ToolChoiceType = "none"
)

// ToolChoice is the tool-use policy for one request.
type ToolChoice struct {
	Type ToolChoiceType `json:"type"`

	// Name is the forced tool for ToolChoiceTool.
	Name string `json:"name,omitempty"`
}

// CompletionRequest is a single completion call. Built fresh each
// loop iteration and never mutated after construction.
type CompletionRequest struct {
	// Model is an alias or full model id; the adapter resolves it.
	Model string

	// SystemPrompt travels separately from Messages. Each adapter
	// synthesizes it in its provider's convention.
	SystemPrompt string

	// Messages is the (already truncated) conversation history.
	Messages []models.Message

	// Tools available for this request. Empty means no tool use.
	Tools []ToolDefinition

	// ToolChoice is the tool-use policy. Nil means auto.
	ToolChoice *ToolChoice

	// MaxTokens caps the response length. Zero means the provider
	// default.
	MaxTokens int

	// Temperature controls sampling. Nil means the provider default.
	Temperature *float64
}

// ToolDefinition is the provider-facing description of a tool.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// CompletionChunk is one increment of a streamed completion. Adapters
// assemble partial tool-call fragments internally and only emit
// complete calls.
type CompletionChunk struct {
	// Text is incremental response text.
	Text string

	// ToolCall is a fully assembled tool invocation.
	ToolCall *models.ToolCall

	// Done marks the end of the stream. Usage is only meaningful on
	// the done chunk.
	Done  bool
	Usage models.Usage

	// Error reports a stream failure. The channel closes after an
	// error chunk.
	Error error
}

// Tool is an executable capability exposed to the model.
type Tool interface {
	// Name returns the tool identifier used in tool calls.
	Name() string

	// Description tells the model what the tool does.
	Description() string

	// Schema returns the JSON schema for the tool's input.
	Schema() json.RawMessage

	// Execute runs the tool. Failures should come back as an error
	// result, not an error return; the registry converts stray
	// errors and panics into error results regardless.
	Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error)
}

// ReadOnlyTool marks tools that never mutate state. Read-only tools
// remain callable in plan mode.
type ReadOnlyTool interface {
	Tool
	ReadOnly() bool
}

// SubAgentRestricted marks tools excluded from sub-agent tool sets.
// Spawning tools opt in to prevent unbounded recursion; load_skill
// opts in to keep sub-agent prompts lean.
type SubAgentRestricted interface {
	Tool
	RestrictedInSubAgents() bool
}

// IsReadOnly reports whether t declares itself read-only.
func IsReadOnly(t Tool) bool {
	ro, ok := t.(ReadOnlyTool)
	return ok && ro.ReadOnly()
}

// IsSubAgentRestricted reports whether t is excluded from sub-agents.
func IsSubAgentRestricted(t Tool) bool {
	r, ok := t.(SubAgentRestricted)
	return ok && r.RestrictedInSubAgents()
}
