// Package models provides domain types for the loom agent runtime.
package models

import (
	"encoding/json"
	"time"
)

// Role identifies who authored a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is the canonical conversation message. Provider adapters
// translate to and from this shape; nothing outside the adapters deals
// in provider wire formats.
//
// The system prompt never appears as a RoleSystem message in a turn
// sequence. It travels separately on the completion request and each
// adapter synthesizes it in its provider's convention.
type Message struct {
	// ID uniquely identifies the message.
	ID string `json:"id"`

	// SessionID links the message to its session.
	SessionID string `json:"session_id,omitempty"`

	// Role is who authored this message.
	Role Role `json:"role"`

	// Content is the text content.
	Content string `json:"content"`

	// ToolCalls are tool invocations requested by the assistant.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolResults are results for earlier tool calls. Every
	// ToolCallID here references a ToolCall issued earlier in the
	// same run.
	ToolResults []ToolResult `json:"tool_results,omitempty"`

	// Metadata carries auxiliary flags (summary markers, sub-agent
	// tags). Never shown to the model directly.
	Metadata map[string]any `json:"metadata,omitempty"`

	// CreatedAt is when the message was created.
	CreatedAt time.Time `json:"created_at"`
}

// HasTools reports whether the message carries tool calls or results.
func (m *Message) HasTools() bool {
	return len(m.ToolCalls) > 0 || len(m.ToolResults) > 0
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	// ID is the provider-assigned call id, echoed back in the
	// matching ToolResult.
	ID string `json:"id"`

	// Name is the tool name.
	Name string `json:"name"`

	// Input is the raw JSON arguments.
	Input json.RawMessage `json:"input"`
}

// ToolResult is the outcome of one tool call.
type ToolResult struct {
	// ToolCallID references the ToolCall this result answers.
	ToolCallID string `json:"tool_call_id"`

	// Content is the textual result fed back to the model.
	Content string `json:"content"`

	// IsError marks failed executions. Tool failures are data, not
	// control flow: they ride back to the model as error results.
	IsError bool `json:"is_error,omitempty"`

	// Metadata carries side-channel signals for the loop (turn
	// completion markers, artifact ids). Not sent to the model.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Usage is the token accounting for a completion or a whole run.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates another usage figure into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}
