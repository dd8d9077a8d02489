package models

import "time"

// AgentEvent is the unified event model for the run's streaming
// surface. One stream drives the UI, logging, and stats.
//
// Design principles:
//   - Versioned and forward-compatible (add fields, don't rename/remove)
//   - Single Type discriminator with optional payload pointers
//   - Monotonic Sequence for ordering guarantees across goroutines
type AgentEvent struct {
	// Version for forward compatibility. Current version: 1.
	Version int `json:"version"`

	// Type identifies the kind of event.
	Type AgentEventType `json:"type"`

	// Time is when the event occurred.
	Time time.Time `json:"time"`

	// Sequence is monotonic within a run for ordering guarantees.
	Sequence uint64 `json:"seq"`

	// RunID identifies the agent run.
	RunID string `json:"run_id,omitempty"`

	// IterIndex is the 0-based loop iteration.
	IterIndex int `json:"iter_index,omitempty"`

	// SubAgentID tags events forwarded from a sub-agent run.
	SubAgentID string `json:"sub_agent_id,omitempty"`

	// Exactly one payload should be non-nil for a given Type.
	Stream   *StreamEventPayload   `json:"stream,omitempty"`
	Tool     *ToolEventPayload     `json:"tool,omitempty"`
	State    *StateEventPayload    `json:"state,omitempty"`
	SubAgent *SubAgentEventPayload `json:"sub_agent,omitempty"`
	Error    *ErrorEventPayload    `json:"error,omitempty"`
	Usage    *Usage                `json:"usage,omitempty"`
}

// AgentEventType identifies the kind of agent event.
type AgentEventType string

const (
	// Run lifecycle. Every run terminates with exactly one of
	// run.finished or run.error.
	AgentEventRunStarted  AgentEventType = "run.started"
	AgentEventRunFinished AgentEventType = "run.finished"
	AgentEventRunError    AgentEventType = "run.error"

	// Model streaming.
	AgentEventModelDelta AgentEventType = "model.delta"

	// Tool execution. For one call, started always precedes
	// finished; deltas from the model may interleave between calls.
	AgentEventToolStarted  AgentEventType = "tool.started"
	AgentEventToolFinished AgentEventType = "tool.finished"

	// Session state transitions (plan mode entered/exited, task list
	// replaced).
	AgentEventStateChanged AgentEventType = "state.changed"

	// Sub-agent status reports, forwarded into the parent stream
	// tagged with SubAgentID.
	AgentEventSubAgentStatus AgentEventType = "subagent.status"
)

// StreamEventPayload carries model streaming deltas.
type StreamEventPayload struct {
	// Delta is the incremental text.
	Delta string `json:"delta,omitempty"`

	// Provider/Model for debugging (optional).
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

// ToolEventPayload describes tool call lifecycle events.
// Args/Result are opaque bytes to avoid coupling to tool schemas.
type ToolEventPayload struct {
	// CallID identifies this specific tool invocation.
	CallID string `json:"call_id,omitempty"`

	// Name is the tool name.
	Name string `json:"name,omitempty"`

	// ArgsJSON is the raw JSON arguments (started events).
	ArgsJSON []byte `json:"args_json,omitempty"`

	// For finished events:
	Success bool          `json:"success,omitempty"`
	Result  string        `json:"result,omitempty"`
	Elapsed time.Duration `json:"elapsed,omitempty"`
}

// StateEventPayload describes a session state transition.
type StateEventPayload struct {
	// Field names what changed ("plan_mode", "tasks", "output_files").
	Field string `json:"field"`

	// Detail is a short display-safe description of the change.
	Detail string `json:"detail,omitempty"`

	// PlanMode is the new plan-mode value for plan_mode changes.
	PlanMode bool `json:"plan_mode,omitempty"`
}

// SubAgentEventPayload is a status report from a spawned sub-agent.
type SubAgentEventPayload struct {
	ID          string        `json:"id"`
	Description string        `json:"description,omitempty"`
	State       SubAgentState `json:"state"`
	Result      string        `json:"result,omitempty"`
}

// ErrorEventPayload standardizes errors on the stream. Message is
// display-safe; diagnostic detail goes to the operator log only.
type ErrorEventPayload struct {
	// Message is the error description (required).
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Recoverable indicates the run produced usable partial output
	// (iteration-limit stops set this).
	Recoverable bool `json:"recoverable,omitempty"`

	// Err is the original error (runtime only, not serialized).
	// Preserves error types for errors.Is/errors.As.
	Err error `json:"-"`
}

// Terminal reports whether the event ends the stream.
func (e AgentEvent) Terminal() bool {
	return e.Type == AgentEventRunFinished || e.Type == AgentEventRunError
}
