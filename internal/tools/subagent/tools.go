package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tessellate-ai/loom/internal/agent"
	"github.com/tessellate-ai/loom/pkg/models"
)

// SpawnTool spawns a sub-agent to work on a task.
type SpawnTool struct {
	manager *Manager
}

// NewSpawnTool creates the spawn tool.
func NewSpawnTool(manager *Manager) *SpawnTool {
	return &SpawnTool{manager: manager}
}

// Name returns the tool name.
func (t *SpawnTool) Name() string {
	return "spawn_subagent"
}

// Description returns the tool description.
func (t *SpawnTool) Description() string {
	return "Spawn a sub-agent to work on a specific task in the background. Returns the sub-agent id for tracking."
}

// RestrictedInSubAgents blocks recursive spawning.
func (t *SpawnTool) RestrictedInSubAgents() bool {
	return true
}

// Schema returns the JSON schema for the tool parameters.
func (t *SpawnTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"task": {
				"type": "string",
				"description": "The task for the sub-agent to complete."
			}
		},
		"required": ["task"]
	}`)
}

// Execute spawns a sub-agent.
func (t *SpawnTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		Task string `json:"task"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return errorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Task) == "" {
		return errorResult("task is required"), nil
	}

	summary, err := t.manager.Spawn(ctx, agent.ToolContextFrom(ctx), input.Task)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	return &models.ToolResult{
		Content: fmt.Sprintf("Sub-agent spawned with id %s.\nTask: %s\nUse subagent_status to check progress.", summary.ID, input.Task),
	}, nil
}

// StatusTool reports sub-agent progress.
type StatusTool struct {
	manager *Manager
}

// NewStatusTool creates the status tool.
func NewStatusTool(manager *Manager) *StatusTool {
	return &StatusTool{manager: manager}
}

// Name returns the tool name.
func (t *StatusTool) Name() string {
	return "subagent_status"
}

// Description returns the tool description.
func (t *StatusTool) Description() string {
	return "Check the status of a sub-agent, or list all sub-agents for this session."
}

// ReadOnly keeps status checks available in plan mode.
func (t *StatusTool) ReadOnly() bool {
	return true
}

// RestrictedInSubAgents keeps sub-agents from inspecting each other.
func (t *StatusTool) RestrictedInSubAgents() bool {
	return true
}

// Schema returns the JSON schema for the tool parameters.
func (t *StatusTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"id": {
				"type": "string",
				"description": "Sub-agent id to check (omit to list all)."
			}
		}
	}`)
}

// Execute reports status.
func (t *StatusTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		ID string `json:"id"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return errorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
		}
	}

	if input.ID != "" {
		summary, ok := t.manager.Get(input.ID)
		if !ok {
			return errorResult(fmt.Sprintf("sub-agent not found: %s", input.ID)), nil
		}
		return &models.ToolResult{Content: renderSummary(summary)}, nil
	}

	sessionID := ""
	if tc := agent.ToolContextFrom(ctx); tc != nil {
		sessionID = tc.SessionID
	}
	summaries := t.manager.List(sessionID)
	if len(summaries) == 0 {
		return &models.ToolResult{Content: "No sub-agents found."}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Active sub-agents: %d/%d\n\n", t.manager.ActiveCount(), t.manager.MaxActive())
	for _, s := range summaries {
		fmt.Fprintf(&b, "- %s: %s - %s\n", s.ID, s.State, clip(s.Description, 50))
	}
	return &models.ToolResult{Content: b.String()}, nil
}

// CancelTool stops a running sub-agent.
type CancelTool struct {
	manager *Manager
}

// NewCancelTool creates the cancel tool.
func NewCancelTool(manager *Manager) *CancelTool {
	return &CancelTool{manager: manager}
}

// Name returns the tool name.
func (t *CancelTool) Name() string {
	return "subagent_cancel"
}

// Description returns the tool description.
func (t *CancelTool) Description() string {
	return "Cancel a running sub-agent."
}

// RestrictedInSubAgents keeps sub-agents from cancelling each other.
func (t *CancelTool) RestrictedInSubAgents() bool {
	return true
}

// Schema returns the JSON schema for the tool parameters.
func (t *CancelTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"id": {
				"type": "string",
				"description": "Sub-agent id to cancel."
			}
		},
		"required": ["id"]
	}`)
}

// Execute cancels a sub-agent.
func (t *CancelTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return errorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if input.ID == "" {
		return errorResult("id is required"), nil
	}

	if err := t.manager.Cancel(input.ID); err != nil {
		return errorResult(err.Error()), nil
	}
	return &models.ToolResult{Content: fmt.Sprintf("Sub-agent %s cancelled.", input.ID)}, nil
}

func renderSummary(s models.SubAgentSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sub-agent: %s\nStatus: %s\nTask: %s\n", s.ID, s.State, s.Description)
	switch s.State {
	case models.SubAgentCompleted:
		fmt.Fprintf(&b, "Result: %s\n", s.Result)
	case models.SubAgentFailed:
		fmt.Fprintf(&b, "Error: %s\n", s.Result)
	}
	return b.String()
}

func clip(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func errorResult(message string) *models.ToolResult {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return &models.ToolResult{Content: message, IsError: true}
	}
	return &models.ToolResult{Content: string(payload), IsError: true}
}
