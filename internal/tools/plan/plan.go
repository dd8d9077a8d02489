// Package plan provides the planning tools: task list management and
// the plan mode exit gate.
package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tessellate-ai/loom/internal/agent"
	"github.com/tessellate-ai/loom/pkg/models"
)

// maxTasks bounds the task list a single call may set.
const maxTasks = 50

// UpdateTasksTool replaces the session task list.
type UpdateTasksTool struct{}

// NewUpdateTasksTool creates the task list tool.
func NewUpdateTasksTool() *UpdateTasksTool {
	return &UpdateTasksTool{}
}

// Name returns the tool name.
func (t *UpdateTasksTool) Name() string {
	return "update_tasks"
}

// Description returns the tool description.
func (t *UpdateTasksTool) Description() string {
	return "Replace the session task list with the given task titles, in order."
}

// ReadOnly keeps task planning available in plan mode.
func (t *UpdateTasksTool) ReadOnly() bool {
	return true
}

// Schema returns the JSON schema for the tool parameters.
func (t *UpdateTasksTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"tasks": {
				"type": "array",
				"items": {"type": "string"},
				"description": "Task titles in execution order."
			}
		},
		"required": ["tasks"]
	}`)
}

// Execute replaces the task list through the tool context.
func (t *UpdateTasksTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		Tasks []string `json:"tasks"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return errorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	titles := make([]string, 0, len(input.Tasks))
	for _, title := range input.Tasks {
		if trimmed := strings.TrimSpace(title); trimmed != "" {
			titles = append(titles, trimmed)
		}
	}
	if len(titles) > maxTasks {
		return errorResult(fmt.Sprintf("too many tasks: %d (max %d)", len(titles), maxTasks)), nil
	}

	tc := agent.ToolContextFrom(ctx)
	if tc == nil || tc.SetTasks == nil {
		return errorResult("task tracking is not available in this session"), nil
	}
	tc.SetTasks(titles)

	return &models.ToolResult{
		Content: fmt.Sprintf("Task list updated: %d tasks.", len(titles)),
	}, nil
}

// ExitPlanModeTool flips plan mode off. It is the one mutating tool
// callable while plan mode is active.
type ExitPlanModeTool struct{}

// NewExitPlanModeTool creates the exit tool.
func NewExitPlanModeTool() *ExitPlanModeTool {
	return &ExitPlanModeTool{}
}

// Name returns the tool name.
func (t *ExitPlanModeTool) Name() string {
	return agent.ExitPlanModeToolName
}

// Description returns the tool description.
func (t *ExitPlanModeTool) Description() string {
	return "Exit plan mode and unlock the full tool set. Call once the plan is ready to execute."
}

// Schema returns the JSON schema for the tool parameters.
func (t *ExitPlanModeTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"plan": {
				"type": "string",
				"description": "Brief summary of the plan being executed (optional)."
			}
		}
	}`)
}

// Execute exits plan mode through the tool context.
func (t *ExitPlanModeTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	tc := agent.ToolContextFrom(ctx)
	if tc == nil || tc.ExitPlanMode == nil {
		return errorResult("plan mode is not active in this session"), nil
	}
	if !tc.PlanMode {
		return &models.ToolResult{Content: "Plan mode was not active."}, nil
	}
	tc.ExitPlanMode()
	tc.PlanMode = false

	return &models.ToolResult{Content: "Plan mode exited. All tools are now available."}, nil
}

func errorResult(message string) *models.ToolResult {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return &models.ToolResult{Content: message, IsError: true}
	}
	return &models.ToolResult{Content: string(payload), IsError: true}
}
