package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tessellate-ai/loom/internal/agent"
	"github.com/tessellate-ai/loom/pkg/models"
)

// Refs converts the manager's skills into the prompt-facing refs the
// loop advertises.
func (m *Manager) Refs() []agent.SkillRef {
	snapshots := m.Snapshots()
	refs := make([]agent.SkillRef, len(snapshots))
	for i, s := range snapshots {
		refs[i] = agent.SkillRef{Name: s.Name, Description: s.Description}
	}
	return refs
}

// LoadTool exposes skill bodies to the model on demand.
type LoadTool struct {
	manager *Manager
}

// NewLoadTool creates the load_skill tool.
func NewLoadTool(manager *Manager) *LoadTool {
	return &LoadTool{manager: manager}
}

// Name returns the tool name.
func (t *LoadTool) Name() string {
	return "load_skill"
}

// Description returns the tool description.
func (t *LoadTool) Description() string {
	return "Load the full instructions of a skill by name. Use when a listed skill is relevant to the current task."
}

// ReadOnly keeps skill loading available in plan mode.
func (t *LoadTool) ReadOnly() bool {
	return true
}

// RestrictedInSubAgents keeps sub-agent prompts lean.
func (t *LoadTool) RestrictedInSubAgents() bool {
	return true
}

// Schema returns the JSON schema for the tool parameters.
func (t *LoadTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {
				"type": "string",
				"description": "Skill name as listed in the system prompt."
			}
		},
		"required": ["name"]
	}`)
}

// Execute loads the skill content.
func (t *LoadTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return errorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Name) == "" {
		return errorResult("name is required"), nil
	}

	content, err := t.manager.LoadContent(input.Name)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	return &models.ToolResult{
		Content: fmt.Sprintf("# Skill: %s\n\n%s", input.Name, content),
	}, nil
}

func errorResult(message string) *models.ToolResult {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return &models.ToolResult{Content: message, IsError: true}
	}
	return &models.ToolResult{Content: string(payload), IsError: true}
}
