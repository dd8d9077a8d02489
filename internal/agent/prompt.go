package agent

import (
	"fmt"
	"strings"

	"github.com/tessellate-ai/loom/pkg/models"
)

// DefaultSystemPrompt is the base behavioral prompt used when the
// caller supplies no override.
const DefaultSystemPrompt = `You are a capable assistant. Answer directly when you can. Use the available tools when a request needs file access, document generation, or delegation. When you say you created a file, you must have actually created it with a tool in this conversation. Keep responses concise.`

// SkillRef is the lightweight view of a skill the prompt advertises.
type SkillRef struct {
	Name        string
	Description string
}

// PromptAssembler builds the system prompt for each iteration. The
// prompt is recomputed every iteration so state changes made by tools
// (tasks, output files, sub-agents) are visible to the next request.
type PromptAssembler struct {
	// Base replaces DefaultSystemPrompt when set.
	Base string
}

// Build assembles the full system prompt.
//
// Layout: base prompt, then a session state section (only when the
// state is non-empty, with empty subsections omitted), then a skill
// directory (only when skills exist).
func (a *PromptAssembler) Build(override string, state *models.SessionState, skills []SkillRef) string {
	var b strings.Builder

	base := override
	if base == "" {
		base = a.Base
	}
	if base == "" {
		base = DefaultSystemPrompt
	}
	b.WriteString(base)

	a.writeState(&b, state)
	a.writeSkills(&b, skills)

	return b.String()
}

func (a *PromptAssembler) writeState(b *strings.Builder, state *models.SessionState) {
	if state.Empty() {
		return
	}

	b.WriteString("\n\n## Current session state\n")

	if tasks := state.ActiveTasks(); len(tasks) > 0 {
		b.WriteString("\nTasks:\n")
		for _, t := range tasks {
			b.WriteString(fmt.Sprintf("- [%s] %s\n", t.Status, t.Title))
		}
	}

	if len(state.OutputFiles) > 0 {
		b.WriteString("\nGenerated files:\n")
		for _, f := range state.OutputFiles {
			b.WriteString(fmt.Sprintf("- %s\n", f.Name))
		}
	}

	if running := state.RunningSubAgents(); len(running) > 0 {
		b.WriteString("\nRunning sub-agents:\n")
		for _, sa := range running {
			b.WriteString(fmt.Sprintf("- %s: %s\n", sa.ID, sa.Description))
		}
	}
}

func (a *PromptAssembler) writeSkills(b *strings.Builder, skills []SkillRef) {
	if len(skills) == 0 {
		return
	}

	b.WriteString("\n\n## Available skills\n\n")
	b.WriteString("Before attempting a request that matches one of these skills, call load_skill with its name to get the full instructions:\n")
	for _, s := range skills {
		b.WriteString(fmt.Sprintf("- %s: %s\n", s.Name, s.Description))
	}
}
