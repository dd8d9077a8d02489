package files

import (
	"context"
	"encoding/json"

	"github.com/tessellate-ai/loom/internal/agent"
	"github.com/tessellate-ai/loom/pkg/models"
)

// Config controls filesystem tool defaults.
type Config struct {
	// Workspace is the fallback root when the request carries no
	// session directory.
	Workspace string

	// MaxReadBytes caps a single read. Default: 200000.
	MaxReadBytes int

	// MaxListEntries caps directory listings. Default: 500.
	MaxListEntries int
}

// resolverFor scopes path resolution to the session working directory
// when one is attached to the request, else the configured workspace.
func resolverFor(ctx context.Context, cfg Config) Resolver {
	if tc := agent.ToolContextFrom(ctx); tc != nil && tc.Dir != "" {
		return Resolver{Root: tc.Dir}
	}
	return Resolver{Root: cfg.Workspace}
}

func toolError(message string) *models.ToolResult {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return &models.ToolResult{Content: message, IsError: true}
	}
	return &models.ToolResult{Content: string(payload), IsError: true}
}

func mustSchema(schema map[string]any) json.RawMessage {
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}
