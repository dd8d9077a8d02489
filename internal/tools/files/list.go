package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tessellate-ai/loom/pkg/models"
)

// ListTool lists directory entries within the workspace.
type ListTool struct {
	cfg        Config
	maxEntries int
}

// NewListTool creates a list tool scoped to the workspace.
func NewListTool(cfg Config) *ListTool {
	limit := cfg.MaxListEntries
	if limit <= 0 {
		limit = 500
	}
	return &ListTool{cfg: cfg, maxEntries: limit}
}

// Name returns the tool name.
func (t *ListTool) Name() string {
	return "list_files"
}

// Description returns the tool description.
func (t *ListTool) Description() string {
	return "List files and directories in the session workspace."
}

// ReadOnly marks the tool safe in plan mode.
func (t *ListTool) ReadOnly() bool {
	return true
}

// Schema returns the JSON schema for the tool parameters.
func (t *ListTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Directory to list (relative to the session workspace, default: workspace root).",
			},
			"recursive": map[string]any{
				"type":        "boolean",
				"description": "Walk subdirectories (default: false).",
			},
		},
	})
}

type listEntry struct {
	Path  string `json:"path"`
	Dir   bool   `json:"dir"`
	Bytes int64  `json:"bytes"`
}

// Execute lists directory contents.
func (t *ListTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		Path      string `json:"path"`
		Recursive bool   `json:"recursive"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
		}
	}
	if strings.TrimSpace(input.Path) == "" {
		input.Path = "."
	}

	resolver := resolverFor(ctx, t.cfg)
	resolved, err := resolver.Resolve(input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}

	var entries []listEntry
	capped := false

	if input.Recursive {
		err = filepath.WalkDir(resolved, func(path string, d os.DirEntry, walkErr error) error {
			if walkErr != nil {
				return nil
			}
			if path == resolved {
				return nil
			}
			if len(entries) >= t.maxEntries {
				capped = true
				return filepath.SkipAll
			}
			rel, relErr := filepath.Rel(resolved, path)
			if relErr != nil {
				return nil
			}
			entry := listEntry{Path: rel, Dir: d.IsDir()}
			if info, infoErr := d.Info(); infoErr == nil && !d.IsDir() {
				entry.Bytes = info.Size()
			}
			entries = append(entries, entry)
			return nil
		})
		if err != nil {
			return toolError(fmt.Sprintf("walk directory: %v", err)), nil
		}
	} else {
		dirEntries, readErr := os.ReadDir(resolved)
		if readErr != nil {
			return toolError(fmt.Sprintf("read directory: %v", readErr)), nil
		}
		for _, d := range dirEntries {
			if len(entries) >= t.maxEntries {
				capped = true
				break
			}
			entry := listEntry{Path: d.Name(), Dir: d.IsDir()}
			if info, infoErr := d.Info(); infoErr == nil && !d.IsDir() {
				entry.Bytes = info.Size()
			}
			entries = append(entries, entry)
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	result := map[string]any{
		"path":    input.Path,
		"entries": entries,
		"count":   len(entries),
		"capped":  capped,
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}

	return &models.ToolResult{Content: string(payload)}, nil
}
