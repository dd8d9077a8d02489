// Package document provides the document generation tool. A
// successful create ends the agent turn after one closing pass, so
// generated files are delivered instead of iterated on.
package document

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tessellate-ai/loom/internal/agent"
	"github.com/tessellate-ai/loom/internal/artifacts"
	"github.com/tessellate-ai/loom/pkg/models"
)

// outputsDir is where generated documents land inside the session
// working directory.
const outputsDir = "outputs"

// CreateTool writes a document into the session workspace and
// registers it as an artifact.
type CreateTool struct {
	create artifacts.CreateFunc
}

// NewCreateTool creates the tool. A nil create func skips artifact
// registration; the file is still written.
func NewCreateTool(create artifacts.CreateFunc) *CreateTool {
	return &CreateTool{create: create}
}

// Name returns the tool name.
func (t *CreateTool) Name() string {
	return agent.CreateDocumentToolName
}

// Description returns the tool description.
func (t *CreateTool) Description() string {
	return "Create a document with the given name and content. The file is saved to the session outputs directory and delivered to the user."
}

// Schema returns the JSON schema for the tool parameters.
func (t *CreateTool) Schema() json.RawMessage {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{
				"type":        "string",
				"description": "File name including extension (e.g. report.md, data.csv).",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Full document content.",
			},
			"mime_type": map[string]any{
				"type":        "string",
				"description": "MIME type (optional, inferred from the extension).",
			},
		},
		"required": []string{"name", "content"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// Execute writes the document and records the artifact.
func (t *CreateTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		Name     string `json:"name"`
		Content  string `json:"content"`
		MimeType string `json:"mime_type"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return errorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	name := filepath.Base(strings.TrimSpace(input.Name))
	if name == "" || name == "." || name == string(os.PathSeparator) {
		return errorResult("name is required"), nil
	}

	mimeType := input.MimeType
	if mimeType == "" {
		mimeType = mimeTypeFor(name)
	}

	tc := agent.ToolContextFrom(ctx)

	dir := "."
	sessionID := ""
	if tc != nil {
		if tc.Dir != "" {
			dir = tc.Dir
		}
		sessionID = tc.SessionID
	}
	outDir := filepath.Join(dir, outputsDir)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return errorResult(fmt.Sprintf("create outputs directory: %v", err)), nil
	}

	path := filepath.Join(outDir, name)
	if err := os.WriteFile(path, []byte(input.Content), 0o644); err != nil {
		return errorResult(fmt.Sprintf("write document: %v", err)), nil
	}

	artifactID := ""
	if t.create != nil {
		stored, err := t.create(ctx, &models.Artifact{
			SessionID: sessionID,
			Name:      name,
			MimeType:  mimeType,
		}, strings.NewReader(input.Content))
		if err != nil {
			// The file on disk is the deliverable; registration
			// failure is reported but does not fail the call.
			return &models.ToolResult{
				Content: fmt.Sprintf("Document %s written to %s, but artifact registration failed: %v", name, path, err),
			}, nil
		}
		artifactID = stored.ID
	}

	if tc != nil && tc.AddOutputFile != nil {
		tc.AddOutputFile(models.OutputFile{
			Name:       name,
			Path:       path,
			SizeBytes:  int64(len(input.Content)),
			ArtifactID: artifactID,
			CreatedAt:  time.Now(),
		})
	}

	result := map[string]any{
		"name":      name,
		"path":      path,
		"mime_type": mimeType,
		"bytes":     len(input.Content),
	}
	if artifactID != "" {
		result["artifact_id"] = artifactID
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &models.ToolResult{Content: string(payload)}, nil
}

// mimeTypeFor infers a MIME type from the file extension.
func mimeTypeFor(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".md":
		return "text/markdown"
	case ".csv":
		return "text/csv"
	case ".txt":
		return "text/plain"
	case ".json":
		return "application/json"
	}
	if byExt := mime.TypeByExtension(ext); byExt != "" {
		return byExt
	}
	return "application/octet-stream"
}

func errorResult(message string) *models.ToolResult {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return &models.ToolResult{Content: message, IsError: true}
	}
	return &models.ToolResult{Content: string(payload), IsError: true}
}
