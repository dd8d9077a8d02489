package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tessellate-ai/loom/pkg/models"
)

// ExitPlanModeToolName is the one non-read-only tool callable while
// plan mode is active.
const ExitPlanModeToolName = "exit_plan_mode"

// ToolRegistry holds the tools available to the loop. It is populated
// at startup and treated as immutable afterwards; the map is still
// lock-guarded so late registration in tests stays safe.
type ToolRegistry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	schemas  map[string]*jsonschema.Schema
	validate bool
}

// NewToolRegistry creates an empty registry. Input validation against
// tool schemas is on by default.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools:    make(map[string]Tool),
		schemas:  make(map[string]*jsonschema.Schema),
		validate: true,
	}
}

// Register adds a tool. Re-registering the same name replaces the
// previous entry, so registration is idempotent.
func (r *ToolRegistry) Register(t Tool) error {
	if t == nil {
		return fmt.Errorf("register: nil tool")
	}
	name := t.Name()
	if name == "" {
		return fmt.Errorf("register: empty tool name")
	}
	if len(name) > MaxToolNameLength {
		return fmt.Errorf("register: tool name too long: %d chars", len(name))
	}

	var compiled *jsonschema.Schema
	if raw := normalizeSchema(t.Schema()); raw != nil {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(name+".json", strings.NewReader(string(raw))); err != nil {
			return fmt.Errorf("register %s: bad schema: %w", name, err)
		}
		s, err := c.Compile(name + ".json")
		if err != nil {
			return fmt.Errorf("register %s: bad schema: %w", name, err)
		}
		compiled = s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = t
	if compiled != nil {
		r.schemas[name] = compiled
	} else {
		delete(r.schemas, name)
	}
	return nil
}

// Get returns the tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all tools sorted by name.
func (r *ToolRegistry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// ToolsFor returns the tool set for a request. Plan mode keeps only
// read-only tools plus the designated exit tool; sub-agent runs drop
// recursion-restricted tools.
func (r *ToolRegistry) ToolsFor(planMode, subAgent bool) []Tool {
	all := r.List()
	out := make([]Tool, 0, len(all))
	for _, t := range all {
		if planMode && !IsReadOnly(t) && t.Name() != ExitPlanModeToolName {
			continue
		}
		if subAgent && IsSubAgentRestricted(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Definitions derives provider-facing definitions with schema roots
// normalized to object type.
func Definitions(tools []Tool) []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(tools))
	for _, t := range tools {
		schema := normalizeSchema(t.Schema())
		if schema == nil {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		defs = append(defs, ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: schema,
		})
	}
	return defs
}

// normalizeSchema ensures the schema root declares type object.
// Tools sometimes omit the root type; providers reject that.
func normalizeSchema(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return raw
	}
	if _, ok := m["type"]; ok {
		return raw
	}
	m["type"] = "object"
	fixed, err := json.Marshal(m)
	if err != nil {
		return raw
	}
	return fixed
}

// Execute runs a tool call and always returns a result. Unknown
// tools, invalid input, execution errors, and panics all come back as
// error results; the returned error is reserved for context
// cancellation, which the loop handles itself.
func (r *ToolRegistry) Execute(ctx context.Context, call models.ToolCall) *models.ToolResult {
	if len(call.Name) > MaxToolNameLength {
		return errorResult(call.ID, NewToolError(call.Name, fmt.Errorf("tool name exceeds %d chars", MaxToolNameLength)).WithType(ToolErrorInvalidInput))
	}
	if len(call.Input) > MaxToolParamsSize {
		return errorResult(call.ID, NewToolError(call.Name, fmt.Errorf("tool input exceeds %d bytes", MaxToolParamsSize)).WithType(ToolErrorInvalidInput))
	}

	tool, ok := r.Get(call.Name)
	if !ok {
		return errorResult(call.ID, NewToolError(call.Name, fmt.Errorf("unknown tool %q: %w", call.Name, ErrToolNotFound)))
	}

	if tc := ToolContextFrom(ctx); tc != nil && tc.PlanMode {
		if !IsReadOnly(tool) && call.Name != ExitPlanModeToolName {
			return errorResult(call.ID, NewToolError(call.Name,
				fmt.Errorf("%w: %s is not read-only; exit plan mode first", ErrPlanModeRestricted, call.Name)))
		}
	}

	if err := r.validateInput(call.Name, call.Input); err != nil {
		return errorResult(call.ID, NewToolError(call.Name, err).WithType(ToolErrorInvalidInput))
	}

	result := r.runGuarded(ctx, tool, call)
	if result == nil {
		result = errorResult(call.ID, NewToolError(call.Name, fmt.Errorf("tool returned no result")))
	}
	result.ToolCallID = call.ID
	if len(result.Content) > MaxToolResultSize {
		result.Content = result.Content[:MaxToolResultSize] + "\n...[truncated]"
	}
	return result
}

// validateInput checks input against the tool's compiled schema.
func (r *ToolRegistry) validateInput(name string, input json.RawMessage) error {
	if !r.validate {
		return nil
	}
	r.mu.RLock()
	schema := r.schemas[name]
	r.mu.RUnlock()
	if schema == nil {
		return nil
	}

	var doc any
	raw := input
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("invalid JSON input: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("input validation failed: %w", err)
	}
	return nil
}

// runGuarded executes the tool with panic recovery.
func (r *ToolRegistry) runGuarded(ctx context.Context, tool Tool, call models.ToolCall) (result *models.ToolResult) {
	defer func() {
		if rec := recover(); rec != nil {
			result = errorResult(call.ID, NewToolError(call.Name,
				fmt.Errorf("%w: %v", ErrToolPanic, rec)))
		}
	}()

	res, err := tool.Execute(ctx, call.Input)
	if err != nil {
		return errorResult(call.ID, NewToolError(call.Name, err))
	}
	return res
}

// errorResult wraps a tool error as a result the model can read.
func errorResult(callID string, err *ToolError) *models.ToolResult {
	return &models.ToolResult{
		ToolCallID: callID,
		Content:    err.Error(),
		IsError:    true,
		Metadata:   map[string]any{"error_type": string(err.Type)},
	}
}
