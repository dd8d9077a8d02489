package agent

import (
	"context"

	"github.com/tessellate-ai/loom/pkg/models"
)

// Shared limits. These cap untrusted sizes flowing through the loop.
const (
	// MaxIterations is the hard cap on loop iterations per run.
	MaxIterations = 25

	// MaxToolNameLength bounds tool names from model output.
	MaxToolNameLength = 256

	// MaxToolParamsSize bounds tool input JSON (10 MB).
	MaxToolParamsSize = 10 * 1024 * 1024

	// MaxToolResultSize bounds tool result content fed back to the
	// model (64 KB). Longer results are truncated.
	MaxToolResultSize = 64 * 1024

	// MaxResponseTextSize bounds accumulated response text (1 MB).
	MaxResponseTextSize = 1024 * 1024

	// MaxToolCallsPerIteration bounds tool calls in one response.
	MaxToolCallsPerIteration = 100
)

// ToolContext is the request-scoped state tools may rely on. Tools
// must take session identity and the working directory from here,
// never from ambient globals.
type ToolContext struct {
	// SessionID identifies the session.
	SessionID string

	// UserID identifies the requesting user, when known.
	UserID string

	// OrgID identifies the tenant, when known.
	OrgID string

	// Dir is the session working directory. All file paths resolve
	// under it.
	Dir string

	// PlanMode restricts execution to read-only tools.
	PlanMode bool

	// SubAgent marks execution inside a sub-agent run.
	SubAgent bool

	// Sink receives events tools emit (state changes). May be nil.
	Sink EventSink

	// ExitPlanMode, when non-nil, is how the exit tool flips plan
	// mode off for the session.
	ExitPlanMode func()

	// SetTasks, when non-nil, replaces the session task list.
	SetTasks func(titles []string)

	// AddOutputFile, when non-nil, records a generated file in the
	// session state.
	AddOutputFile func(file models.OutputFile)
}

// context keys use unexported struct types to avoid collisions.
type toolContextKey struct{}

// WithToolContext attaches the tool context to ctx.
func WithToolContext(ctx context.Context, tc *ToolContext) context.Context {
	return context.WithValue(ctx, toolContextKey{}, tc)
}

// ToolContextFrom extracts the tool context, or nil if absent.
func ToolContextFrom(ctx context.Context) *ToolContext {
	tc, _ := ctx.Value(toolContextKey{}).(*ToolContext)
	return tc
}
