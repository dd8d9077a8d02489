package agent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tessellate-ai/loom/internal/observability"
	"github.com/tessellate-ai/loom/pkg/models"
)

// CreateDocumentToolName is the document generation tool. A
// successful call ends the turn after one more error-free pass.
const CreateDocumentToolName = "create_document"

// fileProducingTools are the tools whose execution satisfies the
// delivery heuristic.
var fileProducingTools = map[string]bool{
	CreateDocumentToolName: true,
	"write_file":           true,
}

// LoopConfig configures the agentic loop.
type LoopConfig struct {
	// MaxIterations caps loop iterations per run.
	// Default: MaxIterations (25).
	MaxIterations int

	// MaxTokens per completion. Default: 4096.
	MaxTokens int

	// Temperature for completions. Nil means provider default.
	Temperature *float64

	// Truncate configures history truncation.
	Truncate TruncateOptions

	// BasePrompt overrides the default system prompt.
	BasePrompt string
}

// DefaultLoopConfig returns the production defaults.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		MaxIterations: MaxIterations,
		MaxTokens:     4096,
		Truncate:      DefaultTruncateOptions(),
	}
}

// Loop drives the agentic conversation: stream a completion, execute
// requested tools in order, feed results back, repeat until the model
// stops calling tools or a limit is hit.
type Loop struct {
	provider  Provider
	registry  *ToolRegistry
	truncator *Truncator
	prompts   *PromptAssembler
	config    LoopConfig
	logger    *slog.Logger
	metrics   *observability.AgentMetrics
}

// NewLoop creates a loop. Provider and registry are required; nil
// logger and metrics are replaced with no-op implementations.
func NewLoop(provider Provider, registry *ToolRegistry, config LoopConfig, logger *slog.Logger, metrics *observability.AgentMetrics) *Loop {
	if config.MaxIterations <= 0 || config.MaxIterations > MaxIterations {
		config.MaxIterations = MaxIterations
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 4096
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loop{
		provider:  provider,
		registry:  registry,
		truncator: NewTruncator(config.Truncate),
		prompts:   &PromptAssembler{Base: config.BasePrompt},
		config:    config,
		logger:    logger,
		metrics:   metrics,
	}
}

// RunInput is one loop invocation.
type RunInput struct {
	// Session identifies the conversation and working directory.
	Session *models.Session

	// History is the prior conversation, oldest first.
	History []models.Message

	// Message is the new user message driving this run.
	Message models.Message

	// State is the mutable session state. Tools may change it
	// through the tool context; the caller sees the updates.
	State *models.SessionState

	// Skills advertised in the system prompt.
	Skills []SkillRef

	// SystemPrompt overrides the assembled base prompt when set.
	SystemPrompt string

	// Model is the alias or model id for this run.
	Model string

	// SubAgent marks this run as a sub-agent invocation, dropping
	// recursion-restricted tools.
	SubAgent bool

	// Sink receives the run's event stream. Nil discards events.
	Sink EventSink
}

// RunResult is the outcome of a completed run.
type RunResult struct {
	// RunID identifies the run in the event stream.
	RunID string

	// Text is the final assistant text.
	Text string

	// Messages are the messages this run appended (assistant turns
	// and tool results), ready for persistence.
	Messages []models.Message

	// Usage is the summed token usage across iterations.
	Usage models.Usage

	// Iterations is how many loop iterations ran.
	Iterations int

	// StoppedAtCap is set when the iteration limit ended the run.
	// Streamed text up to that point remains valid.
	StoppedAtCap bool
}

// Run executes the loop to completion. The event stream on
// input.Sink always terminates with run.finished or run.error.
// A non-nil error means the run failed; tool failures are not errors
// (they flow back to the model as error results).
func (l *Loop) Run(ctx context.Context, input *RunInput) (*RunResult, error) {
	if l.provider == nil {
		return nil, ErrNoProvider
	}
	if input.State == nil {
		input.State = &models.SessionState{}
	}

	runID := uuid.NewString()
	emitter := NewEventEmitter(runID, input.Sink)
	result := &RunResult{RunID: runID}

	ctx, span := observability.StartSpan(ctx, "agent.run")
	defer span.End()

	emitter.RunStarted(ctx)
	l.logger.Info("run started",
		"run_id", runID,
		"session_id", sessionID(input),
		"model", input.Model,
		"sub_agent", input.SubAgent)

	history := make([]models.Message, 0, len(input.History)+1)
	history = append(history, input.History...)
	history = append(history, input.Message)

	tc := l.toolContext(input, emitter)
	ctx = WithToolContext(ctx, tc)

	var (
		finalTurn   bool // next request offers no tools, then we stop
		corrected   bool // delivery heuristic already fired once
		fileToolRan bool
	)

	for iter := 0; iter < l.config.MaxIterations; iter++ {
		emitter.SetIter(iter)
		result.Iterations = iter + 1
		l.metrics.IterationStarted()

		// Suspension point: honor cancellation before a new request.
		if err := ctx.Err(); err != nil {
			return l.fail(ctx, emitter, result, &LoopError{Phase: PhaseInit, Iteration: iter, Cause: err}, "cancelled")
		}

		req := l.buildRequest(input, history, finalTurn)

		text, toolCalls, iterUsage, err := l.streamPhase(ctx, emitter, req)
		if err != nil {
			return l.fail(ctx, emitter, result, &LoopError{Phase: PhaseStream, Iteration: iter, Cause: err}, "provider_error")
		}
		result.Usage.Add(iterUsage)
		l.metrics.AddTokens(iterUsage.InputTokens, iterUsage.OutputTokens)

		if len(toolCalls) == 0 || finalTurn {
			if !finalTurn && !corrected && !fileToolRan && iter+1 < l.config.MaxIterations &&
				wantsFileDelivery(input.Message.Content) && claimsDelivery(text) {
				// The model claims it produced a file but never
				// called a file tool. Discard the claim and force a
				// corrective turn.
				corrected = true
				l.logger.Warn("delivery claim without file tool, forcing corrective turn",
					"run_id", runID, "iteration", iter)
				history = append(history, correctiveMessage())
				continue
			}

			result.Text = text
			assistant := assistantMessage(sessionID(input), text, nil)
			history = append(history, assistant)
			result.Messages = append(result.Messages, assistant)
			emitter.RunFinished(ctx, result.Usage)
			l.logger.Info("run finished",
				"run_id", runID,
				"iterations", result.Iterations,
				"input_tokens", result.Usage.InputTokens,
				"output_tokens", result.Usage.OutputTokens)
			return result, nil
		}

		if len(toolCalls) > MaxToolCallsPerIteration {
			toolCalls = toolCalls[:MaxToolCallsPerIteration]
		}

		assistant := assistantMessage(sessionID(input), text, toolCalls)
		history = append(history, assistant)
		result.Messages = append(result.Messages, assistant)

		results, toolErrored, docCreated := l.executeToolsPhase(ctx, emitter, tc, input, toolCalls)
		for _, call := range toolCalls {
			if fileProducingTools[call.Name] {
				fileToolRan = true
			}
		}

		toolMsg := toolMessage(sessionID(input), results)
		history = append(history, toolMsg)
		result.Messages = append(result.Messages, toolMsg)

		if err := ctx.Err(); err != nil {
			return l.fail(ctx, emitter, result, &LoopError{Phase: PhaseExecuteTools, Iteration: iter, Cause: err}, "cancelled")
		}

		// A failed tool gets one final text-only explanation; a
		// created document gets one closing error-free pass. Either
		// way the next request carries no tools and ends the run.
		if toolErrored || docCreated {
			finalTurn = true
		}
	}

	// Iteration cap. Recoverable: text streamed so far stays visible.
	result.StoppedAtCap = true
	capErr := &LoopError{
		Phase:     PhaseComplete,
		Iteration: l.config.MaxIterations,
		Message:   fmt.Sprintf("stopped after %d iterations", l.config.MaxIterations),
		Cause:     ErrMaxIterations,
	}
	emitter.RunError(ctx, capErr, "iteration_limit", true)
	l.logger.Warn("run hit iteration limit", "run_id", runID, "limit", l.config.MaxIterations)
	return result, nil
}

// buildRequest constructs the completion request for one iteration.
// The request is built fresh each time: prompt and truncation are
// recomputed so tool side effects show up immediately.
func (l *Loop) buildRequest(input *RunInput, history []models.Message, finalTurn bool) *CompletionRequest {
	req := &CompletionRequest{
		Model:        input.Model,
		SystemPrompt: l.prompts.Build(input.SystemPrompt, input.State, input.Skills),
		Messages:     l.truncator.Truncate(history),
		MaxTokens:    l.config.MaxTokens,
		Temperature:  l.config.Temperature,
	}
	if finalTurn {
		req.ToolChoice = &ToolChoice{Type: ToolChoiceNone}
		return req
	}
	req.Tools = Definitions(l.registry.ToolsFor(input.State.PlanMode, input.SubAgent))
	return req
}

// streamPhase consumes one completion stream, forwarding text deltas
// and collecting completed tool calls.
func (l *Loop) streamPhase(ctx context.Context, emitter *EventEmitter, req *CompletionRequest) (string, []models.ToolCall, models.Usage, error) {
	start := time.Now()
	stream, err := l.provider.Complete(ctx, req)
	if err != nil {
		l.metrics.ProviderRequest(l.provider.Name(), req.Model, time.Since(start), false)
		return "", nil, models.Usage{}, err
	}

	var (
		text  strings.Builder
		calls []models.ToolCall
		usage models.Usage
	)
	for chunk := range stream {
		if chunk.Error != nil {
			l.metrics.ProviderRequest(l.provider.Name(), req.Model, time.Since(start), false)
			return text.String(), calls, usage, chunk.Error
		}
		if chunk.Text != "" {
			if text.Len()+len(chunk.Text) <= MaxResponseTextSize {
				text.WriteString(chunk.Text)
			}
			emitter.ModelDelta(ctx, l.provider.Name(), req.Model, chunk.Text)
		}
		if chunk.ToolCall != nil {
			calls = append(calls, *chunk.ToolCall)
		}
		if chunk.Done {
			// Latest figure wins within one stream.
			usage = chunk.Usage
		}
	}
	l.metrics.ProviderRequest(l.provider.Name(), req.Model, time.Since(start), true)
	return text.String(), calls, usage, nil
}

// executeToolsPhase runs tool calls strictly in model order.
func (l *Loop) executeToolsPhase(ctx context.Context, emitter *EventEmitter, tc *ToolContext, input *RunInput, calls []models.ToolCall) (results []models.ToolResult, toolErrored, docCreated bool) {
	for _, call := range calls {
		// Suspension point: honor cancellation between tools.
		if ctx.Err() != nil {
			return results, toolErrored, docCreated
		}

		// Plan mode may have been exited by a previous call in this
		// batch.
		tc.PlanMode = input.State.PlanMode

		emitter.ToolStarted(ctx, call.ID, call.Name, call.Input)
		start := time.Now()
		res := l.registry.Execute(ctx, call)
		elapsed := time.Since(start)
		emitter.ToolFinished(ctx, call.ID, call.Name, !res.IsError, res.Content, elapsed)
		l.metrics.ToolExecuted(call.Name, !res.IsError, elapsed)

		if res.IsError {
			toolErrored = true
			l.logger.Warn("tool failed",
				"tool", call.Name,
				"call_id", call.ID,
				"error", res.Content)
		} else if call.Name == CreateDocumentToolName {
			docCreated = true
		}
		results = append(results, *res)
	}
	return results, toolErrored, docCreated
}

// fail emits run.error and returns the error. Partial results are
// returned alongside so callers can persist what streamed.
func (l *Loop) fail(ctx context.Context, emitter *EventEmitter, result *RunResult, err *LoopError, code string) (*RunResult, error) {
	emitter.RunError(ctx, err, code, false)
	l.logger.Error("run failed",
		"run_id", result.RunID,
		"phase", string(err.Phase),
		"iteration", err.Iteration,
		"error", err.Error())
	return result, err
}

// toolContext builds the request-scoped tool context, wiring the
// side-effect callbacks that mutate session state.
func (l *Loop) toolContext(input *RunInput, emitter *EventEmitter) *ToolContext {
	tc := &ToolContext{
		SessionID: sessionID(input),
		PlanMode:  input.State.PlanMode,
		SubAgent:  input.SubAgent,
		Sink:      input.Sink,
	}
	if input.Session != nil {
		tc.UserID = input.Session.UserID
		tc.OrgID = input.Session.OrgID
		tc.Dir = input.Session.Dir
	}
	tc.ExitPlanMode = func() {
		if !input.State.PlanMode {
			return
		}
		input.State.PlanMode = false
		emitter.StateChanged(context.Background(), "plan_mode", "plan mode exited", false)
	}
	tc.SetTasks = func(titles []string) {
		tasks := make([]models.TaskItem, 0, len(titles))
		for _, title := range titles {
			tasks = append(tasks, models.TaskItem{
				ID:     uuid.NewString(),
				Title:  title,
				Status: models.TaskPending,
			})
		}
		input.State.Tasks = tasks
		emitter.StateChanged(context.Background(), "tasks",
			fmt.Sprintf("%d tasks planned", len(tasks)), input.State.PlanMode)
	}
	tc.AddOutputFile = func(file models.OutputFile) {
		input.State.OutputFiles = append(input.State.OutputFiles, file)
		emitter.StateChanged(context.Background(), "output_files",
			fmt.Sprintf("generated %s", file.Name), input.State.PlanMode)
	}
	return tc
}

func sessionID(input *RunInput) string {
	if input.Session != nil {
		return input.Session.ID
	}
	return input.Message.SessionID
}

func assistantMessage(sessionID, text string, calls []models.ToolCall) models.Message {
	return models.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      models.RoleAssistant,
		Content:   text,
		ToolCalls: calls,
		CreatedAt: time.Now(),
	}
}

func toolMessage(sessionID string, results []models.ToolResult) models.Message {
	return models.Message{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Role:        models.RoleTool,
		ToolResults: results,
		CreatedAt:   time.Now(),
	}
}

func correctiveMessage() models.Message {
	return models.Message{
		ID:      uuid.NewString(),
		Role:    models.RoleUser,
		Content: "You said a file was created, but no file tool was called. Use the create_document or write_file tool to actually produce it, then confirm.",
		Metadata: map[string]any{
			"loom_corrective": true,
		},
		CreatedAt: time.Now(),
	}
}

// Delivery heuristic. Both checks are deliberately loose: the cost of
// a false positive is one extra corrective turn.
var (
	deliveryRequestRe = regexp.MustCompile(`(?i)\b(create|write|generate|make|save|produce)\b[^.]*\b(file|document|report|pdf|csv|spreadsheet)\b`)
	deliveryClaimRe   = regexp.MustCompile(`(?i)\b(created|saved|written|wrote|generated|attached|produced)\b[^.]*\b(file|document|report|pdf|csv|spreadsheet)\b`)
)

func wantsFileDelivery(content string) bool {
	return deliveryRequestRe.MatchString(content)
}

func claimsDelivery(text string) bool {
	return deliveryClaimRe.MatchString(text)
}
