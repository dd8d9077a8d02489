package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/tessellate-ai/loom/pkg/models"
)

// scriptProvider replays canned completion streams and records every
// request it sees.
type scriptProvider struct {
	mu        sync.Mutex
	requests  []*CompletionRequest
	responses [][]*CompletionChunk

	// repeat is replayed once responses run out. Used for cap tests.
	repeat []*CompletionChunk
}

func (p *scriptProvider) Name() string                  { return "script" }
func (p *scriptProvider) ResolveModel(alias string) string { return alias }
func (p *scriptProvider) Models() []string              { return []string{"script-1"} }
func (p *scriptProvider) SupportsTools() bool           { return true }

func (p *scriptProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	var chunks []*CompletionChunk
	switch {
	case len(p.responses) > 0:
		chunks = p.responses[0]
		p.responses = p.responses[1:]
	case p.repeat != nil:
		chunks = p.repeat
	default:
		p.mu.Unlock()
		return nil, errors.New("script exhausted")
	}
	p.mu.Unlock()

	ch := make(chan *CompletionChunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (p *scriptProvider) request(i int) *CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i >= len(p.requests) {
		return nil
	}
	return p.requests[i]
}

func (p *scriptProvider) requestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func textTurn(text string, usage models.Usage) []*CompletionChunk {
	return []*CompletionChunk{
		{Text: text},
		{Done: true, Usage: usage},
	}
}

func toolTurn(calls ...models.ToolCall) []*CompletionChunk {
	chunks := make([]*CompletionChunk, 0, len(calls)+1)
	for i := range calls {
		chunks = append(chunks, &CompletionChunk{ToolCall: &calls[i]})
	}
	chunks = append(chunks, &CompletionChunk{Done: true, Usage: models.Usage{InputTokens: 1, OutputTokens: 1}})
	return chunks
}

func newTestLoop(p Provider, registry *ToolRegistry, cfg LoopConfig) *Loop {
	if registry == nil {
		registry = NewToolRegistry()
	}
	return NewLoop(p, registry, cfg, nil, nil)
}

func runInput(message string, sink EventSink) *RunInput {
	return &RunInput{
		Session: &models.Session{ID: "s1"},
		Message: models.Message{Role: models.RoleUser, Content: message},
		State:   &models.SessionState{},
		Model:   "script-1",
		Sink:    sink,
	}
}

func TestLoopPlainAnswer(t *testing.T) {
	provider := &scriptProvider{
		responses: [][]*CompletionChunk{
			textTurn("Hello there.", models.Usage{InputTokens: 12, OutputTokens: 4}),
		},
	}
	loop := newTestLoop(provider, nil, LoopConfig{})
	sink := &collectSink{}

	result, err := loop.Run(context.Background(), runInput("hi", sink))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Text != "Hello there." {
		t.Fatalf("unexpected text: %q", result.Text)
	}
	if result.Iterations != 1 {
		t.Fatalf("expected 1 iteration, got %d", result.Iterations)
	}
	if result.Usage.InputTokens != 12 || result.Usage.OutputTokens != 4 {
		t.Fatalf("usage not carried: %+v", result.Usage)
	}
	if len(result.Messages) != 1 || result.Messages[0].Role != models.RoleAssistant {
		t.Fatalf("expected one assistant message, got %+v", result.Messages)
	}

	if len(sink.events) == 0 {
		t.Fatal("no events emitted")
	}
	if sink.events[0].Type != models.AgentEventRunStarted {
		t.Fatal("stream must open with run.started")
	}
	last := sink.events[len(sink.events)-1]
	if last.Type != models.AgentEventRunFinished {
		t.Fatalf("stream must terminate with run.finished, got %s", last.Type)
	}
}

func TestLoopToolRoundTrip(t *testing.T) {
	registry := NewToolRegistry()
	echo := &fakeTool{
		name: "echo",
		execute: func(_ context.Context, params json.RawMessage) (*models.ToolResult, error) {
			return &models.ToolResult{Content: "echo: " + string(params)}, nil
		},
	}
	if err := registry.Register(echo); err != nil {
		t.Fatalf("register: %v", err)
	}

	provider := &scriptProvider{
		responses: [][]*CompletionChunk{
			toolTurn(models.ToolCall{ID: "c1", Name: "echo", Input: json.RawMessage(`{"msg":"hi"}`)}),
			textTurn("Done.", models.Usage{InputTokens: 5, OutputTokens: 2}),
		},
	}
	loop := newTestLoop(provider, registry, LoopConfig{})
	sink := &collectSink{}

	result, err := loop.Run(context.Background(), runInput("use the echo tool", sink))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Text != "Done." {
		t.Fatalf("unexpected text: %q", result.Text)
	}
	if result.Iterations != 2 {
		t.Fatalf("expected 2 iterations, got %d", result.Iterations)
	}

	// assistant(tool call) + tool results + final assistant
	if len(result.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(result.Messages))
	}
	if len(result.Messages[0].ToolCalls) != 1 {
		t.Fatal("tool call lost from assistant message")
	}
	toolMsg := result.Messages[1]
	if toolMsg.Role != models.RoleTool || len(toolMsg.ToolResults) != 1 {
		t.Fatalf("tool message wrong: %+v", toolMsg)
	}
	if toolMsg.ToolResults[0].ToolCallID != "c1" {
		t.Fatal("tool result not correlated to its call")
	}

	// Second request carries the tool result back to the model.
	second := provider.request(1)
	if second == nil {
		t.Fatal("second request missing")
	}
	found := false
	for _, m := range second.Messages {
		if m.Role == models.RoleTool && len(m.ToolResults) > 0 &&
			strings.Contains(m.ToolResults[0].Content, "echo:") {
			found = true
		}
	}
	if !found {
		t.Fatal("tool result not fed back in next request")
	}

	var started, finished bool
	for _, e := range sink.events {
		switch e.Type {
		case models.AgentEventToolStarted:
			started = true
		case models.AgentEventToolFinished:
			finished = true
			if e.Tool == nil || !e.Tool.Success {
				t.Fatalf("tool.finished should report success: %+v", e.Tool)
			}
		}
	}
	if !started || !finished {
		t.Fatal("tool lifecycle events missing")
	}
}

func TestLoopToolErrorForcesFinalTextTurn(t *testing.T) {
	registry := NewToolRegistry()
	failing := &fakeTool{
		name: "flaky",
		execute: func(context.Context, json.RawMessage) (*models.ToolResult, error) {
			return nil, errors.New("backend exploded")
		},
	}
	if err := registry.Register(failing); err != nil {
		t.Fatalf("register: %v", err)
	}

	provider := &scriptProvider{
		responses: [][]*CompletionChunk{
			toolTurn(models.ToolCall{ID: "c1", Name: "flaky", Input: json.RawMessage(`{}`)}),
			textTurn("The tool failed, here is what I know instead.", models.Usage{}),
		},
	}
	loop := newTestLoop(provider, registry, LoopConfig{})

	result, err := loop.Run(context.Background(), runInput("try the tool", nil))
	if err != nil {
		t.Fatalf("tool failure must not fail the run: %v", err)
	}
	if !strings.Contains(result.Text, "instead") {
		t.Fatalf("unexpected final text: %q", result.Text)
	}

	// After a tool error the closing request must offer no tools.
	second := provider.request(1)
	if second == nil {
		t.Fatal("second request missing")
	}
	if second.ToolChoice == nil || second.ToolChoice.Type != ToolChoiceNone {
		t.Fatalf("final turn should forbid tools: %+v", second.ToolChoice)
	}
	if len(second.Tools) != 0 {
		t.Fatalf("final turn should carry no tools, got %d", len(second.Tools))
	}

	// The error rides back to the model as a tool result.
	toolMsg := result.Messages[1]
	if !toolMsg.ToolResults[0].IsError {
		t.Fatal("tool result should be marked as error")
	}
}

func TestLoopDocumentCreationEndsTurn(t *testing.T) {
	registry := NewToolRegistry()
	doc := &fakeTool{
		name: CreateDocumentToolName,
		execute: func(context.Context, json.RawMessage) (*models.ToolResult, error) {
			return &models.ToolResult{Content: `{"name":"report.md"}`}, nil
		},
	}
	if err := registry.Register(doc); err != nil {
		t.Fatalf("register: %v", err)
	}

	provider := &scriptProvider{
		responses: [][]*CompletionChunk{
			toolTurn(models.ToolCall{ID: "c1", Name: CreateDocumentToolName, Input: json.RawMessage(`{}`)}),
			textTurn("I created report.md with the summary.", models.Usage{}),
		},
	}
	loop := newTestLoop(provider, registry, LoopConfig{})

	result, err := loop.Run(context.Background(), runInput("create a report file please", nil))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if provider.requestCount() != 2 {
		t.Fatalf("expected exactly 2 requests, got %d", provider.requestCount())
	}
	second := provider.request(1)
	if second.ToolChoice == nil || second.ToolChoice.Type != ToolChoiceNone {
		t.Fatal("closing pass after document creation should forbid tools")
	}
	// The delivery claim is genuine here; no corrective turn.
	if !strings.Contains(result.Text, "report.md") {
		t.Fatalf("unexpected final text: %q", result.Text)
	}
}

func TestLoopIterationCap(t *testing.T) {
	registry := NewToolRegistry()
	busy := &fakeTool{name: "busy"}
	if err := registry.Register(busy); err != nil {
		t.Fatalf("register: %v", err)
	}

	provider := &scriptProvider{
		repeat: toolTurn(models.ToolCall{ID: "c", Name: "busy", Input: json.RawMessage(`{}`)}),
	}
	loop := newTestLoop(provider, registry, LoopConfig{MaxIterations: 3})
	sink := &collectSink{}

	result, err := loop.Run(context.Background(), runInput("loop forever", sink))
	if err != nil {
		t.Fatalf("iteration cap must be recoverable, got error: %v", err)
	}
	if !result.StoppedAtCap {
		t.Fatal("StoppedAtCap not set")
	}
	if result.Iterations != 3 {
		t.Fatalf("expected 3 iterations, got %d", result.Iterations)
	}

	last := sink.events[len(sink.events)-1]
	if last.Type != models.AgentEventRunError {
		t.Fatalf("cap must terminate the stream with run.error, got %s", last.Type)
	}
	if last.Error == nil || last.Error.Code != "iteration_limit" || !last.Error.Recoverable {
		t.Fatalf("cap error payload wrong: %+v", last.Error)
	}
	if !errors.Is(last.Error.Err, ErrMaxIterations) {
		t.Fatal("cap error should wrap ErrMaxIterations")
	}
}

func TestLoopDefaultCapIs25(t *testing.T) {
	registry := NewToolRegistry()
	busy := &fakeTool{name: "busy"}
	if err := registry.Register(busy); err != nil {
		t.Fatalf("register: %v", err)
	}

	provider := &scriptProvider{
		repeat: toolTurn(models.ToolCall{ID: "c", Name: "busy", Input: json.RawMessage(`{}`)}),
	}
	// Oversized configs clamp back to the hard cap.
	loop := newTestLoop(provider, registry, LoopConfig{MaxIterations: 1000})

	result, err := loop.Run(context.Background(), runInput("loop forever", nil))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Iterations != MaxIterations {
		t.Fatalf("expected %d iterations, got %d", MaxIterations, result.Iterations)
	}
}

func TestLoopDeliveryHeuristic(t *testing.T) {
	provider := &scriptProvider{
		responses: [][]*CompletionChunk{
			textTurn("I have created the report file for you.", models.Usage{}),
			textTurn("Apologies, the report content follows inline: cats are great.", models.Usage{}),
		},
	}
	loop := newTestLoop(provider, nil, LoopConfig{})

	result, err := loop.Run(context.Background(), runInput("Please create a report file about cats", nil))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if provider.requestCount() != 2 {
		t.Fatalf("expected a corrective second request, got %d requests", provider.requestCount())
	}

	// The false claim is discarded; the second answer stands.
	if strings.Contains(result.Text, "I have created") {
		t.Fatalf("false delivery claim kept: %q", result.Text)
	}
	if !strings.Contains(result.Text, "inline") {
		t.Fatalf("unexpected final text: %q", result.Text)
	}

	// The second request ends with the corrective user message.
	second := provider.request(1)
	lastMsg := second.Messages[len(second.Messages)-1]
	if lastMsg.Role != models.RoleUser || !strings.Contains(lastMsg.Content, "no file tool was called") {
		t.Fatalf("corrective message missing: %+v", lastMsg)
	}
}

func TestLoopDeliveryHeuristicFiresOnce(t *testing.T) {
	provider := &scriptProvider{
		responses: [][]*CompletionChunk{
			textTurn("I created the file you asked for.", models.Usage{}),
			// Still claiming after correction: give up and accept it.
			textTurn("I really did create the file, trust me.", models.Usage{}),
		},
	}
	loop := newTestLoop(provider, nil, LoopConfig{})

	result, err := loop.Run(context.Background(), runInput("create a summary file", nil))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if provider.requestCount() != 2 {
		t.Fatalf("heuristic must fire at most once, got %d requests", provider.requestCount())
	}
	if !strings.Contains(result.Text, "trust me") {
		t.Fatalf("second answer should stand: %q", result.Text)
	}
}

func TestLoopDeliveryHeuristicSkippedAfterFileTool(t *testing.T) {
	registry := NewToolRegistry()
	writer := &fakeTool{name: "write_file"}
	if err := registry.Register(writer); err != nil {
		t.Fatalf("register: %v", err)
	}

	provider := &scriptProvider{
		responses: [][]*CompletionChunk{
			toolTurn(models.ToolCall{ID: "c1", Name: "write_file", Input: json.RawMessage(`{}`)}),
			textTurn("I created the file notes.txt.", models.Usage{}),
		},
	}
	loop := newTestLoop(provider, registry, LoopConfig{})

	_, err := loop.Run(context.Background(), runInput("create a notes file", nil))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	// A real file tool ran; the claim is legitimate, no third request.
	if provider.requestCount() != 2 {
		t.Fatalf("expected 2 requests, got %d", provider.requestCount())
	}
}

func TestLoopPlanModeToolSet(t *testing.T) {
	registry := NewToolRegistry()
	for _, tool := range []Tool{
		&fakeTool{name: "read_thing", readOnly: true},
		&fakeTool{name: "write_thing"},
		&fakeTool{name: ExitPlanModeToolName},
	} {
		if err := registry.Register(tool); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	provider := &scriptProvider{
		responses: [][]*CompletionChunk{textTurn("planning...", models.Usage{})},
	}
	loop := newTestLoop(provider, registry, LoopConfig{})

	input := runInput("plan something", nil)
	input.State.PlanMode = true
	if _, err := loop.Run(context.Background(), input); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	req := provider.request(0)
	if len(req.Tools) != 2 {
		t.Fatalf("plan mode should expose 2 tools, got %d", len(req.Tools))
	}
	for _, def := range req.Tools {
		if def.Name != "read_thing" && def.Name != ExitPlanModeToolName {
			t.Fatalf("unexpected tool in plan mode: %s", def.Name)
		}
	}
}

func TestLoopSubAgentToolSet(t *testing.T) {
	registry := NewToolRegistry()
	for _, tool := range []Tool{
		&fakeTool{name: "read_thing", readOnly: true},
		&fakeTool{name: "spawn_subagent", restricted: true},
	} {
		if err := registry.Register(tool); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	provider := &scriptProvider{
		responses: [][]*CompletionChunk{textTurn("done", models.Usage{})},
	}
	loop := newTestLoop(provider, registry, LoopConfig{})

	input := runInput("delegated task", nil)
	input.SubAgent = true
	if _, err := loop.Run(context.Background(), input); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	req := provider.request(0)
	for _, def := range req.Tools {
		if def.Name == "spawn_subagent" {
			t.Fatal("restricted tool offered to sub-agent")
		}
	}
	if len(req.Tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(req.Tools))
	}
}

func TestLoopProviderStreamError(t *testing.T) {
	provider := &scriptProvider{
		responses: [][]*CompletionChunk{
			{
				{Text: "partial"},
				{Error: errors.New("stream broke"), Done: true},
			},
		},
	}
	loop := newTestLoop(provider, nil, LoopConfig{})
	sink := &collectSink{}

	result, err := loop.Run(context.Background(), runInput("hi", sink))
	if err == nil {
		t.Fatal("stream error must fail the run")
	}
	var loopErr *LoopError
	if !errors.As(err, &loopErr) || loopErr.Phase != PhaseStream {
		t.Fatalf("expected stream-phase loop error, got %v", err)
	}
	if result == nil {
		t.Fatal("partial result should be returned alongside the error")
	}

	last := sink.events[len(sink.events)-1]
	if last.Type != models.AgentEventRunError || last.Error.Recoverable {
		t.Fatalf("expected non-recoverable run.error, got %+v", last)
	}
}

func TestLoopNoProvider(t *testing.T) {
	loop := newTestLoop(nil, nil, LoopConfig{})
	if _, err := loop.Run(context.Background(), runInput("hi", nil)); !errors.Is(err, ErrNoProvider) {
		t.Fatalf("expected ErrNoProvider, got %v", err)
	}
}

func TestLoopCancellation(t *testing.T) {
	provider := &scriptProvider{
		repeat: toolTurn(models.ToolCall{ID: "c", Name: "missing", Input: json.RawMessage(`{}`)}),
	}
	loop := newTestLoop(provider, nil, LoopConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := loop.Run(ctx, runInput("hi", nil))
	if err == nil {
		t.Fatal("cancelled context must fail the run")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled in chain, got %v", err)
	}
}

func TestLoopExitPlanModeCallback(t *testing.T) {
	registry := NewToolRegistry()
	exit := &fakeTool{
		name: ExitPlanModeToolName,
		execute: func(ctx context.Context, _ json.RawMessage) (*models.ToolResult, error) {
			if tc := ToolContextFrom(ctx); tc != nil && tc.ExitPlanMode != nil {
				tc.ExitPlanMode()
			}
			return &models.ToolResult{Content: "plan mode exited"}, nil
		},
	}
	writer := &fakeTool{name: "write_thing"}
	for _, tool := range []Tool{exit, writer} {
		if err := registry.Register(tool); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	provider := &scriptProvider{
		responses: [][]*CompletionChunk{
			toolTurn(models.ToolCall{ID: "c1", Name: ExitPlanModeToolName, Input: json.RawMessage(`{}`)}),
			textTurn("plan approved, executing", models.Usage{}),
		},
	}
	loop := newTestLoop(provider, registry, LoopConfig{})
	sink := &collectSink{}

	input := runInput("exit plan mode", sink)
	input.State.PlanMode = true
	if _, err := loop.Run(context.Background(), input); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if input.State.PlanMode {
		t.Fatal("plan mode not cleared on session state")
	}

	// The next request sees the full tool set again.
	second := provider.request(1)
	if len(second.Tools) != 2 {
		t.Fatalf("expected full tool set after exit, got %d tools", len(second.Tools))
	}

	var stateChanged bool
	for _, e := range sink.events {
		if e.Type == models.AgentEventStateChanged && e.State != nil && e.State.Field == "plan_mode" {
			stateChanged = true
		}
	}
	if !stateChanged {
		t.Fatal("plan mode exit should emit state.changed")
	}
}
