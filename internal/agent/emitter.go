package agent

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/tessellate-ai/loom/pkg/models"
)

// EventEmitter generates and dispatches AgentEvents with monotonic
// per-run sequencing.
type EventEmitter struct {
	runID    string
	sequence uint64 // atomic counter

	iterIndex int

	sink EventSink
}

// NewEventEmitter creates an emitter for one run.
func NewEventEmitter(runID string, sink EventSink) *EventEmitter {
	if sink == nil {
		sink = NopSink{}
	}
	return &EventEmitter{runID: runID, sink: sink}
}

// SetIter updates the current iteration index.
func (e *EventEmitter) SetIter(iterIndex int) {
	e.iterIndex = iterIndex
}

func (e *EventEmitter) nextSeq() uint64 {
	return atomic.AddUint64(&e.sequence, 1)
}

func (e *EventEmitter) base(eventType models.AgentEventType) models.AgentEvent {
	return models.AgentEvent{
		Version:   1,
		Type:      eventType,
		Time:      time.Now(),
		Sequence:  e.nextSeq(),
		RunID:     e.runID,
		IterIndex: e.iterIndex,
	}
}

func (e *EventEmitter) emit(ctx context.Context, event models.AgentEvent) {
	e.sink.Emit(ctx, event)
}

// RunStarted emits a run.started event.
func (e *EventEmitter) RunStarted(ctx context.Context) {
	e.emit(ctx, e.base(models.AgentEventRunStarted))
}

// RunFinished emits a run.finished event carrying the run usage.
func (e *EventEmitter) RunFinished(ctx context.Context, usage models.Usage) {
	event := e.base(models.AgentEventRunFinished)
	event.Usage = &usage
	e.emit(ctx, event)
}

// RunError emits a run.error event. The message must be display-safe.
func (e *EventEmitter) RunError(ctx context.Context, err error, code string, recoverable bool) {
	event := e.base(models.AgentEventRunError)
	event.Error = &models.ErrorEventPayload{
		Message:     err.Error(),
		Code:        code,
		Recoverable: recoverable,
		Err:         err,
	}
	e.emit(ctx, event)
}

// ModelDelta emits a model.delta event for streaming text.
func (e *EventEmitter) ModelDelta(ctx context.Context, provider, model, delta string) {
	event := e.base(models.AgentEventModelDelta)
	event.Stream = &models.StreamEventPayload{
		Delta:    delta,
		Provider: provider,
		Model:    model,
	}
	e.emit(ctx, event)
}

// ToolStarted emits a tool.started event.
func (e *EventEmitter) ToolStarted(ctx context.Context, callID, name string, argsJSON []byte) {
	event := e.base(models.AgentEventToolStarted)
	event.Tool = &models.ToolEventPayload{
		CallID:   callID,
		Name:     name,
		ArgsJSON: argsJSON,
	}
	e.emit(ctx, event)
}

// ToolFinished emits a tool.finished event.
func (e *EventEmitter) ToolFinished(ctx context.Context, callID, name string, success bool, result string, elapsed time.Duration) {
	event := e.base(models.AgentEventToolFinished)
	event.Tool = &models.ToolEventPayload{
		CallID:  callID,
		Name:    name,
		Success: success,
		Result:  result,
		Elapsed: elapsed,
	}
	e.emit(ctx, event)
}

// StateChanged emits a state.changed event.
func (e *EventEmitter) StateChanged(ctx context.Context, field, detail string, planMode bool) {
	event := e.base(models.AgentEventStateChanged)
	event.State = &models.StateEventPayload{
		Field:    field,
		Detail:   detail,
		PlanMode: planMode,
	}
	e.emit(ctx, event)
}

// SubAgentStatus emits a subagent.status event tagged with the
// sub-agent id.
func (e *EventEmitter) SubAgentStatus(ctx context.Context, summary models.SubAgentSummary) {
	event := e.base(models.AgentEventSubAgentStatus)
	event.SubAgentID = summary.ID
	event.SubAgent = &models.SubAgentEventPayload{
		ID:          summary.ID,
		Description: summary.Description,
		State:       summary.State,
		Result:      summary.Result,
	}
	e.emit(ctx, event)
}
