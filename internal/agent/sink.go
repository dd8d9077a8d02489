package agent

import (
	"context"

	"github.com/tessellate-ai/loom/pkg/models"
)

// EventSink receives agent events during a run.
// Implementations must be safe to call from multiple goroutines.
type EventSink interface {
	Emit(ctx context.Context, e models.AgentEvent)
}

// ChanSink sends events to a channel. Terminal events block until
// delivered; everything else is dropped when the channel is full
// rather than stalling the loop.
type ChanSink struct {
	ch chan<- models.AgentEvent
}

// NewChanSink creates a sink that sends to ch. The channel should be
// buffered.
func NewChanSink(ch chan<- models.AgentEvent) *ChanSink {
	return &ChanSink{ch: ch}
}

// Emit sends the event to the channel.
func (s *ChanSink) Emit(ctx context.Context, e models.AgentEvent) {
	if e.Terminal() {
		// Never drop the stream terminator.
		select {
		case s.ch <- e:
		case <-ctx.Done():
		}
		return
	}
	select {
	case s.ch <- e:
	case <-ctx.Done():
	default:
		// Channel full: drop rather than block
	}
}

// MultiSink fans out events to multiple sinks.
type MultiSink struct {
	sinks []EventSink
}

// NewMultiSink creates a fan-out sink. Nil sinks are filtered out.
func NewMultiSink(sinks ...EventSink) *MultiSink {
	filtered := make([]EventSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &MultiSink{sinks: filtered}
}

// Emit dispatches the event to all sinks.
func (s *MultiSink) Emit(ctx context.Context, e models.AgentEvent) {
	for _, sink := range s.sinks {
		sink.Emit(ctx, e)
	}
}

// CallbackSink wraps a function as an EventSink.
type CallbackSink struct {
	fn func(ctx context.Context, e models.AgentEvent)
}

// NewCallbackSink creates a sink that calls fn for each event.
func NewCallbackSink(fn func(ctx context.Context, e models.AgentEvent)) *CallbackSink {
	return &CallbackSink{fn: fn}
}

// Emit calls the wrapped function.
func (s *CallbackSink) Emit(ctx context.Context, e models.AgentEvent) {
	if s.fn != nil {
		s.fn(ctx, e)
	}
}

// NopSink discards all events.
type NopSink struct{}

// Emit does nothing.
func (NopSink) Emit(ctx context.Context, e models.AgentEvent) {}

// SubAgentSink retags events from a sub-agent run before forwarding
// them into the parent's sink, so consumers can tell the streams
// apart. Only status-relevant events are forwarded; a sub-agent's raw
// deltas stay private to its own run.
type SubAgentSink struct {
	parent     EventSink
	subAgentID string
}

// NewSubAgentSink wraps the parent sink for a sub-agent run.
func NewSubAgentSink(parent EventSink, subAgentID string) *SubAgentSink {
	return &SubAgentSink{parent: parent, subAgentID: subAgentID}
}

// Emit forwards lifecycle events tagged with the sub-agent id.
func (s *SubAgentSink) Emit(ctx context.Context, e models.AgentEvent) {
	if s.parent == nil {
		return
	}
	switch e.Type {
	case models.AgentEventModelDelta:
		return
	case models.AgentEventRunFinished, models.AgentEventRunError:
		// The parent's stream must have exactly one terminator.
		// Sub-agent completion is reported via subagent.status.
		return
	}
	e.SubAgentID = s.subAgentID
	s.parent.Emit(ctx, e)
}
