package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tessellate-ai/loom/pkg/models"
)

// collectSink records every event it receives.
type collectSink struct {
	events []models.AgentEvent
}

func (s *collectSink) Emit(_ context.Context, e models.AgentEvent) {
	s.events = append(s.events, e)
}

func TestEmitterSequenceMonotonic(t *testing.T) {
	sink := &collectSink{}
	e := NewEventEmitter("run-1", sink)
	ctx := context.Background()

	e.RunStarted(ctx)
	e.ModelDelta(ctx, "anthropic", "sonnet", "hello")
	e.SetIter(1)
	e.ToolStarted(ctx, "c1", "read_file", []byte(`{}`))
	e.ToolFinished(ctx, "c1", "read_file", true, "ok", time.Millisecond)
	e.RunFinished(ctx, models.Usage{InputTokens: 10, OutputTokens: 5})

	if len(sink.events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(sink.events))
	}

	var last uint64
	for i, event := range sink.events {
		if event.Sequence <= last {
			t.Fatalf("sequence not monotonic at %d: %d after %d", i, event.Sequence, last)
		}
		last = event.Sequence
		if event.RunID != "run-1" {
			t.Fatalf("run id missing on event %d", i)
		}
		if event.Version != 1 {
			t.Fatalf("event version wrong: %d", event.Version)
		}
	}

	if sink.events[0].Type != models.AgentEventRunStarted {
		t.Fatal("first event must be run.started")
	}
	if sink.events[2].IterIndex != 1 {
		t.Fatal("iteration index not carried")
	}
	final := sink.events[4]
	if final.Type != models.AgentEventRunFinished || final.Usage == nil || final.Usage.InputTokens != 10 {
		t.Fatalf("run.finished payload wrong: %+v", final)
	}
}

func TestEmitterRunError(t *testing.T) {
	sink := &collectSink{}
	e := NewEventEmitter("run-1", sink)

	cause := errors.New("provider exploded")
	e.RunError(context.Background(), cause, "provider_error", false)

	if len(sink.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(sink.events))
	}
	event := sink.events[0]
	if event.Type != models.AgentEventRunError || event.Error == nil {
		t.Fatalf("run.error payload missing: %+v", event)
	}
	if event.Error.Code != "provider_error" || event.Error.Recoverable {
		t.Fatalf("error payload wrong: %+v", event.Error)
	}
	if !errors.Is(event.Error.Err, cause) {
		t.Fatal("original error not preserved on payload")
	}
	if !event.Terminal() {
		t.Fatal("run.error must be terminal")
	}
}

func TestEmitterNilSink(t *testing.T) {
	e := NewEventEmitter("run-1", nil)
	// Must not panic.
	e.RunStarted(context.Background())
	e.RunFinished(context.Background(), models.Usage{})
}

func TestChanSinkDropsWhenFullButKeepsTerminators(t *testing.T) {
	ch := make(chan models.AgentEvent, 1)
	sink := NewChanSink(ch)
	ctx := context.Background()

	sink.Emit(ctx, models.AgentEvent{Type: models.AgentEventModelDelta})
	// Channel is now full; this one is dropped.
	sink.Emit(ctx, models.AgentEvent{Type: models.AgentEventModelDelta, Sequence: 2})

	if len(ch) != 1 {
		t.Fatalf("expected 1 buffered event, got %d", len(ch))
	}
	<-ch

	// Terminal event goes through once the reader catches up.
	done := make(chan struct{})
	go func() {
		sink.Emit(ctx, models.AgentEvent{Type: models.AgentEventRunFinished})
		close(done)
	}()
	select {
	case e := <-ch:
		if e.Type != models.AgentEventRunFinished {
			t.Fatalf("unexpected event: %s", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("terminal event never delivered")
	}
	<-done
}

func TestSubAgentSinkFilterAndTag(t *testing.T) {
	parent := &collectSink{}
	sink := NewSubAgentSink(parent, "sa-1")
	ctx := context.Background()

	sink.Emit(ctx, models.AgentEvent{Type: models.AgentEventModelDelta})
	sink.Emit(ctx, models.AgentEvent{Type: models.AgentEventRunFinished})
	sink.Emit(ctx, models.AgentEvent{Type: models.AgentEventRunError})
	sink.Emit(ctx, models.AgentEvent{Type: models.AgentEventToolStarted})
	sink.Emit(ctx, models.AgentEvent{Type: models.AgentEventStateChanged})

	// Deltas and run terminators stay private to the sub-agent run.
	if len(parent.events) != 2 {
		t.Fatalf("expected 2 forwarded events, got %d", len(parent.events))
	}
	for _, e := range parent.events {
		if e.SubAgentID != "sa-1" {
			t.Fatalf("forwarded event missing sub-agent tag: %+v", e)
		}
	}
}

func TestMultiSinkFanOut(t *testing.T) {
	a := &collectSink{}
	b := &collectSink{}
	sink := NewMultiSink(a, nil, b)

	sink.Emit(context.Background(), models.AgentEvent{Type: models.AgentEventRunStarted})

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("fan-out failed: %d, %d", len(a.events), len(b.events))
	}
}
