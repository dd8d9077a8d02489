package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestAgentMetricsNilSafe(t *testing.T) {
	var m *AgentMetrics
	m.IterationStarted()
	m.ToolExecuted("read_file", true, time.Millisecond)
	m.ProviderRequest("anthropic", "claude", time.Second, false)
	m.AddTokens(10, 20)
}

func TestAgentMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewAgentMetrics(reg)

	m.IterationStarted()
	m.IterationStarted()
	m.ToolExecuted("read_file", true, 10*time.Millisecond)
	m.ToolExecuted("read_file", false, 10*time.Millisecond)
	m.ProviderRequest("openai", "gpt-4o", time.Second, false)
	m.AddTokens(100, 40)

	if got := testutil.ToFloat64(m.iterations); got != 2 {
		t.Fatalf("iterations = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.toolExecutions.WithLabelValues("read_file", "ok")); got != 1 {
		t.Fatalf("ok executions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.toolExecutions.WithLabelValues("read_file", "error")); got != 1 {
		t.Fatalf("error executions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.requestErrors.WithLabelValues("openai", "gpt-4o")); got != 1 {
		t.Fatalf("request errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.inputTokens); got != 100 {
		t.Fatalf("input tokens = %v, want 100", got)
	}
	if got := testutil.ToFloat64(m.outputTokens); got != 40 {
		t.Fatalf("output tokens = %v, want 40", got)
	}
}
