package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AgentMetrics holds the Prometheus instruments for the agent loop.
// All methods are nil-safe so the loop never has to check whether
// metrics are configured.
type AgentMetrics struct {
	iterations      prometheus.Counter
	toolExecutions  *prometheus.CounterVec
	toolDuration    *prometheus.HistogramVec
	requestDuration *prometheus.HistogramVec
	requestErrors   *prometheus.CounterVec
	inputTokens     prometheus.Counter
	outputTokens    prometheus.Counter
}

// NewAgentMetrics creates and registers the agent instruments.
// A nil registerer uses the default registry.
func NewAgentMetrics(reg prometheus.Registerer) *AgentMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := newFactory(reg)

	return &AgentMetrics{
		iterations: factory.counter(prometheus.CounterOpts{
			Namespace: "loom",
			Subsystem: "agent",
			Name:      "loop_iterations_total",
			Help:      "Loop iterations started.",
		}),
		toolExecutions: factory.counterVec(prometheus.CounterOpts{
			Namespace: "loom",
			Subsystem: "agent",
			Name:      "tool_executions_total",
			Help:      "Tool executions by tool and outcome.",
		}, []string{"tool", "outcome"}),
		toolDuration: factory.histogramVec(prometheus.HistogramOpts{
			Namespace: "loom",
			Subsystem: "agent",
			Name:      "tool_duration_seconds",
			Help:      "Tool execution duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		requestDuration: factory.histogramVec(prometheus.HistogramOpts{
			Namespace: "loom",
			Subsystem: "provider",
			Name:      "request_duration_seconds",
			Help:      "Provider completion duration.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"provider", "model"}),
		requestErrors: factory.counterVec(prometheus.CounterOpts{
			Namespace: "loom",
			Subsystem: "provider",
			Name:      "request_errors_total",
			Help:      "Failed provider completions.",
		}, []string{"provider", "model"}),
		inputTokens: factory.counter(prometheus.CounterOpts{
			Namespace: "loom",
			Subsystem: "provider",
			Name:      "input_tokens_total",
			Help:      "Input tokens consumed.",
		}),
		outputTokens: factory.counter(prometheus.CounterOpts{
			Namespace: "loom",
			Subsystem: "provider",
			Name:      "output_tokens_total",
			Help:      "Output tokens produced.",
		}),
	}
}

// IterationStarted counts a loop iteration.
func (m *AgentMetrics) IterationStarted() {
	if m == nil {
		return
	}
	m.iterations.Inc()
}

// ToolExecuted records one tool execution.
func (m *AgentMetrics) ToolExecuted(tool string, success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	m.toolExecutions.WithLabelValues(tool, outcome).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// ProviderRequest records one completion request.
func (m *AgentMetrics) ProviderRequest(provider, model string, elapsed time.Duration, success bool) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(provider, model).Observe(elapsed.Seconds())
	if !success {
		m.requestErrors.WithLabelValues(provider, model).Inc()
	}
}

// AddTokens records token usage.
func (m *AgentMetrics) AddTokens(input, output int) {
	if m == nil {
		return
	}
	m.inputTokens.Add(float64(input))
	m.outputTokens.Add(float64(output))
}

// MetricsHandler returns the HTTP handler serving the default
// registry in Prometheus exposition format.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// factory is a tiny registration helper; it panics on duplicate
// registration the same way promauto.With does.
type factory struct {
	reg prometheus.Registerer
}

func newFactory(reg prometheus.Registerer) factory {
	return factory{reg: reg}
}

func (f factory) counter(opts prometheus.CounterOpts) prometheus.Counter {
	c := prometheus.NewCounter(opts)
	f.reg.MustRegister(c)
	return c
}

func (f factory) counterVec(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(opts, labels)
	f.reg.MustRegister(c)
	return c
}

func (f factory) histogramVec(opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(opts, labels)
	f.reg.MustRegister(h)
	return h
}
