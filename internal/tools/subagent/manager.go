// Package subagent provides tools for spawning and tracking sub-agent
// runs. Sub-agents run the same loop with a restricted tool set; they
// cannot spawn further sub-agents.
package subagent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tessellate-ai/loom/internal/agent"
	"github.com/tessellate-ai/loom/pkg/models"
)

// Runner executes one agent run. *agent.Loop satisfies it.
type Runner interface {
	Run(ctx context.Context, input *agent.RunInput) (*agent.RunResult, error)
}

// entry tracks one sub-agent run.
type entry struct {
	summary models.SubAgentSummary
	parent  string
	cancel  context.CancelFunc
}

// Manager owns sub-agent lifecycle: spawn, track, cancel.
type Manager struct {
	mu          sync.RWMutex
	agents      map[string]*entry
	runner      Runner
	model       string
	maxActive   int
	activeCount int64
	logger      *slog.Logger
}

// NewManager creates a sub-agent manager. maxActive <= 0 defaults
// to 5.
func NewManager(runner Runner, model string, maxActive int, logger *slog.Logger) *Manager {
	if maxActive <= 0 {
		maxActive = 5
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		agents:    make(map[string]*entry),
		runner:    runner,
		model:     model,
		maxActive: maxActive,
		logger:    logger,
	}
}

// SetRunner wires the runner after construction. The manager is
// created before the loop so its tools can be registered; the loop
// is injected once built.
func (m *Manager) SetRunner(r Runner) {
	m.mu.Lock()
	m.runner = r
	m.mu.Unlock()
}

// Spawn starts a sub-agent working on task. The run proceeds in the
// background; status is reported through the parent sink as
// subagent.status events and queryable via Get.
func (m *Manager) Spawn(ctx context.Context, parent *agent.ToolContext, task string) (*models.SubAgentSummary, error) {
	m.mu.RLock()
	runner := m.runner
	m.mu.RUnlock()
	if runner == nil {
		return nil, fmt.Errorf("sub-agent runner not configured")
	}
	if atomic.LoadInt64(&m.activeCount) >= int64(m.maxActive) {
		return nil, fmt.Errorf("max active sub-agents reached (%d)", m.maxActive)
	}

	id := uuid.NewString()
	summary := models.SubAgentSummary{
		ID:          id,
		Description: task,
		State:       models.SubAgentRunning,
		StartedAt:   time.Now(),
	}

	// The sub-agent outlives the spawning tool call; it gets its own
	// cancellable context detached from the request.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	e := &entry{summary: summary, cancel: cancel}
	var parentSink agent.EventSink
	var parentSession *models.Session
	if parent != nil {
		e.parent = parent.SessionID
		parentSink = parent.Sink
		parentSession = &models.Session{
			ID:     parent.SessionID + "-" + id[:8],
			UserID: parent.UserID,
			OrgID:  parent.OrgID,
			Dir:    parent.Dir,
		}
	} else {
		parentSession = &models.Session{ID: id[:8]}
	}

	m.mu.Lock()
	m.agents[id] = e
	m.mu.Unlock()
	atomic.AddInt64(&m.activeCount, 1)

	m.logger.Info("sub-agent spawned", "id", id, "parent_session", e.parent)

	go m.run(runCtx, runner, e, parentSession, parentSink, task)

	return &summary, nil
}

// run executes the sub-agent and records its outcome.
func (m *Manager) run(ctx context.Context, runner Runner, e *entry, session *models.Session, parentSink agent.EventSink, task string) {
	defer atomic.AddInt64(&m.activeCount, -1)

	id := e.summary.ID
	sink := agent.NewSubAgentSink(parentSink, id)

	input := &agent.RunInput{
		Session: session,
		Message: models.Message{
			ID:        uuid.NewString(),
			SessionID: session.ID,
			Role:      models.RoleUser,
			Content:   task,
			CreatedAt: time.Now(),
		},
		State:    &models.SessionState{},
		Model:    m.model,
		SubAgent: true,
		Sink:     sink,
	}

	result, err := runner.Run(ctx, input)

	m.mu.Lock()
	defer m.mu.Unlock()

	// A cancel that raced completion keeps the cancelled state.
	if e.summary.State == models.SubAgentCancelled {
		return
	}
	e.summary.FinishedAt = time.Now()
	if err != nil {
		e.summary.State = models.SubAgentFailed
		e.summary.Result = err.Error()
		m.logger.Warn("sub-agent failed", "id", id, "error", err)
	} else {
		e.summary.State = models.SubAgentCompleted
		e.summary.Result = result.Text
		m.logger.Info("sub-agent completed", "id", id, "iterations", result.Iterations)
	}

	if parentSink != nil {
		emitter := agent.NewEventEmitter(id, parentSink)
		emitter.SubAgentStatus(context.Background(), e.summary)
	}
}

// Get returns a sub-agent summary by id.
func (m *Manager) Get(id string) (models.SubAgentSummary, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.agents[id]
	if !ok {
		return models.SubAgentSummary{}, false
	}
	return e.summary, true
}

// List returns summaries for sub-agents spawned from the session.
func (m *Manager) List(parentSessionID string) []models.SubAgentSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []models.SubAgentSummary
	for _, e := range m.agents {
		if parentSessionID == "" || e.parent == parentSessionID {
			result = append(result, e.summary)
		}
	}
	return result
}

// Cancel stops a running sub-agent.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.agents[id]
	if !ok {
		return fmt.Errorf("sub-agent not found: %s", id)
	}
	if e.summary.State != models.SubAgentRunning {
		return fmt.Errorf("sub-agent not running: %s", e.summary.State)
	}

	e.cancel()
	e.summary.State = models.SubAgentCancelled
	e.summary.FinishedAt = time.Now()
	m.logger.Info("sub-agent cancelled", "id", id)
	return nil
}

// ActiveCount returns the number of running sub-agents.
func (m *Manager) ActiveCount() int {
	return int(atomic.LoadInt64(&m.activeCount))
}

// MaxActive returns the concurrency limit.
func (m *Manager) MaxActive() int {
	return m.maxActive
}
