package models

import "time"

// Session is a single conversation with its own working directory and
// history. Sessions are the unit of isolation: file tools resolve
// paths under the session directory and never outside it.
type Session struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id,omitempty"`
	OrgID     string         `json:"org_id,omitempty"`
	Dir       string         `json:"dir,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// TaskStatus is the lifecycle state of a planned task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// TaskItem is one entry in the session task list.
type TaskItem struct {
	ID     string     `json:"id"`
	Title  string     `json:"title"`
	Status TaskStatus `json:"status"`
}

// OutputFile records a file the agent generated during the session.
type OutputFile struct {
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	SizeBytes  int64     `json:"size_bytes,omitempty"`
	ArtifactID string    `json:"artifact_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// SubAgentState is the lifecycle state of a spawned sub-agent.
type SubAgentState string

const (
	SubAgentRunning   SubAgentState = "running"
	SubAgentCompleted SubAgentState = "completed"
	SubAgentFailed    SubAgentState = "failed"
	SubAgentCancelled SubAgentState = "cancelled"
)

// SubAgentSummary is the parent-visible view of a sub-agent run.
type SubAgentSummary struct {
	ID          string        `json:"id"`
	Description string        `json:"description"`
	State       SubAgentState `json:"state"`
	Result      string        `json:"result,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at,omitempty"`
}

// SessionState is the mutable per-session state the prompt assembler
// renders into the system prompt each iteration. Zero value means no
// state section is emitted at all.
type SessionState struct {
	// PlanMode restricts the tool set to read-only tools plus the
	// designated exit tool while active.
	PlanMode bool `json:"plan_mode,omitempty"`

	// Tasks is the current task list set by the planning tool.
	Tasks []TaskItem `json:"tasks,omitempty"`

	// OutputFiles are files generated so far this session.
	OutputFiles []OutputFile `json:"output_files,omitempty"`

	// SubAgents are sub-agent runs spawned from this session.
	SubAgents []SubAgentSummary `json:"sub_agents,omitempty"`
}

// Empty reports whether the state would render no prompt section.
func (s *SessionState) Empty() bool {
	if s == nil {
		return true
	}
	return len(s.Tasks) == 0 && len(s.OutputFiles) == 0 && len(s.SubAgents) == 0
}

// ActiveTasks returns tasks that are pending or in progress.
func (s *SessionState) ActiveTasks() []TaskItem {
	if s == nil {
		return nil
	}
	active := make([]TaskItem, 0, len(s.Tasks))
	for _, t := range s.Tasks {
		if t.Status != TaskCompleted {
			active = append(active, t)
		}
	}
	return active
}

// RunningSubAgents returns sub-agents still in flight.
func (s *SessionState) RunningSubAgents() []SubAgentSummary {
	if s == nil {
		return nil
	}
	running := make([]SubAgentSummary, 0, len(s.SubAgents))
	for _, sa := range s.SubAgents {
		if sa.State == SubAgentRunning {
			running = append(running, sa)
		}
	}
	return running
}

// Artifact is a persisted record of a generated document or file.
type Artifact struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Name      string         `json:"name"`
	MimeType  string         `json:"mime_type,omitempty"`
	Path      string         `json:"path"`
	SizeBytes int64          `json:"size_bytes"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
