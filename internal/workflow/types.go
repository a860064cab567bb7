package workflow

import (
	"encoding/json"
	"time"
)

// TaskStatus tracks execution state. Transitions are monotonic:
// pending → assigned → completed | failed.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskAssigned  TaskStatus = "assigned"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// WorkflowStatus tracks a workflow's lifecycle.
type WorkflowStatus string

const (
	WorkflowExecuting WorkflowStatus = "executing"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
)

// Complexity is an opaque hint passed through to the executing agent.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// Task is a unit of work requiring one capability. DependsOn names other
// tasks within the same workflow; Parallel marks it eligible for the
// concurrent phase when it has no dependencies.
type Task struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Type          string          `json:"type"`
	Capability    string          `json:"capability"`
	Complexity    Complexity      `json:"complexity,omitempty"`
	Priority      int             `json:"priority,omitempty"`
	Parallel      bool            `json:"parallel"`
	DependsOn     []string        `json:"depends_on,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
	Status        TaskStatus      `json:"status"`
	AssignedAgent string          `json:"assigned_agent,omitempty"`
	Result        *TaskResult     `json:"result,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// TaskResult is the terminal outcome of dispatching one task.
type TaskResult struct {
	TaskID   string          `json:"task_id"`
	AgentID  string          `json:"agent_id,omitempty"`
	Success  bool            `json:"success"`
	Output   json.RawMessage `json:"output,omitempty"`
	Error    string          `json:"error,omitempty"`
	Latency  time.Duration   `json:"latency"`
	Attempts int             `json:"attempts"`
}

// Workflow groups tasks into one submission. Its aggregate success is the
// logical AND over every task result.
type Workflow struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Tasks     []*Task        `json:"tasks"`
	Status    WorkflowStatus `json:"status"`
	Results   []*TaskResult  `json:"results,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// WorkflowResult aggregates every task's outcome.
type WorkflowResult struct {
	WorkflowID string        `json:"workflow_id"`
	Success    bool          `json:"success"`
	Results    []*TaskResult `json:"results"`
	Duration   time.Duration `json:"duration"`
}

// Advance moves a task's status forward, never backward.
func (t *Task) Advance(next TaskStatus) {
	if rank(next) > rank(t.Status) {
		t.Status = next
	}
}

func rank(s TaskStatus) int {
	switch s {
	case TaskPending:
		return 0
	case TaskAssigned:
		return 1
	case TaskCompleted, TaskFailed:
		return 2
	}
	return -1
}

// Terminal reports whether the task has settled.
func (t *Task) Terminal() bool {
	return t.Status == TaskCompleted || t.Status == TaskFailed
}
