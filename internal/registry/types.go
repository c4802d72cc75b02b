package registry

import "time"

// AgentStatus is the closed set of agent lifecycle states (spec §3, §4.3).
type AgentStatus string

const (
	AgentInactive AgentStatus = "Inactive"
	AgentStarting AgentStatus = "Starting"
	AgentActive   AgentStatus = "Active"
	AgentStopping AgentStatus = "Stopping"
	AgentError    AgentStatus = "Error"
)

// TaskStatus is the closed set of task lifecycle states (spec §3, §4.5).
type TaskStatus string

const (
	TaskTodo       TaskStatus = "Todo"
	TaskInProgress TaskStatus = "InProgress"
	TaskDone       TaskStatus = "Done"
	TaskCancelled  TaskStatus = "Cancelled"
	TaskError      TaskStatus = "Error"
)

// IsTerminal reports whether a task status accepts no further mutation.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskDone, TaskCancelled, TaskError:
		return true
	default:
		return false
	}
}

// Priority is the closed set of task priorities, ordered highest-first by
// Rank for the ready queue's (priority DESC, created_at ASC) ordering.
type Priority string

const (
	PriorityLow      Priority = "Low"
	PriorityMedium   Priority = "Medium"
	PriorityHigh     Priority = "High"
	PriorityCritical Priority = "Critical"
)

// Rank returns the priority's sort weight; higher sorts first.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 0
	default:
		return 0
	}
}

// ResourceLimits are the advisory per-agent caps of spec §3.
type ResourceLimits struct {
	MaxMemoryMB       int `toml:"max_memory_mb" json:"max_memory_mb"`
	MaxCPUPercent     int `toml:"max_cpu_percent" json:"max_cpu_percent"`
	MaxConcurrentTasks int `toml:"max_concurrent_tasks" json:"max_concurrent_tasks"`
}

// Agent is the persistent configuration on whose behalf tasks are executed.
type Agent struct {
	ID             string            `toml:"id" json:"id"`
	Name           string            `toml:"name" json:"name"`
	SystemPrompt   string            `toml:"system_prompt" json:"system_prompt"`
	Status         AgentStatus       `toml:"status" json:"status"`
	CreatedAt      time.Time         `toml:"created_at" json:"created_at"`
	LastActive     time.Time         `toml:"last_active" json:"last_active"`
	ResourceLimits ResourceLimits    `toml:"resource_limits" json:"resource_limits"`
	Metadata       map[string]string `toml:"metadata" json:"metadata"`
}

// AgentDraft is the caller-supplied input to create_agent.
type AgentDraft struct {
	Name           string
	SystemPrompt   string
	ResourceLimits ResourceLimits
	Metadata       map[string]string
}

// AgentPatch describes a partial update to an Agent; nil fields are left
// unchanged. Changing ID is always rejected by update_agent.
type AgentPatch struct {
	SystemPrompt   *string
	Status         *AgentStatus
	ResourceLimits *ResourceLimits
	Metadata       map[string]string
	LastActive     *time.Time
}

// Task is a unit of work assigned to exactly one Agent.
type Task struct {
	ID          string            `json:"id"`
	AgentID     string            `json:"agent_id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Status      TaskStatus        `json:"status"`
	Priority    Priority          `json:"priority"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Progress    *int              `json:"progress,omitempty"`
	Metadata    map[string]string `json:"metadata"`
}

// Reserved Task.Metadata keys (spec §3).
const (
	MetaResponse = "response"
	MetaError    = "error"
	MetaReason   = "reason"
)

// TaskDraft is the caller-supplied input to create_task.
type TaskDraft struct {
	AgentID     string
	Title       string
	Description string
	Priority    Priority
	Metadata    map[string]string
}

// TaskPatch describes a partial update to a Task; nil fields are unchanged.
type TaskPatch struct {
	Status      *TaskStatus
	Progress    *int
	StartedAt   *time.Time
	CompletedAt *time.Time
	Metadata    map[string]string // merged into existing metadata
}
