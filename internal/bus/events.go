// Package bus implements the Event Bus (spec §4.2): a single-producer,
// multi-consumer broadcast of the closed Event union, grounded on the
// teacher's topic-prefix pub/sub bus but redesigned to drop the oldest
// undelivered event per subscriber rather than the newest.
package bus

import "github.com/noxhq/nox/internal/registry"

// Kind is the closed set of event kinds publishable on the bus (spec §4.2).
type Kind string

const (
	KindAgentCreated       Kind = "AgentCreated"
	KindAgentUpdated       Kind = "AgentUpdated"
	KindAgentDeleted       Kind = "AgentDeleted"
	KindAgentStatusChanged Kind = "AgentStatusChanged"
	KindTaskCreated        Kind = "TaskCreated"
	KindTaskUpdated        Kind = "TaskUpdated"
	KindTaskProgress       Kind = "TaskProgress"
	KindTaskCompleted      Kind = "TaskCompleted"
	KindSystemEvent        Kind = "SystemEvent"
)

// Event is the tagged union published on the bus. Exactly one payload
// field is populated, selected by Kind; this mirrors the teacher's
// Topic+Payload envelope but replaces the open string Topic with a closed
// Kind so consumers can switch exhaustively.
type Event struct {
	Kind Kind

	Agent           *AgentCreatedPayload
	AgentUpdate     *AgentUpdatedPayload
	AgentDelete     *AgentDeletedPayload
	AgentStatus     *AgentStatusChangedPayload
	Task            *TaskCreatedPayload
	TaskUpdate      *TaskUpdatedPayload
	TaskProgress    *TaskProgressPayload
	TaskCompleted   *TaskCompletedPayload
	System          *SystemEventPayload
}

// AgentCreatedPayload accompanies KindAgentCreated.
type AgentCreatedPayload struct {
	Agent registry.Agent
}

// AgentUpdatedPayload accompanies KindAgentUpdated.
type AgentUpdatedPayload struct {
	Agent      registry.Agent
	PrevStatus registry.AgentStatus
}

// AgentDeletedPayload accompanies KindAgentDeleted.
type AgentDeletedPayload struct {
	ID string
}

// AgentStatusChangedPayload accompanies KindAgentStatusChanged.
type AgentStatusChangedPayload struct {
	ID   string
	From registry.AgentStatus
	To   registry.AgentStatus
}

// TaskCreatedPayload accompanies KindTaskCreated.
type TaskCreatedPayload struct {
	Task registry.Task
}

// TaskUpdatedPayload accompanies KindTaskUpdated.
type TaskUpdatedPayload struct {
	Task       registry.Task
	PrevStatus registry.TaskStatus
}

// TaskProgressPayload accompanies KindTaskProgress.
type TaskProgressPayload struct {
	ID      string
	Percent int
}

// TaskResult distinguishes a completed task's outcome without exposing an
// error value over the bus (errors stay in Task.Metadata, spec §3).
type TaskResult string

const (
	TaskResultOk  TaskResult = "Ok"
	TaskResultErr TaskResult = "Err"
)

// TaskCompletedPayload accompanies KindTaskCompleted.
type TaskCompletedPayload struct {
	ID     string
	Result TaskResult
}

// SystemEventPayload accompanies KindSystemEvent: a free-form escape hatch
// for supervisor/scheduler-level notices that don't fit the Agent/Task
// shapes above (spec §4.2).
type SystemEventPayload struct {
	EventKind string
	Payload   any
}

func newAgentCreated(a registry.Agent) Event {
	return Event{Kind: KindAgentCreated, Agent: &AgentCreatedPayload{Agent: a}}
}

func newAgentUpdated(a registry.Agent, prev registry.AgentStatus) Event {
	return Event{Kind: KindAgentUpdated, AgentUpdate: &AgentUpdatedPayload{Agent: a, PrevStatus: prev}}
}

func newAgentDeleted(id string) Event {
	return Event{Kind: KindAgentDeleted, AgentDelete: &AgentDeletedPayload{ID: id}}
}

func newAgentStatusChanged(id string, from, to registry.AgentStatus) Event {
	return Event{Kind: KindAgentStatusChanged, AgentStatus: &AgentStatusChangedPayload{ID: id, From: from, To: to}}
}

func newTaskCreated(t registry.Task) Event {
	return Event{Kind: KindTaskCreated, Task: &TaskCreatedPayload{Task: t}}
}

func newTaskUpdated(t registry.Task, prev registry.TaskStatus) Event {
	return Event{Kind: KindTaskUpdated, TaskUpdate: &TaskUpdatedPayload{Task: t, PrevStatus: prev}}
}

func newTaskProgress(id string, pct int) Event {
	return Event{Kind: KindTaskProgress, TaskProgress: &TaskProgressPayload{ID: id, Percent: pct}}
}

func newTaskCompleted(id string, result TaskResult) Event {
	return Event{Kind: KindTaskCompleted, TaskCompleted: &TaskCompletedPayload{ID: id, Result: result}}
}

func newSystemEvent(kind string, payload any) Event {
	return Event{Kind: KindSystemEvent, System: &SystemEventPayload{EventKind: kind, Payload: payload}}
}
