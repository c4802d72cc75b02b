// Package facade implements the Request Facade (spec §4.7): the single
// stable method surface every collaborator (CLI, dashboard, gateway,
// scheduler, channels) is expected to call instead of reaching into the
// Registry Store, Agent Manager, or Task Manager directly. Grounded on
// the teacher's internal/agent.Registry, whose CreateChatTask/AbortTask/
// ListAgents methods are the same "look up, validate, delegate, typed
// error" shape applied here to agents and tasks.
package facade

import (
	"context"
	"fmt"

	"github.com/noxhq/nox/internal/agentmgr"
	"github.com/noxhq/nox/internal/bus"
	"github.com/noxhq/nox/internal/registry"
	"github.com/noxhq/nox/internal/taskmgr"
)

// Facade is the stable surface collaborators are built against. It owns
// no state of its own; every call delegates to the Registry Store, Agent
// Manager, or Task Manager the Supervisor already constructed.
type Facade struct {
	store  *registry.Store
	agents *agentmgr.Manager
	tasks  *taskmgr.Manager
	bus    *bus.Bus
}

// New wraps the Supervisor's components. Callers typically pass
// sup.Store, sup.Agents, sup.Tasks, sup.Bus straight through.
func New(store *registry.Store, agents *agentmgr.Manager, tasks *taskmgr.Manager, b *bus.Bus) *Facade {
	return &Facade{store: store, agents: agents, tasks: tasks, bus: b}
}

// CreateAgent registers a new agent in the Registry Store and publishes
// AgentCreated once persistence succeeds (spec §8 Universal Property 1:
// every Ok-returning mutation emits exactly one corresponding event).
func (f *Facade) CreateAgent(draft registry.AgentDraft) (registry.Agent, error) {
	a, err := f.store.CreateAgent(draft)
	if err != nil {
		return registry.Agent{}, err
	}
	f.bus.PublishAgentCreated(a)
	return a, nil
}

// GetAgent looks up an agent by id or name.
func (f *Facade) GetAgent(idOrName string) (registry.Agent, error) {
	return f.store.GetAgent(idOrName)
}

// ListAgents returns every known agent.
func (f *Facade) ListAgents() []registry.Agent {
	return f.store.ListAgents()
}

// UpdateAgent applies a partial update to an agent and publishes
// AgentUpdated once persistence succeeds (spec §8 Universal Property 1).
func (f *Facade) UpdateAgent(id string, patch registry.AgentPatch) (registry.Agent, error) {
	prev, err := f.store.GetAgent(id)
	if err != nil {
		return registry.Agent{}, err
	}
	updated, err := f.store.UpdateAgent(id, patch)
	if err != nil {
		return registry.Agent{}, err
	}
	f.bus.PublishAgentUpdated(updated, prev.Status)
	return updated, nil
}

// DeleteAgent removes an agent, rejecting the call if any non-terminal
// task still references it (registry.Store enforces the constraint), and
// publishes AgentDeleted once persistence succeeds (spec §8 Universal
// Property 1).
func (f *Facade) DeleteAgent(id string) error {
	if err := f.store.DeleteAgent(id); err != nil {
		return err
	}
	f.bus.PublishAgentDeleted(id)
	return nil
}

// StartAgent transitions an agent Inactive/Error -> Starting -> Active.
func (f *Facade) StartAgent(id string) (registry.Agent, error) {
	return f.agents.Start(id)
}

// StopAgent transitions an agent Active -> Stopping -> Inactive.
func (f *Facade) StopAgent(id string) (registry.Agent, error) {
	return f.agents.Stop(id)
}

// CreateTask persists a task and enqueues it on the ready queue.
func (f *Facade) CreateTask(draft registry.TaskDraft) (registry.Task, error) {
	return f.tasks.CreateTask(draft)
}

// GetTask looks up a task by id.
func (f *Facade) GetTask(id string) (registry.Task, error) {
	return f.store.GetTask(id)
}

// ListTasks returns every task, or only those belonging to agentID when
// it is non-empty.
func (f *Facade) ListTasks(agentID string) []registry.Task {
	return f.store.ListTasks(agentID)
}

// CancelTask cancels a Todo or InProgress task (spec §4.5's tri-state
// cancellation semantics); AlreadyTerminal is returned for a task that
// has already finished.
func (f *Facade) CancelTask(id string) error {
	return f.tasks.Cancel(id)
}

// ExecuteTask nudges the Task Manager to attempt dispatch of a specific
// task, optionally starting its agent first (activateAgent).
func (f *Facade) ExecuteTask(ctx context.Context, id string, activateAgent bool) error {
	return f.tasks.Execute(ctx, id, activateAgent)
}

// Subscribe registers a new Event Bus subscription. Callers must call
// Unsubscribe when done.
func (f *Facade) Subscribe() *bus.Subscription {
	return f.bus.Subscribe()
}

// Unsubscribe releases a subscription obtained from Subscribe.
func (f *Facade) Unsubscribe(sub *bus.Subscription) {
	f.bus.Unsubscribe(sub)
}

// ErrNotFound is returned (wrapped) whenever a lookup by id/name fails;
// collaborators can match it with errors.Is against registry.NotFound.
var ErrNotFound = fmt.Errorf("facade: %w", registry.NotFound)
