// Package agentmgr implements the Agent Manager (spec §4.3): the runtime
// layer that tracks per-agent in-flight counts and drives the agent
// lifecycle state machine on top of the Registry Store. Grounded on the
// teacher's internal/agent.Registry, adapted from a genkit-brain/engine
// supervisor to a record-and-cap bookkeeper over subprocess-spawned tasks.
package agentmgr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/noxhq/nox/internal/bus"
	"github.com/noxhq/nox/internal/registry"
)

// runtimeRecord is the per-agent runtime state the manager keeps in
// memory only; persistence is the Registry Store's job (spec §4.3).
type runtimeRecord struct {
	agent          registry.Agent
	inFlightTasks  int
	restartCount   int
	lastSpawnError error
}

// Manager holds per-agent runtime records and enforces each agent's
// concurrency cap. It never blocks a caller: over-cap dispatch attempts
// are the Task Manager's job to queue.
type Manager struct {
	mu      sync.Mutex
	store   *registry.Store
	bus     *bus.Bus
	logger  *slog.Logger
	records map[string]*runtimeRecord // by agent id
}

// New creates a Manager bound to store and bus.
func New(store *registry.Store, b *bus.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:   store,
		bus:     b,
		logger:  logger,
		records: make(map[string]*runtimeRecord),
	}
}

// LoadFromStore reconstructs the runtime record set from the registry,
// resetting any agent persisted as Active back to Inactive pending an
// explicit start (spec §4.3 "reset to Inactive pending explicit start").
func (m *Manager) LoadFromStore() error {
	agents := m.store.ListAgents()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]*runtimeRecord, len(agents))
	for _, a := range agents {
		if a.Status == registry.AgentActive || a.Status == registry.AgentStarting || a.Status == registry.AgentStopping {
			reset := registry.AgentInactive
			updated, err := m.store.UpdateAgent(a.ID, registry.AgentPatch{Status: &reset})
			if err != nil {
				return fmt.Errorf("reset agent %s to inactive: %w", a.ID, err)
			}
			a = updated
		}
		m.records[a.ID] = &runtimeRecord{agent: a}
	}
	return nil
}

// transition moves agent id from its current status to to, persisting the
// change as a single Registry Store commit and publishing
// AgentStatusChanged only after that commit succeeds (spec §4.3 "(a)
// atomic update... with a single commit; (b) event emitted after
// persistence success").
func (m *Manager) transition(id string, to registry.AgentStatus) (registry.Agent, error) {
	m.mu.Lock()
	rec, ok := m.records[id]
	m.mu.Unlock()
	if !ok {
		return registry.Agent{}, fmt.Errorf("agent %s: %w", id, registry.NotFound)
	}

	from := rec.agent.Status
	updated, err := m.store.UpdateAgent(id, registry.AgentPatch{Status: &to})
	if err != nil {
		return registry.Agent{}, err
	}

	m.mu.Lock()
	rec.agent = updated
	m.mu.Unlock()

	m.bus.PublishAgentStatusChanged(id, from, to)
	return updated, nil
}

// Start transitions an agent Inactive/Error -> Starting -> Active. There
// is no long-lived agent process (spec §4.3): Starting exists only as the
// commit/event boundary before Active, since starting an agent is purely
// a state change until the first task is dispatched to it.
func (m *Manager) Start(id string) (registry.Agent, error) {
	if _, err := m.transition(id, registry.AgentStarting); err != nil {
		return registry.Agent{}, err
	}
	agent, err := m.transition(id, registry.AgentActive)
	if err != nil {
		m.recordSpawnError(id, err)
		if _, terr := m.transition(id, registry.AgentError); terr != nil {
			m.logger.Error("failed to record agent start failure", "agent_id", id, "error", terr)
		}
		return registry.Agent{}, err
	}
	return agent, nil
}

// Stop transitions an agent Active -> Stopping -> Inactive.
func (m *Manager) Stop(id string) (registry.Agent, error) {
	if _, err := m.transition(id, registry.AgentStopping); err != nil {
		return registry.Agent{}, err
	}
	return m.transition(id, registry.AgentInactive)
}

// Fail transitions an agent Active -> Error, recording the causing error
// for observability (spec §4.3 failure semantics).
func (m *Manager) Fail(id string, cause error) (registry.Agent, error) {
	m.recordSpawnError(id, cause)
	return m.transition(id, registry.AgentError)
}

func (m *Manager) recordSpawnError(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[id]; ok {
		rec.lastSpawnError = err
		rec.restartCount++
	}
}

// CanDispatch reports whether agent id has spare capacity for one more
// task, per its resource_limits.max_concurrent_tasks (spec §4.3).
func (m *Manager) CanDispatch(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return false
	}
	if rec.agent.Status != registry.AgentActive {
		return false
	}
	limit := rec.agent.ResourceLimits.MaxConcurrentTasks
	if limit <= 0 {
		limit = 1
	}
	return rec.inFlightTasks < limit
}

// BeginTask increments agent id's in-flight count unconditionally. Kept
// for callers that have already reserved capacity through TryBeginTask;
// prefer TryBeginTask when the increment must be atomic with the
// capacity check.
func (m *Manager) BeginTask(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[id]; ok {
		rec.inFlightTasks++
	}
}

// TryBeginTask checks dispatch capacity and reserves one slot in a single
// locked step, closing the race a separate CanDispatch-then-BeginTask
// pair leaves open when two dispatch decisions interleave between the
// check and the increment (spec §8 Property 5: InProgress count never
// exceeds max_concurrent_tasks).
func (m *Manager) TryBeginTask(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok || rec.agent.Status != registry.AgentActive {
		return false
	}
	limit := rec.agent.ResourceLimits.MaxConcurrentTasks
	if limit <= 0 {
		limit = 1
	}
	if rec.inFlightTasks >= limit {
		return false
	}
	rec.inFlightTasks++
	return true
}

// EndTask decrements agent id's in-flight count, floored at zero.
func (m *Manager) EndTask(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[id]; ok && rec.inFlightTasks > 0 {
		rec.inFlightTasks--
	}
}

// InFlight returns the current in-flight task count for id.
func (m *Manager) InFlight(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[id]; ok {
		return rec.inFlightTasks
	}
	return 0
}

// Snapshot returns a point-in-time copy of every runtime record's agent
// and in-flight count, for status/introspection callers.
type Snapshot struct {
	Agent         registry.Agent
	InFlightTasks int
	RestartCount  int
}

// ListRunning returns a snapshot of every tracked agent.
func (m *Manager) ListRunning() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, Snapshot{Agent: rec.agent, InFlightTasks: rec.inFlightTasks, RestartCount: rec.restartCount})
	}
	return out
}

// drainWaiter is implemented by callers (internal/taskmgr) that know how
// to wait out a single agent's in-flight tasks, keeping agentmgr free of
// a direct taskmgr dependency.
type drainWaiter interface {
	WaitIdle(ctx context.Context, agentID string) error
}

// DrainAll cancels nothing itself (there is no agent process to cancel)
// but waits, in parallel and bounded by ctx, for every Active agent's
// in-flight tasks to finish, then moves it to Inactive. Mirrors the
// teacher's DrainAll fan-out, replacing its raw sync.WaitGroup with an
// errgroup so the first drain failure is reported instead of swallowed.
func (m *Manager) DrainAll(ctx context.Context, waiter drainWaiter) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.records))
	for id, rec := range m.records {
		if rec.agent.Status == registry.AgentActive {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		agentID := id
		g.Go(func() error {
			if waiter != nil {
				if err := waiter.WaitIdle(gctx, agentID); err != nil {
					return fmt.Errorf("drain agent %s: %w", agentID, err)
				}
			}
			if _, err := m.Stop(agentID); err != nil {
				return fmt.Errorf("stop agent %s: %w", agentID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// shutdownDeadline is a guard helper exposed for callers that want to turn
// a configured seconds value into a context deadline consistently with
// how the rest of the core does it (spec §6 bounded shutdown).
func shutdownDeadline(parent context.Context, seconds int) (context.Context, context.CancelFunc) {
	if seconds <= 0 {
		seconds = 30
	}
	return context.WithTimeout(parent, time.Duration(seconds)*time.Second)
}

// ShutdownDeadline is the exported form of shutdownDeadline for the
// Supervisor to share the same default.
func ShutdownDeadline(parent context.Context, seconds int) (context.Context, context.CancelFunc) {
	return shutdownDeadline(parent, seconds)
}
