// Package taskmgr implements the Task Manager (spec §4.5): the task state
// machine, ready queue, and dispatch loop that drives the Claude Invoker.
// Grounded on the teacher's internal/engine.Engine worker-pool loop
// (trace/run id propagation, heartbeat-while-running, cancel-map) adapted
// from a poll-the-database dispatcher to a wake-on-signal one over the
// in-process Registry Store.
package taskmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/noxhq/nox/internal/agentmgr"
	"github.com/noxhq/nox/internal/bus"
	"github.com/noxhq/nox/internal/invoker"
	"github.com/noxhq/nox/internal/registry"
	"github.com/noxhq/nox/internal/shared"
)

// ErrAgentNotActive is returned by Execute when the caller did not ask the
// manager to activate a non-Active agent on their behalf (spec §4.5).
var ErrAgentNotActive = errors.New("agent is not active")

// heartbeatInterval matches the teacher's lease-heartbeat cadence,
// repurposed here to periodically refresh TaskProgress rather than renew
// a database lease (there is no lease in a single-process store).
const heartbeatInterval = 10 * time.Second

// Manager owns the ready queue and the worker pool that drains it.
type Manager struct {
	store   *registry.Store
	bus     *bus.Bus
	agents  *agentmgr.Manager
	invoker *invoker.Invoker
	logger  *slog.Logger

	workerCount   int
	invokerLimits invoker.Limits

	mu      sync.Mutex
	queue   *readyQueue
	cancels map[string]context.CancelFunc // taskID -> cancel, guarded by mu

	wake chan struct{}
	wg   sync.WaitGroup
	stop chan struct{}
}

// Option configures New.
type Option func(*Manager)

// WithWorkerCount overrides the default worker pool size.
func WithWorkerCount(n int) Option {
	return func(m *Manager) { m.workerCount = n }
}

// WithInvokerLimits sets the Timeout/OutputCap/Model applied to every
// invocation dispatched by this Manager, sourced from config.InvokerConfig.
func WithInvokerLimits(limits invoker.Limits) Option {
	return func(m *Manager) { m.invokerLimits = limits }
}

// New creates a Manager; call LoadFromStore before Start to seed the
// ready queue with every Todo task already on disk.
func New(store *registry.Store, b *bus.Bus, agents *agentmgr.Manager, inv *invoker.Invoker, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:       store,
		bus:         b,
		agents:      agents,
		invoker:     inv,
		logger:      logger,
		workerCount: 4,
		queue:       newReadyQueue(),
		cancels:     make(map[string]context.CancelFunc),
		wake:        make(chan struct{}, 1),
		stop:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// orphanedReason is the fixed metadata reason stamped on tasks recovered
// from InProgress at startup (spec §4.6 step 5: "no speculative resume").
const orphanedReason = "orphaned_by_restart"

// LoadFromStore seeds the ready queue from every Todo task in the
// registry and resolves every InProgress task to Error, since no task
// execution survives a process restart (spec §4.6 startup step 5).
func (m *Manager) LoadFromStore() {
	var orphaned []registry.Task
	m.mu.Lock()
	for _, t := range m.store.ListTasks("") {
		switch t.Status {
		case registry.TaskTodo:
			m.queue.push(t)
		case registry.TaskInProgress:
			orphaned = append(orphaned, t)
		}
	}
	m.mu.Unlock()

	for _, t := range orphaned {
		errored := registry.TaskError
		updated, err := m.store.UpdateTask(t.ID, registry.TaskPatch{
			Status:   &errored,
			Metadata: map[string]string{registry.MetaReason: orphanedReason},
		})
		if err != nil {
			m.logger.Error("failed to resolve orphaned task at startup", "task_id", t.ID, "error", err)
			continue
		}
		m.bus.PublishTaskUpdated(updated, t.Status)
	}
}

// Start launches the worker pool.
func (m *Manager) Start(ctx context.Context) {
	for i := 0; i < m.workerCount; i++ {
		m.wg.Add(1)
		go m.worker(ctx)
	}
}

// Wait blocks until every worker goroutine has returned.
func (m *Manager) Wait() { m.wg.Wait() }

// QueueDepth returns the number of tasks currently waiting in the ready
// queue (internal/metrics' "nox.queue.depth" gauge).
func (m *Manager) QueueDepth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.len()
}

// ActiveTaskCount returns the number of tasks currently InProgress
// (internal/metrics' "nox.tasks.active" gauge).
func (m *Manager) ActiveTaskCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cancels)
}

// Shutdown signals every worker to stop taking new work and waits up to
// timeout for in-flight executions to finish.
func (m *Manager) Shutdown(timeout time.Duration) {
	close(m.stop)
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Info("task manager drained cleanly")
	case <-time.After(timeout):
		m.logger.Warn("task manager drain timeout; in-flight tasks left running", "timeout", timeout)
	}
}

// WaitIdle blocks until agentID has zero in-flight tasks or ctx expires.
// Implements agentmgr.drainWaiter for Supervisor-driven shutdown.
func (m *Manager) WaitIdle(ctx context.Context, agentID string) error {
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		if m.agents.InFlight(agentID) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Manager) signalWake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// CreateTask creates a task in the registry, enqueues it if its status is
// Todo, and wakes the dispatch loop.
func (m *Manager) CreateTask(draft registry.TaskDraft) (registry.Task, error) {
	t, err := m.store.CreateTask(draft)
	if err != nil {
		return registry.Task{}, err
	}
	m.bus.PublishTaskCreated(t)

	m.mu.Lock()
	m.queue.push(t)
	m.mu.Unlock()
	m.signalWake()
	return t, nil
}

// Execute explicitly dispatches taskID. If activateAgent is true and the
// owning agent is not Active, the manager starts it first; otherwise a
// non-Active agent yields ErrAgentNotActive (spec §4.5).
func (m *Manager) Execute(ctx context.Context, taskID string, activateAgent bool) error {
	t, err := m.store.GetTask(taskID)
	if err != nil {
		return err
	}
	agent, err := m.store.GetAgent(t.AgentID)
	if err != nil {
		return err
	}
	if agent.Status != registry.AgentActive {
		if !activateAgent {
			return fmt.Errorf("agent %s: %w", agent.ID, ErrAgentNotActive)
		}
		if _, err := m.agents.Start(agent.ID); err != nil {
			return err
		}
	}
	m.signalWake()
	return nil
}

// Cancel implements spec §4.5's cancel(id) tri-state: Todo tasks are
// pulled from the ready queue directly; InProgress tasks have their
// invocation context cancelled and the caller's status flip happens only
// once the invoker actually terminates the child (observed by the worker
// goroutine driving that task); terminal tasks report AlreadyTerminal.
func (m *Manager) Cancel(taskID string) error {
	t, err := m.store.GetTask(taskID)
	if err != nil {
		return err
	}
	if t.Status.IsTerminal() {
		return fmt.Errorf("task %s: %w", taskID, registry.AlreadyTerminal)
	}

	m.mu.Lock()
	if t.Status == registry.TaskTodo {
		m.queue.remove(taskID)
		m.mu.Unlock()
		return m.finishCancelled(t)
	}
	cancel, inFlight := m.cancels[taskID]
	m.mu.Unlock()
	if inFlight {
		cancel() // best-effort abort; status flips when the worker observes it.
		return nil
	}
	// InProgress but no cancel func registered (race with completion): treat
	// as already resolving, not an error.
	return nil
}

func (m *Manager) finishCancelled(t registry.Task) error {
	cancelled := registry.TaskCancelled
	updated, err := m.store.UpdateTask(t.ID, registry.TaskPatch{Status: &cancelled})
	if err != nil {
		return err
	}
	m.bus.PublishTaskUpdated(updated, t.Status)
	return nil
}

func (m *Manager) worker(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-m.wake:
		case <-ticker.C:
		}

		taskID, agentID, ok := m.claimNext()
		if !ok {
			continue
		}
		// Capacity was already reserved atomically with the pop inside
		// claimNext; no separate BeginTask call here.
		m.runTask(ctx, taskID, agentID)
		m.agents.EndTask(agentID)
		m.signalWake() // capacity freed; let other workers re-scan.
	}
}

func (m *Manager) claimNext() (taskID, agentID string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.popForDispatchableAgent(m.agents.CanDispatch, m.agents.TryBeginTask)
}

// runTask executes the 5-step protocol of spec §4.5.
func (m *Manager) runTask(ctx context.Context, taskID, agentID string) {
	traceID := shared.NewTraceID()
	taskCtx, cancel := context.WithCancel(shared.WithTraceID(ctx, traceID))
	m.mu.Lock()
	m.cancels[taskID] = cancel
	m.mu.Unlock()
	defer func() {
		cancel()
		m.mu.Lock()
		delete(m.cancels, taskID)
		m.mu.Unlock()
	}()

	// Step 1: reserve capacity already done by caller; mark InProgress.
	t, err := m.store.GetTask(taskID)
	if err != nil {
		m.logger.Error("runTask: task vanished before start", "task_id", taskID, "error", err)
		return
	}
	agent, err := m.store.GetAgent(agentID)
	if err != nil {
		m.logger.Error("runTask: agent vanished before start", "agent_id", agentID, "error", err)
		return
	}

	inProgress := registry.TaskInProgress
	now := time.Now().UTC()
	t, err = m.store.UpdateTask(taskID, registry.TaskPatch{Status: &inProgress, StartedAt: &now})
	if err != nil {
		m.logger.Error("runTask: failed to mark InProgress", "task_id", taskID, "error", err)
		return
	}
	m.bus.PublishTaskUpdated(t, registry.TaskTodo)

	stop := m.startProgressHeartbeat(taskCtx, taskID)
	defer stop()

	// Step 2: invoke. The existing outcome wins over a late cancel (spec
	// §4.5): a nil invokeErr means the child produced output before
	// termination landed, so success is recorded even if taskCtx is by
	// now cancelled.
	res, invokeErr := m.invoker.Invoke(taskCtx, agent.SystemPrompt, t.Title+"\n\n"+t.Description, m.invokerLimits)

	if invokeErr == nil {
		m.finishSuccess(taskID, res.Text)
		return
	}
	if errors.Is(taskCtx.Err(), context.Canceled) {
		m.finishAfterCancel(taskID)
		return
	}
	m.finishError(taskID, invokeErr)
}

func (m *Manager) startProgressHeartbeat(ctx context.Context, taskID string) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				m.bus.PublishTaskProgress(taskID, -1) // -1: still running, percent unknown
			}
		}
	}()
	return func() { close(done) }
}

// finishSuccess implements protocol step 3.
func (m *Manager) finishSuccess(taskID, responseText string) {
	done := registry.TaskDone
	completedAt := time.Now().UTC()
	t, err := m.store.GetTask(taskID)
	if err != nil {
		m.logger.Error("finishSuccess: task vanished", "task_id", taskID, "error", err)
		return
	}
	updated, err := m.store.UpdateTask(taskID, registry.TaskPatch{
		Status:      &done,
		CompletedAt: &completedAt,
		Metadata:    map[string]string{registry.MetaResponse: responseText},
	})
	if err != nil {
		m.logger.Error("finishSuccess: persist failed", "task_id", taskID, "error", err)
		return
	}
	m.bus.PublishTaskUpdated(updated, t.Status)
	m.bus.PublishTaskCompleted(taskID, bus.TaskResultOk)
}

// finishError implements protocol step 4.
func (m *Manager) finishError(taskID string, invokeErr error) {
	errored := registry.TaskError
	completedAt := time.Now().UTC()
	t, err := m.store.GetTask(taskID)
	if err != nil {
		m.logger.Error("finishError: task vanished", "task_id", taskID, "error", err)
		return
	}
	var kind string
	var tail string
	var ierr *invoker.InvocationError
	if errors.As(invokeErr, &ierr) {
		kind = string(ierr.Kind)
		tail = ierr.StderrTail
	} else {
		kind = "Unknown"
		tail = invokeErr.Error()
	}
	updated, err := m.store.UpdateTask(taskID, registry.TaskPatch{
		Status:      &errored,
		CompletedAt: &completedAt,
		Metadata: map[string]string{
			registry.MetaError:  kind,
			registry.MetaReason: tail,
		},
	})
	if err != nil {
		m.logger.Error("finishError: persist failed", "task_id", taskID, "error", err)
		return
	}
	m.bus.PublishTaskUpdated(updated, t.Status)
	m.bus.PublishTaskCompleted(taskID, bus.TaskResultErr)
}

func (m *Manager) finishAfterCancel(taskID string) {
	t, err := m.store.GetTask(taskID)
	if err != nil {
		return
	}
	if t.Status.IsTerminal() {
		return // the invocation's own outcome already landed; cancel lost the race.
	}
	if err := m.finishCancelled(t); err != nil {
		m.logger.Error("finishAfterCancel: persist failed", "task_id", taskID, "error", err)
	}
}
