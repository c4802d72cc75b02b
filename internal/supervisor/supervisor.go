// Package supervisor implements the Supervisor (spec §4.6): the strict
// startup sequence and bounded shutdown that wires the Registry Store,
// Event Bus, Agent Manager, and Task Manager together. Grounded on the
// teacher's cmd/goclaw/main.go wiring order and internal/doctor.go startup
// diagnostics style.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/noxhq/nox/internal/agentmgr"
	"github.com/noxhq/nox/internal/bus"
	"github.com/noxhq/nox/internal/config"
	"github.com/noxhq/nox/internal/invoker"
	"github.com/noxhq/nox/internal/metrics"
	"github.com/noxhq/nox/internal/registry"
	"github.com/noxhq/nox/internal/taskmgr"
)

// DefaultShutdownDeadline is the global bound on waiting for in-flight
// tasks to finish before survivors are force-killed (spec §4.6).
const DefaultShutdownDeadline = 30 * time.Second

// Supervisor owns the lifecycle of every core component.
type Supervisor struct {
	Config  config.Config
	Store   *registry.Store
	Bus     *bus.Bus
	Agents  *agentmgr.Manager
	Tasks   *taskmgr.Manager
	Invoker *invoker.Invoker
	Metrics *metrics.Metrics

	logger    *slog.Logger
	lock      *lockFile
	runCtx    context.Context
	runCancel context.CancelFunc
}

// New runs the Supervisor's strict startup sequence (spec §4.6):
//  1. configuration is already loaded into cfg by the caller;
//  2. open the Registry Store (git init/open + dirty-tree recovery);
//  3. construct the Event Bus;
//  4. construct the Agent Manager, resetting any persisted
//     Active/Starting/Stopping agent to Inactive;
//  5. construct the Task Manager, resolving InProgress tasks left by a
//     prior crash to Error(orphaned_by_restart), then seed its queue;
//  6. the returned Supervisor is ready to accept requests.
func New(cfg config.Config, logger *slog.Logger) (*Supervisor, error) {
	if logger == nil {
		logger = slog.Default()
	}

	lock, err := acquireLock(cfg.RegistryDir)
	if err != nil {
		return nil, fmt.Errorf("acquire registry lock: %w", err)
	}

	store, err := registry.Open(cfg.RegistryDir, logger)
	if err != nil {
		lock.release()
		return nil, fmt.Errorf("open registry store: %w", err)
	}

	eventBus := bus.NewWithBufferSize(logger, cfg.EventBus.SubscriberBuffer)

	agents := agentmgr.New(store, eventBus, logger)
	if err := agents.LoadFromStore(); err != nil {
		lock.release()
		return nil, fmt.Errorf("load agent runtime state: %w", err)
	}

	inv := &invoker.Invoker{Binary: cfg.Invoker.Binary}
	limits := invoker.Limits{
		Timeout:   time.Duration(cfg.Invoker.TimeoutSeconds) * time.Second,
		OutputCap: cfg.Invoker.OutputCapBytes,
		Model:     cfg.Invoker.Model,
	}
	tasks := taskmgr.New(store, eventBus, agents, inv, logger,
		taskmgr.WithWorkerCount(cfg.TaskWorkerCount),
		taskmgr.WithInvokerLimits(limits),
	)
	tasks.LoadFromStore()

	s := &Supervisor{
		Config:  cfg,
		Store:   store,
		Bus:     eventBus,
		Agents:  agents,
		Tasks:   tasks,
		Invoker: inv,
		logger:  logger,
		lock:    lock,
	}

	if cfg.Metrics.Enabled {
		m, err := metrics.New(s)
		if err != nil {
			lock.release()
			return nil, fmt.Errorf("init metrics: %w", err)
		}
		s.Metrics = m
	}

	logger.Info("nox supervisor started", "registry_dir", cfg.RegistryDir, "agents", len(agents.ListRunning()))
	return s, nil
}

// QueueDepth implements metrics.Source.
func (s *Supervisor) QueueDepth() int { return s.Tasks.QueueDepth() }

// ActiveTaskCount implements metrics.Source.
func (s *Supervisor) ActiveTaskCount() int { return s.Tasks.ActiveTaskCount() }

// BusDroppedEventCount implements metrics.Source.
func (s *Supervisor) BusDroppedEventCount() int64 { return s.Bus.DroppedEventCount() }

// Run starts the Task Manager's worker pool and blocks until ctx is
// cancelled, the Supervisor is ready to accept requests from that point
// on (spec §4.6 step 6).
func (s *Supervisor) Run(ctx context.Context) {
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.Tasks.Start(s.runCtx)
}

// Shutdown implements spec §4.6's shutdown contract: stop accepting new
// invocations, wait up to deadline for InProgress tasks to finish or hit
// their own timeouts, force-kill survivors, persist final state, flush
// events. deadline <= 0 uses DefaultShutdownDeadline.
func (s *Supervisor) Shutdown(deadline time.Duration) error {
	if deadline <= 0 {
		deadline = time.Duration(s.Config.ShutdownDeadlineSeconds) * time.Second
	}
	if deadline <= 0 {
		deadline = DefaultShutdownDeadline
	}
	if s.runCancel != nil {
		s.runCancel() // stop claiming new tasks
	}

	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()

	s.Tasks.Shutdown(deadline)
	if err := s.Agents.DrainAll(ctx, s.Tasks); err != nil {
		s.logger.Warn("agent drain reported errors", "error", err)
	}

	s.Bus.Shutdown()
	if s.Metrics != nil {
		_ = s.Metrics.Shutdown(context.Background())
	}
	s.lock.release()
	s.logger.Info("nox supervisor shut down")
	return nil
}
