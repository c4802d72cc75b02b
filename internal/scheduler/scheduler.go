// Package scheduler implements the recurring-task scheduler: a
// supplemented feature (SPEC_FULL.md §4/§5) that turns a predefined
// agent's cron schedules into Task Manager tasks, speaking only to the
// Request Facade the way every other collaborator does. Grounded on the
// teacher's internal/cron/scheduler.go almost directly — same parser
// construction, same tick-and-fire loop — re-pointed at the Facade
// instead of a sqlite store.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/noxhq/nox/internal/config"
	"github.com/noxhq/nox/internal/facade"
	"github.com/noxhq/nox/internal/registry"
)

// cronParser parses standard 5-field cron expressions (minute, hour,
// day-of-month, month, day-of-week).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// entry is one schedule's in-memory run state. There is no persisted
// Schedule entity in the Registry Store (spec.md scopes it to agents and
// tasks), so "due" tracking lives here and resets on restart — a missed
// fire during downtime is not replayed.
type entry struct {
	agentID  string
	schedule cronlib.Schedule
	cronExpr string
	title    string
	desc     string
	priority registry.Priority
	nextRun  time.Time
}

// Scheduler periodically checks each predefined agent's cron schedules
// and creates a task through the Facade for every one that's due.
type Scheduler struct {
	facade   *facade.Facade
	logger   *slog.Logger
	interval time.Duration

	mu      sync.Mutex
	entries []*entry

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func priorityFromConfig(p string) registry.Priority {
	switch registry.Priority(p) {
	case registry.PriorityLow, registry.PriorityHigh, registry.PriorityCritical:
		return registry.Priority(p)
	default:
		return registry.PriorityMedium
	}
}

// New builds a Scheduler from the predefined agents' cron schedules.
// agentIDByName maps a predefined agent's config-file agent_id to the
// Registry Store id it was created/resolved as (set up by whatever
// provisions predefined agents at startup).
func New(f *facade.Facade, agentIDByName map[string]string, agents []config.PredefinedAgent, interval time.Duration, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}

	s := &Scheduler{facade: f, logger: logger, interval: interval}
	now := time.Now()
	for _, a := range agents {
		registryID, ok := agentIDByName[a.AgentID]
		if !ok {
			continue
		}
		for _, sc := range a.Schedules {
			parsed, err := cronParser.Parse(sc.Schedule)
			if err != nil {
				logger.Error("scheduler: invalid cron expression, skipping", "agent_id", a.AgentID, "schedule", sc.Schedule, "error", err)
				continue
			}
			s.entries = append(s.entries, &entry{
				agentID:  registryID,
				schedule: parsed,
				cronExpr: sc.Schedule,
				title:    sc.TaskTitle,
				desc:     sc.TaskDescription,
				priority: priorityFromConfig(sc.Priority),
				nextRun:  parsed.Next(now),
			})
		}
	}
	return s, nil
}

// Start begins the scheduler loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("scheduler started", "interval", s.interval, "schedules", len(s.entries))
}

// Stop cancels the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick fires every due entry and advances its nextRun.
func (s *Scheduler) tick() {
	now := time.Now()
	s.mu.Lock()
	due := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		if !now.Before(e.nextRun) {
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		s.fire(e, now)
	}
}

func (s *Scheduler) fire(e *entry, now time.Time) {
	task, err := s.facade.CreateTask(registry.TaskDraft{
		AgentID:     e.agentID,
		Title:       e.title,
		Description: e.desc,
		Priority:    e.priority,
	})
	if err != nil {
		s.logger.Error("scheduler: failed to create task for schedule", "agent_id", e.agentID, "cron_expr", e.cronExpr, "error", err)
		return
	}

	s.mu.Lock()
	e.nextRun = e.schedule.Next(now)
	s.mu.Unlock()

	s.logger.Info("scheduler: schedule fired", "agent_id", e.agentID, "task_id", task.ID, "next_run_at", e.nextRun)
}
