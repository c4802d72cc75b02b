package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/noxhq/nox/internal/agentmgr"
	"github.com/noxhq/nox/internal/bus"
	"github.com/noxhq/nox/internal/config"
	"github.com/noxhq/nox/internal/facade"
	"github.com/noxhq/nox/internal/invoker"
	"github.com/noxhq/nox/internal/registry"
	"github.com/noxhq/nox/internal/taskmgr"
)

func setupScheduler(t *testing.T, schedules []config.CronSchedule) (*Scheduler, *registry.Store) {
	t.Helper()
	store, err := registry.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	b := bus.New(nil)
	agents := agentmgr.New(store, b, nil)
	inv := &invoker.Invoker{Binary: "/bin/echo"}
	tasks := taskmgr.New(store, b, agents, inv, nil)
	f := facade.New(store, agents, tasks, b)

	a, err := f.CreateAgent(registry.AgentDraft{Name: "cron-agent"})
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	predefined := []config.PredefinedAgent{{AgentID: "cron-agent", Schedules: schedules}}
	agentIDByName := map[string]string{"cron-agent": a.ID}

	s, err := New(f, agentIDByName, predefined, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, store
}

func TestScheduler_FiresDueScheduleAndCreatesTask(t *testing.T) {
	s, store := setupScheduler(t, []config.CronSchedule{
		{Schedule: "* * * * *", TaskTitle: "daily digest", Priority: "High"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	// force the entry due immediately regardless of real wall-clock minute boundary
	s.mu.Lock()
	s.entries[0].nextRun = time.Now().Add(-time.Second)
	s.mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(store.ListTasks("")) > 0 {
			tasks := store.ListTasks("")
			if tasks[0].Title != "daily digest" {
				t.Fatalf("title = %q, want %q", tasks[0].Title, "daily digest")
			}
			if tasks[0].Priority != registry.PriorityHigh {
				t.Fatalf("priority = %q, want High", tasks[0].Priority)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for scheduled task to be created")
}

func TestScheduler_SkipsInvalidCronExpression(t *testing.T) {
	s, _ := setupScheduler(t, []config.CronSchedule{
		{Schedule: "not-a-cron-expr", TaskTitle: "broken"},
	})
	if len(s.entries) != 0 {
		t.Fatalf("got %d entries, want 0 for an invalid cron expression", len(s.entries))
	}
}

func TestScheduler_UnknownAgentIDIsSkipped(t *testing.T) {
	store, err := registry.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	b := bus.New(nil)
	agents := agentmgr.New(store, b, nil)
	inv := &invoker.Invoker{Binary: "/bin/echo"}
	tasks := taskmgr.New(store, b, agents, inv, nil)
	f := facade.New(store, agents, tasks, b)

	predefined := []config.PredefinedAgent{{
		AgentID:   "ghost",
		Schedules: []config.CronSchedule{{Schedule: "* * * * *", TaskTitle: "x"}},
	}}
	s, err := New(f, map[string]string{}, predefined, time.Second, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(s.entries) != 0 {
		t.Fatalf("got %d entries, want 0 for an unresolved agent", len(s.entries))
	}
}
