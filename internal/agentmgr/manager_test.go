package agentmgr

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/noxhq/nox/internal/bus"
	"github.com/noxhq/nox/internal/registry"
)

func setupTestManager(t *testing.T) (*Manager, *registry.Store, *bus.Bus) {
	t.Helper()
	store, err := registry.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	b := bus.New(nil)
	mgr := New(store, b, nil)
	return mgr, store, b
}

func TestManager_StartTransitionsToActive(t *testing.T) {
	mgr, store, b := setupTestManager(t)
	a, err := store.CreateAgent(registry.AgentDraft{Name: "builder"})
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	if err := mgr.LoadFromStore(); err != nil {
		t.Fatalf("LoadFromStore: %v", err)
	}

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	updated, err := mgr.Start(a.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if updated.Status != registry.AgentActive {
		t.Fatalf("status = %q, want Active", updated.Status)
	}

	seen := map[registry.AgentStatus]bool{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-sub.Ch():
			if ev.Kind != bus.KindAgentStatusChanged {
				t.Fatalf("unexpected event kind %q", ev.Kind)
			}
			seen[ev.AgentStatus.To] = true
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for status event")
		}
	}
	if !seen[registry.AgentStarting] || !seen[registry.AgentActive] {
		t.Fatalf("expected Starting and Active events, got %v", seen)
	}
}

func TestManager_CanDispatchRespectsCapAndStatus(t *testing.T) {
	mgr, store, _ := setupTestManager(t)
	a, err := store.CreateAgent(registry.AgentDraft{
		Name:           "builder",
		ResourceLimits: registry.ResourceLimits{MaxConcurrentTasks: 2},
	})
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	if err := mgr.LoadFromStore(); err != nil {
		t.Fatalf("LoadFromStore: %v", err)
	}

	if mgr.CanDispatch(a.ID) {
		t.Fatal("expected CanDispatch false before Start (agent Inactive)")
	}

	if _, err := mgr.Start(a.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if !mgr.CanDispatch(a.ID) {
		t.Fatal("expected CanDispatch true with free capacity")
	}
	mgr.BeginTask(a.ID)
	if !mgr.CanDispatch(a.ID) {
		t.Fatal("expected CanDispatch true at 1/2")
	}
	mgr.BeginTask(a.ID)
	if mgr.CanDispatch(a.ID) {
		t.Fatal("expected CanDispatch false at cap 2/2")
	}
	mgr.EndTask(a.ID)
	if !mgr.CanDispatch(a.ID) {
		t.Fatal("expected CanDispatch true after EndTask frees a slot")
	}
}

func TestManager_TryBeginTaskCapsAtomically(t *testing.T) {
	mgr, store, _ := setupTestManager(t)
	a, err := store.CreateAgent(registry.AgentDraft{
		Name:           "builder",
		ResourceLimits: registry.ResourceLimits{MaxConcurrentTasks: 1},
	})
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	if err := mgr.LoadFromStore(); err != nil {
		t.Fatalf("LoadFromStore: %v", err)
	}
	if _, err := mgr.Start(a.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var wg sync.WaitGroup
	wins := make([]bool, 8)
	for i := range wins {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			wins[i] = mgr.TryBeginTask(a.ID)
		}(i)
	}
	wg.Wait()

	won := 0
	for _, w := range wins {
		if w {
			won++
		}
	}
	if won != 1 {
		t.Fatalf("expected exactly 1 of %d concurrent TryBeginTask calls to win at cap 1, got %d", len(wins), won)
	}
	if mgr.InFlight(a.ID) != 1 {
		t.Fatalf("InFlight = %d, want 1", mgr.InFlight(a.ID))
	}

	if mgr.TryBeginTask(a.ID) {
		t.Fatal("expected TryBeginTask to fail once capacity is exhausted")
	}
	mgr.EndTask(a.ID)
	if !mgr.TryBeginTask(a.ID) {
		t.Fatal("expected TryBeginTask to succeed after EndTask frees a slot")
	}
}

func TestManager_StopTransitionsToInactive(t *testing.T) {
	mgr, store, _ := setupTestManager(t)
	a, err := store.CreateAgent(registry.AgentDraft{Name: "builder"})
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	if err := mgr.LoadFromStore(); err != nil {
		t.Fatalf("LoadFromStore: %v", err)
	}
	if _, err := mgr.Start(a.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	updated, err := mgr.Stop(a.ID)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if updated.Status != registry.AgentInactive {
		t.Fatalf("status = %q, want Inactive", updated.Status)
	}
}

type fakeWaiter struct {
	waited []string
}

func (f *fakeWaiter) WaitIdle(_ context.Context, agentID string) error {
	f.waited = append(f.waited, agentID)
	return nil
}

func TestManager_DrainAllStopsEveryActiveAgent(t *testing.T) {
	mgr, store, _ := setupTestManager(t)
	var ids []string
	for _, name := range []string{"a", "b", "c"} {
		a, err := store.CreateAgent(registry.AgentDraft{Name: name})
		if err != nil {
			t.Fatalf("CreateAgent: %v", err)
		}
		ids = append(ids, a.ID)
	}
	if err := mgr.LoadFromStore(); err != nil {
		t.Fatalf("LoadFromStore: %v", err)
	}
	for _, id := range ids {
		if _, err := mgr.Start(id); err != nil {
			t.Fatalf("Start: %v", err)
		}
	}

	waiter := &fakeWaiter{}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mgr.DrainAll(ctx, waiter); err != nil {
		t.Fatalf("DrainAll: %v", err)
	}

	if len(waiter.waited) != 3 {
		t.Fatalf("waited count = %d, want 3", len(waiter.waited))
	}
	for _, snap := range mgr.ListRunning() {
		if snap.Agent.Status != registry.AgentInactive {
			t.Fatalf("agent %s status = %q, want Inactive after drain", snap.Agent.ID, snap.Agent.Status)
		}
	}
}
