package taskmgr

import (
	"testing"
	"time"

	"github.com/noxhq/nox/internal/registry"
)

func taskAt(id string, priority registry.Priority, offset time.Duration) registry.Task {
	return registry.Task{
		ID:        id,
		AgentID:   "a1",
		Priority:  priority,
		CreatedAt: time.Unix(0, 0).Add(offset),
	}
}

func TestReadyQueue_PriorityOrder(t *testing.T) {
	q := newReadyQueue()
	q.push(taskAt("low", registry.PriorityLow, 0))
	q.push(taskAt("critical", registry.PriorityCritical, time.Second))
	q.push(taskAt("high", registry.PriorityHigh, 2*time.Second))

	alwaysTrue := func(string) bool { return true }
	id, _, ok := q.popForDispatchableAgent(alwaysTrue, alwaysTrue)
	if !ok || id != "critical" {
		t.Fatalf("got %q, want critical", id)
	}
	id, _, ok = q.popForDispatchableAgent(alwaysTrue, alwaysTrue)
	if !ok || id != "high" {
		t.Fatalf("got %q, want high", id)
	}
	id, _, ok = q.popForDispatchableAgent(alwaysTrue, alwaysTrue)
	if !ok || id != "low" {
		t.Fatalf("got %q, want low", id)
	}
}

func TestReadyQueue_AgeBreaksTiesWithinPriority(t *testing.T) {
	q := newReadyQueue()
	q.push(taskAt("newer", registry.PriorityMedium, 2*time.Second))
	q.push(taskAt("older", registry.PriorityMedium, time.Second))

	alwaysTrue := func(string) bool { return true }
	id, _, ok := q.popForDispatchableAgent(alwaysTrue, alwaysTrue)
	if !ok || id != "older" {
		t.Fatalf("got %q, want older (created first)", id)
	}
}

func TestReadyQueue_SkipsNonDispatchableAgent(t *testing.T) {
	q := newReadyQueue()
	t1 := taskAt("t1", registry.PriorityHigh, 0)
	t1.AgentID = "blocked"
	q.push(t1)
	t2 := taskAt("t2", registry.PriorityLow, time.Second)
	t2.AgentID = "free"
	q.push(t2)

	isFree := func(agentID string) bool { return agentID == "free" }
	id, agentID, ok := q.popForDispatchableAgent(isFree, isFree)
	if !ok || id != "t2" || agentID != "free" {
		t.Fatalf("got id=%q agent=%q, want t2/free", id, agentID)
	}
}

func TestReadyQueue_ReserveFailureLeavesTaskQueued(t *testing.T) {
	q := newReadyQueue()
	q.push(taskAt("t1", registry.PriorityHigh, 0))

	canDispatch := func(string) bool { return true }
	reserveDenied := func(string) bool { return false }
	id, _, ok := q.popForDispatchableAgent(canDispatch, reserveDenied)
	if ok || id != "" {
		t.Fatalf("expected no dispatch when reserve fails, got id=%q ok=%v", id, ok)
	}
	if q.len() != 1 {
		t.Fatalf("len = %d, want 1 (task must remain queued)", q.len())
	}
}

func TestReadyQueue_RemoveForCancel(t *testing.T) {
	q := newReadyQueue()
	q.push(taskAt("t1", registry.PriorityMedium, 0))
	if !q.remove("t1") {
		t.Fatal("expected remove to report found")
	}
	if q.len() != 0 {
		t.Fatalf("len = %d, want 0", q.len())
	}
	if q.remove("t1") {
		t.Fatal("expected second remove to report not found")
	}
}
