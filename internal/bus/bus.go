package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/noxhq/nox/internal/registry"
)

// DefaultBufferSize is each subscriber's bounded event buffer (spec §4.2).
const DefaultBufferSize = 256

// Subscription is an active registration on the Bus. Ch is read-only; the
// bus closes it on Unsubscribe or Shutdown.
type Subscription struct {
	id      int
	ch      chan Event
	dropped atomic.Int64
}

// Ch returns the channel to receive events on.
func (s *Subscription) Ch() <-chan Event {
	return s.ch
}

// Dropped returns how many events this subscriber has lost to a full
// buffer since it subscribed (spec §4.2 "its drop-counter is incremented").
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Bus is the single-producer, multi-consumer broadcast of spec §4.2.
// Every live subscriber receives every event; a full subscriber buffer
// drops its oldest undelivered event rather than the newly published one,
// so consumers always converge on the most recent state (the teacher's
// bus drops the newest event on overflow — reversed here per spec).
type Bus struct {
	mu              sync.RWMutex
	subs            map[int]*Subscription
	nextID          int
	logger          *slog.Logger
	bufferSize      int
	droppedEvents   atomic.Int64
	lastDropWarning atomic.Int64 // last threshold at which a warning was logged
}

// New creates an empty Bus with DefaultBufferSize per-subscriber buffers.
// A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Bus {
	return NewWithBufferSize(logger, DefaultBufferSize)
}

// NewWithBufferSize creates an empty Bus whose subscriber buffers hold
// bufferSize events (config.EventBusConfig.SubscriberBuffer). bufferSize
// <= 0 falls back to DefaultBufferSize.
func NewWithBufferSize(logger *slog.Logger, bufferSize int) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		subs:       make(map[int]*Subscription),
		logger:     logger,
		bufferSize: bufferSize,
	}
}

// Subscribe registers a new subscriber with the Bus's configured buffer size.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id: b.nextID,
		ch: make(chan Event, b.bufferSize),
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes sub and closes its channel. Safe to call more than
// once or with an unknown subscription.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		close(sub.ch)
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// DroppedEventCount returns the total number of events dropped across all
// subscribers due to full buffers.
func (b *Bus) DroppedEventCount() int64 {
	return b.droppedEvents.Load()
}

// publish broadcasts event to every live subscriber without blocking. When
// a subscriber's buffer is full its oldest queued event is evicted to make
// room for the new one (spec §4.2); the producer never blocks on a slow
// consumer.
func (b *Bus) publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		select {
		case sub.ch <- event:
			continue
		default:
		}

		// Buffer full: evict the oldest queued event, then retry. A
		// concurrent publish may win the eviction race first; either way
		// the event we lost gets counted.
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- event:
		default:
			sub.dropped.Add(1)
			newCount := b.droppedEvents.Add(1)
			b.maybeLogDropWarning(newCount, event.Kind)
		}
	}
}

// PublishAgentCreated broadcasts KindAgentCreated.
func (b *Bus) PublishAgentCreated(a registry.Agent) { b.publish(newAgentCreated(a)) }

// PublishAgentUpdated broadcasts KindAgentUpdated.
func (b *Bus) PublishAgentUpdated(a registry.Agent, prev registry.AgentStatus) {
	b.publish(newAgentUpdated(a, prev))
}

// PublishAgentDeleted broadcasts KindAgentDeleted.
func (b *Bus) PublishAgentDeleted(id string) { b.publish(newAgentDeleted(id)) }

// PublishAgentStatusChanged broadcasts KindAgentStatusChanged.
func (b *Bus) PublishAgentStatusChanged(id string, from, to registry.AgentStatus) {
	b.publish(newAgentStatusChanged(id, from, to))
}

// PublishTaskCreated broadcasts KindTaskCreated.
func (b *Bus) PublishTaskCreated(t registry.Task) { b.publish(newTaskCreated(t)) }

// PublishTaskUpdated broadcasts KindTaskUpdated.
func (b *Bus) PublishTaskUpdated(t registry.Task, prev registry.TaskStatus) {
	b.publish(newTaskUpdated(t, prev))
}

// PublishTaskProgress broadcasts KindTaskProgress.
func (b *Bus) PublishTaskProgress(id string, pct int) { b.publish(newTaskProgress(id, pct)) }

// PublishTaskCompleted broadcasts KindTaskCompleted.
func (b *Bus) PublishTaskCompleted(id string, result TaskResult) {
	b.publish(newTaskCompleted(id, result))
}

// PublishSystemEvent broadcasts a free-form KindSystemEvent.
func (b *Bus) PublishSystemEvent(kind string, payload any) {
	b.publish(newSystemEvent(kind, payload))
}

// Shutdown unsubscribes and closes every live subscriber channel.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// dropThreshold returns the next exponential threshold (1, 10, 100, ...) at
// or below count.
func dropThreshold(count int64) int64 {
	threshold := int64(1)
	for threshold*10 <= count {
		threshold *= 10
	}
	return threshold
}

// maybeLogDropWarning logs a warning when the dropped event count crosses
// an exponential threshold, using CompareAndSwap to avoid duplicate logs
// from concurrent publishers.
func (b *Bus) maybeLogDropWarning(newCount int64, kind Kind) {
	threshold := dropThreshold(newCount)
	if newCount != threshold {
		return
	}
	lastWarned := b.lastDropWarning.Load()
	if threshold <= lastWarned {
		return
	}
	if b.lastDropWarning.CompareAndSwap(lastWarned, threshold) {
		b.logger.Warn("bus_dropped_events_reached_threshold",
			slog.Int64("count", newCount),
			slog.String("kind", string(kind)),
		)
	}
}
