package bus

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/noxhq/nox/internal/registry"
)

func TestBus_PublishSubscribe(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.PublishAgentCreated(registry.Agent{ID: "a1", Name: "builder"})

	select {
	case event := <-sub.Ch():
		if event.Kind != KindAgentCreated {
			t.Fatalf("kind = %q, want %q", event.Kind, KindAgentCreated)
		}
		if event.Agent.Agent.ID != "a1" {
			t.Fatalf("agent id = %q, want a1", event.Agent.Agent.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestBus_MultipleSubscribers(t *testing.T) {
	b := New(nil)
	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	defer b.Unsubscribe(sub1)
	defer b.Unsubscribe(sub2)

	b.PublishTaskProgress("t1", 50)

	for _, sub := range []*Subscription{sub1, sub2} {
		select {
		case event := <-sub.Ch():
			if event.Kind != KindTaskProgress || event.TaskProgress.Percent != 50 {
				t.Fatalf("unexpected event: %+v", event)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout")
		}
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe()

	if b.SubscriberCount() != 1 {
		t.Fatalf("count = %d, want 1", b.SubscriberCount())
	}
	b.Unsubscribe(sub)
	if b.SubscriberCount() != 0 {
		t.Fatalf("count = %d, want 0", b.SubscriberCount())
	}
	if _, ok := <-sub.Ch(); ok {
		t.Fatal("expected closed channel")
	}
}

func TestBus_DropsOldestOnFullBuffer(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	for i := 0; i < DefaultBufferSize+10; i++ {
		b.PublishTaskProgress("t1", i)
	}

	first := <-sub.Ch()
	// The oldest 10 percentages (0..9) should have been evicted; the
	// buffer should start at 10, not 0 (spec §4.2: drop the oldest
	// undelivered event, never the newly published one).
	if first.TaskProgress.Percent != 10 {
		t.Fatalf("first surviving event percent = %d, want 10", first.TaskProgress.Percent)
	}
	if sub.Dropped() != 10 {
		t.Fatalf("dropped = %d, want 10", sub.Dropped())
	}
}

func TestBus_ConcurrentPublish(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	const goroutines = 10
	const perGoroutine = 5
	total := goroutines * perGoroutine

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				b.PublishSystemEvent("tick", id*100+i)
			}
		}(g)
	}
	wg.Wait()

	received := 0
	for {
		select {
		case <-sub.Ch():
			received++
		default:
			if received != total {
				t.Fatalf("received %d events, want %d", received, total)
			}
			return
		}
	}
}

func TestBus_DroppedEventLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	b := New(logger)
	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	for i := 0; i < DefaultBufferSize; i++ {
		b.PublishTaskProgress("t1", i)
	}
	for i := 0; i < 10; i++ {
		b.PublishTaskProgress("t1", i)
	}

	if !bytes.Contains(buf.Bytes(), []byte("bus_dropped_events_reached_threshold")) {
		t.Fatalf("expected threshold warning in log output, got: %s", buf.String())
	}
	if b.DroppedEventCount() != 10 {
		t.Fatalf("dropped count = %d, want 10", b.DroppedEventCount())
	}
}

func TestBus_DropThreshold(t *testing.T) {
	tests := []struct {
		count    int64
		expected int64
	}{
		{1, 1},
		{5, 1},
		{10, 10},
		{99, 10},
		{100, 100},
		{999, 100},
	}
	for _, tt := range tests {
		if got := dropThreshold(tt.count); got != tt.expected {
			t.Errorf("dropThreshold(%d) = %d, want %d", tt.count, got, tt.expected)
		}
	}
}

func TestBus_Shutdown(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe()
	b.Shutdown()
	if b.SubscriberCount() != 0 {
		t.Fatalf("count = %d, want 0 after shutdown", b.SubscriberCount())
	}
	if _, ok := <-sub.Ch(); ok {
		t.Fatal("expected closed channel after shutdown")
	}
}
