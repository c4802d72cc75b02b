package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/noxhq/nox/internal/config"
)

func TestWatcher_DetectsAgentsFileChange(t *testing.T) {
	homeDir := t.TempDir()

	agentsPath := filepath.Join(homeDir, "agents.yaml")
	if err := os.WriteFile(agentsPath, []byte("agents: []\n"), 0o644); err != nil {
		t.Fatalf("write initial agents.yaml: %v", err)
	}

	w := config.NewWatcher(homeDir, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Start(ctx); err != nil {
		t.Fatalf("start watcher: %v", err)
	}

	deadline := time.After(3 * time.Second)
	writeTick := time.NewTicker(50 * time.Millisecond)
	defer writeTick.Stop()

	if err := os.WriteFile(agentsPath, []byte("agents:\n  - agent_id: coder\n"), 0o644); err != nil {
		t.Fatalf("write updated agents.yaml: %v", err)
	}

	for {
		select {
		case ev := <-w.Events():
			if filepath.Base(ev.Path) != "agents.yaml" {
				t.Fatalf("expected agents.yaml event, got %s", ev.Path)
			}
			return
		case <-writeTick.C:
			_ = os.WriteFile(agentsPath, []byte("agents:\n  - agent_id: coder\n"), 0o644)
		case <-deadline:
			t.Fatalf("timed out waiting for agents.yaml change event")
		}
	}
}
