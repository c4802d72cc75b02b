package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/noxhq/nox/internal/config"
)

func TestLoadPredefinedAgents_MissingFileReturnsEmpty(t *testing.T) {
	agents, err := config.LoadPredefinedAgents(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadPredefinedAgents: %v", err)
	}
	if len(agents) != 0 {
		t.Fatalf("got %d agents, want 0", len(agents))
	}
}

func TestLoadPredefinedAgents_ParsesAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	content := `agents:
  - agent_id: coder
    display_name: Coder
    system_prompt: "be careful"
  - agent_id: scheduler-agent
    system_prompt: "run the cron job"
    max_concurrent_tasks: 3
    schedules:
      - schedule: "0 9 * * *"
        task_title: "daily report"
        priority: High
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write agents.yaml: %v", err)
	}

	agents, err := config.LoadPredefinedAgents(path)
	if err != nil {
		t.Fatalf("LoadPredefinedAgents: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("got %d agents, want 2", len(agents))
	}
	if agents[0].MaxConcurrentTasks != 1 {
		t.Fatalf("agents[0].MaxConcurrentTasks = %d, want default 1", agents[0].MaxConcurrentTasks)
	}
	if agents[1].MaxConcurrentTasks != 3 {
		t.Fatalf("agents[1].MaxConcurrentTasks = %d, want 3", agents[1].MaxConcurrentTasks)
	}
	if len(agents[1].Schedules) != 1 || agents[1].Schedules[0].TaskTitle != "daily report" {
		t.Fatalf("unexpected schedules: %+v", agents[1].Schedules)
	}
}

func TestLoadPredefinedAgents_RejectsMissingAgentID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	content := "agents:\n  - display_name: Nameless\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write agents.yaml: %v", err)
	}

	if _, err := config.LoadPredefinedAgents(path); err == nil {
		t.Fatal("expected schema validation error for missing agent_id")
	}
}

func TestWriteDefaultAgentsFile_WritesOnlyOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	if err := config.WriteDefaultAgentsFile(path); err != nil {
		t.Fatalf("WriteDefaultAgentsFile: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	if err := os.WriteFile(path, []byte("agents: []\n"), 0o644); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if err := config.WriteDefaultAgentsFile(path); err != nil {
		t.Fatalf("WriteDefaultAgentsFile (second call): %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "agents: []\n" {
		t.Fatal("expected second call to leave existing file untouched")
	}
	_ = info
}
