package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/noxhq/nox/internal/config"
)

func TestLoad_FreshHomeNeedsGenesis(t *testing.T) {
	t.Setenv("NOX_HOME", t.TempDir())
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.NeedsGenesis {
		t.Fatal("expected NeedsGenesis on a fresh home directory")
	}
	if cfg.TaskWorkerCount != 4 {
		t.Fatalf("TaskWorkerCount = %d, want default 4", cfg.TaskWorkerCount)
	}
	if cfg.RegistryDir == "" {
		t.Fatal("expected RegistryDir to be defaulted under HomeDir")
	}
	if cfg.EventBus.SubscriberBuffer != 256 {
		t.Fatalf("SubscriberBuffer = %d, want default 256", cfg.EventBus.SubscriberBuffer)
	}
}

func TestLoad_ReadsConfigYAML(t *testing.T) {
	home := t.TempDir()
	t.Setenv("NOX_HOME", home)

	content := "task_worker_count: 8\nregistry_dir: /tmp/nox-registry\n"
	if err := os.WriteFile(config.ConfigPath(home), []byte(content), 0o644); err != nil {
		t.Fatalf("write config.yaml: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.NeedsGenesis {
		t.Fatal("did not expect NeedsGenesis when config.yaml exists")
	}
	if cfg.TaskWorkerCount != 8 {
		t.Fatalf("TaskWorkerCount = %d, want 8", cfg.TaskWorkerCount)
	}
	if cfg.RegistryDir != "/tmp/nox-registry" {
		t.Fatalf("RegistryDir = %q, want override", cfg.RegistryDir)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("NOX_HOME", home)
	t.Setenv("NOX_TASK_WORKER_COUNT", "12")

	if err := os.WriteFile(config.ConfigPath(home), []byte("task_worker_count: 8\n"), 0o644); err != nil {
		t.Fatalf("write config.yaml: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TaskWorkerCount != 12 {
		t.Fatalf("TaskWorkerCount = %d, want env override 12", cfg.TaskWorkerCount)
	}
}

func TestConfig_Fingerprint_StableForSameValues(t *testing.T) {
	a := config.Config{RegistryDir: "r", TaskWorkerCount: 4}
	b := config.Config{RegistryDir: "r", TaskWorkerCount: 4}
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatal("expected identical configs to fingerprint identically")
	}
	c := config.Config{RegistryDir: "r", TaskWorkerCount: 5}
	if a.Fingerprint() == c.Fingerprint() {
		t.Fatal("expected differing configs to fingerprint differently")
	}
}

func TestHomeDir_DefaultsUnderUserHome(t *testing.T) {
	t.Setenv("NOX_HOME", "")
	got := config.HomeDir()
	if filepath.Base(got) != ".nox" {
		t.Fatalf("HomeDir = %q, want a path ending in .nox", got)
	}
}
