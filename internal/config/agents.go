package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CronSchedule is one recurring-task definition carried by a predefined
// agent (spec §5's internal/scheduler domain-stack addition).
type CronSchedule struct {
	Schedule        string `yaml:"schedule"` // standard 5-field cron expression
	TaskTitle       string `yaml:"task_title"`
	TaskDescription string `yaml:"task_description"`
	Priority        string `yaml:"priority"` // Low|Medium|High|Critical, defaults to Medium
}

// PredefinedAgent is one entry in agents.yaml: an agent to create (if it
// doesn't already exist in the Registry Store) on startup.
type PredefinedAgent struct {
	AgentID            string         `yaml:"agent_id"`
	DisplayName        string         `yaml:"display_name"`
	SystemPrompt       string         `yaml:"system_prompt"`
	SystemPromptFile   string         `yaml:"system_prompt_file"`
	Model              string         `yaml:"model"`
	MaxConcurrentTasks int            `yaml:"max_concurrent_tasks"`
	Schedules          []CronSchedule `yaml:"schedules,omitempty"`
}

// predefinedAgentsFile is the top-level shape of agents.yaml.
type predefinedAgentsFile struct {
	Agents []PredefinedAgent `yaml:"agents"`
}

// LoadPredefinedAgents reads and validates the predefined-agents YAML at
// path. A missing file is not an error: it returns an empty slice so a
// fresh Nox install has no starter agents forced on it.
func LoadPredefinedAgents(path string) ([]PredefinedAgent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read agents file: %w", err)
	}

	if err := ValidateAgentsYAML(data); err != nil {
		return nil, fmt.Errorf("validate agents file: %w", err)
	}

	var parsed predefinedAgentsFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse agents file: %w", err)
	}

	for i := range parsed.Agents {
		a := &parsed.Agents[i]
		if a.SystemPrompt == "" && a.SystemPromptFile != "" {
			b, err := os.ReadFile(a.SystemPromptFile)
			if err != nil {
				return nil, fmt.Errorf("read system_prompt_file for %s: %w", a.AgentID, err)
			}
			a.SystemPrompt = string(b)
		}
		if a.MaxConcurrentTasks <= 0 {
			a.MaxConcurrentTasks = 1
		}
	}
	return parsed.Agents, nil
}

// DefaultPredefinedAgents returns the starter agent set written into a
// fresh agents.yaml on first run.
func DefaultPredefinedAgents() []PredefinedAgent {
	return []PredefinedAgent{
		{
			AgentID:            "coder",
			DisplayName:        "Coder",
			SystemPrompt:       "You are a senior software engineer. You write clean, idiomatic code with clear error handling, reproduce bugs before fixing them, and prefer simple solutions over clever ones.",
			MaxConcurrentTasks: 2,
		},
		{
			AgentID:            "researcher",
			DisplayName:        "Researcher",
			SystemPrompt:       "You are a thorough research assistant. You cross-reference claims, cite sources, and clearly separate established facts from speculation.",
			MaxConcurrentTasks: 1,
		},
	}
}

// WriteDefaultAgentsFile writes DefaultPredefinedAgents to path if no
// file exists there yet, mirroring the first-run genesis behavior the
// teacher applies to its own starter agents.
func WriteDefaultAgentsFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	out, err := yaml.Marshal(predefinedAgentsFile{Agents: DefaultPredefinedAgents()})
	if err != nil {
		return fmt.Errorf("marshal default agents file: %w", err)
	}
	return os.WriteFile(path, out, 0o644)
}
