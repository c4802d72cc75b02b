// Command nox is the Nox supervisor's CLI entrypoint: argument parsing
// and wiring only (spec.md Non-goal: "CLI front-ends... argument
// parsing only"). It loads config.Config, starts the Supervisor, wires
// the Request Facade, the recurring-task Scheduler, and the optional
// Telegram observer channel, then blocks until an interrupt or SIGTERM.
// Grounded on cmd/goclaw/main.go's flag handling, isatty-based
// interactive/daemon detection, and startup-phase logging.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/noxhq/nox/internal/channels/telegram"
	"github.com/noxhq/nox/internal/config"
	"github.com/noxhq/nox/internal/facade"
	"github.com/noxhq/nox/internal/registry"
	"github.com/noxhq/nox/internal/scheduler"
	"github.com/noxhq/nox/internal/supervisor"
	"github.com/noxhq/nox/internal/telemetry"
)

func main() {
	os.Exit(run())
}

func run() int {
	daemon := flag.Bool("daemon", false, "run without interactive prompts (daemon mode)")
	flag.Parse()

	interactive := isatty.IsTerminal(os.Stdout.Fd()) && !*daemon

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config load failed:", err)
		return 1
	}

	logger, closeLogger, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, interactive)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init failed:", err)
		return 1
	}
	defer closeLogger.Close()
	slog.SetDefault(logger)

	if cfg.NeedsGenesis {
		if err := config.WriteDefaultAgentsFile(cfg.AgentsFile); err != nil {
			logger.Error("failed to write starter agents file", "error", err)
			return 1
		}
		logger.Info("predefined agents file bootstrapped", "path", cfg.AgentsFile)
	}

	predefined, err := config.LoadPredefinedAgents(cfg.AgentsFile)
	if err != nil {
		logger.Error("failed to load predefined agents", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup, err := supervisor.New(cfg, logger)
	if err != nil {
		logger.Error("supervisor init failed", "error", err)
		return 1
	}

	f := facade.New(sup.Store, sup.Agents, sup.Tasks, sup.Bus)

	agentIDByName := make(map[string]string, len(predefined))
	for _, a := range predefined {
		existing, err := sup.Store.GetAgent(a.AgentID)
		if err != nil {
			draft := draftFromPredefined(a)
			created, err := f.CreateAgent(draft)
			if err != nil {
				logger.Warn("failed to create predefined agent", "agent_id", a.AgentID, "error", err)
				continue
			}
			agentIDByName[a.AgentID] = created.ID
		} else {
			agentIDByName[a.AgentID] = existing.ID
		}
	}

	sup.Run(ctx)

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = scheduler.New(f, agentIDByName, predefined,
			time.Duration(cfg.Scheduler.PollIntervalSeconds)*time.Second, logger)
		if err != nil {
			logger.Error("scheduler init failed", "error", err)
		} else {
			sched.Start(ctx)
		}
	}

	var tg *telegram.Channel
	if cfg.Channels.Telegram.Enabled {
		if cfg.Channels.Telegram.Token == "" {
			logger.Warn("telegram channel enabled but token is missing")
		} else {
			tg, err = telegram.New(cfg.Channels.Telegram.Token, cfg.Channels.Telegram.AllowedIDs, f, logger)
			if err != nil {
				logger.Error("telegram channel init failed", "error", err)
				tg = nil
			} else {
				go func() {
					if err := tg.Start(ctx); err != nil {
						logger.Error("telegram channel exited with error", "error", err)
					}
				}()
			}
		}
	}

	if interactive {
		fmt.Fprintf(os.Stdout, "nox supervisor running (registry: %s). Ctrl-C to stop.\n", cfg.RegistryDir)
	}

	logger.Info("nox startup complete", "registry_dir", cfg.RegistryDir, "agents", len(sup.Agents.ListRunning()))

	<-ctx.Done()
	logger.Info("shutdown signal received")

	if sched != nil {
		sched.Stop()
	}
	if err := sup.Shutdown(time.Duration(cfg.ShutdownDeadlineSeconds) * time.Second); err != nil {
		logger.Error("shutdown error", "error", err)
		return 1
	}
	return 0
}

func draftFromPredefined(a config.PredefinedAgent) registry.AgentDraft {
	return registry.AgentDraft{
		Name:         a.AgentID,
		SystemPrompt: a.SystemPrompt,
	}
}
