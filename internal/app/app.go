// Package app is the composition root: it turns a Config into the wired
// service graph both binaries share.
package app

import (
	"context"
	"os"
	"path/filepath"

	"deskmate/internal/agent"
	"deskmate/internal/config"
	"deskmate/internal/ledger"
	"deskmate/internal/llm"
	"deskmate/internal/logging"
	"deskmate/internal/memory"
	"deskmate/internal/scheduler"
	"deskmate/internal/skills"
	"deskmate/internal/skills/builtin"
	"deskmate/internal/transport"
)

// App owns the long-lived services. Drivers are cheap and per-turn-site;
// everything else is shared.
type App struct {
	Config    *config.Config
	LLM       llm.Client
	Ledger    *ledger.Ledger
	Memory    *memory.Store
	Hub       *transport.Hub
	Registry  *skills.Registry
	Scheduler *scheduler.Scheduler
	Catalog   *builtin.Catalog

	logger logging.Logger
}

// Build wires the application from configuration. An incomplete LLM config
// does not fail the build: the client is replaced by one that reports the
// configuration error on first use, so the REPL can still start and explain
// what is missing.
func Build(cfg *config.Config) (*App, error) {
	logger := logging.NewComponentLogger("app")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}

	client, err := llm.NewOpenAIClient(llm.Config{
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		BaseURL: cfg.LLM.BaseURL,
	})
	if err != nil {
		logger.Warn("llm client not configured: %v", err)
		client = &erroringClient{err: err}
	}

	led := ledger.New(filepath.Join(cfg.DataDir, "token_usage.json"), cfg.TokenRates)
	client.SetUsageCallback(func(u llm.Usage, _ string) { led.Record(u, "") })

	mem := memory.NewStore(filepath.Join(cfg.DataDir, "dialog_memory.json"), cfg.Memory.MaxRecords)
	hub := transport.NewHub(cfg.Transport.SubscriberBuffer)

	taskStore := scheduler.NewTaskStore(filepath.Join(cfg.DataDir, "email_tasks.json"))
	mailer := scheduler.NewSMTPMailer(cfg.Email)
	sched := scheduler.New(taskStore, mailer, client)

	registry := skills.NewRegistry()
	catalog := builtin.RegisterAll(registry, builtin.Deps{
		DataDir:     cfg.DataDir,
		Ledger:      led,
		Scheduler:   sched,
		GitHubToken: os.Getenv("GITHUB_TOKEN"),
		Recipient:   cfg.Email.DefaultRecipient,
	})
	registry.Freeze()

	if err := registry.WriteMetadata(cfg.DataDir); err != nil {
		logger.Warn("writing skill metadata failed: %v", err)
	}

	return &App{
		Config:    cfg,
		LLM:       client,
		Ledger:    led,
		Memory:    mem,
		Hub:       hub,
		Registry:  registry,
		Scheduler: sched,
		Catalog:   catalog,
		logger:    logger,
	}, nil
}

// NewDriver assembles a fresh turn driver over the shared services,
// publishing into the given hub. Each websocket connection passes its own
// hub so its stream stays private; the CLI passes the process-wide one.
func (a *App) NewDriver(hub *transport.Hub) *agent.Driver {
	return agent.NewDriver(agent.DriverConfig{
		Planner:   agent.NewPlanner(a.LLM, a.Registry, a.Catalog.Tasks.StatSummary, a.Ledger.CompactSummary),
		Executor:  agent.NewExecutor(a.LLM, a.Registry, a.Config.Turn.SkillTimeout()),
		Reviewer:  agent.NewReviewer(a.LLM),
		Memory:    a.Memory,
		Ledger:    a.Ledger,
		Hub:       hub,
		Window:    a.Config.Memory.Window(),
		MaxRounds: a.Config.Turn.MaxReviewRounds,
	})
}

// Start brings up background services.
func (a *App) Start() {
	a.Scheduler.Start()
}

// Stop winds them down.
func (a *App) Stop() {
	a.Scheduler.Stop()
}

// erroringClient surfaces a deferred configuration error on every call.
type erroringClient struct {
	err error
}

func (e *erroringClient) Complete(context.Context, llm.Request) (*llm.Response, error) {
	return nil, e.err
}

func (e *erroringClient) StreamComplete(context.Context, llm.Request, llm.StreamCallbacks) (*llm.Response, error) {
	return nil, e.err
}

func (e *erroringClient) SetUsageCallback(llm.UsageCallback) {}

func (e *erroringClient) Model() string { return "unconfigured" }
