package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"

	"github.com/maddsec/kalibot/agent"
	"github.com/maddsec/kalibot/config"
	"github.com/maddsec/kalibot/interrupt"
	"github.com/maddsec/kalibot/logger"
	"github.com/maddsec/kalibot/proc"
	"github.com/maddsec/kalibot/provider"
	"github.com/maddsec/kalibot/session"
	"github.com/maddsec/kalibot/skills"
	"github.com/maddsec/kalibot/thread"
	"github.com/maddsec/kalibot/tools"
)

// chatOptions carries per-invocation overrides on top of the config file.
type chatOptions struct {
	SessionKey string
	Provider   string
	Model      string
	APIKey     string
	APIBase    string
	NoConfirm  bool
	OnDelta    func(string)
}

// chatRuntime bundles everything one chat invocation needs.
type chatRuntime struct {
	thread     *thread.Thread
	supervisor *proc.Supervisor
	interrupts *interrupt.Controller
}

func buildChatRuntime(cfg *config.Config, opts chatOptions) (*chatRuntime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	workspace, err := cfg.WorkspacePath()
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}

	providerName := strings.TrimSpace(opts.Provider)
	if providerName == "" {
		providerName = cfg.Agent.Provider
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = cfg.Agent.Model
	}
	apiKey, apiBase := cfg.ProviderCredentials(providerName)
	if v := strings.TrimSpace(opts.APIKey); v != "" {
		apiKey = v
	}
	if v := strings.TrimSpace(opts.APIBase); v != "" {
		apiBase = v
	}

	llm, err := provider.NewProvider(providerName, model, apiKey, apiBase,
		cfg.Agent.MaxOutputTokens, cfg.Agent.Temperature)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	sessions, err := session.NewManager(workspace)
	if err != nil {
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	interrupts := interrupt.NewController()
	supervisor := proc.NewSupervisor()

	cmdOpts := tools.CommandOptions{
		DefaultTimeout: time.Duration(cfg.Exec.DefaultTimeoutSeconds) * time.Second,
		MaxOutputChars: cfg.Exec.MaxOutputChars,
		Confirm:        commandConfirm(cfg, opts.NoConfirm),
	}
	search := tools.NewWebSearchTool(tools.SearchConfig{
		Engine:       cfg.Search.Engine,
		GoogleAPIKey: cfg.Search.GoogleAPIKey,
		GoogleCSEID:  cfg.Search.GoogleCSEID,
		TavilyAPIKey: cfg.Search.TavilyAPIKey,
		BraveAPIKey:  cfg.Search.BraveAPIKey,
	})

	registry := tools.NewRegistry()
	registry.Register(tools.NewCommandLineTool(supervisor, cmdOpts))
	registry.Register(tools.NewSendInputTool(supervisor, cmdOpts))
	registry.Register(tools.NewTerminateCommandTool(supervisor, cmdOpts))
	registry.Register(tools.NewWaitTool())
	registry.Register(search)
	registry.Register(tools.NewCVESearchTool(search))

	playbooks := skills.NewRegistry()
	playbooks.RegisterBuiltins()
	playbooksDir := filepath.Join(workspace, "playbooks")
	if err := playbooks.LoadFromDirectory(playbooksDir); err != nil {
		logger.Warn("failed to load playbooks", "dir", playbooksDir, "err", err)
	}

	agents := agent.NewRegistry(workspace)
	if pf := strings.TrimSpace(cfg.SystemPromptFile); pf != "" {
		if !filepath.IsAbs(pf) {
			pf = filepath.Join(workspace, pf)
		}
		agents.SetPromptFile(pf)
	}
	ag, err := agents.New(agent.DefaultAgentName)
	if err != nil {
		return nil, fmt.Errorf("failed to build agent: %w", err)
	}

	th, err := thread.New(thread.Config{
		Provider:     llm,
		Tools:        registry,
		Supervisor:   supervisor,
		Sessions:     sessions,
		SessionKey:   opts.SessionKey,
		Agent:        ag,
		Playbooks:    playbooks,
		PlaybooksDir: playbooksDir,
		Interrupts:   interrupts,
		Budget: thread.Budget{
			SoftLimitTokens:     cfg.Context.SoftLimitTokens,
			SummaryTargetTokens: cfg.Context.SummaryTargetTokens,
			MinKeepMessages:     cfg.Context.MinKeepMessages,
		},
		Workspace:   workspace,
		MaxTokens:   cfg.Agent.MaxOutputTokens,
		Temperature: cfg.Agent.Temperature,
		OnDelta:     opts.OnDelta,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create thread: %w", err)
	}

	return &chatRuntime{
		thread:     th,
		supervisor: supervisor,
		interrupts: interrupts,
	}, nil
}

// close terminates any process still running under the supervisor.
func (rt *chatRuntime) close() {
	if rt.supervisor != nil && rt.supervisor.Active() {
		if _, err := rt.supervisor.Terminate(); err != nil {
			logger.Warn("failed to terminate active process on exit", "err", err)
		}
	}
}

// commandConfirm builds the approval gate for command execution. Returns nil
// when confirmation is off or there is no terminal to ask on.
func commandConfirm(cfg *config.Config, noConfirm bool) tools.ConfirmFunc {
	if noConfirm || !cfg.ConfirmCommands() {
		return nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil
	}
	return func(ctx context.Context, command string) (bool, error) {
		approved := true
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title("Run this command?").
					Description(command).
					Affirmative("Run").
					Negative("Skip").
					Value(&approved),
			),
		)
		if err := form.RunWithContext(ctx); err != nil {
			return false, err
		}
		return approved, nil
	}
}
