package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/maddsec/kalibot/config"
	"github.com/maddsec/kalibot/provider"
)

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize kalibot configuration and workspace",
	Long:  `Create the kalibot configuration file and workspace directories through an interactive wizard.`,
	RunE:  runOnboard,
}

func init() {
	rootCmd.AddCommand(onboardCmd)
}

// providerURLs maps provider names to their API key portal URLs.
var providerURLs = map[string]string{
	"anthropic": "https://console.anthropic.com",
}

func runOnboard(_ *cobra.Command, _ []string) error {
	configPath, err := config.ConfigPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(configPath); err == nil {
		fmt.Println("Config already exists at:", configPath)
		fmt.Println("To reconfigure, edit the file directly or delete it first.")
		return nil
	}

	// --- interactive wizard ---

	var (
		selectedProvider string
		selectedModel    string
		apiKey           string
		apiBase          string
		confirmCommands  = true
	)

	// Step 1: select provider
	providerOptions := buildProviderOptions()
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Choose your LLM provider").
				Description("kalibot works against the Anthropic API or any local OpenAI-compatible server.").
				Options(providerOptions...).
				Value(&selectedProvider),
		),
	).Run()
	if err != nil {
		return err
	}

	// Step 2: select model (dynamic based on provider)
	modelOptions := buildModelOptions(selectedProvider)
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Choose model for "+selectedProvider).
				Description("The first option is the recommended default.").
				Options(modelOptions...).
				Value(&selectedModel),
		),
	).Run()
	if err != nil {
		return err
	}

	// Step 3: credentials
	if selectedProvider == "lmstudio" {
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("LM Studio server URL").
					Description("Leave empty for the default http://localhost:1234/v1.").
					Value(&apiBase),
			),
		).Run()
	} else {
		keyURL := providerURLs[selectedProvider]
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Enter your "+selectedProvider+" API key").
					Description("Create one at "+keyURL).
					EchoMode(huh.EchoModePassword).
					Validate(func(s string) error {
						if strings.TrimSpace(s) == "" {
							return fmt.Errorf("API key is required")
						}
						return nil
					}).
					Value(&apiKey),
			),
		).Run()
	}
	if err != nil {
		return err
	}

	// Step 4: command confirmation
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Ask before running commands?").
				Description("When on, every command the assistant wants to run needs your approval first.").
				Value(&confirmCommands),
		),
	).Run()
	if err != nil {
		return err
	}

	// --- apply config ---

	cfg := config.DefaultConfig()
	cfg.Agent.Provider = selectedProvider
	cfg.Agent.Model = selectedModel
	cfg.Exec.RequireConfirmation = &confirmCommands
	setProviderCredentials(cfg, selectedProvider, strings.TrimSpace(apiKey), strings.TrimSpace(apiBase))

	// --- create directories and files ---

	configDir, _ := config.ConfigDir()
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	workspace, err := cfg.WorkspacePath()
	if err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	if err := createBootstrapDirs(workspace); err != nil {
		return fmt.Errorf("failed to create workspace directories: %w", err)
	}
	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Println()
	fmt.Println("kalibot initialized successfully!")
	fmt.Println()
	fmt.Println("  Config:", configPath)
	fmt.Println("  Workspace:", workspace)
	fmt.Println("  Provider:", selectedProvider)
	fmt.Println("  Model:", selectedModel)
	fmt.Println()
	fmt.Println("Run 'kalibot chat' to start.")
	return nil
}

func buildProviderOptions() []huh.Option[string] {
	names := provider.SupportedProviders()
	options := make([]huh.Option[string], 0, len(names))
	for _, name := range names {
		models := provider.SupportedModelsForProvider(name)
		label := name + " (" + strings.Join(models, ", ") + ")"
		if name == "anthropic" {
			label += " [Recommended]"
		}
		options = append(options, huh.NewOption(label, name))
	}
	return options
}

func buildModelOptions(providerName string) []huh.Option[string] {
	models := provider.SupportedModelsForProvider(providerName)
	options := make([]huh.Option[string], 0, len(models))
	for _, m := range models {
		options = append(options, huh.NewOption(m, m))
	}
	return options
}

func setProviderCredentials(cfg *config.Config, providerName, apiKey, apiBase string) {
	pc := &config.ProviderConfig{APIKey: apiKey, APIBase: apiBase}
	switch providerName {
	case "anthropic":
		cfg.Providers.Anthropic = pc
	case "lmstudio":
		cfg.Providers.LMStudio = pc
	}
}

func createBootstrapDirs(workspace string) error {
	for _, dir := range []string{
		"playbooks",
		"reports",
		filepath.Join("sessions", "main"),
	} {
		if err := os.MkdirAll(filepath.Join(workspace, dir), 0o755); err != nil {
			return err
		}
	}
	return nil
}
