// Package config handles configuration loading, defaults, and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/maddsec/kalibot/logger"
)

const configFileName = "config.yaml"

var configDirOverride string

// SetConfigDir overrides the config directory for the current process.
// Empty value clears the override.
func SetConfigDir(dir string) {
	configDirOverride = strings.TrimSpace(dir)
}

// Config is the root configuration structure.
type Config struct {
	Agent            AgentConfig     `json:"agent" yaml:"agent"`
	Context          ContextConfig   `json:"context,omitempty" yaml:"context,omitempty"`
	Exec             ExecConfig      `json:"exec,omitempty" yaml:"exec,omitempty"`
	Search           SearchConfig    `json:"search,omitempty" yaml:"search,omitempty"`
	Providers        ProvidersConfig `json:"providers,omitempty" yaml:"providers,omitempty"`
	Logging          LoggingConfig   `json:"logging,omitempty" yaml:"logging,omitempty"`
	Workspace        string          `json:"workspace,omitempty" yaml:"workspace,omitempty"`               // defaults to ~/.kalibot
	SystemPromptFile string          `json:"systemPromptFile,omitempty" yaml:"systemPromptFile,omitempty"` // optional prompt override path
}

// AgentConfig contains model runtime defaults.
type AgentConfig struct {
	Provider        string  `json:"provider" yaml:"provider"`                                   // anthropic, lmstudio
	Model           string  `json:"model,omitempty" yaml:"model,omitempty"`                     // empty = provider default
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty" yaml:"maxOutputTokens,omitempty"` // defaults to 4096
	Temperature     float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`         // defaults to 1.0
}

// ContextConfig bounds the conversation token budget.
type ContextConfig struct {
	HardLimitTokens     int `json:"hardLimitTokens,omitempty" yaml:"hardLimitTokens,omitempty"`         // defaults to 180000
	SoftLimitTokens     int `json:"softLimitTokens,omitempty" yaml:"softLimitTokens,omitempty"`         // defaults to 150000
	SummaryTargetTokens int `json:"summaryTargetTokens,omitempty" yaml:"summaryTargetTokens,omitempty"` // defaults to 20000
	MinKeepMessages     int `json:"minKeepMessages,omitempty" yaml:"minKeepMessages,omitempty"`         // defaults to 6
}

// ExecConfig controls the command_line tool.
type ExecConfig struct {
	DefaultTimeoutSeconds int   `json:"defaultTimeoutSeconds,omitempty" yaml:"defaultTimeoutSeconds,omitempty"` // defaults to 300
	RequireConfirmation   *bool `json:"requireConfirmation,omitempty" yaml:"requireConfirmation,omitempty"`     // defaults to true
	MaxOutputChars        int   `json:"maxOutputChars,omitempty" yaml:"maxOutputChars,omitempty"`               // defaults to 50000
}

// SearchConfig selects the web search engine and holds its credentials.
type SearchConfig struct {
	Engine       string `json:"engine,omitempty" yaml:"engine,omitempty"` // duckduckgo, google, tavily, brave
	GoogleAPIKey string `json:"googleApiKey,omitempty" yaml:"googleApiKey,omitempty"`
	GoogleCSEID  string `json:"googleCseId,omitempty" yaml:"googleCseId,omitempty"`
	TavilyAPIKey string `json:"tavilyApiKey,omitempty" yaml:"tavilyApiKey,omitempty"`
	BraveAPIKey  string `json:"braveApiKey,omitempty" yaml:"braveApiKey,omitempty"`
}

// ProvidersConfig contains per-provider API credentials.
type ProvidersConfig struct {
	Anthropic *ProviderConfig `json:"anthropic,omitempty" yaml:"anthropic,omitempty"`
	LMStudio  *ProviderConfig `json:"lmstudio,omitempty" yaml:"lmstudio,omitempty"`
}

// ProviderConfig contains API credentials for one provider.
type ProviderConfig struct {
	APIKey  string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	APIBase string `json:"apiBase,omitempty" yaml:"apiBase,omitempty"` // optional custom base URL
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Enabled *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Level   string `json:"level,omitempty" yaml:"level,omitempty"`   // debug, info, warn, error
	Stdout  bool   `json:"stdout,omitempty" yaml:"stdout,omitempty"` // also log to stdout; off by default to keep the REPL clean
	File    string `json:"file,omitempty" yaml:"file,omitempty"`     // log file path, relative to workspace
}

// ConfigDir returns the directory holding config.yaml.
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".kalibot"), nil
}

// ConfigPath returns the full path of config.yaml.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// Exists reports whether a config file has been written.
func Exists() bool {
	path, err := ConfigPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Load reads config.yaml, applies defaults and environment overrides, and
// validates the result. A missing file yields the defaults, so the CLI works
// with nothing but an API key in the environment.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// First run keeps the defaults.
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config. Credentials live here, so the file is 0600.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Validate rejects configurations the runtime cannot operate under.
func (c *Config) Validate() error {
	if c.Context.SoftLimitTokens >= c.Context.HardLimitTokens {
		return fmt.Errorf("context.softLimitTokens (%d) must be below context.hardLimitTokens (%d)",
			c.Context.SoftLimitTokens, c.Context.HardLimitTokens)
	}
	if c.Context.MinKeepMessages < 1 {
		return fmt.Errorf("context.minKeepMessages must be at least 1, got %d", c.Context.MinKeepMessages)
	}
	if c.Context.SummaryTargetTokens <= 0 {
		return fmt.Errorf("context.summaryTargetTokens must be positive, got %d", c.Context.SummaryTargetTokens)
	}
	if c.Exec.DefaultTimeoutSeconds <= 0 {
		return fmt.Errorf("exec.defaultTimeoutSeconds must be positive, got %d", c.Exec.DefaultTimeoutSeconds)
	}
	return nil
}

// WorkspacePath expands the workspace setting, ensures the directory exists,
// and returns its absolute path.
func (c *Config) WorkspacePath() (string, error) {
	ws := strings.TrimSpace(c.Workspace)
	if ws == "" {
		dir, err := ConfigDir()
		if err != nil {
			return "", err
		}
		ws = dir
	}
	ws = expandHome(ws)
	abs, err := filepath.Abs(ws)
	if err != nil {
		return "", fmt.Errorf("resolve workspace path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	return abs, nil
}

// ConfirmCommands resolves the command confirmation flag (default true).
func (c *Config) ConfirmCommands() bool {
	if c.Exec.RequireConfirmation == nil {
		return true
	}
	return *c.Exec.RequireConfirmation
}

// LoggerConfig maps the logging section onto the logger package.
func (c *Config) LoggerConfig() logger.Config {
	enabled := true
	if c.Logging.Enabled != nil {
		enabled = *c.Logging.Enabled
	}
	return logger.Config{
		Enabled: enabled,
		Level:   c.Logging.Level,
		Stdout:  c.Logging.Stdout,
		File:    c.Logging.File,
	}
}

// ProviderCredentials returns the configured API key and base URL for a
// provider. Environment fallbacks are handled by the provider registry.
func (c *Config) ProviderCredentials(name string) (apiKey, apiBase string) {
	var pc *ProviderConfig
	switch name {
	case "anthropic":
		pc = c.Providers.Anthropic
	case "lmstudio":
		pc = c.Providers.LMStudio
	}
	if pc == nil {
		return "", ""
	}
	return strings.TrimSpace(pc.APIKey), strings.TrimSpace(pc.APIBase)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
