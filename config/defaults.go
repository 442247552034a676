package config

import "os"

const (
	defaultProvider            = "anthropic"
	defaultMaxOutputTokens     = 4096
	defaultTemperature         = 1.0
	defaultHardLimitTokens     = 180000
	defaultSoftLimitTokens     = 150000
	defaultSummaryTargetTokens = 20000
	defaultMinKeepMessages     = 6
	defaultExecTimeoutSeconds  = 300
	defaultMaxOutputChars      = 50000
	defaultSearchEngine        = "duckduckgo"
)

// DefaultConfig returns a config with every default applied. The onboarding
// wizard starts from this and fills in the operator's choices.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func defaultLoggingConfig() LoggingConfig {
	enabled := true
	return LoggingConfig{
		Enabled: &enabled,
		Level:   "info",
		Stdout:  false,
		File:    "logs/kalibot.log",
	}
}

func (c *Config) applyDefaults() {
	if c.Agent.Provider == "" {
		c.Agent.Provider = defaultProvider
	}
	if c.Agent.MaxOutputTokens <= 0 {
		c.Agent.MaxOutputTokens = defaultMaxOutputTokens
	}
	if c.Agent.Temperature <= 0 {
		c.Agent.Temperature = defaultTemperature
	}

	if c.Context.HardLimitTokens <= 0 {
		c.Context.HardLimitTokens = defaultHardLimitTokens
	}
	if c.Context.SoftLimitTokens <= 0 {
		c.Context.SoftLimitTokens = defaultSoftLimitTokens
	}
	if c.Context.SummaryTargetTokens <= 0 {
		c.Context.SummaryTargetTokens = defaultSummaryTargetTokens
	}
	if c.Context.MinKeepMessages <= 0 {
		c.Context.MinKeepMessages = defaultMinKeepMessages
	}

	if c.Exec.DefaultTimeoutSeconds <= 0 {
		c.Exec.DefaultTimeoutSeconds = defaultExecTimeoutSeconds
	}
	if c.Exec.RequireConfirmation == nil {
		confirm := true
		c.Exec.RequireConfirmation = &confirm
	}
	if c.Exec.MaxOutputChars <= 0 {
		c.Exec.MaxOutputChars = defaultMaxOutputChars
	}

	if c.Search.Engine == "" {
		c.Search.Engine = defaultSearchEngine
	}

	def := defaultLoggingConfig()
	if c.Logging.Enabled == nil {
		c.Logging.Enabled = def.Enabled
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Level
	}
	if c.Logging.File == "" {
		c.Logging.File = def.File
	}
}

// applyEnvOverrides fills unset secrets from the environment. Values in the
// config file win over the environment.
func (c *Config) applyEnvOverrides() {
	if c.Search.GoogleAPIKey == "" {
		c.Search.GoogleAPIKey = os.Getenv("GOOGLE_API_KEY")
	}
	if c.Search.GoogleCSEID == "" {
		c.Search.GoogleCSEID = os.Getenv("GOOGLE_CSE_ID")
	}
	if c.Search.TavilyAPIKey == "" {
		c.Search.TavilyAPIKey = os.Getenv("TAVILY_API_KEY")
	}
	if c.Search.BraveAPIKey == "" {
		c.Search.BraveAPIKey = os.Getenv("BRAVE_SEARCH_API_KEY")
	}
}
