package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/maddsec/kalibot/config"
	"github.com/maddsec/kalibot/provider"
	"github.com/maddsec/kalibot/session"
	"github.com/maddsec/kalibot/thread"
	"github.com/maddsec/kalibot/tokens"
)

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Summarize old messages in a session to free context budget",
	Long: `Compact a session by replacing its oldest messages with a model-written
summary. The original is backed up to history/ next to the session file.

By default nothing happens while the session is within the configured soft
token limit. Use --force to compact regardless.

Examples:
  kalibot compact
  kalibot compact --session acme-webapp
  kalibot compact --session acme-webapp --force`,
	RunE: runCompact,
}

var (
	compactSession string
	compactForce   bool
)

func init() {
	compactCmd.Flags().StringVar(&compactSession, "session", "", "Session key to compact (default: main)")
	compactCmd.Flags().BoolVar(&compactForce, "force", false, "Compact even below the soft token limit")
	rootCmd.AddCommand(compactCmd)
}

func runCompact(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	workspace, err := cfg.WorkspacePath()
	if err != nil {
		return fmt.Errorf("failed to get workspace: %w", err)
	}
	sessions, err := session.NewManager(workspace)
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}

	sess, err := sessions.Get(compactSession)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	before := len(sess.Messages)
	if before == 0 {
		fmt.Println("Session is empty, nothing to compact.")
		return nil
	}
	if before <= cfg.Context.MinKeepMessages {
		fmt.Printf("Session has only %d messages; minKeepMessages=%d leaves nothing to compact.\n",
			before, cfg.Context.MinKeepMessages)
		return nil
	}

	total := tokens.CountMessages(sess.Messages)
	if !compactForce && total <= cfg.Context.SoftLimitTokens {
		fmt.Printf("Session is within budget (%d of %d tokens). Use --force to compact anyway.\n",
			total, cfg.Context.SoftLimitTokens)
		return nil
	}

	apiKey, apiBase := cfg.ProviderCredentials(cfg.Agent.Provider)
	llm, err := provider.NewProvider(cfg.Agent.Provider, cfg.Agent.Model, apiKey, apiBase,
		cfg.Agent.MaxOutputTokens, cfg.Agent.Temperature)
	if err != nil {
		return fmt.Errorf("failed to create provider: %w", err)
	}

	budget := thread.Budget{
		SoftLimitTokens:     cfg.Context.SoftLimitTokens,
		SummaryTargetTokens: cfg.Context.SummaryTargetTokens,
		MinKeepMessages:     cfg.Context.MinKeepMessages,
	}
	if compactForce {
		// Budget exactly the protected tail; everything older then counts
		// as over the limit while the tail itself still fits.
		keep := cfg.Context.MinKeepMessages
		if keep < 1 {
			keep = 1
		}
		budget.SoftLimitTokens = tokens.CountMessages(sess.Messages[len(sess.Messages)-keep:])
	}

	compacted, err := thread.NewCompactor(llm, budget).MaybeCompact(context.Background(), sess.Messages)
	if err != nil {
		return fmt.Errorf("failed to compact session: %w", err)
	}

	backupPath, err := sessions.Backup(sess.Key)
	if err != nil {
		return fmt.Errorf("failed to back up session: %w", err)
	}

	sess.Messages = compacted
	if err := sessions.Save(sess); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	fmt.Printf("Session compacted: %d → %d messages\n", before, len(compacted))
	fmt.Printf("Backup: %s\n", backupPath)
	fmt.Printf("Session: %s\n", sessions.PathForKey(sess.Key))
	return nil
}
