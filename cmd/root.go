// Package cmd wires the CLI commands.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "kalibot",
	Short: "Terminal AI assistant for authorized penetration testing",
	Long: `kalibot is a terminal AI assistant for authorized security assessments.
It drives pentest tooling through a supervised shell, answers interactive
prompts, looks up advisories and CVE details on the web, and keeps
per-engagement conversation history under a local workspace.

Run 'kalibot onboard' once to configure a provider, then 'kalibot chat'.`,
	SilenceUsage: true,
}

// Execute runs the root command. Cobra prints the error; we only set the
// exit code.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
