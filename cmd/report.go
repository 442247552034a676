package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/maddsec/kalibot/config"
	"github.com/maddsec/kalibot/provider"
	"github.com/maddsec/kalibot/session"
	"github.com/maddsec/kalibot/termmd"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Export a session transcript as a markdown report",
	Long: `Render a session's conversation, including every command and its output,
into a markdown transcript under <workspace>/reports/.

Examples:
  kalibot report
  kalibot report --session acme-webapp
  kalibot report --stdout | less -R`,
	RunE: runReport,
}

var (
	reportSession string
	reportStdout  bool
)

func init() {
	reportCmd.Flags().StringVar(&reportSession, "session", "", "Session key to export (default: main)")
	reportCmd.Flags().BoolVar(&reportStdout, "stdout", false, "Print the transcript instead of writing a file")
	rootCmd.AddCommand(reportCmd)
}

func runReport(_ *cobra.Command, _ []string) error {
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

	sess, err := sessions.Get(reportSession)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if len(sess.Messages) == 0 {
		fmt.Println("Session is empty, nothing to report.")
		return nil
	}

	markdown := renderSessionMarkdown(sess)

	if reportStdout {
		if term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Println(termmd.Render(markdown))
		} else {
			fmt.Println(termmd.Plain(markdown))
		}
		return nil
	}

	reportsDir := filepath.Join(workspace, "reports")
	if err := os.MkdirAll(reportsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create reports directory: %w", err)
	}
	name := fmt.Sprintf("kalibot_report_%s.md", time.Now().Format("20060102T150405"))
	path := filepath.Join(reportsDir, name)
	if err := os.WriteFile(path, []byte(markdown), 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	fmt.Println("Report written to:", path)
	return nil
}

// renderSessionMarkdown flattens a session into a readable transcript. Tool
// traffic is kept verbatim so the report doubles as an activity log.
func renderSessionMarkdown(sess *session.Session) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Session report: %s\n\n", sess.Key)
	if !sess.CreatedAt.IsZero() {
		fmt.Fprintf(&sb, "- Started: %s\n", sess.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	}
	if !sess.UpdatedAt.IsZero() {
		fmt.Fprintf(&sb, "- Last activity: %s\n", sess.UpdatedAt.Format("2006-01-02 15:04:05 MST"))
	}
	fmt.Fprintf(&sb, "- Messages: %d\n", len(sess.Messages))

	for _, msg := range sess.Messages {
		sb.WriteString("\n---\n\n")
		switch msg.Role {
		case "user":
			sb.WriteString("## User\n\n")
			sb.WriteString(strings.TrimSpace(msg.Content))
			sb.WriteString("\n")
		case "assistant":
			sb.WriteString("## Assistant\n\n")
			if content := strings.TrimSpace(msg.Content); content != "" {
				sb.WriteString(content)
				sb.WriteString("\n")
			}
			for _, call := range msg.ToolCalls {
				writeToolCall(&sb, call)
			}
		case "system":
			sb.WriteString("## System\n\n")
			sb.WriteString(strings.TrimSpace(msg.Content))
			sb.WriteString("\n")
		case "tool":
			fmt.Fprintf(&sb, "## Output of %s\n\n", msg.Name)
			sb.WriteString("```\n")
			sb.WriteString(strings.TrimSpace(msg.Content))
			sb.WriteString("\n```\n")
		}
	}

	return sb.String()
}

func writeToolCall(sb *strings.Builder, call provider.ToolCall) {
	fmt.Fprintf(sb, "\nRan `%s`:\n\n", call.Function.Name)
	sb.WriteString("```json\n")
	sb.WriteString(strings.TrimSpace(call.Function.Arguments))
	sb.WriteString("\n```\n")
}
