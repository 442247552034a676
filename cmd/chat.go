package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/maddsec/kalibot/config"
	"github.com/maddsec/kalibot/termmd"
	"github.com/maddsec/kalibot/thread"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to kalibot in the terminal",
	Long: `Start an interactive chat session, or send a single message with -m.

The interactive session streams the response as it arrives. Press Ctrl+C
once to interrupt the current turn; press it again to exit. A process
started by the assistant survives the interrupt so you can decide what to
do with it.

Examples:
  kalibot chat                                  # Interactive session
  kalibot chat -m "enumerate 10.0.0.5"          # One-shot message
  kalibot chat --session acme-webapp            # Separate engagement history
  kalibot chat --provider lmstudio --no-confirm`,
	RunE: runChat,
}

var (
	chatMessage   string
	chatSession   string
	chatProvider  string
	chatModel     string
	chatAPIKey    string
	chatAPIBase   string
	chatNoConfirm bool
)

func init() {
	chatCmd.Flags().StringVarP(&chatMessage, "message", "m", "", "Send one message, print the reply, and exit")
	chatCmd.Flags().StringVar(&chatSession, "session", "", "Session key for conversation history (default: main)")
	chatCmd.Flags().StringVar(&chatProvider, "provider", "", "Override the configured provider")
	chatCmd.Flags().StringVar(&chatModel, "model", "", "Override the configured model")
	chatCmd.Flags().StringVar(&chatAPIKey, "api-key", "", "Override the provider API key")
	chatCmd.Flags().StringVar(&chatAPIBase, "api-base", "", "Override the provider base URL")
	chatCmd.Flags().BoolVar(&chatNoConfirm, "no-confirm", false, "Run commands without asking for confirmation")
	rootCmd.AddCommand(chatCmd)
}

func runChat(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	opts := chatOptions{
		SessionKey: chatSession,
		Provider:   chatProvider,
		Model:      chatModel,
		APIKey:     chatAPIKey,
		APIBase:    chatAPIBase,
		NoConfirm:  chatNoConfirm,
	}

	if strings.TrimSpace(chatMessage) != "" {
		return runOneShot(cfg, opts, chatMessage)
	}
	return runREPL(cfg, opts)
}

// runOneShot sends a single message and prints the rendered reply. The
// response is not streamed so the output stays clean for piping.
func runOneShot(cfg *config.Config, opts chatOptions, message string) error {
	rt, err := buildChatRuntime(cfg, opts)
	if err != nil {
		return err
	}
	defer rt.close()

	rt.interrupts.Start()
	defer rt.interrupts.Stop()

	reply, err := rt.thread.Run(context.Background(), message)
	if err != nil {
		if errors.Is(err, thread.ErrInterrupted) {
			return fmt.Errorf("interrupted")
		}
		return err
	}

	if term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Println(termmd.Render(reply))
	} else {
		fmt.Println(termmd.Plain(reply))
	}
	return nil
}

func runREPL(cfg *config.Config, opts chatOptions) error {
	// Deltas print as they stream; the final reply needs no second print.
	opts.OnDelta = func(delta string) {
		fmt.Print(delta)
	}

	rt, err := buildChatRuntime(cfg, opts)
	if err != nil {
		return err
	}
	defer rt.close()

	rt.interrupts.Start()
	defer rt.interrupts.Stop()

	fmt.Println("kalibot ready. Type your request, or 'exit' to quit.")
	if n := len(rt.thread.History()); n > 0 {
		fmt.Printf("Resumed session %q with %d messages.\n", rt.thread.SessionKey(), n)
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("kalibot> ")

		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}

		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "exit" || text == "quit" || text == "/exit" || text == "/quit" {
			fmt.Println("Goodbye!")
			return nil
		}

		// A Ctrl+C pressed at the prompt is consumed here, so it cannot
		// cancel the turn the user just asked for.
		rt.interrupts.Reset()

		_, err := rt.thread.Run(context.Background(), text)
		fmt.Println()
		switch {
		case errors.Is(err, thread.ErrInterrupted):
			fmt.Println("(turn interrupted)")
		case errors.Is(err, thread.ErrBudgetConfig):
			return err
		case err != nil:
			fmt.Println("Error:", err)
		}
		fmt.Println()
	}
}
