// kalibot is a terminal AI assistant for authorized penetration testing.
package main

import (
	"fmt"
	"os"

	"github.com/maddsec/kalibot/cmd"
	"github.com/maddsec/kalibot/config"
	"github.com/maddsec/kalibot/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		cfg = config.DefaultConfig()
	}
	workspace, _ := cfg.WorkspacePath()
	if err := logger.Init(cfg.LoggerConfig(), workspace); err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
	}
	cmd.Execute()
}
