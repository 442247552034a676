// Package thread drives one conversation: each Run consumes a user input,
// loops the model against the tool registry until it answers in prose, and
// persists the session. Compaction keeps the history under the context
// budget between iterations.
package thread

import (
	"errors"
	"fmt"

	"github.com/maddsec/kalibot/agent"
	"github.com/maddsec/kalibot/interrupt"
	"github.com/maddsec/kalibot/proc"
	"github.com/maddsec/kalibot/provider"
	"github.com/maddsec/kalibot/session"
	"github.com/maddsec/kalibot/skills"
	"github.com/maddsec/kalibot/tools"
)

// ErrInterrupted reports a turn the user cut short. History keeps whatever
// the turn completed before the interrupt; the caller decides how to resume.
var ErrInterrupted = errors.New("turn interrupted")

// Config contains the dependencies for creating a thread.
type Config struct {
	Provider     provider.Provider
	Tools        *tools.Registry
	Supervisor   *proc.Supervisor
	Sessions     *session.Manager
	SessionKey   string
	Agent        *agent.Agent
	Playbooks    *skills.Registry
	PlaybooksDir string
	Interrupts   *interrupt.Controller
	Budget       Budget
	Workspace    string
	MaxTokens    int
	Temperature  float64

	// OnDelta receives streamed assistant text fragments. nil disables
	// streaming and the reply arrives only as Run's return value.
	OnDelta func(string)
}

// Thread is a single conversation bound to one session key.
type Thread struct {
	provider     provider.Provider
	tools        *tools.Registry
	supervisor   *proc.Supervisor
	sessions     *session.Manager
	sessionKey   string
	agent        *agent.Agent
	playbooks    *skills.Registry
	playbooksDir string
	interrupts   *interrupt.Controller
	compactor    *Compactor
	workspace    string
	maxTokens    int
	temperature  float64
	onDelta      func(string)

	history []provider.Message
}

// New creates a thread and loads its session history.
func New(cfg Config) (*Thread, error) {
	if cfg.Provider == nil {
		return nil, errors.New("thread: provider is required")
	}
	if cfg.Tools == nil {
		cfg.Tools = tools.NewRegistry()
	}

	t := &Thread{
		provider:     cfg.Provider,
		tools:        cfg.Tools,
		supervisor:   cfg.Supervisor,
		sessions:     cfg.Sessions,
		sessionKey:   cfg.SessionKey,
		agent:        cfg.Agent,
		playbooks:    cfg.Playbooks,
		playbooksDir: cfg.PlaybooksDir,
		interrupts:   cfg.Interrupts,
		compactor:    NewCompactor(cfg.Provider, cfg.Budget),
		workspace:    cfg.Workspace,
		maxTokens:    cfg.MaxTokens,
		temperature:  cfg.Temperature,
		onDelta:      cfg.OnDelta,
	}

	if cfg.Sessions != nil {
		sess, err := cfg.Sessions.Get(cfg.SessionKey)
		if err != nil {
			return nil, fmt.Errorf("load session: %w", err)
		}
		t.history = append(t.history, sess.Messages...)
	}

	return t, nil
}

// History returns the live message history. Callers must not mutate it.
func (t *Thread) History() []provider.Message {
	return t.history
}

// SessionKey returns the session key the thread persists under.
func (t *Thread) SessionKey() string {
	return t.sessionKey
}
