// Package proc supervises the single external command the agent is allowed
// to run at a time.
//
// The supervisor owns a one-slot state machine: idle -> running ->
// {awaiting_input, completed, terminated, timed_out}. Interactive commands
// that keep producing output or waiting for stdin stay in awaiting_input
// between turns; the slot frees only when the process reaches a terminal
// state. Interactive tools in a pentest session (shells, scanners, REPLs)
// routinely outlive a single turn, so control returns to the caller while
// the process keeps running.
package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/maddsec/kalibot/logger"
)

// State is the lifecycle state of the supervised process slot.
type State string

const (
	StateIdle          State = "idle"
	StateRunning       State = "running"
	StateAwaitingInput State = "awaiting_input"
	StateCompleted     State = "completed"
	StateTerminated    State = "terminated"
	StateTimedOut      State = "timed_out"
)

// Terminal reports whether the state frees the process slot.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateTerminated || s == StateTimedOut
}

var (
	// ErrAlreadyActive is returned by Start while a process holds the slot.
	ErrAlreadyActive = errors.New("another command is still active")
	// ErrNoActiveProcess is returned by SendInput and Terminate when the
	// slot is empty.
	ErrNoActiveProcess = errors.New("no active process")
)

const (
	// pollInterval paces the wait loop inside Start.
	pollInterval = 100 * time.Millisecond
	// inputGrace is how long SendInput waits for the process to react.
	inputGrace = 300 * time.Millisecond
	// termGrace is how long Terminate waits after SIGTERM before SIGKILL.
	termGrace = 3 * time.Second
	// killGrace is how long to wait for the reaper after SIGKILL.
	killGrace = 2 * time.Second
)

// StartRequest describes one command execution.
type StartRequest struct {
	Command      string
	Timeout      time.Duration
	InitialInput string
}

// Status is the outcome of a supervisor operation. Output holds the text
// produced since the previous report, already rendered into STDOUT/STDERR
// sections.
type Status struct {
	State    State
	PID      int
	Command  string
	Output   string
	ExitCode int // valid when State is StateCompleted
}

// Supervisor owns the single process slot.
type Supervisor struct {
	mu     sync.Mutex
	active *process
}

// NewSupervisor returns an idle supervisor.
func NewSupervisor() *Supervisor {
	return &Supervisor{}
}

// Active reports whether a process currently holds the slot.
func (s *Supervisor) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// ActiveCommand returns the command line and PID holding the slot.
func (s *Supervisor) ActiveCommand() (command string, pid int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return "", 0, false
	}
	return s.active.command, s.active.pid, true
}

// Poll returns the cumulative captured output and the current state without
// blocking or consuming anything. Output grows monotonically until the
// process reaches a terminal state.
func (s *Supervisor) Poll() (output string, state State) {
	s.mu.Lock()
	p := s.active
	s.mu.Unlock()
	if p == nil {
		return "", StateIdle
	}
	return p.snapshot(), p.getState()
}

// Start spawns a command and waits for it to finish, produce output, or hit
// the timeout. It returns early with StateAwaitingInput when the process
// emits output while still alive, so the caller can decide whether to feed
// it input, terminate it, or keep waiting. Cancelling ctx also returns
// control with the process left running.
func (s *Supervisor) Start(ctx context.Context, req StartRequest) (Status, error) {
	s.mu.Lock()
	if p := s.active; p != nil {
		status := Status{State: p.getState(), PID: p.pid, Command: p.command}
		s.mu.Unlock()
		return status, ErrAlreadyActive
	}

	p, err := spawn(req.Command)
	if err != nil {
		s.mu.Unlock()
		return Status{}, err
	}
	s.active = p
	s.mu.Unlock()

	logger.Info("command started", "pid", p.pid, "timeout", req.Timeout.String())

	if req.InitialInput != "" {
		if err := p.writeInput(req.InitialInput); err != nil {
			logger.Warn("initial input write failed", "pid", p.pid, "error", err)
		}
	}

	deadline := time.Now().Add(req.Timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.waitCh:
			return s.reap(p), nil
		case <-ctx.Done():
			p.setState(StateAwaitingInput)
			logger.Info("wait interrupted, command left running", "pid", p.pid)
			return Status{State: StateAwaitingInput, PID: p.pid, Command: p.command, Output: p.takeNew()}, nil
		case <-ticker.C:
			if time.Now().After(deadline) {
				return s.timeout(p), nil
			}
			if p.hasNewOutput() {
				p.setState(StateAwaitingInput)
				return Status{State: StateAwaitingInput, PID: p.pid, Command: p.command, Output: p.takeNew()}, nil
			}
		}
	}
}

// SendInput writes one line to the active process's stdin and waits a short
// grace period for a reaction. A process that already exited is reaped and
// reported as completed so its remaining output is not lost.
func (s *Supervisor) SendInput(ctx context.Context, text string) (Status, error) {
	s.mu.Lock()
	p := s.active
	s.mu.Unlock()
	if p == nil {
		return Status{}, ErrNoActiveProcess
	}

	select {
	case <-p.waitCh:
		return s.reap(p), nil
	default:
	}

	p.setState(StateRunning)
	if err := p.writeInput(text); err != nil {
		// Stdin gone means the process is on its way out; give the
		// reaper a moment and report what it produced.
		select {
		case <-p.waitCh:
		case <-time.After(killGrace):
		}
		return s.reap(p), nil
	}

	select {
	case <-p.waitCh:
		return s.reap(p), nil
	case <-ctx.Done():
	case <-time.After(inputGrace):
	}

	p.setState(StateAwaitingInput)
	return Status{State: StateAwaitingInput, PID: p.pid, Command: p.command, Output: p.takeNew()}, nil
}

// Terminate ends the active process: close stdin, SIGTERM the group, wait,
// SIGKILL if still alive. A process that already exited on its own is
// reported as completed.
func (s *Supervisor) Terminate() (Status, error) {
	s.mu.Lock()
	p := s.active
	s.mu.Unlock()
	if p == nil {
		return Status{}, ErrNoActiveProcess
	}

	select {
	case <-p.waitCh:
		return s.reap(p), nil
	default:
	}

	p.closeStdin()
	p.signalGroup(syscall.SIGTERM)
	select {
	case <-p.waitCh:
	case <-time.After(termGrace):
		p.signalGroup(syscall.SIGKILL)
		select {
		case <-p.waitCh:
		case <-time.After(killGrace):
			logger.Error("process survived SIGKILL", "pid", p.pid)
		}
	}

	status := Status{State: StateTerminated, PID: p.pid, Command: p.command, Output: p.takeNew()}
	s.clear(p)
	logger.Info("command terminated", "pid", p.pid)
	return status, nil
}

// timeout kills the process group and frees the slot, preserving whatever
// output was captured.
func (s *Supervisor) timeout(p *process) Status {
	p.signalGroup(syscall.SIGKILL)
	select {
	case <-p.waitCh:
	case <-time.After(killGrace):
		logger.Error("process survived SIGKILL", "pid", p.pid)
	}
	status := Status{State: StateTimedOut, PID: p.pid, Command: p.command, Output: p.takeNew()}
	s.clear(p)
	logger.Info("command timed out", "pid", p.pid)
	return status
}

// reap records a finished process and frees the slot. Wait has already
// returned by the time waitCh closes, so the buffers hold the full output.
func (s *Supervisor) reap(p *process) Status {
	status := Status{
		State:    StateCompleted,
		PID:      p.pid,
		Command:  p.command,
		Output:   p.takeNew(),
		ExitCode: p.exitCode,
	}
	s.clear(p)
	logger.Info("command completed", "pid", p.pid, "exitCode", p.exitCode)
	return status
}

func (s *Supervisor) clear(p *process) {
	s.mu.Lock()
	if s.active == p {
		s.active = nil
	}
	s.mu.Unlock()
	p.closeStdin()
}

// process is one spawned command and its captured streams.
type process struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	pid     int
	command string

	stdout lockedBuffer
	stderr lockedBuffer

	waitCh   chan struct{}
	exitCode int

	closeOnce sync.Once

	mu          sync.Mutex
	state       State
	consumedOut int
	consumedErr int
}

// spawn runs the command through the shell in its own process group so that
// signals reach the whole pipeline, not just the leader.
func spawn(command string) (*process, error) {
	cmd := exec.Command("sh", "-c", command)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	p := &process{
		cmd:     cmd,
		command: command,
		waitCh:  make(chan struct{}),
		state:   StateRunning,
	}
	cmd.Stdout = &p.stdout
	cmd.Stderr = &p.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	p.stdin = stdin

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start command: %w", err)
	}
	p.pid = cmd.Process.Pid

	go func() {
		err := cmd.Wait()
		p.exitCode = exitCodeFrom(err)
		close(p.waitCh)
	}()

	return p, nil
}

func exitCodeFrom(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func (p *process) writeInput(text string) error {
	_, err := io.WriteString(p.stdin, text+"\n")
	return err
}

func (p *process) closeStdin() {
	p.closeOnce.Do(func() {
		_ = p.stdin.Close()
	})
}

func (p *process) signalGroup(sig syscall.Signal) {
	if err := syscall.Kill(-p.pid, sig); err != nil {
		_ = p.cmd.Process.Signal(sig)
	}
}

func (p *process) setState(state State) {
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
}

func (p *process) getState() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// takeNew renders the output produced since the previous take and advances
// the consumed offsets.
func (p *process) takeNew() string {
	out := p.stdout.String()
	errOut := p.stderr.String()

	p.mu.Lock()
	newOut := out[p.consumedOut:]
	newErr := errOut[p.consumedErr:]
	p.consumedOut = len(out)
	p.consumedErr = len(errOut)
	p.mu.Unlock()

	return renderSections(newOut, newErr)
}

// snapshot renders everything captured so far without consuming it.
func (p *process) snapshot() string {
	return renderSections(p.stdout.String(), p.stderr.String())
}

func (p *process) hasNewOutput() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stdout.Len() > p.consumedOut || p.stderr.Len() > p.consumedErr
}

// renderSections labels the two streams the way the model sees them. Empty
// streams are omitted entirely.
func renderSections(stdout, stderr string) string {
	var parts []string
	if stdout != "" {
		parts = append(parts, "STDOUT:\n"+stdout)
	}
	if stderr != "" {
		parts = append(parts, "STDERR:\n"+stderr)
	}
	return strings.Join(parts, "\n")
}

// lockedBuffer is a write target shared between exec's copier goroutines
// and the supervisor's readers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *lockedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}
