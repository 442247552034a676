// Package interrupt coordinates Ctrl+C handling for the interactive loop.
//
// A single press is a cooperative signal: the current model request is
// canceled and the turn winds down, but a running subprocess is left alone
// so the user can decide what to do with it. A second press before the turn
// acknowledges the first exits the program.
package interrupt

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"

	"github.com/maddsec/kalibot/logger"
)

// Controller turns SIGINT into a per-turn interrupt flag with a broadcast
// channel for in-flight operations.
type Controller struct {
	mu    sync.Mutex
	fired bool
	done  chan struct{}

	sigs   chan os.Signal
	stop   chan struct{}
	onExit func(code int)
}

// NewController returns an armed controller. Start must be called to
// install the signal handler.
func NewController() *Controller {
	return &Controller{
		done:   make(chan struct{}),
		onExit: os.Exit,
	}
}

// Start installs the SIGINT handler. Call once per process.
func (c *Controller) Start() {
	c.sigs = make(chan os.Signal, 1)
	c.stop = make(chan struct{})
	signal.Notify(c.sigs, os.Interrupt)
	go func() {
		for {
			select {
			case <-c.sigs:
				c.Interrupt()
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop uninstalls the signal handler.
func (c *Controller) Stop() {
	if c.sigs != nil {
		signal.Stop(c.sigs)
		close(c.stop)
		c.sigs = nil
	}
}

// Interrupt marks the current turn interrupted, exactly as if Ctrl+C had
// been pressed. A second call before Reset exits the process.
func (c *Controller) Interrupt() {
	c.mu.Lock()
	if c.fired {
		c.mu.Unlock()
		logger.Info("second interrupt, exiting")
		fmt.Println()
		c.onExit(130)
		return
	}
	c.fired = true
	close(c.done)
	c.mu.Unlock()

	logger.Info("interrupt signal received")
	fmt.Println("\nInterrupt signal received. Finishing current operation or press Ctrl+C again to exit.")
}

// Interrupted reports whether an interrupt fired since the last Reset.
func (c *Controller) Interrupted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fired
}

// Done returns a channel closed on the first interrupt since the last
// Reset. Callers must re-fetch it after Reset.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Reset acknowledges a handled interrupt and arms the controller for the
// next turn.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fired {
		c.fired = false
		c.done = make(chan struct{})
	}
}

// Context derives a child of parent that is canceled on the first interrupt
// since the last Reset. The returned cancel must be called when the guarded
// operation completes.
func (c *Controller) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	done := c.Done()
	go func() {
		select {
		case <-done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
