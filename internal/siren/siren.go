// Package siren drives the audible alarm.
package siren

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"sync"
)

type Output interface {
	Play() error
	Silence() error
}

// Controller makes Start and Stop idempotent over an Output.
type Controller struct {
	mu     sync.Mutex
	out    Output
	active bool
	logger *slog.Logger
}

func NewController(out Output, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if out == nil {
		out = LogOutput{Logger: logger}
	}
	return &Controller{out: out, logger: logger}
}

func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return nil
	}
	if err := c.out.Play(); err != nil {
		return err
	}
	c.active = true
	c.logger.Warn("siren started")
	return nil
}

func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return nil
	}
	c.active = false
	c.logger.Info("siren stopped")
	return c.out.Silence()
}

func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// LogOutput stands in for a speaker on headless hosts.
type LogOutput struct {
	Logger *slog.Logger
}

func (o LogOutput) Play() error {
	if o.Logger != nil {
		o.Logger.Warn("SIREN ON")
	}
	return nil
}

func (o LogOutput) Silence() error {
	if o.Logger != nil {
		o.Logger.Info("SIREN OFF")
	}
	return nil
}

// CommandOutput plays by running an external player until silenced.
type CommandOutput struct {
	Args   []string
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewCommandOutput(args []string) *CommandOutput {
	return &CommandOutput{Args: append([]string(nil), args...)}
}

func (o *CommandOutput) Play() error {
	if len(o.Args) == 0 {
		return errors.New("siren: empty command")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, o.Args[0], o.Args[1:]...)
	if err := cmd.Start(); err != nil {
		cancel()
		return err
	}
	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	o.cancel, o.done = cancel, done
	return nil
}

func (o *CommandOutput) Silence() error {
	o.mu.Lock()
	cancel, done := o.cancel, o.done
	o.cancel, o.done = nil, nil
	o.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}
