// Package shutdown tears the relay down in a fixed order, once.
package shutdown

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rbright/btrelay/internal/logging"
	"github.com/rbright/btrelay/internal/supervisor"
)

// Listener is the relay server side that stops accepting on Close.
type Listener interface {
	Close() error
}

// Advertiser withdraws the service advertisement on Stop.
type Advertiser interface {
	Stop() error
}

// Child runs the supervisor stop sequence.
type Child interface {
	Stop(context.Context) supervisor.StopResult
}

// Aux is an auxiliary endpoint closed after the child is reaped.
type Aux struct {
	Name  string
	Close func() error
}

// Config lists what the coordinator tears down. Nil members are skipped.
type Config struct {
	Server      Listener
	Advertiser  Advertiser
	Child       Child
	QuitCommand string
	Aux         []Aux
	Console     *logging.Console
	Logger      *slog.Logger
}

// StepResult is the outcome of one teardown step.
type StepResult struct {
	Name string
	Err  error
}

// Report summarizes one shutdown.
type Report struct {
	Reason  string
	Steps   []StepResult
	Child   supervisor.StopResult
	Elapsed time.Duration
}

// OK reports whether every step finished without error.
func (r Report) OK() bool {
	for _, step := range r.Steps {
		if step.Err != nil {
			return false
		}
	}
	return true
}

// Coordinator runs the shutdown sequence exactly once.
type Coordinator struct {
	cfg    Config
	logger *slog.Logger

	once   sync.Once
	report Report
}

func New(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.QuitCommand == "" {
		cfg.QuitCommand = "q"
	}
	return &Coordinator{cfg: cfg, logger: logger}
}

// Shutdown closes the listener and advertisement, stops the child, closes
// auxiliary endpoints, then prints the final line. A failing or panicking
// step is recorded and the next step still runs. Later calls block until
// the first finishes and return its report.
func (c *Coordinator) Shutdown(ctx context.Context, reason string) Report {
	c.once.Do(func() {
		c.report = c.run(ctx, reason)
	})
	return c.report
}

func (c *Coordinator) run(ctx context.Context, reason string) Report {
	started := time.Now()
	report := Report{Reason: reason}
	console := c.cfg.Console

	console.Infof("Shutting down server (%s)...", reason)
	c.logger.Info("shutdown started", "reason", reason)

	if c.cfg.Server != nil {
		report.Steps = append(report.Steps, c.step("close listener", c.cfg.Server.Close))
	}
	if c.cfg.Advertiser != nil {
		report.Steps = append(report.Steps, c.step("stop advertisement", c.cfg.Advertiser.Stop))
	}

	if c.cfg.Child != nil {
		console.Infof("Stopping child (sending '%s')...", c.cfg.QuitCommand)
		report.Steps = append(report.Steps, c.step("stop child", func() error {
			report.Child = c.cfg.Child.Stop(ctx)
			return report.Child.QuitErr
		}))
		c.reportChild(report.Child)
	}

	for _, aux := range c.cfg.Aux {
		if aux.Close == nil {
			continue
		}
		report.Steps = append(report.Steps, c.step("close "+aux.Name, aux.Close))
	}

	report.Elapsed = time.Since(started)
	c.logger.Info("shutdown complete",
		"reason", reason,
		"ok", report.OK(),
		"child_outcome", report.Child.Outcome(),
		"elapsed_ms", report.Elapsed.Milliseconds(),
	)
	console.Successf("Server shut down.")
	return report
}

func (c *Coordinator) reportChild(res supervisor.StopResult) {
	console := c.cfg.Console
	switch {
	case res.AlreadyExited:
		console.Warnf("Child had already exited (%s).", res.Exit)
	case res.Killed:
		console.Errorf("Child ignored SIGTERM; killed (%s).", res.Exit)
	case res.Terminated:
		console.Warnf("Child did not quit in time; terminated (%s).", res.Exit)
	case res.Exit.Kind == supervisor.ExitRunning, res.Exit.Kind == "":
		return
	default:
		console.Infof("Child %s.", res.Exit)
	}
}

func (c *Coordinator) step(name string, fn func() error) (result StepResult) {
	result.Name = name
	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("panic: %v", r)
		}
		if result.Err != nil {
			c.cfg.Console.Errorf("Shutdown step %q failed: %v", name, result.Err)
			c.logger.Error("shutdown step failed", "step", name, "error", result.Err.Error())
			return
		}
		c.logger.Debug("shutdown step done", "step", name)
	}()
	result.Err = fn()
	return result
}
