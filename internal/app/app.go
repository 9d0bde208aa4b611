// Package app dispatches CLI commands and wires the relay runtime together.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/olekukonko/tablewriter"

	"github.com/rbright/btrelay/internal/agent"
	"github.com/rbright/btrelay/internal/bluez"
	"github.com/rbright/btrelay/internal/cli"
	"github.com/rbright/btrelay/internal/config"
	"github.com/rbright/btrelay/internal/doctor"
	"github.com/rbright/btrelay/internal/health"
	"github.com/rbright/btrelay/internal/ipc"
	"github.com/rbright/btrelay/internal/logging"
	"github.com/rbright/btrelay/internal/relay"
	"github.com/rbright/btrelay/internal/shutdown"
	"github.com/rbright/btrelay/internal/supervisor"
	"github.com/rbright/btrelay/internal/transport"
	"github.com/rbright/btrelay/internal/version"
)

const (
	ExitOK      = 0
	ExitRuntime = 1
	ExitUsage   = 2
	ExitLaunch  = 3
)

const (
	forwardTimeout = 220 * time.Millisecond
	acquireCheck   = 180 * time.Millisecond
	acquireRetries = 8

	serveDrainTimeout = 2 * time.Second
)

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
	// Dial opens the system bus for the pairing agent. Defaults to bluez.SystemBus.
	Dial bluez.Dialer
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText("btrelay"))
		return ExitUsage
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText("btrelay"))
		return ExitOK
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return ExitOK
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath, config.Overrides{ChildPath: parsed.ChildPath})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return ExitRuntime
	}

	logRuntime, err := logging.New(cfgLoaded.Config.Log.Level)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return ExitRuntime
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"child", cfgLoaded.Config.Child.Path,
		"child_source", cfgLoaded.ChildSource,
		"log", logRuntime.Path,
		"version", version.Short(),
	)

	switch parsed.Command {
	case cli.CommandServe:
		return r.commandServe(ctx, cfgLoaded.Config, logger)
	case cli.CommandAgent:
		return r.commandAgent(ctx, cfgLoaded.Config, logger)
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandStop:
		return r.commandStop(ctx)
	case cli.CommandDoctor:
		report := doctor.Run(cfgLoaded)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return ExitOK
		}
		return ExitRuntime
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return ExitUsage
	}
}

func (r Runner) commandServe(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	console := logging.NewConsole(r.Stdout)

	allow, err := cfg.AllowList()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return ExitRuntime
	}

	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return ExitRuntime
	}
	// The control socket goes first so a second serve is refused before it can
	// launch another child. No transport listener exists until the child runs.
	control, err := ipc.Acquire(ctx, socketPath, acquireCheck, acquireRetries, nil)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("acquire control socket failed", "path", socketPath, "error", err.Error())
		return ExitRuntime
	}
	releaseControl := func() error { return ipc.Release(control, socketPath) }

	child, err := supervisor.Start(supervisor.Config{
		Path:        cfg.Child.Path,
		Args:        cfg.Child.Args,
		Dir:         cfg.Child.Dir,
		PTY:         cfg.Child.PTY,
		QuitCommand: cfg.Child.QuitCommand,
		QuitGrace:   cfg.Child.QuitGrace(),
		TermGrace:   cfg.Child.TermGrace(),
		Stdout:      r.Stdout,
		Stderr:      r.Stderr,
	}, logger)
	if err != nil {
		_ = releaseControl()
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("child launch failed", "path", cfg.Child.Path, "error", err.Error())
		if errors.Is(err, supervisor.ErrLaunch) {
			return ExitLaunch
		}
		return ExitRuntime
	}
	console.Successf("Started child %s (pid %d).", cfg.Child.Path, child.PID())

	ln, err := transport.Listen(cfg.Transport)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("open transport failed", "kind", cfg.Transport.Kind, "error", err.Error())
		shutdown.New(shutdown.Config{
			Child:       child,
			QuitCommand: cfg.Child.QuitCommand,
			Aux:         []shutdown.Aux{{Name: "control socket", Close: releaseControl}},
			Console:     console,
			Logger:      logger,
		}).Shutdown(context.Background(), "transport unavailable")
		return ExitRuntime
	}
	endpoint := transport.Endpoint(ln)

	var advertiser transport.Advertiser = transport.NopAdvertiser{}
	if cfg.Service.Advertise {
		advertiser = transport.NewAdvertiser(cfg.Service, ln, version.Short(), logger)
		if err := advertiser.Start(); err != nil {
			console.Warnf("Service advertisement failed: %v", err)
			logger.Warn("advertise failed", "service", cfg.Service.Name, "error", err.Error())
			advertiser = transport.NopAdvertiser{}
		} else {
			console.Infof("Advertising %q (%s).", cfg.Service.Name, cfg.Service.UUID)
		}
	}

	var healthServer *health.Server
	if addr := strings.TrimSpace(cfg.Health.GRPC); addr != "" {
		healthServer, err = health.Start(addr, logger)
		if err != nil {
			console.Warnf("Health endpoint disabled: %v", err)
			logger.Warn("health start failed", "addr", addr, "error", err.Error())
			healthServer = nil
		}
	}

	serveCtx, stopServe := context.WithCancel(ctx)
	defer stopServe()

	opts := relay.Options{
		AllowList:  allow,
		ReadBuffer: cfg.Transport.ReadBuffer,
		Endpoint:   endpoint,
		Console:    console,
		Logger:     logger,
		OnStop:     stopServe,
	}
	if healthServer != nil {
		opts.OnStateChange = healthServer.Observe
	}
	server := relay.NewServer(ln, child, opts)

	controlCtx, stopControl := context.WithCancel(context.Background())
	defer stopControl()
	controlDone := make(chan error, 1)
	go func() {
		controlDone <- ipc.Serve(controlCtx, control, server, logger)
	}()

	go watchChild(serveCtx, child, console, logger)

	// Serve can sit in a blocking write to a child that stopped reading, so
	// shutdown starts on cancellation without waiting for it to return.
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- server.Serve(serveCtx)
	}()

	var serveErr error
	serveReturned := false
	select {
	case serveErr = <-serveDone:
		serveReturned = true
	case <-serveCtx.Done():
	}

	reason := "stop requested"
	switch {
	case serveErr != nil:
		reason = "listener failed"
		console.Errorf("Listener failed: %v", serveErr)
		logger.Error("relay serve failed", "error", serveErr.Error())
	case ctx.Err() != nil:
		reason = "interrupt"
	}

	aux := make([]shutdown.Aux, 0, 2)
	if healthServer != nil {
		aux = append(aux, shutdown.Aux{Name: "health endpoint", Close: healthServer.Close})
	}
	aux = append(aux, shutdown.Aux{Name: "control socket", Close: func() error {
		stopControl()
		serveControlErr := <-controlDone
		return errors.Join(serveControlErr, releaseControl())
	}})

	report := shutdown.New(shutdown.Config{
		Server:      server,
		Advertiser:  advertiser,
		Child:       child,
		QuitCommand: cfg.Child.QuitCommand,
		Aux:         aux,
		Console:     console,
		Logger:      logger,
	}).Shutdown(context.Background(), reason)

	if !report.OK() {
		logger.Warn("shutdown finished with errors", "reason", reason)
	}
	if !serveReturned {
		// The child is reaped by now, so a blocked write has failed and Serve unwinds.
		select {
		case serveErr = <-serveDone:
		case <-time.After(serveDrainTimeout):
			logger.Warn("relay loop still running after shutdown")
		}
		if serveErr != nil {
			logger.Warn("relay serve returned after shutdown", "error", serveErr.Error())
			serveErr = nil
		}
	}
	if serveErr != nil {
		return ExitRuntime
	}
	return ExitOK
}

// watchChild reports a child that exits while the relay is still serving.
func watchChild(ctx context.Context, child *supervisor.Process, console *logging.Console, logger *slog.Logger) {
	select {
	case <-ctx.Done():
		return
	case <-child.Done():
	}

	status := child.Exit()
	if ctx.Err() != nil {
		return
	}
	if status.Clean() {
		console.Warnf("Child %s; further commands will not be relayed.", status.String())
		logger.Warn("child exited while serving", "pid", child.PID(), "status", status.String())
		return
	}
	console.Errorf("Child %s; further commands will not be relayed.", status.String())
	logger.Error("child exited while serving", "pid", child.PID(), "status", status.String())
}

func (r Runner) commandAgent(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	dial := r.Dial
	if dial == nil {
		dial = bluez.SystemBus
	}

	pairing := agent.New(agent.Policy{
		AutoAccept: cfg.Pairing.AutoAccept,
		PIN:        cfg.Pairing.PIN,
		Capability: cfg.Pairing.Capability,
	}, logging.NewConsole(r.Stdout), logger)

	if err := agent.Run(ctx, dial, pairing, dbus.ObjectPath(cfg.Pairing.AgentPath)); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("pairing agent failed", "error", err.Error())
		return ExitRuntime
	}
	return ExitOK
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "stopped")
		return ExitOK
	}

	status, err := ipc.QueryStatus(ctx, socketPath, forwardTimeout)
	switch {
	case errors.Is(err, ipc.ErrNoRelay):
		fmt.Fprintln(r.Stdout, "stopped")
		return ExitOK
	case err != nil:
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return ExitRuntime
	}

	renderStatus(r.Stdout, status)
	return ExitOK
}

func renderStatus(w io.Writer, status ipc.Status) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Field", "Value"})
	table.SetBorder(true)
	table.SetAutoWrapText(false)
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT})

	peer := status.Peer
	if peer == "" {
		peer = "-"
	}
	pid := "-"
	if status.ChildPID > 0 {
		pid = strconv.Itoa(status.ChildPID)
	}

	table.AppendBulk([][]string{
		{"State", status.State},
		{"Endpoint", status.Endpoint},
		{"Peer", peer},
		{"Connections", strconv.FormatUint(status.Connections, 10)},
		{"Relayed", strconv.FormatUint(status.Relayed, 10)},
		{"Rejected", strconv.FormatUint(status.Rejected, 10)},
		{"Failed writes", strconv.FormatUint(status.FailedWrites, 10)},
		{"Child PID", pid},
		{"Child", status.ChildExit},
	})
	table.Render()
}

func (r Runner) commandStop(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return ExitRuntime
	}

	message, err := ipc.RequestStop(ctx, socketPath, forwardTimeout)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return ExitRuntime
	}
	if message != "" {
		fmt.Fprintln(r.Stdout, message)
	}
	return ExitOK
}
