// Package supervisor owns the lifecycle of the relayed control process.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/rbright/btrelay/internal/command"
)

const (
	defaultQuitCommand = "q"
	ptyDrainTimeout    = 500 * time.Millisecond
	pipeClosedSettle   = 100 * time.Millisecond
	minQuitWrite       = 100 * time.Millisecond
)

// Config describes how to launch and stop the child.
type Config struct {
	Path        string
	Args        []string
	Dir         string
	Env         []string
	PTY         bool
	QuitCommand string
	QuitGrace   time.Duration
	TermGrace   time.Duration
	Stdout      io.Writer
	Stderr      io.Writer
}

// Process is the single supervised child.
type Process struct {
	cfg    Config
	logger *slog.Logger
	cmd    *exec.Cmd
	pid    int

	writeMu sync.Mutex
	input   io.Writer
	tty     *os.File

	done chan struct{}
	exit ExitStatus

	stopOnce   sync.Once
	stopResult StopResult
}

// Start resolves and launches cfg.Path. Failures are *LaunchError.
func Start(cfg Config, logger *slog.Logger) (*Process, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if strings.TrimSpace(cfg.QuitCommand) == "" {
		cfg.QuitCommand = defaultQuitCommand
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}

	path, err := ResolveExecutable(cfg.Path)
	if err != nil {
		return nil, &LaunchError{Path: cfg.Path, Err: err}
	}

	cmd := exec.Command(path, cfg.Args...)
	cmd.Dir = cfg.Dir
	cmd.Env = cfg.Env

	p := &Process{
		cfg:    cfg,
		logger: logger,
		cmd:    cmd,
		done:   make(chan struct{}),
		exit:   ExitStatus{Kind: ExitRunning},
	}

	copyDone := make(chan struct{})
	if cfg.PTY {
		tty, err := pty.Start(cmd)
		if err != nil {
			return nil, &LaunchError{Path: cfg.Path, Err: err}
		}
		p.tty = tty
		p.input = tty
		go func() {
			defer close(copyDone)
			_, _ = io.Copy(cfg.Stdout, tty)
		}()
	} else {
		cmd.Stdout = cfg.Stdout
		cmd.Stderr = cfg.Stderr
		// Own process group: terminal interrupts reach only the bridge, which drives the quit.
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, &LaunchError{Path: cfg.Path, Err: err}
		}
		if err := cmd.Start(); err != nil {
			_ = stdin.Close()
			return nil, &LaunchError{Path: cfg.Path, Err: err}
		}
		p.input = stdin
		close(copyDone)
	}

	p.pid = cmd.Process.Pid
	go p.wait(copyDone)

	logger.Info("child started", "path", path, "pid", p.pid, "pty", cfg.PTY)
	return p, nil
}

// ResolveExecutable checks that path names an executable regular file.
// Bare names are looked up in PATH.
func ResolveExecutable(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("child path is empty")
	}
	if !strings.ContainsRune(path, os.PathSeparator) {
		return exec.LookPath(path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	if info.Mode().Perm()&0o111 == 0 {
		return "", fmt.Errorf("%s is not executable", path)
	}
	return path, nil
}

// wait reaps the child and publishes its exit status.
func (p *Process) wait(copyDone <-chan struct{}) {
	err := p.cmd.Wait()
	if p.tty != nil {
		select {
		case <-copyDone:
		case <-time.After(ptyDrainTimeout):
		}
		_ = p.tty.Close()
	}

	p.exit = exitStatusFrom(err)
	close(p.done)

	if p.exit.Clean() {
		p.logger.Info("child exited", "pid", p.pid, "status", p.exit.String())
		return
	}
	p.logger.Warn("child exited", "pid", p.pid, "status", p.exit.String())
}

// PID returns the child's process id.
func (p *Process) PID() int {
	return p.pid
}

// Done is closed once the child has been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exit returns the reaped status, or ExitRunning while the child is alive.
func (p *Process) Exit() ExitStatus {
	select {
	case <-p.done:
		return p.exit
	default:
		return ExitStatus{Kind: ExitRunning}
	}
}

// Send writes one command line to the child's input.
func (p *Process) Send(cmd command.Command) error {
	return p.writeLine(cmd.Text)
}

// writeLine performs one unbuffered write so the child sees the line immediately.
func (p *Process) writeLine(text string) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	select {
	case <-p.done:
		return &PipeClosedError{Exit: p.exit}
	default:
	}

	if _, err := io.WriteString(p.input, text+"\n"); err != nil {
		if isClosedPipe(err) {
			return &PipeClosedError{Exit: p.exitWithin(pipeClosedSettle), Err: err}
		}
		return fmt.Errorf("write to child: %w", err)
	}
	return nil
}

// exitWithin waits briefly for the reaper so a broken pipe can report how the child ended.
func (p *Process) exitWithin(d time.Duration) ExitStatus {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-p.done:
		return p.exit
	case <-timer.C:
		return ExitStatus{Kind: ExitRunning}
	}
}

// signal delivers sig to the child's process group, falling back to the process.
func (p *Process) signal(sig syscall.Signal) error {
	select {
	case <-p.done:
		return nil
	default:
	}

	err := unix.Kill(-p.pid, sig)
	if err == nil || errors.Is(err, unix.ESRCH) {
		return nil
	}
	if sigErr := p.cmd.Process.Signal(sig); sigErr != nil && !errors.Is(sigErr, os.ErrProcessDone) {
		return fmt.Errorf("signal child %d with %s: %w", p.pid, sig, sigErr)
	}
	return nil
}

// waitDone blocks until the child is reaped, d elapses, or ctx ends.
func (p *Process) waitDone(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-p.done:
			return true
		default:
			return false
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-p.done:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		select {
		case <-p.done:
			return true
		default:
			return false
		}
	}
}
