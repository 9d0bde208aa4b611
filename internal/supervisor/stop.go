package supervisor

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"
)

// StopResult records which stages of the stop sequence ran.
type StopResult struct {
	QuitSent      bool
	AlreadyExited bool
	Terminated    bool
	Killed        bool
	QuitErr       error
	SignalErr     error
	Exit          ExitStatus
	Elapsed       time.Duration
}

// Outcome names the stage that ended the child.
func (r StopResult) Outcome() string {
	switch {
	case r.AlreadyExited:
		return "already exited"
	case r.Killed:
		return "killed"
	case r.Terminated:
		return "terminated"
	default:
		return "graceful"
	}
}

// Stop quits the child: quit command, grace, SIGTERM, grace, SIGKILL, reap.
//
// Repeated and concurrent calls run the sequence once and share its result.
func (p *Process) Stop(ctx context.Context) StopResult {
	p.stopOnce.Do(func() {
		p.stopResult = p.stop(ctx)
	})
	return p.stopResult
}

func (p *Process) stop(ctx context.Context) StopResult {
	started := time.Now()
	var res StopResult

	grace := p.cfg.QuitGrace
	err := p.sendQuit(ctx)
	switch {
	case err == nil:
		res.QuitSent = true
		p.logger.Info("quit command sent", "pid", p.pid, "command", p.cfg.QuitCommand)
	case errors.Is(err, ErrPipeClosed) && p.exitWithin(pipeClosedSettle).Kind != ExitRunning:
		res.AlreadyExited = true
		p.logger.Info("child already terminated before quit", "pid", p.pid, "status", p.exit.String())
	default:
		res.QuitErr = err
		p.logger.Warn("quit command failed", "pid", p.pid, "error", err.Error())
		if errors.Is(err, ErrQuitTimeout) {
			// The write already used the grace period.
			grace = 0
		}
	}

	if !p.waitDone(ctx, grace) {
		res.Terminated = true
		p.logger.Info("child still running after quit; sending SIGTERM", "pid", p.pid)
		if err := p.signal(syscall.SIGTERM); err != nil {
			res.SignalErr = err
		}

		if !p.waitDone(ctx, p.cfg.TermGrace) {
			res.Killed = true
			p.logger.Warn("child ignored SIGTERM; sending SIGKILL", "pid", p.pid)
			if err := p.signal(syscall.SIGKILL); err != nil {
				res.SignalErr = err
			}
		}
	}

	<-p.done
	res.Exit = p.exit
	res.Elapsed = time.Since(started)
	return res
}

// sendQuit writes the quit command without letting a child that stopped
// reading, or a Send already blocked on the pipe, stall the stop sequence.
// The write goroutine finishes once the child is signalled and its pipe breaks.
func (p *Process) sendQuit(ctx context.Context) error {
	written := make(chan error, 1)
	go func() {
		written <- p.writeLine(p.cfg.QuitCommand)
	}()

	budget := p.cfg.QuitGrace
	if budget < minQuitWrite {
		budget = minQuitWrite
	}
	timer := time.NewTimer(budget)
	defer timer.Stop()

	select {
	case err := <-written:
		return err
	case <-p.done:
		return &PipeClosedError{Exit: p.exit}
	case <-timer.C:
		return fmt.Errorf("%w within %s", ErrQuitTimeout, budget)
	case <-ctx.Done():
		select {
		case err := <-written:
			return err
		default:
			return fmt.Errorf("%w: %w", ErrQuitTimeout, ctx.Err())
		}
	}
}
