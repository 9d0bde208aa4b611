package supervisor

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
)

// ExitKind classifies how the child process ended.
type ExitKind string

const (
	ExitRunning  ExitKind = "running"
	ExitExited   ExitKind = "exited"
	ExitCrashed  ExitKind = "crashed"
	ExitSignaled ExitKind = "signaled"
)

// ExitStatus is the reaped state of the child process.
type ExitStatus struct {
	Kind   ExitKind
	Code   int
	Signal string
}

// Clean reports a zero exit code.
func (s ExitStatus) Clean() bool {
	return s.Kind == ExitExited
}

func (s ExitStatus) String() string {
	switch s.Kind {
	case ExitExited:
		return "exited cleanly"
	case ExitCrashed:
		return fmt.Sprintf("exited with code %d", s.Code)
	case ExitSignaled:
		return fmt.Sprintf("killed by %s", s.Signal)
	default:
		return string(ExitRunning)
	}
}

// exitStatusFrom converts the cmd.Wait result into an ExitStatus.
func exitStatusFrom(err error) ExitStatus {
	if err == nil {
		return ExitStatus{Kind: ExitExited}
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return ExitStatus{Kind: ExitCrashed, Code: -1}
	}

	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if ok && status.Signaled() {
		return ExitStatus{Kind: ExitSignaled, Code: -1, Signal: status.Signal().String()}
	}
	if exitErr.ExitCode() == 0 {
		return ExitStatus{Kind: ExitExited}
	}
	return ExitStatus{Kind: ExitCrashed, Code: exitErr.ExitCode()}
}
