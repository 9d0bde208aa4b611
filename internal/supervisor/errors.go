package supervisor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
)

var (
	// ErrLaunch matches every *LaunchError.
	ErrLaunch = errors.New("launch child process")
	// ErrPipeClosed matches every *PipeClosedError.
	ErrPipeClosed = errors.New("child input closed")
	// ErrQuitTimeout means the quit command could not be written before the
	// quit grace ran out, usually because the child stopped reading its input.
	ErrQuitTimeout = errors.New("quit command not delivered")
)

// LaunchError reports a child executable that is missing or could not be spawned.
type LaunchError struct {
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch child %q: %v", e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

func (e *LaunchError) Is(target error) bool {
	return target == ErrLaunch
}

// PipeClosedError reports a write to a child that has already exited.
type PipeClosedError struct {
	Exit ExitStatus
	Err  error
}

func (e *PipeClosedError) Error() string {
	if e.Exit.Kind == ExitRunning {
		return "child input closed"
	}
	return fmt.Sprintf("child input closed: child %s", e.Exit)
}

func (e *PipeClosedError) Unwrap() error {
	return e.Err
}

func (e *PipeClosedError) Is(target error) bool {
	return target == ErrPipeClosed
}

// isClosedPipe reports write failures caused by the child side going away.
func isClosedPipe(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.EIO) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe)
}
