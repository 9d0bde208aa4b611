package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
	"time"
)

// ErrNoRelay means nothing answers on the control socket.
var ErrNoRelay = errors.New("no running btrelay relay")

// Send performs one request/response exchange with a deadline.
func Send(ctx context.Context, path string, req Request, timeout time.Duration) (Response, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "unix", path)
	if err != nil {
		return Response{}, err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return Response{}, fmt.Errorf("set deadline: %w", err)
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, fmt.Errorf("encode request: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

// Call sends command to the running relay. A missing socket or refused
// connection is ErrNoRelay; a relay that answers not-OK is an error carrying
// its message.
func Call(ctx context.Context, path, command string, timeout time.Duration) (Response, error) {
	resp, err := Send(ctx, path, Request{Command: command}, timeout)
	if err != nil {
		if isSocketMissing(err) || isConnectionRefused(err) {
			return Response{}, ErrNoRelay
		}
		return Response{}, fmt.Errorf("forward command %q: %w", command, err)
	}
	if !resp.OK {
		return resp, fmt.Errorf("relay rejected %q: %s", command, resp.Error)
	}
	return resp, nil
}

// QueryStatus returns the running relay's snapshot.
func QueryStatus(ctx context.Context, path string, timeout time.Duration) (Status, error) {
	resp, err := Call(ctx, path, CommandStatus, timeout)
	if err != nil {
		return Status{}, err
	}
	if resp.Status == nil {
		return Status{State: resp.State}, nil
	}
	return *resp.Status, nil
}

// RequestStop asks the running relay to shut down and returns its reply.
func RequestStop(ctx context.Context, path string, timeout time.Duration) (string, error) {
	resp, err := Call(ctx, path, CommandStop, timeout)
	if err != nil {
		return "", err
	}
	return resp.Message, nil
}

// Answering reports whether a relay answers on path. Any decoded reply counts,
// even a refusal.
func Answering(ctx context.Context, path string, timeout time.Duration) (bool, error) {
	_, err := Send(ctx, path, Request{Command: CommandStatus}, timeout)
	if err == nil {
		return true, nil
	}
	if isSocketMissing(err) || isConnectionRefused(err) {
		return false, nil
	}
	return false, fmt.Errorf("check socket: %w", err)
}

// isSocketMissing reports absent-socket failures.
func isSocketMissing(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrNotExist) ||
		strings.Contains(err.Error(), "no such file or directory")
}

// isConnectionRefused reports no-listener failures, including a stale
// socket file nobody is bound to.
func isConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
