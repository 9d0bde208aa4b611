package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testTimeout = 500 * time.Millisecond

func startControl(t *testing.T, handler HandlerFunc) string {
	t.Helper()

	socketPath := filepath.Join(t.TempDir(), SocketName)
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, listener, handler, nil)
	}()

	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return socketPath
}

// rawExchange writes payload as-is and decodes whatever single line comes back.
func rawExchange(t *testing.T, socketPath string, payload []byte) Response {
	t.Helper()

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))

	_, err = conn.Write(payload)
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(line, &resp))
	return resp
}

func TestQueryStatusReturnsRelaySnapshot(t *testing.T) {
	want := Status{
		State:        "relaying",
		Endpoint:     "RFCOMM channel 3",
		Peer:         "[00:11:22:33:44:55]:3",
		Connections:  4,
		Relayed:      19,
		Rejected:     2,
		FailedWrites: 1,
		ChildPID:     4242,
		ChildExit:    "running",
	}
	socketPath := startControl(t, func(_ context.Context, req Request) Response {
		require.Equal(t, CommandStatus, req.Command)
		status := want
		return Response{OK: true, State: status.State, Status: &status}
	})

	got, err := QueryStatus(context.Background(), socketPath, testTimeout)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestQueryStatusWithoutPayloadKeepsState(t *testing.T) {
	socketPath := startControl(t, func(_ context.Context, _ Request) Response {
		return Response{OK: true, State: "accepting"}
	})

	got, err := QueryStatus(context.Background(), socketPath, testTimeout)
	require.NoError(t, err)
	require.Equal(t, Status{State: "accepting"}, got)
}

func TestRequestStopReturnsRelayMessage(t *testing.T) {
	var stops atomic.Int32
	socketPath := startControl(t, func(_ context.Context, req Request) Response {
		require.Equal(t, CommandStop, req.Command)
		stops.Add(1)
		return Response{OK: true, State: "shutting_down", Message: "stopping"}
	})

	message, err := RequestStop(context.Background(), socketPath, testTimeout)
	require.NoError(t, err)
	require.Equal(t, "stopping", message)
	require.EqualValues(t, 1, stops.Load())
}

func TestRequestStopSurfacesRefusal(t *testing.T) {
	socketPath := startControl(t, func(_ context.Context, _ Request) Response {
		return Response{OK: false, Error: "stop is not supported by this relay"}
	})

	_, err := RequestStop(context.Background(), socketPath, testTimeout)
	require.ErrorContains(t, err, "stop is not supported by this relay")
	require.NotErrorIs(t, err, ErrNoRelay)
}

func TestServeFillsMissingFailureText(t *testing.T) {
	socketPath := startControl(t, func(_ context.Context, _ Request) Response {
		return Response{OK: false}
	})

	_, err := RequestStop(context.Background(), socketPath, testTimeout)
	require.ErrorContains(t, err, "stop failed")
}

func TestServeRejectsUnknownCommandBeforeHandler(t *testing.T) {
	var calls atomic.Int32
	socketPath := startControl(t, func(_ context.Context, _ Request) Response {
		calls.Add(1)
		return Response{OK: true}
	})

	resp, err := Send(context.Background(), socketPath, Request{Command: "toggle"}, testTimeout)
	require.NoError(t, err)
	require.False(t, resp.OK)
	require.Equal(t, `unknown command "toggle"`, resp.Error)
	require.Zero(t, calls.Load())
}

func TestServeRejectsMalformedAndOversizedRequests(t *testing.T) {
	var calls atomic.Int32
	socketPath := startControl(t, func(_ context.Context, _ Request) Response {
		calls.Add(1)
		return Response{OK: true}
	})

	resp := rawExchange(t, socketPath, []byte("not-json\n"))
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "decode request")

	oversized := `{"command":"` + strings.Repeat("s", 2*maxRequestBytes) + "\"}\n"
	resp = rawExchange(t, socketPath, []byte(oversized))
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "request exceeds 1024 bytes")

	require.Zero(t, calls.Load())
}

func TestCallWithoutRelayReturnsErrNoRelay(t *testing.T) {
	dir := t.TempDir()

	_, err := Call(context.Background(), filepath.Join(dir, "missing.sock"), CommandStatus, testTimeout)
	require.ErrorIs(t, err, ErrNoRelay)

	stale := filepath.Join(dir, SocketName)
	require.NoError(t, os.WriteFile(stale, []byte("stale"), 0o600))
	_, err = QueryStatus(context.Background(), stale, testTimeout)
	require.ErrorIs(t, err, ErrNoRelay)

	_, statErr := os.Stat(stale)
	require.NoError(t, statErr)
}

func TestSendRejectsGarbledReply(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), SocketName)
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		conn, acceptErr := listener.Accept()
		if acceptErr != nil {
			return
		}
		defer conn.Close()
		_, _ = bufio.NewReader(conn).ReadBytes('\n')
		_, _ = conn.Write([]byte("relaying\n"))
	}()

	_, err = Call(context.Background(), socketPath, CommandStatus, testTimeout)
	require.ErrorContains(t, err, `forward command "status"`)
	require.ErrorContains(t, err, "decode response")
}

func TestAnsweringSeesLiveRelayOnly(t *testing.T) {
	socketPath := startControl(t, func(_ context.Context, _ Request) Response {
		return Response{OK: false, Error: "busy"}
	})

	alive, err := Answering(context.Background(), socketPath, testTimeout)
	require.NoError(t, err)
	require.True(t, alive)

	alive, err = Answering(context.Background(), filepath.Join(t.TempDir(), "missing.sock"), testTimeout)
	require.NoError(t, err)
	require.False(t, alive)
}

func TestSocketErrorClassifiers(t *testing.T) {
	require.False(t, isSocketMissing(nil))
	require.False(t, isConnectionRefused(nil))

	require.True(t, isSocketMissing(os.ErrNotExist))
	require.True(t, isSocketMissing(errors.New("dial unix /tmp/btrelay.sock: no such file or directory")))
	require.False(t, isSocketMissing(errors.New("other error")))

	require.True(t, isConnectionRefused(syscall.ECONNREFUSED))
	require.False(t, isConnectionRefused(errors.New("other error")))
}

func TestKnownCommands(t *testing.T) {
	require.True(t, Known(CommandStatus))
	require.True(t, Known(CommandStop))
	require.False(t, Known(""))
	require.False(t, Known("STATUS"))
}
