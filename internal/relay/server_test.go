package relay

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/btrelay/internal/command"
	"github.com/rbright/btrelay/internal/fsm"
	"github.com/rbright/btrelay/internal/ipc"
	"github.com/rbright/btrelay/internal/logging"
	"github.com/rbright/btrelay/internal/supervisor"
)

type fakeChild struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (c *fakeChild) Send(cmd command.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, cmd.Text)
	return nil
}

func (c *fakeChild) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func (c *fakeChild) PID() int { return 4242 }

func (c *fakeChild) Exit() supervisor.ExitStatus { return supervisor.ExitStatus{Kind: supervisor.ExitRunning} }

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	server  *Server
	child   *fakeChild
	console *syncBuffer
	addr    string
	cancel  context.CancelFunc
	done    chan error

	statesMu sync.Mutex
	states   []fsm.State
}

func startServer(t *testing.T, child *fakeChild) *harness {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	h := &harness{child: child, console: &syncBuffer{}, addr: ln.Addr().String(), done: make(chan error, 1)}
	h.server = NewServer(ln, child, Options{
		AllowList: command.DefaultAllowList(),
		Endpoint:  "TCP " + ln.Addr().String(),
		Console:   logging.NewConsole(h.console),
		OnStateChange: func(s fsm.State) {
			h.statesMu.Lock()
			h.states = append(h.states, s)
			h.statesMu.Unlock()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(2 * time.Second):
		}
	})

	require.Eventually(t, func() bool { return h.server.State() == fsm.StateAccepting }, 2*time.Second, 5*time.Millisecond)
	return h
}

func (h *harness) dial(t *testing.T) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", h.addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (h *harness) waitSent(t *testing.T, want ...string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(h.child.Sent()) >= len(want)
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, want, h.child.Sent())
}

func (h *harness) waitState(t *testing.T, state fsm.State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.server.State() == state }, 2*time.Second, 5*time.Millisecond)
}

func (h *harness) Snapshot() Snapshot { return h.server.Snapshot() }

func TestServeRelaysCommandsInOrderThenReturnsToListening(t *testing.T) {
	h := startServer(t, &fakeChild{})

	conn := h.dial(t)
	_, err := conn.Write([]byte("s\n"))
	require.NoError(t, err)
	h.waitSent(t, "s")

	_, err = conn.Write([]byte("q\n"))
	require.NoError(t, err)
	h.waitSent(t, "s", "q")

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return h.Snapshot().Connections == 1 && h.server.State() == fsm.StateAccepting && h.Snapshot().Peer == ""
	}, 2*time.Second, 5*time.Millisecond)

	snap := h.Snapshot()
	require.Equal(t, uint64(2), snap.Relayed)
	require.Equal(t, uint64(0), snap.Rejected)
	require.Equal(t, 4242, snap.ChildPID)

	out := h.console.String()
	require.Contains(t, out, "Accepted connection from 127.0.0.1:")
	require.Contains(t, out, "Relaying command to child: 's'")
	require.Contains(t, out, "Relaying command to child: 'q'")
	require.Contains(t, out, "Client disconnected.")

	h.statesMu.Lock()
	states := append([]fsm.State(nil), h.states...)
	h.statesMu.Unlock()
	require.Equal(t, []fsm.State{
		fsm.StateListening, fsm.StateAccepting, fsm.StateRelaying,
		fsm.StateListening, fsm.StateAccepting,
	}, states)
}

func TestServeRejectsUnknownCommandAndKeepsConnectionOpen(t *testing.T) {
	h := startServer(t, &fakeChild{})

	conn := h.dial(t)
	_, err := conn.Write([]byte("z\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.Snapshot().Rejected == 1 }, 2*time.Second, 5*time.Millisecond)

	_, err = conn.Write([]byte("f"))
	require.NoError(t, err)
	h.waitSent(t, "f")

	require.Equal(t, fsm.StateRelaying, h.server.State())
	require.Contains(t, h.console.String(), "Received unknown command: [z] (not relayed)")
}

func TestServeSplitsCoalescedCommands(t *testing.T) {
	h := startServer(t, &fakeChild{})

	conn := h.dial(t)
	_, err := conn.Write([]byte("s\r\nbogus\nq\n"))
	require.NoError(t, err)
	h.waitSent(t, "s", "q")
	require.Eventually(t, func() bool { return h.Snapshot().Rejected == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestServeRejectsInvalidUTF8(t *testing.T) {
	h := startServer(t, &fakeChild{})

	conn := h.dial(t)
	_, err := conn.Write([]byte{0xff, 0xfe, '\n'})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.Snapshot().Rejected == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Empty(t, h.child.Sent())
	require.Contains(t, h.console.String(), "undecodable")
}

func TestServeHandlesClientsSequentially(t *testing.T) {
	h := startServer(t, &fakeChild{})

	first := h.dial(t)
	_, err := first.Write([]byte("s"))
	require.NoError(t, err)
	h.waitSent(t, "s")

	second := h.dial(t)
	_, err = second.Write([]byte("x"))
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, []string{"s"}, h.child.Sent())

	require.NoError(t, first.Close())
	h.waitSent(t, "s", "x")
	require.Equal(t, uint64(2), h.Snapshot().Connections)
}

func TestServeContinuesAfterPipeClosed(t *testing.T) {
	child := &fakeChild{err: &supervisor.PipeClosedError{Exit: supervisor.ExitStatus{Kind: supervisor.ExitCrashed, Code: 3}}}
	h := startServer(t, child)

	conn := h.dial(t)
	_, err := conn.Write([]byte("s\nc\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.Snapshot().FailedWrites == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, fsm.StateRelaying, h.server.State())
	require.Contains(t, h.console.String(), "Failed to relay 's'")
}

func TestCancelWhileRelayingClosesEverything(t *testing.T) {
	h := startServer(t, &fakeChild{})

	conn := h.dial(t)
	_, err := conn.Write([]byte("v"))
	require.NoError(t, err)
	h.waitSent(t, "v")

	h.cancel()
	select {
	case err := <-h.done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}

	require.Equal(t, fsm.StateShuttingDown, h.server.State())
	require.NotContains(t, h.console.String(), "connection lost")

	_, err = net.DialTimeout("tcp", h.addr, 200*time.Millisecond)
	require.Error(t, err)
	require.NoError(t, h.server.Close())
}

func TestCloseBeforeServe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := NewServer(ln, &fakeChild{}, Options{AllowList: command.DefaultAllowList()})
	require.NoError(t, server.Close())
	require.NoError(t, server.Serve(context.Background()))
	require.Equal(t, fsm.StateShuttingDown, server.State())
}

type failingListener struct {
	net.Listener
	closed chan struct{}
	once   sync.Once
}

func (l *failingListener) Accept() (net.Conn, error) { return nil, errors.New("adapter removed") }

func (l *failingListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func TestServeReturnsUnrecoverableAcceptError(t *testing.T) {
	ln := &failingListener{closed: make(chan struct{})}
	server := NewServer(ln, &fakeChild{}, Options{AllowList: command.DefaultAllowList()})

	err := server.Serve(context.Background())
	require.ErrorContains(t, err, "adapter removed")
	require.Equal(t, fsm.StateAccepting, server.State())
}

func TestHandleStatusAndStop(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	stops := 0
	server := NewServer(ln, &fakeChild{}, Options{
		AllowList: command.DefaultAllowList(),
		Endpoint:  "TCP test",
		OnStop:    func() { stops++ },
	})

	resp := server.Handle(context.Background(), ipc.Request{Command: ipc.CommandStatus})
	require.True(t, resp.OK)
	require.Equal(t, "idle", resp.State)
	require.Equal(t, "TCP test", resp.Status.Endpoint)
	require.Equal(t, 4242, resp.Status.ChildPID)
	require.Equal(t, "running", resp.Status.ChildExit)

	resp = server.Handle(context.Background(), ipc.Request{Command: ipc.CommandStop})
	require.True(t, resp.OK)
	require.Equal(t, 1, stops)

	resp = server.Handle(context.Background(), ipc.Request{Command: "toggle"})
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "unknown command")
}

func TestHandleStopWithoutHandler(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	server := NewServer(ln, &fakeChild{}, Options{AllowList: command.DefaultAllowList()})
	resp := server.Handle(context.Background(), ipc.Request{Command: ipc.CommandStop})
	require.False(t, resp.OK)
}

type blockingChild struct {
	fakeChild
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (c *blockingChild) Send(cmd command.Command) error {
	c.once.Do(func() { close(c.entered) })
	<-c.release
	return &supervisor.PipeClosedError{Exit: supervisor.ExitStatus{Kind: supervisor.ExitSignaled, Signal: "terminated"}}
}

func TestCloseWhileChildWriteBlocked(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	child := &blockingChild{entered: make(chan struct{}), release: make(chan struct{})}
	server := NewServer(ln, child, Options{AllowList: command.DefaultAllowList()})
	done := make(chan error, 1)
	go func() { done <- server.Serve(context.Background()) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("s\nq\n"))
	require.NoError(t, err)

	select {
	case <-child.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("command never reached the child")
	}

	// Status stays answerable while the relay loop is stuck in a write.
	snap := server.Snapshot()
	require.Equal(t, fsm.StateRelaying, snap.State)
	require.Equal(t, uint64(0), snap.Relayed)

	require.NoError(t, server.Close())
	require.Equal(t, fsm.StateShuttingDown, server.State())

	// The supervisor breaks the pipe when it kills the child.
	close(child.release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return once the blocked write failed")
	}
	require.GreaterOrEqual(t, server.Snapshot().FailedWrites, uint64(1))
}
