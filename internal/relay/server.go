// Package relay serves one client at a time and forwards allow-listed
// commands to the supervised child.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rbright/btrelay/internal/command"
	"github.com/rbright/btrelay/internal/fsm"
	"github.com/rbright/btrelay/internal/logging"
	"github.com/rbright/btrelay/internal/supervisor"
)

// DefaultReadBuffer is the largest chunk read from a client at once.
const DefaultReadBuffer = 1024

// Sender delivers a validated command to the child.
type Sender interface {
	Send(command.Command) error
}

// childInfo is implemented by *supervisor.Process and feeds Snapshot.
type childInfo interface {
	PID() int
	Exit() supervisor.ExitStatus
}

// Options configures a Server. AllowList is required.
type Options struct {
	AllowList  command.AllowList
	ReadBuffer int
	Endpoint   string
	Console    *logging.Console
	Logger     *slog.Logger

	// OnStateChange observes every state change. It runs with the server
	// lock held and must not call back into the Server.
	OnStateChange func(fsm.State)
	// OnStop handles a control-socket stop request. It must not block.
	OnStop func()
}

// Server owns the relay loop over one listener.
type Server struct {
	ln      net.Listener
	child   Sender
	allow   command.AllowList
	bufSize int
	opts    Options
	console *logging.Console
	logger  *slog.Logger

	mu      sync.Mutex
	state   fsm.State
	conn    net.Conn
	peer    string
	closing bool

	connections  atomic.Uint64
	relayed      atomic.Uint64
	rejected     atomic.Uint64
	failedWrites atomic.Uint64
}

// NewServer wires a bound listener to the child. The listener is owned by
// the caller until Close.
func NewServer(ln net.Listener, child Sender, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	size := opts.ReadBuffer
	if size <= 0 {
		size = DefaultReadBuffer
	}
	return &Server{
		ln:      ln,
		child:   child,
		allow:   opts.AllowList,
		bufSize: size,
		opts:    opts,
		console: opts.Console,
		logger:  logger,
		state:   fsm.StateIdle,
	}
}

// Serve accepts clients sequentially until ctx is cancelled or Close is
// called, in which case it returns nil. Client errors end only that client.
// Any other accept failure is returned.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.transition(fsm.EventListen); err != nil {
		if s.isClosing() {
			return nil
		}
		return err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-done:
		}
	}()

	for {
		if err := s.transition(fsm.EventAccept); err != nil {
			return nil
		}
		if s.opts.Endpoint != "" {
			s.console.Infof("Waiting for connection on %s", s.opts.Endpoint)
		}

		conn, err := s.ln.Accept()
		if err != nil {
			if s.isClosing() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("accept failed", "error", err.Error())
			return fmt.Errorf("accept relay client: %w", err)
		}

		if !s.attach(conn) {
			_ = conn.Close()
			return nil
		}
		s.serveConn(conn)
		if !s.detach(conn) {
			return nil
		}
	}
}

func (s *Server) attach(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing {
		return false
	}
	if !s.transitionLocked(fsm.EventConnect) {
		return false
	}
	s.conn = conn
	s.peer = conn.RemoteAddr().String()
	s.connections.Add(1)

	s.console.Infof("Accepted connection from %s", s.peer)
	s.logger.Info("client connected", "peer", s.peer)
	return true
}

func (s *Server) detach(conn net.Conn) bool {
	_ = conn.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.conn = nil
	s.peer = ""
	if s.closing {
		return false
	}
	return s.transitionLocked(fsm.EventDisconnect)
}

func (s *Server) serveConn(conn net.Conn) {
	peer := conn.RemoteAddr().String()
	buf := make([]byte, s.bufSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			s.handleChunk(buf[:n])
		}

		switch {
		case err == nil && n > 0:
			continue
		case s.isClosing():
			return
		case err == nil || errors.Is(err, io.EOF):
			s.console.Infof("Client disconnected.")
			s.logger.Info("client disconnected", "peer", peer)
		default:
			s.console.Errorf("Bluetooth connection lost: %v", err)
			s.logger.Warn("client connection lost", "peer", peer, "error", err.Error())
		}
		return
	}
}

func (s *Server) handleChunk(chunk []byte) {
	for _, frame := range command.Frames(chunk) {
		cmd, err := command.Validate(s.allow, frame)
		if err != nil {
			s.reject(frame, err)
			continue
		}
		s.forward(cmd)
	}
}

func (s *Server) reject(frame []byte, err error) {
	s.rejected.Add(1)

	var rejected *command.RejectedError
	if errors.As(err, &rejected) {
		token := strings.TrimSpace(rejected.Token)
		s.console.Warnf("Received unknown command: [%s] (not relayed)", token)
		s.logger.Warn("command rejected", "token", token)
		return
	}

	s.console.Warnf("Received undecodable command (%d bytes, not relayed)", len(frame))
	s.logger.Warn("command rejected", "bytes", len(frame), "error", err.Error())
}

func (s *Server) forward(cmd command.Command) {
	s.console.Infof("Relaying command to child: '%s'", cmd.Text)

	err := s.child.Send(cmd)
	if err == nil {
		s.relayed.Add(1)
		s.logger.Debug("command relayed", "command", cmd.Text)
		return
	}

	s.failedWrites.Add(1)
	s.console.Errorf("Failed to relay '%s': %v", cmd.Text, err)

	var closed *supervisor.PipeClosedError
	if errors.As(err, &closed) && (closed.Exit.Kind == supervisor.ExitRunning || closed.Exit.Clean()) {
		s.logger.Warn("child input closed", "command", cmd.Text, "child", closed.Exit.String())
		return
	}
	s.logger.Error("relay write failed", "command", cmd.Text, "error", err.Error())
}

// Close moves the server to shutting_down and closes the listener and any
// active client so Serve returns. Safe to call more than once.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	s.transitionLocked(fsm.EventShutdown)
	conn := s.conn
	s.mu.Unlock()

	err := s.ln.Close()
	if conn != nil {
		_ = conn.Close()
	}
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("close relay listener: %w", err)
	}
	return nil
}

// State returns the current server state.
func (s *Server) State() fsm.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *Server) transition(event fsm.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := fsm.Transition(s.state, event)
	if err != nil {
		return err
	}
	s.setStateLocked(next)
	return nil
}

func (s *Server) transitionLocked(event fsm.Event) bool {
	next, err := fsm.Transition(s.state, event)
	if err != nil {
		s.logger.Debug("transition refused", "state", string(s.state), "event", string(event))
		return false
	}
	s.setStateLocked(next)
	return true
}

func (s *Server) setStateLocked(next fsm.State) {
	if next == s.state {
		return
	}
	s.logger.Debug("relay state", "from", string(s.state), "to", string(next))
	s.state = next
	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(next)
	}
}
