package relay

import (
	"context"
	"fmt"

	"github.com/rbright/btrelay/internal/fsm"
	"github.com/rbright/btrelay/internal/ipc"
)

// Snapshot is a point-in-time view of the relay for status reporting.
type Snapshot struct {
	State        fsm.State
	Endpoint     string
	Peer         string
	Connections  uint64
	Relayed      uint64
	Rejected     uint64
	FailedWrites uint64
	ChildPID     int
	ChildExit    string
}

func (s *Server) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		State:    s.state,
		Endpoint: s.opts.Endpoint,
		Peer:     s.peer,
	}
	s.mu.Unlock()

	snap.Connections = s.connections.Load()
	snap.Relayed = s.relayed.Load()
	snap.Rejected = s.rejected.Load()
	snap.FailedWrites = s.failedWrites.Load()
	if info, ok := s.child.(childInfo); ok {
		snap.ChildPID = info.PID()
		snap.ChildExit = info.Exit().String()
	}
	return snap
}

// Status converts the snapshot to its control-socket form.
func (snap Snapshot) Status() *ipc.Status {
	return &ipc.Status{
		State:        string(snap.State),
		Endpoint:     snap.Endpoint,
		Peer:         snap.Peer,
		Connections:  snap.Connections,
		Relayed:      snap.Relayed,
		Rejected:     snap.Rejected,
		FailedWrites: snap.FailedWrites,
		ChildPID:     snap.ChildPID,
		ChildExit:    snap.ChildExit,
	}
}

// Handle serves control-socket requests.
func (s *Server) Handle(_ context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandStatus:
		snap := s.Snapshot()
		return ipc.Response{OK: true, State: string(snap.State), Status: snap.Status()}
	case ipc.CommandStop:
		if s.opts.OnStop == nil {
			return ipc.Response{OK: false, Error: "stop is not supported by this relay"}
		}
		s.opts.OnStop()
		return ipc.Response{OK: true, State: string(s.State()), Message: "stopping"}
	default:
		return ipc.Response{OK: false, Error: fmt.Sprintf("unknown command %q", req.Command)}
	}
}
