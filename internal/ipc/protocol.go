// Package ipc carries one-line JSON requests over the relay's control socket.
package ipc

const (
	CommandStatus = "status"
	CommandStop   = "stop"
)

// maxRequestBytes bounds one request line; real requests are a few dozen bytes.
const maxRequestBytes = 1024

type Request struct {
	Command string `json:"command"`
}

type Response struct {
	OK      bool    `json:"ok"`
	State   string  `json:"state,omitempty"`
	Message string  `json:"message,omitempty"`
	Error   string  `json:"error,omitempty"`
	Status  *Status `json:"status,omitempty"`
}

// Status is the relay snapshot returned for status requests.
type Status struct {
	State        string `json:"state"`
	Endpoint     string `json:"endpoint,omitempty"`
	Peer         string `json:"peer,omitempty"`
	Connections  uint64 `json:"connections"`
	Relayed      uint64 `json:"relayed"`
	Rejected     uint64 `json:"rejected"`
	FailedWrites uint64 `json:"failed_writes"`
	ChildPID     int    `json:"child_pid,omitempty"`
	ChildExit    string `json:"child_exit,omitempty"`
}

// Known reports whether command is part of the control protocol.
func Known(command string) bool {
	switch command {
	case CommandStatus, CommandStop:
		return true
	default:
		return false
	}
}

func failure(op string, err error) Response {
	return Response{OK: false, Error: op + ": " + err.Error()}
}
