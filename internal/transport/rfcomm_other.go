//go:build !linux

package transport

import (
	"errors"
	"net"
)

// RFCOMMListener is unavailable off Linux.
type RFCOMMListener struct{ net.Listener }

// ListenRFCOMM always fails off Linux; use the tcp transport instead.
func ListenRFCOMM(int) (*RFCOMMListener, error) {
	return nil, errors.New("rfcomm transport requires linux")
}
