// Package transport opens the relay listener and advertises it to clients.
package transport

import (
	"fmt"
	"net"

	"github.com/rbright/btrelay/internal/config"
)

// Listen opens the configured relay endpoint. Only one client is served at a
// time; the RFCOMM listener uses a backlog of exactly one.
func Listen(cfg config.TransportConfig) (net.Listener, error) {
	switch cfg.Kind {
	case config.TransportRFCOMM:
		ln, err := ListenRFCOMM(cfg.Channel)
		if err != nil {
			return nil, err
		}
		return ln, nil
	case config.TransportTCP:
		ln, err := net.Listen("tcp", cfg.Address)
		if err != nil {
			return nil, fmt.Errorf("listen tcp %s: %w", cfg.Address, err)
		}
		return ln, nil
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Kind)
	}
}

// Endpoint describes a bound listener for console output, e.g.
// "RFCOMM channel 1" or "TCP 127.0.0.1:7171".
func Endpoint(ln net.Listener) string {
	switch addr := ln.Addr().(type) {
	case RFCOMMAddr:
		return fmt.Sprintf("RFCOMM channel %d", addr.Channel)
	case *net.TCPAddr:
		return "TCP " + addr.String()
	default:
		return addr.Network() + " " + addr.String()
	}
}
