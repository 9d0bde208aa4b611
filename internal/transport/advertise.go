package transport

import (
	"log/slog"
	"net"

	"github.com/rbright/btrelay/internal/bluez"
	"github.com/rbright/btrelay/internal/config"
)

// Advertiser publishes the relay endpoint so clients can find it.
// Stop must be safe to call more than once and before Start.
type Advertiser interface {
	Start() error
	Stop() error
}

// NopAdvertiser advertises nothing.
type NopAdvertiser struct{}

func (NopAdvertiser) Start() error { return nil }
func (NopAdvertiser) Stop() error  { return nil }

// NewAdvertiser picks the advertiser matching the bound listener: an SDP
// profile for RFCOMM, mDNS for TCP.
func NewAdvertiser(svc config.ServiceConfig, ln net.Listener, version string, logger *slog.Logger) Advertiser {
	if !svc.Advertise {
		return NopAdvertiser{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	switch addr := ln.Addr().(type) {
	case RFCOMMAddr:
		return NewProfileAdvertiser(ProfileConfig{
			Name:    svc.Name,
			UUID:    svc.UUID,
			Channel: addr.Channel,
		}, bluez.SystemBus, logger)
	case *net.TCPAddr:
		return NewMDNSAdvertiser(MDNSConfig{
			Name:    svc.Name,
			Port:    addr.Port,
			UUID:    svc.UUID,
			Version: version,
		})
	default:
		logger.Warn("no advertiser for listener", "network", addr.Network())
		return NopAdvertiser{}
	}
}
