// Package bluez holds the D-Bus plumbing shared by the pairing agent, the
// SDP profile advertiser, and doctor.
package bluez

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	Service = "org.bluez"
	Root    = dbus.ObjectPath("/org/bluez")

	AgentManagerIface   = "org.bluez.AgentManager1"
	AgentIface          = "org.bluez.Agent1"
	ProfileManagerIface = "org.bluez.ProfileManager1"
	ProfileIface        = "org.bluez.Profile1"

	// ErrRejected is the error name BlueZ expects when an agent refuses.
	ErrRejected = "org.bluez.Error.Rejected"
	// ErrCanceled is returned when a request was cancelled.
	ErrCanceled = "org.bluez.Error.Canceled"
)

// Bus is the subset of *dbus.Conn used to talk to BlueZ.
type Bus interface {
	Export(v any, path dbus.ObjectPath, iface string) error
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
	Close() error
}

// Dialer opens a bus connection.
type Dialer func() (Bus, error)

// SystemBus dials a private system bus connection.
func SystemBus() (Bus, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Call invokes a BlueZ manager method on the root object.
func Call(bus Bus, method string, args ...any) error {
	call := bus.Object(Service, Root).Call(method, 0, args...)
	if call.Err != nil {
		return fmt.Errorf("%s: %w", method, call.Err)
	}
	return nil
}

// Running reports whether bluetoothd owns its bus name.
func Running(bus Bus) (bool, error) {
	var owned bool
	call := bus.Object("org.freedesktop.DBus", "/org/freedesktop/DBus").
		Call("org.freedesktop.DBus.NameHasOwner", 0, Service)
	if call.Err != nil {
		return false, fmt.Errorf("NameHasOwner: %w", call.Err)
	}
	if err := call.Store(&owned); err != nil {
		return false, fmt.Errorf("NameHasOwner: %w", err)
	}
	return owned, nil
}
