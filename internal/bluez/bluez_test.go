package bluez

import (
	"errors"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/require"
)

type fakeBus struct {
	dest, method string
	call         *dbus.Call
}

func (b *fakeBus) Export(any, dbus.ObjectPath, string) error { return nil }

func (b *fakeBus) Object(dest string, _ dbus.ObjectPath) dbus.BusObject {
	b.dest = dest
	return fakeObject{bus: b}
}

func (b *fakeBus) Close() error { return nil }

type fakeObject struct {
	dbus.BusObject
	bus *fakeBus
}

func (o fakeObject) Call(method string, _ dbus.Flags, _ ...any) *dbus.Call {
	o.bus.method = method
	return o.bus.call
}

func TestCallWrapsMethodName(t *testing.T) {
	bus := &fakeBus{call: &dbus.Call{Err: errors.New("no adapter")}}
	err := Call(bus, ProfileManagerIface+".RegisterProfile")
	require.ErrorContains(t, err, "org.bluez.ProfileManager1.RegisterProfile: no adapter")
	require.Equal(t, Service, bus.dest)
}

func TestRunning(t *testing.T) {
	bus := &fakeBus{call: &dbus.Call{Body: []any{true}}}
	ok, err := Running(bus)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "org.freedesktop.DBus.NameHasOwner", bus.method)

	bus = &fakeBus{call: &dbus.Call{Err: errors.New("bus closed")}}
	_, err = Running(bus)
	require.ErrorContains(t, err, "NameHasOwner")
}
