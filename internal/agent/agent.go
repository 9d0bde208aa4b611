// Package agent implements a BlueZ pairing agent with an explicit accept policy.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/godbus/dbus/v5"

	"github.com/rbright/btrelay/internal/bluez"
	"github.com/rbright/btrelay/internal/logging"
)

// Policy decides how pairing requests are answered.
type Policy struct {
	AutoAccept bool
	PIN        string
	Capability string
}

// Agent is exported as org.bluez.Agent1. Methods are invoked by bluetoothd.
type Agent struct {
	policy  Policy
	console *logging.Console
	logger  *slog.Logger
}

func New(policy Policy, console *logging.Console, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Agent{policy: policy, console: console, logger: logger}
}

func (a *Agent) Release() *dbus.Error {
	a.console.Infof("Agent: Release")
	a.logger.Info("agent released")
	return nil
}

func (a *Agent) RequestPinCode(device dbus.ObjectPath) (string, *dbus.Error) {
	a.console.Infof("Agent: RequestPinCode for %s", device)
	a.logger.Info("pin code requested", "device", device)
	return a.policy.PIN, nil
}

// RequestPasskey answers with the configured PIN as a number, 0 when it is not numeric.
func (a *Agent) RequestPasskey(device dbus.ObjectPath) (uint32, *dbus.Error) {
	a.console.Infof("Agent: RequestPasskey for %s", device)
	passkey, err := strconv.ParseUint(a.policy.PIN, 10, 32)
	if err != nil {
		passkey = 0
	}
	a.logger.Info("passkey requested", "device", device)
	return uint32(passkey), nil
}

func (a *Agent) DisplayPinCode(device dbus.ObjectPath, pincode string) *dbus.Error {
	a.console.Infof("Agent: DisplayPinCode %s for %s", pincode, device)
	a.logger.Info("display pin code", "device", device)
	return nil
}

func (a *Agent) DisplayPasskey(device dbus.ObjectPath, passkey uint32, entered uint16) *dbus.Error {
	a.console.Infof("Agent: DisplayPasskey %06d for %s (%d entered)", passkey, device, entered)
	a.logger.Info("display passkey", "device", device, "entered", entered)
	return nil
}

func (a *Agent) RequestConfirmation(device dbus.ObjectPath, passkey uint32) *dbus.Error {
	a.console.Infof("Agent: RequestConfirmation for %s with passkey %06d", device, passkey)
	return a.decide("confirmation", device)
}

func (a *Agent) RequestAuthorization(device dbus.ObjectPath) *dbus.Error {
	a.console.Infof("Agent: RequestAuthorization for %s", device)
	return a.decide("authorization", device)
}

func (a *Agent) AuthorizeService(device dbus.ObjectPath, uuid string) *dbus.Error {
	a.console.Infof("Agent: AuthorizeService %s for %s", uuid, device)
	return a.decide("service "+uuid, device)
}

func (a *Agent) Cancel() *dbus.Error {
	a.console.Warnf("Agent: Cancel")
	a.logger.Info("pairing cancelled")
	return nil
}

func (a *Agent) decide(what string, device dbus.ObjectPath) *dbus.Error {
	if a.policy.AutoAccept {
		a.logger.Info("pairing request accepted", "request", what, "device", device)
		return nil
	}
	a.console.Warnf("Agent: rejected %s for %s", what, device)
	a.logger.Warn("pairing request rejected", "request", what, "device", device)
	return dbus.NewError(bluez.ErrRejected, []any{"rejected by btrelay pairing policy"})
}

// Register exports a at path and makes it BlueZ's default agent.
func Register(bus bluez.Bus, a *Agent, path dbus.ObjectPath) error {
	if !path.IsValid() {
		return fmt.Errorf("invalid agent path %q", path)
	}
	if err := bus.Export(a, path, bluez.AgentIface); err != nil {
		return fmt.Errorf("export agent: %w", err)
	}
	if err := bluez.Call(bus, bluez.AgentManagerIface+".RegisterAgent", path, a.policy.Capability); err != nil {
		return fmt.Errorf("register agent: %w", err)
	}
	if err := bluez.Call(bus, bluez.AgentManagerIface+".RequestDefaultAgent", path); err != nil {
		_ = bluez.Call(bus, bluez.AgentManagerIface+".UnregisterAgent", path)
		return fmt.Errorf("request default agent: %w", err)
	}
	return nil
}

// Unregister removes the agent from BlueZ.
func Unregister(bus bluez.Bus, path dbus.ObjectPath) error {
	if err := bluez.Call(bus, bluez.AgentManagerIface+".UnregisterAgent", path); err != nil {
		return fmt.Errorf("unregister agent: %w", err)
	}
	return nil
}

// Run registers the agent and serves pairing requests until ctx is done.
func Run(ctx context.Context, dial bluez.Dialer, a *Agent, path dbus.ObjectPath) error {
	bus, err := dial()
	if err != nil {
		return fmt.Errorf("connect system bus: %w", err)
	}
	defer func() { _ = bus.Close() }()

	if err := Register(bus, a, path); err != nil {
		return err
	}
	a.console.Successf("Bluetooth Pairing Agent started.")
	a.logger.Info("agent registered", "path", path, "capability", a.policy.Capability, "auto_accept", a.policy.AutoAccept)

	<-ctx.Done()

	if err := Unregister(bus, path); err != nil {
		a.logger.Warn("agent unregister failed", "error", err.Error())
		return err
	}
	a.console.Infof("Bluetooth Pairing Agent stopped.")
	return nil
}
