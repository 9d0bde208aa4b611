package transport

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/rbright/btrelay/internal/bluez"
)

const defaultProfileObjPath = dbus.ObjectPath("/btrelay/profile")

// ProfileConfig describes the serial-port service record.
type ProfileConfig struct {
	Name    string
	UUID    string
	Channel uint8
	Path    dbus.ObjectPath
}

// ProfileAdvertiser registers a BlueZ external profile whose SDP record
// points clients at the relay's RFCOMM channel.
type ProfileAdvertiser struct {
	cfg    ProfileConfig
	dial   bluez.Dialer
	logger *slog.Logger

	mu  sync.Mutex
	bus bluez.Bus
}

func NewProfileAdvertiser(cfg ProfileConfig, dial bluez.Dialer, logger *slog.Logger) *ProfileAdvertiser {
	if cfg.Path == "" {
		cfg.Path = defaultProfileObjPath
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ProfileAdvertiser{cfg: cfg, dial: dial, logger: logger}
}

func (a *ProfileAdvertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.bus != nil {
		return nil
	}

	bus, err := a.dial()
	if err != nil {
		return fmt.Errorf("connect system bus: %w", err)
	}

	if err := bus.Export(profile{logger: a.logger}, a.cfg.Path, bluez.ProfileIface); err != nil {
		_ = bus.Close()
		return fmt.Errorf("export profile: %w", err)
	}

	// No "Channel" option: bluetoothd would try to listen on it itself and
	// collide with our socket. The record alone advertises the channel.
	opts := map[string]dbus.Variant{
		"Name":                  dbus.MakeVariant(a.cfg.Name),
		"Role":                  dbus.MakeVariant("server"),
		"ServiceRecord":         dbus.MakeVariant(ServiceRecord(a.cfg)),
		"RequireAuthentication": dbus.MakeVariant(false),
		"RequireAuthorization":  dbus.MakeVariant(false),
		"AutoConnect":           dbus.MakeVariant(false),
	}
	err = bluez.Call(bus, bluez.ProfileManagerIface+".RegisterProfile", a.cfg.Path, strings.ToLower(a.cfg.UUID), opts)
	if err != nil {
		_ = bus.Close()
		return fmt.Errorf("register profile: %w", err)
	}

	a.bus = bus
	a.logger.Info("sdp profile registered", "uuid", a.cfg.UUID, "channel", a.cfg.Channel)
	return nil
}

func (a *ProfileAdvertiser) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.bus == nil {
		return nil
	}
	bus := a.bus
	a.bus = nil

	err := bluez.Call(bus, bluez.ProfileManagerIface+".UnregisterProfile", a.cfg.Path)
	closeErr := bus.Close()
	if err != nil {
		return fmt.Errorf("unregister profile: %w", err)
	}
	return closeErr
}

// ServiceRecord renders the SDP record for a serial-port service on cfg.Channel.
func ServiceRecord(cfg ProfileConfig) string {
	var name bytes.Buffer
	_ = xml.EscapeText(&name, []byte(cfg.Name))

	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8" ?>
<record>
  <attribute id="0x0001">
    <sequence>
      <uuid value="%s"/>
      <uuid value="0x1101"/>
    </sequence>
  </attribute>
  <attribute id="0x0004">
    <sequence>
      <sequence><uuid value="0x0100"/></sequence>
      <sequence><uuid value="0x0003"/><uint8 value="0x%02x"/></sequence>
    </sequence>
  </attribute>
  <attribute id="0x0005">
    <sequence><uuid value="0x1002"/></sequence>
  </attribute>
  <attribute id="0x0009">
    <sequence>
      <sequence><uuid value="0x1101"/><uint16 value="0x0100"/></sequence>
    </sequence>
  </attribute>
  <attribute id="0x0100">
    <text value="%s"/>
  </attribute>
</record>
`, strings.ToLower(cfg.UUID), cfg.Channel, name.String())
}

// profile is the exported org.bluez.Profile1 object. Connections are served
// on the relay's own socket, so BlueZ hand-offs are closed.
type profile struct {
	logger *slog.Logger
}

func (p profile) Release() *dbus.Error {
	p.logger.Info("sdp profile released")
	return nil
}

func (p profile) NewConnection(device dbus.ObjectPath, fd dbus.UnixFD, _ map[string]dbus.Variant) *dbus.Error {
	p.logger.Warn("ignoring profile connection hand-off", "device", device)
	closeFD(int(fd))
	return nil
}

func (p profile) RequestDisconnection(device dbus.ObjectPath) *dbus.Error {
	p.logger.Info("profile disconnection requested", "device", device)
	return nil
}
