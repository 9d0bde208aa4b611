// Package doctor runs readiness diagnostics for config, the child program,
// the transport, BlueZ, and the health endpoint.
package doctor

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/rbright/btrelay/internal/bluez"
	"github.com/rbright/btrelay/internal/config"
	"github.com/rbright/btrelay/internal/health"
	"github.com/rbright/btrelay/internal/supervisor"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Env is the host surface doctor inspects.
type Env struct {
	SysfsBluetooth string
	Dial           bluez.Dialer
	ProbeTimeout   time.Duration
}

// DefaultEnv inspects the running host.
func DefaultEnv() Env {
	return Env{
		SysfsBluetooth: "/sys/class/bluetooth",
		Dial:           bluez.SystemBus,
		ProbeTimeout:   2 * time.Second,
	}
}

// Run executes checks against the host.
func Run(cfg config.Loaded) Report {
	return RunWith(cfg, DefaultEnv())
}

// RunWith executes checks against env.
func RunWith(cfg config.Loaded, env Env) Report {
	checks := []Check{checkConfig(cfg)}

	checks = append(checks, checkChild(cfg.Config.Child.Path, cfg.ChildSource))

	switch cfg.Config.Transport.Kind {
	case config.TransportRFCOMM:
		checks = append(checks, checkAdapters(env.SysfsBluetooth))
		checks = append(checks, checkBlueZ(env.Dial))
	case config.TransportTCP:
		checks = append(checks, checkTCPAddress(cfg.Config.Transport.Address))
	}

	if addr := strings.TrimSpace(cfg.Config.Health.GRPC); addr != "" {
		checks = append(checks, checkHealth(addr, env.ProbeTimeout))
	}

	return Report{Checks: checks}
}

func checkConfig(cfg config.Loaded) Check {
	if !cfg.Exists {
		return Check{Name: "config", Pass: true, Message: fmt.Sprintf("%q not found; using defaults", cfg.Path)}
	}
	return Check{Name: "config", Pass: true, Message: fmt.Sprintf("loaded %q", cfg.Path)}
}

// checkChild validates the child executable the same way launch does.
func checkChild(path, source string) Check {
	from := ""
	if source != "" {
		from = fmt.Sprintf(" (child.path from %s)", source)
	}
	resolved, err := supervisor.ResolveExecutable(path)
	if err != nil {
		return Check{Name: "child", Pass: false, Message: err.Error() + from}
	}
	return Check{Name: "child", Pass: true, Message: fmt.Sprintf("executable at %s%s", resolved, from)}
}

// checkAdapters looks for at least one registered HCI adapter.
func checkAdapters(sysfs string) Check {
	entries, err := os.ReadDir(sysfs)
	if err != nil {
		return Check{Name: "bluetooth.adapter", Pass: false, Message: fmt.Sprintf("read %s: %v", sysfs, err)}
	}

	var adapters []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, "hci") && !strings.Contains(name, ":") {
			adapters = append(adapters, name)
		}
	}
	if len(adapters) == 0 {
		return Check{Name: "bluetooth.adapter", Pass: false, Message: "no adapters under " + sysfs}
	}
	return Check{Name: "bluetooth.adapter", Pass: true, Message: strings.Join(adapters, ", ")}
}

func checkBlueZ(dial bluez.Dialer) Check {
	if dial == nil {
		return Check{Name: "bluez", Pass: false, Message: "no system bus dialer"}
	}
	bus, err := dial()
	if err != nil {
		return Check{Name: "bluez", Pass: false, Message: fmt.Sprintf("system bus: %v", err)}
	}
	defer func() { _ = bus.Close() }()

	running, err := bluez.Running(bus)
	if err != nil {
		return Check{Name: "bluez", Pass: false, Message: err.Error()}
	}
	if !running {
		return Check{Name: "bluez", Pass: false, Message: "org.bluez is not on the system bus (is bluetoothd running?)"}
	}
	return Check{Name: "bluez", Pass: true, Message: "bluetoothd is running"}
}

func checkTCPAddress(addr string) Check {
	resolved, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return Check{Name: "transport.address", Pass: false, Message: err.Error()}
	}
	return Check{Name: "transport.address", Pass: true, Message: resolved.String()}
}

// checkHealth probes a running relay's health endpoint.
func checkHealth(addr string, timeout time.Duration) Check {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	status, err := health.Probe(ctx, addr, health.Service)
	if err != nil {
		return Check{Name: "health", Pass: false, Message: fmt.Sprintf("%s: %v", addr, err)}
	}
	return Check{Name: "health", Pass: true, Message: fmt.Sprintf("%s reports %s", addr, status)}
}
