package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rbright/btrelay/internal/command"
	"github.com/rbright/btrelay/internal/logging"
)

const maxRFCOMMChannel = 30

var pairingCapabilities = map[string]struct{}{
	"DisplayOnly":     {},
	"DisplayYesNo":    {},
	"KeyboardOnly":    {},
	"NoInputNoOutput": {},
	"KeyboardDisplay": {},
}

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if strings.TrimSpace(cfg.Child.Path) == "" {
		return nil, fmt.Errorf("child.path must not be empty")
	}
	if strings.TrimSpace(cfg.Child.QuitCommand) == "" {
		return nil, fmt.Errorf("child.quit_command must not be empty")
	}
	if strings.ContainsAny(cfg.Child.QuitCommand, "\r\n") {
		return nil, fmt.Errorf("child.quit_command must be a single line")
	}
	if cfg.Child.QuitGraceMS < 0 {
		return nil, fmt.Errorf("child.quit_grace_ms must be >= 0")
	}
	if cfg.Child.TermGraceMS < 0 {
		return nil, fmt.Errorf("child.term_grace_ms must be >= 0")
	}

	allow, err := command.NewAllowList(cfg.Commands...)
	if err != nil {
		return nil, fmt.Errorf("commands: %w", err)
	}
	if len(allow.Tokens()) != len(cfg.Commands) {
		warnings = append(warnings, Warning{Message: "commands contains duplicate entries"})
	}
	if !allow.Contains(cfg.Child.QuitCommand) {
		warnings = append(warnings, Warning{
			Message: fmt.Sprintf("child.quit_command %q is not in commands; remote clients cannot stop the child", cfg.Child.QuitCommand),
		})
	}

	switch cfg.Transport.Kind {
	case TransportRFCOMM:
		if cfg.Transport.Channel < 0 || cfg.Transport.Channel > maxRFCOMMChannel {
			return nil, fmt.Errorf("transport.channel must be between 0 and %d", maxRFCOMMChannel)
		}
	case TransportTCP:
		if strings.TrimSpace(cfg.Transport.Address) == "" {
			return nil, fmt.Errorf("transport.address must not be empty when transport.kind=tcp")
		}
	default:
		return nil, fmt.Errorf("transport.kind must be one of: %s, %s", TransportRFCOMM, TransportTCP)
	}
	if cfg.Transport.ReadBuffer <= 0 {
		return nil, fmt.Errorf("transport.read_buffer must be > 0")
	}

	if strings.TrimSpace(cfg.Service.Name) == "" {
		return nil, fmt.Errorf("service.name must not be empty")
	}
	if _, err := uuid.Parse(cfg.Service.UUID); err != nil {
		return nil, fmt.Errorf("service.uuid: %w", err)
	}

	if _, ok := pairingCapabilities[cfg.Pairing.Capability]; !ok {
		return nil, fmt.Errorf("pairing.capability %q is not a BlueZ agent capability", cfg.Pairing.Capability)
	}
	if n := len(cfg.Pairing.PIN); n < 1 || n > 16 {
		return nil, fmt.Errorf("pairing.pin must be 1-16 characters")
	}
	if !strings.HasPrefix(cfg.Pairing.AgentPath, "/") {
		return nil, fmt.Errorf("pairing.agent_path must start with '/'")
	}
	if !cfg.Pairing.AutoAccept {
		warnings = append(warnings, Warning{Message: "pairing.auto_accept=false; the agent will reject every pairing request"})
	}

	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}

	return warnings, nil
}

// AllowList builds the command allow-list from a validated config.
func (c Config) AllowList() (command.AllowList, error) {
	return command.NewAllowList(c.Commands...)
}

// QuitGrace is how long the child gets to exit after the quit command.
func (c ChildConfig) QuitGrace() time.Duration {
	return time.Duration(c.QuitGraceMS) * time.Millisecond
}

// TermGrace is how long the child gets to exit after SIGTERM.
func (c ChildConfig) TermGrace() time.Duration {
	return time.Duration(c.TermGraceMS) * time.Millisecond
}
