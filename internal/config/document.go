package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// document is the on-disk shape shared by the JSONC and YAML decoders.
// Nil fields keep the base value.
type document struct {
	Child     *docChild     `json:"child" yaml:"child"`
	Commands  *stringList   `json:"commands" yaml:"commands"`
	Transport *docTransport `json:"transport" yaml:"transport"`
	Service   *docService   `json:"service" yaml:"service"`
	Pairing   *docPairing   `json:"pairing" yaml:"pairing"`
	Health    *docHealth    `json:"health" yaml:"health"`
	Log       *docLog       `json:"log" yaml:"log"`
}

type docChild struct {
	Path        *string  `json:"path" yaml:"path"`
	Args        *argList `json:"args" yaml:"args"`
	Dir         *string  `json:"dir" yaml:"dir"`
	PTY         *bool    `json:"pty" yaml:"pty"`
	QuitCommand *string  `json:"quit_command" yaml:"quit_command"`
	QuitGraceMS *int     `json:"quit_grace_ms" yaml:"quit_grace_ms"`
	TermGraceMS *int     `json:"term_grace_ms" yaml:"term_grace_ms"`
}

type docTransport struct {
	Kind       *string `json:"kind" yaml:"kind"`
	Channel    *int    `json:"channel" yaml:"channel"`
	Address    *string `json:"address" yaml:"address"`
	ReadBuffer *int    `json:"read_buffer" yaml:"read_buffer"`
}

type docService struct {
	Name      *string `json:"name" yaml:"name"`
	UUID      *string `json:"uuid" yaml:"uuid"`
	Advertise *bool   `json:"advertise" yaml:"advertise"`
}

type docPairing struct {
	AutoAccept *bool   `json:"auto_accept" yaml:"auto_accept"`
	PIN        *string `json:"pin" yaml:"pin"`
	Capability *string `json:"capability" yaml:"capability"`
	AgentPath  *string `json:"agent_path" yaml:"agent_path"`
}

type docHealth struct {
	GRPC *string `json:"grpc" yaml:"grpc"`
}

type docLog struct {
	Level *string `json:"level" yaml:"level"`
}

// stringList accepts a string array or a comma-delimited string.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = splitCommaList(single)
		return nil
	}

	return fmt.Errorf("expected string array or comma-delimited string")
}

func (l *stringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*l = list
		return nil
	case yaml.ScalarNode:
		*l = splitCommaList(node.Value)
		return nil
	default:
		return fmt.Errorf("line %d: expected string list or comma-delimited string", node.Line)
	}
}

func splitCommaList(single string) []string {
	parts := strings.Split(single, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// argList accepts a string array or one shell-quoted argument string.
type argList []string

func (l *argList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}

	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("expected string array or argument string")
	}
	argv, err := parseArgv(raw)
	if err != nil {
		return err
	}
	*l = argv
	return nil
}

func (l *argList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*l = list
		return nil
	case yaml.ScalarNode:
		argv, err := parseArgv(node.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		*l = argv
		return nil
	default:
		return fmt.Errorf("line %d: expected argument list or argument string", node.Line)
	}
}

func (payload document) applyTo(cfg *Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if c := payload.Child; c != nil {
		if c.Path != nil {
			cfg.Child.Path = strings.TrimSpace(*c.Path)
		}
		if c.Args != nil {
			cfg.Child.Args = append([]string(nil), (*c.Args)...)
		}
		if c.Dir != nil {
			cfg.Child.Dir = strings.TrimSpace(*c.Dir)
		}
		if c.PTY != nil {
			cfg.Child.PTY = *c.PTY
		}
		if c.QuitCommand != nil {
			cfg.Child.QuitCommand = strings.TrimSpace(*c.QuitCommand)
		}
		if c.QuitGraceMS != nil {
			cfg.Child.QuitGraceMS = *c.QuitGraceMS
		}
		if c.TermGraceMS != nil {
			cfg.Child.TermGraceMS = *c.TermGraceMS
		}
	}

	if payload.Commands != nil {
		cfg.Commands = append([]string(nil), (*payload.Commands)...)
	}

	if tr := payload.Transport; tr != nil {
		if tr.Kind != nil {
			cfg.Transport.Kind = strings.ToLower(strings.TrimSpace(*tr.Kind))
		}
		if tr.Channel != nil {
			cfg.Transport.Channel = *tr.Channel
		}
		if tr.Address != nil {
			cfg.Transport.Address = strings.TrimSpace(*tr.Address)
		}
		if tr.ReadBuffer != nil {
			cfg.Transport.ReadBuffer = *tr.ReadBuffer
		}
	}

	if svc := payload.Service; svc != nil {
		if svc.Name != nil {
			cfg.Service.Name = strings.TrimSpace(*svc.Name)
		}
		if svc.UUID != nil {
			cfg.Service.UUID = strings.TrimSpace(*svc.UUID)
		}
		if svc.Advertise != nil {
			cfg.Service.Advertise = *svc.Advertise
		}
	}

	if p := payload.Pairing; p != nil {
		if p.AutoAccept != nil {
			cfg.Pairing.AutoAccept = *p.AutoAccept
		}
		if p.PIN != nil {
			cfg.Pairing.PIN = strings.TrimSpace(*p.PIN)
		}
		if p.Capability != nil {
			cfg.Pairing.Capability = strings.TrimSpace(*p.Capability)
		}
		if p.AgentPath != nil {
			cfg.Pairing.AgentPath = strings.TrimSpace(*p.AgentPath)
		}
	}

	if payload.Health != nil && payload.Health.GRPC != nil {
		cfg.Health.GRPC = strings.TrimSpace(*payload.Health.GRPC)
	}

	if payload.Log != nil && payload.Log.Level != nil {
		cfg.Log.Level = strings.TrimSpace(*payload.Log.Level)
	}

	return warnings, nil
}
