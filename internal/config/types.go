// Package config resolves, parses, validates, and defaults btrelay configuration.
package config

// Config is the fully materialized runtime configuration used by btrelay.
type Config struct {
	Child     ChildConfig
	Commands  []string
	Transport TransportConfig
	Service   ServiceConfig
	Pairing   PairingConfig
	Health    HealthConfig
	Log       LogConfig
}

// ChildConfig describes the relayed control program and how it is stopped.
type ChildConfig struct {
	Path        string
	Args        []string
	Dir         string
	PTY         bool
	QuitCommand string
	QuitGraceMS int
	TermGraceMS int
}

// TransportConfig selects the listening endpoint.
type TransportConfig struct {
	Kind       string
	Channel    int
	Address    string
	ReadBuffer int
}

// ServiceConfig controls service advertisement.
type ServiceConfig struct {
	Name      string
	UUID      string
	Advertise bool
}

// PairingConfig is the pairing agent policy.
type PairingConfig struct {
	AutoAccept bool
	PIN        string
	Capability string
	AgentPath  string
}

// HealthConfig controls the optional gRPC health endpoint.
type HealthConfig struct {
	GRPC string
}

// LogConfig controls the JSONL runtime log.
type LogConfig struct {
	Level string
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
