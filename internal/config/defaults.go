package config

const (
	TransportRFCOMM = "rfcomm"
	TransportTCP    = "tcp"

	// SerialPortUUID is the Bluetooth SPP service class the client app connects to.
	SerialPortUUID = "00001101-0000-1000-8000-00805F9B34FB"
)

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Child: ChildConfig{
			Path:        "./motor_control_v6",
			QuitCommand: "q",
			QuitGraceMS: 1000,
			TermGraceMS: 2000,
		},
		Commands: []string{"s", "x", "c", "v", "f", "d", "q"},
		Transport: TransportConfig{
			Kind:       TransportRFCOMM,
			Channel:    0,
			Address:    "127.0.0.1:7171",
			ReadBuffer: 1024,
		},
		Service: ServiceConfig{
			Name:      "MotorControlBridge",
			UUID:      SerialPortUUID,
			Advertise: true,
		},
		Pairing: PairingConfig{
			AutoAccept: true,
			PIN:        "0000",
			Capability: "NoInputNoOutput",
			AgentPath:  "/parmco/agent",
		},
		Log: LogConfig{Level: "info"},
	}
}
