// Package cli parses btrelay's flat command line.
package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/pflag"
)

type Command string

const (
	CommandServe   Command = "serve"
	CommandAgent   Command = "agent"
	CommandStatus  Command = "status"
	CommandStop    Command = "stop"
	CommandDoctor  Command = "doctor"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

var validCommands = map[Command]struct{}{
	CommandServe:   {},
	CommandAgent:   {},
	CommandStatus:  {},
	CommandStop:    {},
	CommandDoctor:  {},
	CommandVersion: {},
	CommandHelp:    {},
}

type Parsed struct {
	Command    Command
	ConfigPath string
	ChildPath  string
	ShowHelp   bool
}

// Parse reads global flags and exactly one command. Flags may appear on
// either side of the command.
func Parse(args []string) (Parsed, error) {
	var (
		parsed      Parsed
		showHelp    bool
		showVersion bool
	)

	flags := pflag.NewFlagSet("btrelay", pflag.ContinueOnError)
	flags.SetOutput(io.Discard)
	flags.StringVar(&parsed.ConfigPath, "config", "", "config file path")
	flags.StringVar(&parsed.ChildPath, "child", "", "child executable path")
	flags.BoolVarP(&showHelp, "help", "h", false, "show help")
	flags.BoolVar(&showVersion, "version", false, "show version")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return Parsed{Command: CommandHelp, ShowHelp: true}, nil
		}
		return Parsed{}, err
	}
	if flags.Changed("config") && parsed.ConfigPath == "" {
		return Parsed{}, errors.New("--config requires a path")
	}
	if flags.Changed("child") && parsed.ChildPath == "" {
		return Parsed{}, errors.New("--child requires a path")
	}

	rest := flags.Args()
	switch {
	case showHelp:
		parsed.Command = CommandHelp
	case showVersion:
		parsed.Command = CommandVersion
	case len(rest) == 0:
		parsed.Command = CommandHelp
	default:
		cmd := Command(rest[0])
		if _, ok := validCommands[cmd]; !ok {
			return Parsed{}, fmt.Errorf("unknown command: %s", rest[0])
		}
		if len(rest) > 1 {
			return Parsed{}, fmt.Errorf("unexpected arguments after command %q", rest[0])
		}
		parsed.Command = cmd
	}
	parsed.ShowHelp = parsed.Command == CommandHelp
	return parsed, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] [--child PATH] <command>

Commands:
  serve     Launch the child program and relay commands from one client at a time
  agent     Run the Bluetooth pairing agent
  status    Print the running relay's state and counters
  stop      Ask the running relay to shut down
  doctor    Run configuration and environment checks
  version   Print version information
  help      Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/btrelay/config.jsonc)
  --child PATH    Child executable (overrides child.path)
  -h, --help      Show help
  --version       Show version
`, binaryName)
}
