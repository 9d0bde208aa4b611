package main

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMainHelp(t *testing.T) {
	output, err := runMainSubprocess(t, "--help")
	require.NoError(t, err, string(output))
	require.Contains(t, string(output), "Usage:")
}

func TestMainInvalidCommandExitsUsage(t *testing.T) {
	output, err := runMainSubprocess(t, "not-a-command")
	require.Equal(t, 2, exitCode(t, err))
	require.Contains(t, string(output), "unknown command")
}

func TestMainMissingChildExitsLaunch(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("transport:\n  kind: tcp\n  address: \"127.0.0.1:0\"\nservice:\n  advertise: false\n"), 0o600))

	output, err := runMainSubprocess(t, "--config", configPath, "--child", "/definitely/missing/motor_control_v6", "serve")
	require.Equal(t, 3, exitCode(t, err))
	require.Contains(t, string(output), "launch child")
}

func TestMainHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	args := os.Args
	dashIndex := -1
	for i, arg := range args {
		if arg == "--" {
			dashIndex = i
			break
		}
	}

	os.Args = []string{"btrelay"}
	if dashIndex >= 0 && dashIndex+1 < len(args) {
		os.Args = append(os.Args, args[dashIndex+1:]...)
	}

	main()
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr), "expected exit error, got %v", err)
	return exitErr.ExitCode()
}

func runMainSubprocess(t *testing.T, args ...string) ([]byte, error) {
	t.Helper()

	cmdArgs := []string{"-test.run=TestMainHelperProcess", "--"}
	cmdArgs = append(cmdArgs, args...)

	cmd := exec.Command(os.Args[0], cmdArgs...)
	cmd.Env = append(os.Environ(),
		"GO_WANT_HELPER_PROCESS=1",
		"XDG_STATE_HOME="+t.TempDir(),
		"XDG_RUNTIME_DIR="+t.TempDir(),
	)
	return cmd.CombinedOutput()
}
