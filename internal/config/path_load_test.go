package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolvePathPrecedence(t *testing.T) {
	explicit := "/tmp/custom.jsonc"
	resolved, err := ResolvePath(explicit)
	require.NoError(t, err)
	require.Equal(t, explicit, resolved)

	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	resolved, err = ResolvePath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(xdg, "btrelay", "config.jsonc"), resolved)

	t.Setenv("XDG_CONFIG_HOME", "")
	home := t.TempDir()
	t.Setenv("HOME", home)
	resolved, err = ResolvePath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".config", "btrelay", "config.jsonc"), resolved)
}

func TestLoadMissingConfigUsesDefaultsWithWarning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.jsonc")

	loaded, err := Load(path, Overrides{})
	require.NoError(t, err)
	require.Equal(t, path, loaded.Path)
	require.False(t, loaded.Exists)
	require.Equal(t, Default(), loaded.Config)
	require.NotEmpty(t, loaded.Warnings)
	require.Contains(t, loaded.Warnings[0].Message, "not found")
	require.Equal(t, ChildFromDefault, loaded.ChildSource)
}

func TestLoadExistingJSONCParsesAndValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.jsonc")
	contents := `
{
  "child": {"path": "/usr/local/bin/motor_control_v6"},
  "transport": {"channel": 3},
  "health": {"grpc": "127.0.0.1:7172"}
}
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	loaded, err := Load(path, Overrides{})
	require.NoError(t, err)
	require.True(t, loaded.Exists)
	require.Equal(t, path, loaded.Path)
	require.Equal(t, "/usr/local/bin/motor_control_v6", loaded.Config.Child.Path)
	require.Equal(t, 3, loaded.Config.Transport.Channel)
	require.Equal(t, "127.0.0.1:7172", loaded.Config.Health.GRPC)
	require.Equal(t, ChildFromConfig, loaded.ChildSource)
}

func TestLoadChildOverrideWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("child:\n  path: /opt/motor/motor_control_v6\n"), 0o600))

	loaded, err := Load(path, Overrides{ChildPath: "  ./motor_control_v7 "})
	require.NoError(t, err)
	require.Equal(t, "./motor_control_v7", loaded.Config.Child.Path)
	require.Equal(t, ChildFromFlag, loaded.ChildSource)

	loaded, err = Load(filepath.Join(t.TempDir(), "missing.yaml"), Overrides{ChildPath: "/usr/bin/motor"})
	require.NoError(t, err)
	require.False(t, loaded.Exists)
	require.Equal(t, "/usr/bin/motor", loaded.Config.Child.Path)
	require.Equal(t, ChildFromFlag, loaded.ChildSource)
}

func TestLoadValidationErrorIncludesPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("transport:\n  kind: serial\n"), 0o600))

	_, err := Load(path, Overrides{})
	require.ErrorContains(t, err, "invalid config")
	require.ErrorContains(t, err, "transport.kind")
	require.Contains(t, err.Error(), path)
}

func TestLoadExistingYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("transport:\n  read_buffer: 64\n"), 0o600))

	loaded, err := Load(path, Overrides{})
	require.NoError(t, err)
	require.Equal(t, 64, loaded.Config.Transport.ReadBuffer)
}

func TestLoadParseErrorIncludesPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.jsonc")
	require.NoError(t, os.WriteFile(path, []byte("{ not-json }"), 0o600))

	_, err := Load(path, Overrides{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse config")
	require.Contains(t, err.Error(), path)
}
