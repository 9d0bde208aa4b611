// Package version carries build metadata stamped in with -ldflags.
package version

import (
	"runtime"
	"runtime/debug"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String is the full version line printed by `btrelay version`.
func String() string {
	return "btrelay " + Version + " (commit=" + commit() + ", date=" + Date + ", go=" + runtime.Version() + ")"
}

// Short is the bare version announced in service advertisements.
func Short() string {
	return Version
}

// commit falls back to the VCS revision recorded by the Go toolchain.
func commit() string {
	if Commit != "none" {
		return Commit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Commit
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && setting.Value != "" {
			if len(setting.Value) > 12 {
				return setting.Value[:12]
			}
			return setting.Value
		}
	}
	return Commit
}
