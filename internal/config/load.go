package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Where child.path came from.
const (
	ChildFromDefault = "default"
	ChildFromConfig  = "config"
	ChildFromFlag    = "--child"
)

// Overrides are command-line values layered over the file before validation.
type Overrides struct {
	ChildPath string
}

// Loaded is the validated relay configuration plus where it came from.
type Loaded struct {
	Path        string
	Config      Config
	Warnings    []Warning
	Exists      bool
	ChildSource string
}

// Load reads the config file (defaults when absent), applies overrides, and
// validates the result. A --child override is validated like child.path.
func Load(explicitPath string, overrides Overrides) (Loaded, error) {
	resolvedPath, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}

	loaded := Loaded{Path: resolvedPath, Config: Default(), ChildSource: ChildFromDefault}

	content, err := os.ReadFile(resolvedPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		loaded.Warnings = append(loaded.Warnings, Warning{
			Message: fmt.Sprintf("config file %q not found; using defaults", resolvedPath),
		})
	case err != nil:
		return Loaded{}, fmt.Errorf("read config %q: %w", resolvedPath, err)
	default:
		loaded.Exists = true
		payload, err := decodeDocument(string(content))
		if err != nil {
			return Loaded{}, fmt.Errorf("parse config %q: %w", resolvedPath, err)
		}
		warnings, err := payload.applyTo(&loaded.Config)
		if err != nil {
			return Loaded{}, fmt.Errorf("parse config %q: %w", resolvedPath, err)
		}
		loaded.Warnings = append(loaded.Warnings, warnings...)
		if payload.Child != nil && payload.Child.Path != nil {
			loaded.ChildSource = ChildFromConfig
		}
	}

	if childPath := strings.TrimSpace(overrides.ChildPath); childPath != "" {
		loaded.Config.Child.Path = childPath
		loaded.ChildSource = ChildFromFlag
	}

	warnings, err := Validate(loaded.Config)
	if err != nil {
		return Loaded{}, fmt.Errorf("invalid config %q: %w", resolvedPath, err)
	}
	loaded.Warnings = append(loaded.Warnings, warnings...)
	return loaded, nil
}
