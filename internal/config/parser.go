package config

import "strings"

// Parse overlays configuration content on base and validates the result.
//
// JSONC is selected when the first non-whitespace character is `{`; anything
// else is YAML. Empty content validates base unchanged.
func Parse(content string, base Config) (Config, []Warning, error) {
	payload, err := decodeDocument(content)
	if err != nil {
		return Config{}, nil, err
	}

	cfg := base
	warnings, err := payload.applyTo(&cfg)
	if err != nil {
		return Config{}, nil, err
	}

	validatedWarnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, append(warnings, validatedWarnings...), nil
}

func decodeDocument(content string) (document, error) {
	trimmed := strings.TrimSpace(content)
	switch {
	case trimmed == "":
		return document{}, nil
	case strings.HasPrefix(trimmed, "{"):
		return decodeJSONC(content)
	default:
		return decodeYAML(content)
	}
}
