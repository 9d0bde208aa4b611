package config

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

func decodeYAML(content string) (document, error) {
	decoder := yaml.NewDecoder(strings.NewReader(content))
	decoder.KnownFields(true)

	var payload document
	if err := decoder.Decode(&payload); err != nil {
		if errors.Is(err, io.EOF) {
			return document{}, nil
		}
		return document{}, fmt.Errorf("yaml: %w", err)
	}

	var extra yaml.Node
	if err := decoder.Decode(&extra); !errors.Is(err, io.EOF) {
		if err != nil {
			return document{}, fmt.Errorf("yaml: %w", err)
		}
		return document{}, fmt.Errorf("multiple YAML documents are not allowed")
	}
	return payload, nil
}
