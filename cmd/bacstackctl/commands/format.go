package commands

import (
	"encoding/json"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

const (
	formatJSON  = "json"
	formatYAML  = "yaml"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// render marshals v as JSON or YAML, or calls table to produce a
// table rendering, depending on the active --format flag.
func render(v any, table func() string) (string, error) {
	switch outputFormat {
	case formatJSON:
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal json: %w", err)
		}
		return string(b) + "\n", nil
	case formatYAML:
		b, err := yaml.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("marshal yaml: %w", err)
		}
		return string(b), nil
	case formatTable:
		return table(), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, outputFormat)
	}
}
