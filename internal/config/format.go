package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	yaml "go.yaml.in/yaml/v3"
)

// Format names the on-disk syntax of a configuration file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatOf picks the syntax from the file extension. Anything unknown is
// treated as JSON so the strict decoder reports the problem.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	default:
		return FormatJSON
	}
}

// toJSON re-encodes a YAML or TOML document as JSON. JSON input is returned
// unchanged.
func toJSON(f Format, data []byte) ([]byte, error) {
	var doc map[string]any
	switch f {
	case FormatJSON:
		return data, nil
	case FormatYAML:
		dec := yaml.NewDecoder(strings.NewReader(string(data)))
		var raw any
		if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("yaml: %w", err)
		}
		var extra any
		if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
			return nil, errors.New("yaml: a configuration file holds exactly one document")
		}
		if raw != nil {
			m, ok := stringKeys(raw).(map[string]any)
			if !ok {
				return nil, fmt.Errorf("yaml: top level must be a mapping, got %T", raw)
			}
			doc = m
		}
	case FormatTOML:
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("toml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", f)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return json.Marshal(doc)
}

// stringKeys rewrites YAML mappings with non-string keys (e.g. `1: x`) so
// encoding/json accepts them.
func stringKeys(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, e := range x {
			x[k] = stringKeys(e)
		}
		return x
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[fmt.Sprint(k)] = stringKeys(e)
		}
		return out
	case []any:
		for i, e := range x {
			x[i] = stringKeys(e)
		}
		return x
	default:
		return v
	}
}
