package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// knownTopLevelFields lists the fields decoded into the Manifest struct
// itself; anything else found in a document's top-level object is kept in
// Manifest.extra and round-tripped by MarshalJSON.
var knownTopLevelFields = map[string]struct{}{
	"version":     {},
	"metadata":    {},
	"nodes":       {},
	"connections": {},
}

// manifestAlias avoids infinite recursion when (un)marshalling Manifest
// through its own custom methods.
type manifestAlias Manifest

// UnmarshalJSON decodes a manifest, preserving any unrecognized top-level
// field in extra (spec.md §6.1).
func (m *Manifest) UnmarshalJSON(raw []byte) error {
	var alias manifestAlias
	if err := json.Unmarshal(raw, &alias); err != nil {
		return err
	}
	*m = Manifest(alias)

	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return err
	}
	m.extra = nil
	for k, v := range asMap {
		if _, known := knownTopLevelFields[k]; known {
			continue
		}
		if m.extra == nil {
			m.extra = make(map[string]json.RawMessage)
		}
		m.extra[k] = v
	}
	return nil
}

// MarshalJSON encodes the manifest, re-emitting any unrecognized top-level
// fields captured by UnmarshalJSON alongside the known ones.
func (m Manifest) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(manifestAlias(m))
	if err != nil {
		return nil, err
	}
	if len(m.extra) == 0 {
		return known, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range m.extra {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// LoadFile reads a manifest from disk. YAML documents (.yaml/.yml) are
// normalized to JSON before decoding so both formats share one code path
// and one set of unknown-field semantics.
func LoadFile(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: reading %s: %w", path, err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return loadYAML(raw)
	default:
		return LoadJSON(raw)
	}
}

func loadYAML(raw []byte) (*Manifest, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("manifest: parsing yaml: %w", err)
	}
	jsonBytes, err := json.Marshal(normalizeYAMLValue(doc))
	if err != nil {
		return nil, fmt.Errorf("manifest: converting yaml to json: %w", err)
	}
	return LoadJSON(jsonBytes)
}

// normalizeYAMLValue converts map[string]any keyed maps (as produced by
// yaml.v3 for mapping nodes) so encoding/json can marshal them; yaml.v3
// already yields map[string]any for string-keyed mappings, but nested
// maps under []any need the same treatment recursively.
func normalizeYAMLValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[k] = normalizeYAMLValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = normalizeYAMLValue(vv)
		}
		return out
	default:
		return val
	}
}

// LoadJSON parses a manifest from a JSON document.
func LoadJSON(raw []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("manifest: parsing json: %w", err)
	}
	return &m, nil
}
