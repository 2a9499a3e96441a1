// Package phaseio is the narrow helper every PhaseRunner and the editor
// use to read/write one key of Video.PhaseOutputs without stepping on
// the other phases' entries — it is a jsonb-backed map, not a table, so
// nothing enforces that in the schema.
package phaseio

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
)

// Merge decodes existing as a map[string]json.RawMessage, sets key to
// value's JSON encoding, and re-encodes the whole map. A nil/empty
// existing starts from an empty map.
func Merge(existing datatypes.JSON, key string, value any) (datatypes.JSON, error) {
	m := map[string]json.RawMessage{}
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &m); err != nil {
			return nil, fmt.Errorf("phaseio: decode existing phase_outputs: %w", err)
		}
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("phaseio: encode %q: %w", key, err)
	}
	m[key] = raw
	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("phaseio: encode phase_outputs: %w", err)
	}
	return datatypes.JSON(out), nil
}

// Get decodes key out of existing into out, reporting whether the key
// was present at all.
func Get(existing datatypes.JSON, key string, out any) (bool, error) {
	if len(existing) == 0 {
		return false, nil
	}
	m := map[string]json.RawMessage{}
	if err := json.Unmarshal(existing, &m); err != nil {
		return false, fmt.Errorf("phaseio: decode phase_outputs: %w", err)
	}
	raw, ok := m[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("phaseio: decode %q: %w", key, err)
	}
	return true, nil
}
