package dataset

import (
	"encoding/json"
	"strconv"

	"github.com/spf13/afero"
)

// HealthRecord is one plugin's entry of the plugin-health score export.
type HealthRecord struct {
	PluginID string
	Value    float64
	HasValue bool
	Raw      json.RawMessage
}

// wrappedHealthFile is the per-plugin fan-out artifact written by the
// healthscore collector.
type wrappedHealthFile struct {
	PluginID    string          `json:"plugin_id"`
	CollectedAt string          `json:"collected_at,omitempty"`
	Record      json.RawMessage `json:"record"`
}

// LoadHealthScore returns the 0-100 health value for a plugin, consulting
// the per-plugin file first and the aggregate export second.
func (l *Locator) LoadHealthScore(pluginID string) (float64, Presence) {
	if b, err := afero.ReadFile(l.appFs, l.HealthScorePath(pluginID)); err == nil {
		var wrapped wrappedHealthFile
		if err = json.Unmarshal(b, &wrapped); err != nil {
			return 0, Malformed
		}
		if v, ok := healthValue(wrapped.Record); ok {
			return v, Present
		}
		return 0, Malformed
	}

	b, err := afero.ReadFile(l.appFs, l.HealthScoreAggregatePath())
	if err != nil {
		return 0, Absent
	}
	for _, rec := range HealthScoreRecords(b) {
		if rec.PluginID == pluginID && rec.HasValue {
			return rec.Value, Present
		}
	}
	return 0, Absent
}

// HealthScoreRecords normalizes a health score export payload into records.
// Accepted shapes, mirroring what the upstream API has emitted over time:
// a bare list of records, a container object with a list under a common key
// (scores/data/items/plugins), or a mapping of plugin id to record.
func HealthScoreRecords(raw []byte) []HealthRecord {
	var asList []json.RawMessage
	if err := json.Unmarshal(raw, &asList); err == nil {
		return recordsFromList(asList)
	}

	var asObject map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asObject); err != nil {
		return nil
	}

	for _, key := range []string{"scores", "data", "items", "plugins"} {
		inner, ok := asObject[key]
		if !ok {
			continue
		}
		var list []json.RawMessage
		if err := json.Unmarshal(inner, &list); err == nil {
			return recordsFromList(list)
		}
	}

	// Mapping pattern: {"<plugin-id>": {...}, ...}
	var out []HealthRecord
	for id, inner := range asObject {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(inner, &obj); err != nil {
			continue
		}
		rec := HealthRecord{PluginID: id, Raw: inner}
		rec.Value, rec.HasValue = healthValue(inner)
		out = append(out, rec)
	}
	return out
}

func recordsFromList(list []json.RawMessage) []HealthRecord {
	var out []HealthRecord
	for _, inner := range list {
		id, ok := healthPluginID(inner)
		if !ok {
			continue
		}
		rec := HealthRecord{PluginID: id, Raw: inner}
		rec.Value, rec.HasValue = healthValue(inner)
		out = append(out, rec)
	}
	return out
}

// healthPluginID tries the id keys the export has used across versions.
func healthPluginID(raw json.RawMessage) (string, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", false
	}

	for _, key := range []string{"plugin_id", "pluginId", "id", "plugin"} {
		inner, ok := obj[key]
		if !ok {
			continue
		}
		var str string
		if err := json.Unmarshal(inner, &str); err == nil && str != "" {
			return str, true
		}
		// Sometimes nested: {"plugin": {"id": ...}} or {"plugin": {"name": ...}}
		var nested struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		}
		if err := json.Unmarshal(inner, &nested); err == nil {
			if nested.ID != "" {
				return nested.ID, true
			}
			if nested.Name != "" {
				return nested.Name, true
			}
		}
	}
	return "", false
}

// healthValue accepts a numeric "value" or "score" field, tolerating a
// numeric string.
func healthValue(raw json.RawMessage) (float64, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return 0, false
	}

	for _, key := range []string{"value", "score"} {
		inner, ok := obj[key]
		if !ok {
			continue
		}

		var f float64
		if err := json.Unmarshal(inner, &f); err == nil {
			return f, true
		}

		var str string
		if err := json.Unmarshal(inner, &str); err == nil {
			if f, err := strconv.ParseFloat(str, 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}
