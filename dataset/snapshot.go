package dataset

import (
	"encoding/json"
	"time"

	"github.com/araddon/dateparse"
	"github.com/spf13/afero"
)

// Snapshot is the stored per-plugin metadata artifact. The plugins API
// payload is kept raw; its shape has changed over time, so every field is
// read through a fallible accessor instead of trusting the whole document to
// decode.
type Snapshot struct {
	PluginID     string          `json:"plugin_id"`
	CollectedAt  string          `json:"collected_at,omitempty"`
	RepoURL      string          `json:"repo_url,omitempty"`
	AdvisoryURLs []string        `json:"security_advisory_urls,omitempty"`
	PluginAPI    json.RawMessage `json:"plugin_api,omitempty"`
}

// SecurityWarning is one entry of the plugins API securityWarnings list.
type SecurityWarning struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Active bool   `json:"active"`
}

// LoadSnapshot reads plugins/<id>.snapshot.json.
func (l *Locator) LoadSnapshot(pluginID string) (Snapshot, Presence) {
	b, err := afero.ReadFile(l.appFs, l.SnapshotPath(pluginID))
	if err != nil {
		return Snapshot{}, Absent
	}

	var snap Snapshot
	if err = json.Unmarshal(b, &snap); err != nil {
		return Snapshot{}, Malformed
	}
	return snap, Present
}

// apiField pulls one named field out of plugin_api without requiring the
// rest of the object to be well-shaped.
func (s Snapshot) apiField(name string) (json.RawMessage, bool) {
	if len(s.PluginAPI) == 0 {
		return nil, false
	}
	var api map[string]json.RawMessage
	if err := json.Unmarshal(s.PluginAPI, &api); err != nil {
		return nil, false
	}
	raw, ok := api[name]
	return raw, ok
}

// Dependencies returns the declared dependency plugin ids. Entries that are
// not objects or lack a name are skipped.
func (s Snapshot) Dependencies() []string {
	raw, ok := s.apiField("dependencies")
	if !ok {
		return nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}

	var out []string
	for _, e := range entries {
		var dep struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(e, &dep); err != nil {
			continue
		}
		if dep.Name != "" {
			out = append(out, dep.Name)
		}
	}
	return out
}

// SecurityWarnings returns the maintainer-reported warnings. Malformed
// entries are skipped.
func (s Snapshot) SecurityWarnings() []SecurityWarning {
	raw, ok := s.apiField("securityWarnings")
	if !ok {
		return nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}

	var out []SecurityWarning
	for _, e := range entries {
		var w SecurityWarning
		if err := json.Unmarshal(e, &w); err != nil {
			continue
		}
		if w.ID == "" && w.URL == "" {
			continue
		}
		out = append(out, w)
	}
	return out
}

// ReleaseTimestamp parses the latest-release timestamp. The plugins API has
// emitted both RFC 3339 strings and looser formats, hence dateparse.
func (s Snapshot) ReleaseTimestamp() (time.Time, bool) {
	raw, ok := s.apiField("releaseTimestamp")
	if !ok {
		return time.Time{}, false
	}

	var str string
	if err := json.Unmarshal(raw, &str); err != nil || str == "" {
		return time.Time{}, false
	}

	t, err := dateparse.ParseAny(str)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// SCMURL returns the source repository URL, preferring the curated snapshot
// field over the plugins API scm field.
func (s Snapshot) SCMURL() string {
	if s.RepoURL != "" {
		return s.RepoURL
	}

	raw, ok := s.apiField("scm")
	if !ok {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return ""
	}
	return str
}
