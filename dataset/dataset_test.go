package dataset_test

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jenkins-canary/canary/dataset"
)

func writeFile(t *testing.T, appFs afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(appFs, path, []byte(content), 0644))
}

func TestLocator_AdvisoriesPath(t *testing.T) {
	record := `{"source":"jenkins","type":"advisory","plugin_id":"p","advisory_id":"2020-01-01"}`

	tests := []struct {
		name       string
		preferReal bool
		files      map[string]string
		wantPath   string
		wantFound  bool
	}{
		{
			name:       "prefer real when flag set and real exists",
			preferReal: true,
			files: map[string]string{
				"/data/advisories/p.advisories.real.jsonl":   record,
				"/data/advisories/p.advisories.sample.jsonl": record,
			},
			wantPath:  "/data/advisories/p.advisories.real.jsonl",
			wantFound: true,
		},
		{
			name:       "sample preferred when flag unset",
			preferReal: false,
			files: map[string]string{
				"/data/advisories/p.advisories.real.jsonl":   record,
				"/data/advisories/p.advisories.sample.jsonl": record,
			},
			wantPath:  "/data/advisories/p.advisories.sample.jsonl",
			wantFound: true,
		},
		{
			name:       "falls back to the other variant",
			preferReal: true,
			files: map[string]string{
				"/data/advisories/p.advisories.sample.jsonl": record,
			},
			wantPath:  "/data/advisories/p.advisories.sample.jsonl",
			wantFound: true,
		},
		{
			name:       "legacy bare name is the final fallback",
			preferReal: true,
			files: map[string]string{
				"/data/advisories/p.advisories.jsonl": record,
			},
			wantPath:  "/data/advisories/p.advisories.jsonl",
			wantFound: true,
		},
		{
			name:      "nothing present",
			files:     map[string]string{},
			wantFound: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appFs := afero.NewMemMapFs()
			for path, content := range tt.files {
				writeFile(t, appFs, path, content)
			}

			loc := dataset.NewLocator("/data", dataset.WithFs(appFs), dataset.WithPreferReal(tt.preferReal))
			got, found := loc.AdvisoriesPath("p")
			assert.Equal(t, tt.wantFound, found)
			if tt.wantFound {
				assert.Equal(t, tt.wantPath, got)
			}
		})
	}
}

func TestLocator_LoadAdvisories(t *testing.T) {
	appFs := afero.NewMemMapFs()
	writeFile(t, appFs, "/data/advisories/p.advisories.sample.jsonl",
		`{"source":"jenkins","type":"advisory","plugin_id":"p","advisory_id":"2020-01-01"}
garbage line
{"source":"jenkins","type":"advisory","plugin_id":"p","advisory_id":"2021-06-15"}`)

	loc := dataset.NewLocator("/data", dataset.WithFs(appFs))

	records, presence := loc.LoadAdvisories("p")
	assert.Equal(t, dataset.Present, presence)
	assert.Len(t, records, 2)

	_, presence = loc.LoadAdvisories("unknown")
	assert.Equal(t, dataset.Absent, presence)
}

func TestSnapshotAccessors(t *testing.T) {
	appFs := afero.NewMemMapFs()
	writeFile(t, appFs, "/data/plugins/p.snapshot.json", `{
	  "plugin_id": "p",
	  "collected_at": "2026-01-05T00:00:00Z",
	  "plugin_api": {
	    "dependencies": [
	      {"name": "workflow-api", "optional": false},
	      {"version": "1.2"},
	      {"name": "credentials"}
	    ],
	    "securityWarnings": [
	      {"id": "SECURITY-1", "url": "https://www.jenkins.io/security/advisory/2020-01-01/", "active": true},
	      {"id": "SECURITY-2", "url": "https://www.jenkins.io/security/advisory/2019-01-01/", "active": false},
	      "not an object"
	    ],
	    "releaseTimestamp": "2026-01-02T10:00:00.00Z",
	    "scm": "https://github.com/jenkinsci/p-plugin"
	  }
	}`)

	loc := dataset.NewLocator("/data", dataset.WithFs(appFs))
	snap, presence := loc.LoadSnapshot("p")
	require.Equal(t, dataset.Present, presence)

	assert.Equal(t, []string{"workflow-api", "credentials"}, snap.Dependencies())

	warnings := snap.SecurityWarnings()
	require.Len(t, warnings, 2)
	assert.Equal(t, "SECURITY-1", warnings[0].ID)
	assert.True(t, warnings[0].Active)
	assert.False(t, warnings[1].Active)

	ts, ok := snap.ReleaseTimestamp()
	require.True(t, ok)
	assert.Equal(t, 2026, ts.Year())
	assert.Equal(t, time.January, ts.Month())

	assert.Equal(t, "https://github.com/jenkinsci/p-plugin", snap.SCMURL())
}

func TestSnapshotAccessors_Permissive(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "empty plugin_api",
			content: `{"plugin_id": "p"}`,
		},
		{
			name:    "plugin_api is the wrong type",
			content: `{"plugin_id": "p", "plugin_api": "nope"}`,
		},
		{
			name:    "fields are the wrong types",
			content: `{"plugin_id": "p", "plugin_api": {"dependencies": 42, "securityWarnings": "x", "releaseTimestamp": 1234}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appFs := afero.NewMemMapFs()
			writeFile(t, appFs, "/data/plugins/p.snapshot.json", tt.content)

			loc := dataset.NewLocator("/data", dataset.WithFs(appFs))
			snap, presence := loc.LoadSnapshot("p")
			require.Equal(t, dataset.Present, presence)

			assert.Empty(t, snap.Dependencies())
			assert.Empty(t, snap.SecurityWarnings())
			_, ok := snap.ReleaseTimestamp()
			assert.False(t, ok)
		})
	}
}

func TestLoadSnapshot_MalformedJSON(t *testing.T) {
	appFs := afero.NewMemMapFs()
	writeFile(t, appFs, "/data/plugins/p.snapshot.json", `{"plugin_id": `)

	loc := dataset.NewLocator("/data", dataset.WithFs(appFs))
	_, presence := loc.LoadSnapshot("p")
	assert.Equal(t, dataset.Malformed, presence)
}

func TestLoadHealthScore(t *testing.T) {
	tests := []struct {
		name         string
		files        map[string]string
		wantValue    float64
		wantPresence dataset.Presence
	}{
		{
			name: "per-plugin file with value",
			files: map[string]string{
				"/data/healthscore/plugins/p.healthscore.json": `{"plugin_id":"p","record":{"value":72.5}}`,
			},
			wantValue:    72.5,
			wantPresence: dataset.Present,
		},
		{
			name: "per-plugin file with score key",
			files: map[string]string{
				"/data/healthscore/plugins/p.healthscore.json": `{"plugin_id":"p","record":{"score":88}}`,
			},
			wantValue:    88,
			wantPresence: dataset.Present,
		},
		{
			name: "numeric string value",
			files: map[string]string{
				"/data/healthscore/plugins/p.healthscore.json": `{"plugin_id":"p","record":{"value":"64"}}`,
			},
			wantValue:    64,
			wantPresence: dataset.Present,
		},
		{
			name: "aggregate mapping fallback",
			files: map[string]string{
				"/data/healthscore/scores.json": `{"p":{"value":55},"other":{"value":90}}`,
			},
			wantValue:    55,
			wantPresence: dataset.Present,
		},
		{
			name: "aggregate list under container key",
			files: map[string]string{
				"/data/healthscore/scores.json": `{"scores":[{"pluginId":"p","score":41}]}`,
			},
			wantValue:    41,
			wantPresence: dataset.Present,
		},
		{
			name:         "nothing present",
			files:        map[string]string{},
			wantPresence: dataset.Absent,
		},
		{
			name: "per-plugin file without a usable value",
			files: map[string]string{
				"/data/healthscore/plugins/p.healthscore.json": `{"plugin_id":"p","record":{"grade":"B"}}`,
			},
			wantPresence: dataset.Malformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appFs := afero.NewMemMapFs()
			for path, content := range tt.files {
				writeFile(t, appFs, path, content)
			}

			loc := dataset.NewLocator("/data", dataset.WithFs(appFs))
			got, presence := loc.LoadHealthScore("p")
			assert.Equal(t, tt.wantPresence, presence)
			if tt.wantPresence == dataset.Present {
				assert.Equal(t, tt.wantValue, got)
			}
		})
	}
}
