package scoring_test

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jenkins-canary/canary/dataset"
	"github.com/jenkins-canary/canary/scoring"
)

var today = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

func newLocator(t *testing.T) *dataset.Locator {
	t.Helper()
	return dataset.NewLocator("/data", dataset.WithFs(afero.NewMemMapFs()))
}

func writeAdvisories(t *testing.T, loc *dataset.Locator, pluginID string, lines ...string) {
	t.Helper()
	path := loc.AdvisoriesOutPath(pluginID, "sample")
	require.NoError(t, afero.WriteFile(loc.Fs(), path, []byte(strings.Join(lines, "\n")), 0644))
}

func writeSnapshot(t *testing.T, loc *dataset.Locator, pluginID, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(loc.Fs(), loc.SnapshotPath(pluginID), []byte(content), 0644))
}

func writeHealth(t *testing.T, loc *dataset.Locator, pluginID string, value float64) {
	t.Helper()
	content := fmt.Sprintf(`{"plugin_id":%q,"record":{"value":%v}}`, pluginID, value)
	require.NoError(t, afero.WriteFile(loc.Fs(), loc.HealthScorePath(pluginID), []byte(content), 0644))
}

func advisoryLine(pluginID, date, label string) string {
	return fmt.Sprintf(`{"source":"jenkins","type":"advisory","plugin_id":%q,"advisory_id":%q,"published_date":%q,"security_warning_ids":["SECURITY-1"],"vulnerabilities":[{"security_warning_id":"SECURITY-1","severity_label":%q}]}`,
		pluginID, date, date, label)
}

func TestScore_DefaultFloor(t *testing.T) {
	loc := newLocator(t)

	result := scoring.Score(loc, "mailer", today)

	assert.Equal(t, "mailer", result.Plugin)
	assert.Equal(t, 5, result.Score)
	assert.Equal(t, []string{"No heuristics matched (baseline default)."}, result.Reasons)
	assert.Equal(t, float64(5), result.Features["baseline_floor"])
	assert.Equal(t, float64(1), result.Features["missing_advisories"])
	assert.Equal(t, float64(1), result.Features["missing_snapshot"])
	assert.Equal(t, float64(1), result.Features["missing_healthscore"])
}

func TestScore_NameKeywords(t *testing.T) {
	tests := []struct {
		pluginID string
		want     int
	}{
		{"credentials-binding", 20},
		{"ldap", 20},
		{"git-client", 10},
		{"github-oauth", 30},
		{"mailer", 5},
	}
	for _, tt := range tests {
		t.Run(tt.pluginID, func(t *testing.T) {
			loc := newLocator(t)
			result := scoring.Score(loc, tt.pluginID, today)
			assert.Equal(t, tt.want, result.Score)
		})
	}
}

func TestScore_AdvisoryAndWarningLadder(t *testing.T) {
	loc := newLocator(t)
	writeAdvisories(t, loc, "mailer", advisoryLine("mailer", "2026-07-20", "critical"))
	writeSnapshot(t, loc, "mailer", `{
	  "plugin_id": "mailer",
	  "plugin_api": {
	    "securityWarnings": [{"id": "SECURITY-1", "active": true}]
	  }
	}`)

	result := scoring.Score(loc, "mailer", today)

	// 2 history + 20 recency + 10 severity + 20 active warning.
	assert.Equal(t, 52, result.Score)
	assert.Equal(t, float64(2), result.Features["advisory_history_points"])
	assert.Equal(t, float64(20), result.Features["advisory_recency_points"])
	assert.Equal(t, float64(10), result.Features["advisory_severity_points"])
	assert.Equal(t, float64(20), result.Features["active_warning_points"])

	// Each contribution is its own reasons entry.
	require.Len(t, result.Reasons, 4)
	assert.Contains(t, result.Reasons[0], "+2")
	assert.Contains(t, result.Reasons[1], "+20")
	assert.Contains(t, result.Reasons[2], "+10")
	assert.Contains(t, result.Reasons[3], "+20")
}

func TestScore_RecencyBands(t *testing.T) {
	loc := newLocator(t)
	writeAdvisories(t, loc, "mailer",
		advisoryLine("mailer", "2026-07-20", "low"), // within 90 days: +20
		advisoryLine("mailer", "2025-10-01", "low"), // within a year: +10
		advisoryLine("mailer", "2020-01-01", "low"), // too old: +0
	)

	result := scoring.Score(loc, "mailer", today)

	assert.Equal(t, float64(30), result.Features["advisory_recency_points"])
	assert.Equal(t, float64(6), result.Features["advisory_history_points"])
	assert.Equal(t, float64(3), result.Features["advisory_severity_points"])
}

func TestScore_MaintenanceDiscount(t *testing.T) {
	loc := newLocator(t)
	writeSnapshot(t, loc, "git-client", `{
	  "plugin_id": "git-client",
	  "plugin_api": {"releaseTimestamp": "2026-07-01T00:00:00Z"}
	}`)

	result := scoring.Score(loc, "git-client", today)

	// 10 keyword - 3 discount.
	assert.Equal(t, 7, result.Score)
	assert.Equal(t, float64(3), result.Features["recent_release_discount"])
}

func TestScore_DiscountFloorsAtZero(t *testing.T) {
	loc := newLocator(t)
	writeSnapshot(t, loc, "mailer", `{
	  "plugin_id": "mailer",
	  "plugin_api": {"releaseTimestamp": "2026-07-01T00:00:00Z"}
	}`)

	result := scoring.Score(loc, "mailer", today)

	// Nothing to discount from; the floor reason then applies.
	assert.Equal(t, 5, result.Score)
	assert.Equal(t, float64(0), result.Features["recent_release_discount"])
	assert.Contains(t, result.Reasons, "No heuristics matched (baseline default).")
}

func TestScore_HealthSignal(t *testing.T) {
	loc := newLocator(t)
	writeHealth(t, loc, "mailer", 40)

	result := scoring.Score(loc, "mailer", today)

	// round((100-40)/5) = 12.
	assert.Equal(t, 12, result.Score)
	assert.Equal(t, float64(12), result.Features["health_points"])
	assert.Equal(t, float64(40), result.Features["health_value"])
}

func TestScore_Bounds(t *testing.T) {
	loc := newLocator(t)

	var lines []string
	for i := 0; i < 20; i++ {
		lines = append(lines, advisoryLine("security-suite", fmt.Sprintf("2026-07-%02d", i+1), "critical"))
	}
	writeAdvisories(t, loc, "security-suite", lines...)
	writeSnapshot(t, loc, "security-suite", `{
	  "plugin_id": "security-suite",
	  "plugin_api": {
	    "dependencies": [
	      {"name":"d1"},{"name":"d2"},{"name":"d3"},{"name":"d4"},{"name":"d5"},
	      {"name":"d6"},{"name":"d7"},{"name":"d8"},{"name":"d9"},{"name":"d10"}
	    ],
	    "securityWarnings": [
	      {"id":"SECURITY-1","active":true},{"id":"SECURITY-2","active":true},
	      {"id":"SECURITY-3","active":true},{"id":"SECURITY-4","active":true}
	    ]
	  }
	}`)
	writeHealth(t, loc, "security-suite", 0)

	result := scoring.Score(loc, "security-suite", today)

	assert.Equal(t, 100, result.Score)
}

func TestScore_Determinism(t *testing.T) {
	loc := newLocator(t)
	writeAdvisories(t, loc, "git-client", advisoryLine("git-client", "2026-07-20", "high"))
	writeSnapshot(t, loc, "git-client", `{
	  "plugin_id": "git-client",
	  "plugin_api": {
	    "dependencies": [{"name": "credentials"}],
	    "securityWarnings": [{"id": "SECURITY-1", "active": true}]
	  }
	}`)
	writeAdvisories(t, loc, "credentials", advisoryLine("credentials", "2026-01-10", "medium"))
	writeHealth(t, loc, "git-client", 63)

	first := scoring.Score(loc, "git-client", today)
	second := scoring.Score(loc, "git-client", today)

	b1, err := json.Marshal(first)
	require.NoError(t, err)
	b2, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(b1), string(b2))
}

func maxedDependency(t *testing.T, loc *dataset.Locator, dep string) {
	t.Helper()
	var lines []string
	for i := 0; i < 5; i++ {
		lines = append(lines, fmt.Sprintf(
			`{"source":"jenkins","type":"advisory","plugin_id":%q,"advisory_id":"2026-05-%02d","published_date":"2026-05-%02d","security_warning_ids":[],"severity_summary":{"max_severity_label":"critical","max_cvss_base_score":9.8}}`,
			dep, i+1, i+1))
	}
	writeAdvisories(t, loc, dep, lines...)
	writeSnapshot(t, loc, dep, fmt.Sprintf(`{
	  "plugin_id": %q,
	  "plugin_api": {
	    "securityWarnings": [
	      {"id": "SECURITY-1", "active": true},
	      {"id": "SECURITY-2", "active": true}
	    ]
	  }
	}`, dep))
	writeHealth(t, loc, dep, 0)
}

func TestAggregateDependencies_Cap(t *testing.T) {
	loc := newLocator(t)

	var deps []string
	for i := 0; i < 50; i++ {
		dep := fmt.Sprintf("dep-%02d", i)
		maxedDependency(t, loc, dep)
		deps = append(deps, dep)
	}

	rollup := scoring.AggregateDependencies(loc, deps, today)

	// Each dependency is individually worth far more than 4 points, yet the
	// aggregate stays capped.
	assert.Equal(t, 20, rollup.Points)
	require.Len(t, rollup.Ranked, 50)
	assert.Greater(t, rollup.Ranked[0].RiskPoints, 10)
	assert.Equal(t, 50, rollup.Summary.WithAdvisories)
	assert.Equal(t, 50, rollup.Summary.WithRecentAdvisory)
	assert.Equal(t, 50, rollup.Summary.WithActiveWarnings)
	assert.Equal(t, "dep-00", rollup.Summary.WorstPluginID)
	assert.Equal(t, 9.8, rollup.Summary.WorstMaxCVSS)
}

func TestAggregateDependencies_MissingData(t *testing.T) {
	loc := newLocator(t)
	maxedDependency(t, loc, "known")

	rollup := scoring.AggregateDependencies(loc, []string{"known", "ghost-a", "ghost-b"}, today)

	assert.Equal(t, 3, rollup.Summary.TotalDependencies)
	assert.Equal(t, 2, rollup.Summary.MissingSnapshots)
	assert.Equal(t, 2, rollup.Summary.MissingAdvisories)
	assert.Equal(t, 2, rollup.Summary.MissingHealth)
	assert.Equal(t, "known", rollup.Summary.WorstPluginID)
}

func TestAggregateDependencies_Empty(t *testing.T) {
	loc := newLocator(t)
	rollup := scoring.AggregateDependencies(loc, nil, today)

	assert.Equal(t, 0, rollup.Points)
	assert.Empty(t, rollup.Ranked)
	assert.Empty(t, rollup.Summary.WorstPluginID)
}

func TestBatchRun(t *testing.T) {
	loc := newLocator(t)
	require.NoError(t, afero.WriteFile(loc.Fs(), loc.RegistryPath(),
		[]byte(`{"plugin_id":"mailer"}
{"plugin_id":"git-client"}`), 0644))

	// Pre-existing non-empty score files are kept as-is.
	require.NoError(t, afero.WriteFile(loc.Fs(), loc.ScorePath("git-client"), []byte(`{"score": 1}`), 0644))

	c := scoring.NewBatchConfig(
		scoring.WithLocator(loc),
		scoring.WithToday(today),
	)
	require.NoError(t, c.Run())

	b, err := afero.ReadFile(loc.Fs(), loc.ScorePath("mailer"))
	require.NoError(t, err)
	var result scoring.ScoreResult
	require.NoError(t, json.Unmarshal(b, &result))
	assert.Equal(t, "mailer", result.Plugin)
	assert.Equal(t, 5, result.Score)

	b, err = afero.ReadFile(loc.Fs(), loc.ScorePath("git-client"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"score": 1}`, string(b))
}

func TestBatchRun_MissingRegistry(t *testing.T) {
	appFs := afero.NewMemMapFs()
	require.NoError(t, appFs.MkdirAll("/data", 0755))
	loc := dataset.NewLocator("/data", dataset.WithFs(appFs))

	c := scoring.NewBatchConfig(scoring.WithLocator(loc), scoring.WithToday(today))
	err := c.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry is missing")
}
