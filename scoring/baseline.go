package scoring

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jenkins-canary/canary/dataset"
)

var (
	coreKeywords = []string{"credentials", "security", "auth", "oauth", "saml", "ldap"}
	scmKeywords  = []string{"git", "svn", "scm", "github", "bitbucket"}

	// Bonus per advisory, keyed by the advisory's max severity label.
	severityBonus = map[string]int{
		"none":     0,
		"low":      1,
		"medium":   3,
		"high":     6,
		"critical": 10,
	}
)

// Score computes the baseline risk score for one plugin from the local
// datasets. It never fails for a plugin with no data: every absent source
// contributes zero points and a missing counter, and a plugin with no signal
// at all lands on the floor score of 5. Identical inputs and an identical
// today always produce an identical result.
func Score(loc *dataset.Locator, pluginID string, today time.Time) ScoreResult {
	name := strings.ToLower(strings.TrimSpace(pluginID))
	score := 0
	reasons := []string{}
	features := map[string]float64{}

	// 1. Name keywords. Presence of any keyword in a set scores once, not
	// per keyword.
	securityPts := 0
	if containsAny(name, coreKeywords) {
		securityPts = 20
		score += securityPts
		reasons = append(reasons, "Plugin name suggests auth/security surface area (baseline heuristic).")
	}
	features["name_security_points"] = float64(securityPts)

	scmPts := 0
	if containsAny(name, scmKeywords) {
		scmPts = 10
		score += scmPts
		reasons = append(reasons, "Plugin name suggests source control/integration surface area (baseline heuristic).")
	}
	features["name_scm_points"] = float64(scmPts)

	// 2. Own advisory history.
	records, presence := loc.LoadAdvisories(pluginID)
	features["missing_advisories"] = missing(presence)
	features["advisory_count"] = float64(len(records))

	historyPts := clamp(2*len(records), 0, 20)
	if historyPts > 0 {
		score += historyPts
		reasons = append(reasons, fmt.Sprintf("Has %d published security advisories on record (+%d).", len(records), historyPts))
	}
	features["advisory_history_points"] = float64(historyPts)

	recent90, recent365 := 0, 0
	for _, rec := range records {
		switch {
		case withinDays(rec.PublishedDate, today, 90):
			recent90++
		case withinDays(rec.PublishedDate, today, 365):
			recent365++
		}
	}
	recencyPts := clamp(20*recent90+10*recent365, 0, 40)
	if recencyPts > 0 {
		score += recencyPts
		reasons = append(reasons, fmt.Sprintf("Has %d advisories within 90 days and %d more within a year (+%d).", recent90, recent365, recencyPts))
	}
	features["advisory_recency_points"] = float64(recencyPts)

	severityPts := 0
	for _, rec := range records {
		if label, ok := rec.MaxSeverityLabel(); ok {
			severityPts += severityBonus[label]
		}
	}
	severityPts = clamp(severityPts, 0, 30)
	if severityPts > 0 {
		score += severityPts
		reasons = append(reasons, fmt.Sprintf("Advisory severity history adds +%d.", severityPts))
	}
	features["advisory_severity_points"] = float64(severityPts)

	// 3. Own metadata.
	snap, presence := loc.LoadSnapshot(pluginID)
	features["missing_snapshot"] = missing(presence)

	activeWarnings := 0
	var deps []string
	if presence == dataset.Present {
		for _, w := range snap.SecurityWarnings() {
			if w.Active {
				activeWarnings++
			}
		}
		deps = snap.Dependencies()
	}
	features["active_security_warnings"] = float64(activeWarnings)
	features["dependency_count"] = float64(len(deps))

	warningPts := clamp(20*activeWarnings, 0, 60)
	if warningPts > 0 {
		score += warningPts
		reasons = append(reasons, fmt.Sprintf("Has %d active security warnings (+%d).", activeWarnings, warningPts))
	}
	features["active_warning_points"] = float64(warningPts)

	surfacePts := 0
	switch {
	case len(deps) >= 10:
		surfacePts = 5
	case len(deps) >= 5:
		surfacePts = 3
	}
	if surfacePts > 0 {
		score += surfacePts
		reasons = append(reasons, fmt.Sprintf("Declares %d dependencies (+%d attack surface).", len(deps), surfacePts))
	}
	features["dependency_surface_points"] = float64(surfacePts)

	discount := 0
	if presence == dataset.Present {
		if ts, ok := snap.ReleaseTimestamp(); ok && withinDays(ts.Format("2006-01-02"), today, 180) {
			discount = minInt(3, score)
			score -= discount
			reasons = append(reasons, "Released within the last 180 days (-3 maintenance discount).")
		}
	}
	features["recent_release_discount"] = float64(discount)

	// 4. Dependency rollup (direct dependencies only).
	rollup := AggregateDependencies(loc, deps, today)
	if rollup.Points > 0 {
		score += rollup.Points
		if rollup.Summary.WorstPluginID != "" {
			reasons = append(reasons, fmt.Sprintf("Dependency risk adds +%d (worst: %s).", rollup.Points, rollup.Summary.WorstPluginID))
		} else {
			reasons = append(reasons, fmt.Sprintf("Dependency risk adds +%d.", rollup.Points))
		}
	}
	features["dependency_rollup_points"] = float64(rollup.Points)
	features["deps_with_advisories"] = float64(rollup.Summary.WithAdvisories)
	features["deps_with_recent_advisory"] = float64(rollup.Summary.WithRecentAdvisory)
	features["deps_with_active_warnings"] = float64(rollup.Summary.WithActiveWarnings)
	features["deps_missing_snapshots"] = float64(rollup.Summary.MissingSnapshots)
	features["deps_missing_advisories"] = float64(rollup.Summary.MissingAdvisories)
	features["deps_missing_health"] = float64(rollup.Summary.MissingHealth)

	// 5. External health score: healthier plugins score lower.
	healthPts := 0
	health, presence := loc.LoadHealthScore(pluginID)
	features["missing_healthscore"] = missing(presence)
	if presence == dataset.Present {
		healthPts = clamp(roundHalfUp((100-health)/5), 0, 20)
		features["health_value"] = health
		if healthPts > 0 {
			score += healthPts
			reasons = append(reasons, fmt.Sprintf("Plugin health score %s adds +%d.", strconv.FormatFloat(health, 'f', -1, 64), healthPts))
		}
	}
	features["health_points"] = float64(healthPts)

	// 6. Floor: zero is "no information", never "provably safe".
	floor := 0
	if score == 0 {
		floor = 5
		score = 5
		reasons = append(reasons, "No heuristics matched (baseline default).")
	}
	features["baseline_floor"] = float64(floor)

	score = clamp(score, 0, 100)
	return ScoreResult{
		Plugin:   pluginID,
		Score:    score,
		Reasons:  reasons,
		Features: features,
	}
}

func containsAny(name string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(name, k) {
			return true
		}
	}
	return false
}

func missing(p dataset.Presence) float64 {
	if p == dataset.Present {
		return 0
	}
	return 1
}
