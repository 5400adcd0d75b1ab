package scoring

import (
	"time"

	"golang.org/x/exp/slices"

	"github.com/jenkins-canary/canary/dataset"
)

const (
	// Only the N riskiest dependencies count toward the rollup, and their
	// summed points are clamped so a plugin with hundreds of shaky
	// dependencies cannot run away on this signal alone.
	topDependencies    = 5
	dependencyCapTotal = 20
)

// DependencyRisk is one direct dependency's contribution before ranking.
type DependencyRisk struct {
	PluginID           string  `json:"plugin_id"`
	RiskPoints         int     `json:"risk_points"`
	AdvisoryCount      int     `json:"advisory_count"`
	MaxCVSS            float64 `json:"max_cvss,omitempty"`
	LatestAdvisoryDate string  `json:"latest_advisory_date,omitempty"`
	RecentAdvisory     bool    `json:"recent_advisory"`
	ActiveWarnings     int     `json:"active_warnings"`
	HealthPenalty      int     `json:"health_penalty"`
}

// DependencySummary describes the rollup for reporting: who the worst
// offender is, how widespread advisories are, and how much data was missing.
type DependencySummary struct {
	TotalDependencies  int     `json:"total_dependencies"`
	WithAdvisories     int     `json:"with_advisories"`
	WithRecentAdvisory int     `json:"with_recent_advisory"`
	WithActiveWarnings int     `json:"with_active_warnings"`
	WorstPluginID      string  `json:"worst_plugin_id,omitempty"`
	WorstMaxCVSS       float64 `json:"worst_max_cvss,omitempty"`
	WorstLatestDate    string  `json:"worst_latest_advisory_date,omitempty"`
	MissingSnapshots   int     `json:"missing_snapshots"`
	MissingAdvisories  int     `json:"missing_advisories"`
	MissingHealth      int     `json:"missing_health"`
}

type DependencyRollup struct {
	Points  int               `json:"points"`
	Ranked  []DependencyRisk  `json:"ranked,omitempty"`
	Summary DependencySummary `json:"summary"`
}

// AggregateDependencies walks the direct dependencies only; dependencies of
// dependencies are out of scope. Missing dependency data contributes zero
// points and bumps a missing counter instead of failing.
func AggregateDependencies(loc *dataset.Locator, deps []string, today time.Time) DependencyRollup {
	rollup := DependencyRollup{
		Summary: DependencySummary{TotalDependencies: len(deps)},
	}

	for _, dep := range deps {
		risk := dependencyRisk(loc, dep, today, &rollup.Summary)
		rollup.Ranked = append(rollup.Ranked, risk)
	}

	slices.SortStableFunc(rollup.Ranked, func(a, b DependencyRisk) int {
		if a.RiskPoints != b.RiskPoints {
			return b.RiskPoints - a.RiskPoints
		}
		if a.MaxCVSS != b.MaxCVSS {
			if b.MaxCVSS > a.MaxCVSS {
				return 1
			}
			return -1
		}
		return compareStrings(a.PluginID, b.PluginID)
	})

	sum := 0
	for i, risk := range rollup.Ranked {
		if i >= topDependencies {
			break
		}
		sum += risk.RiskPoints
	}
	rollup.Points = clamp(sum, 0, dependencyCapTotal)

	if len(rollup.Ranked) > 0 && rollup.Ranked[0].RiskPoints > 0 {
		worst := rollup.Ranked[0]
		rollup.Summary.WorstPluginID = worst.PluginID
		rollup.Summary.WorstMaxCVSS = worst.MaxCVSS
		rollup.Summary.WorstLatestDate = worst.LatestAdvisoryDate
	}
	return rollup
}

func dependencyRisk(loc *dataset.Locator, dep string, today time.Time, summary *DependencySummary) DependencyRisk {
	risk := DependencyRisk{PluginID: dep}

	records, presence := loc.LoadAdvisories(dep)
	if presence == dataset.Absent {
		summary.MissingAdvisories++
	}
	if len(records) > 0 {
		summary.WithAdvisories++
		risk.AdvisoryCount = len(records)
		risk.RiskPoints += minInt(len(records), 5)
	}
	for _, rec := range records {
		if score, ok := rec.MaxCVSSBaseScore(); ok && score > risk.MaxCVSS {
			risk.MaxCVSS = score
		}
		if rec.PublishedDate > risk.LatestAdvisoryDate {
			risk.LatestAdvisoryDate = rec.PublishedDate
		}
		if !risk.RecentAdvisory && withinDays(rec.PublishedDate, today, 365) {
			risk.RecentAdvisory = true
		}
	}
	switch {
	case risk.MaxCVSS >= 9:
		risk.RiskPoints += 6
	case risk.MaxCVSS >= 7:
		risk.RiskPoints += 4
	case risk.MaxCVSS >= 4:
		risk.RiskPoints += 2
	}
	if risk.RecentAdvisory {
		summary.WithRecentAdvisory++
		risk.RiskPoints += 2
	}

	snap, presence := loc.LoadSnapshot(dep)
	if presence == dataset.Absent {
		summary.MissingSnapshots++
	} else {
		for _, w := range snap.SecurityWarnings() {
			if w.Active {
				risk.ActiveWarnings++
			}
		}
		if risk.ActiveWarnings > 0 {
			summary.WithActiveWarnings++
			risk.RiskPoints += minInt(2*risk.ActiveWarnings, 4)
		}
	}

	health, presence := loc.LoadHealthScore(dep)
	if presence == dataset.Present {
		risk.HealthPenalty = clamp(roundHalfUp((100-health)/25), 0, 4)
		risk.RiskPoints += risk.HealthPenalty
	} else {
		summary.MissingHealth++
	}

	return risk
}

// withinDays reports whether a YYYY-MM-DD date falls within the last n days
// of today. Unparseable or future dates never count.
func withinDays(date string, today time.Time, n int) bool {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return false
	}
	age := today.Sub(t)
	if age < 0 {
		return false
	}
	return age <= time.Duration(n)*24*time.Hour
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func roundHalfUp(v float64) int {
	return int(v + 0.5)
}
