// Package cvss evaluates CVSS v3.x vector strings into base scores and
// qualitative severity labels.
package cvss

import (
	"math"
	"strings"
)

// Severity labels in rank order.
const (
	SeverityNone     = "none"
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

var severityOrder = map[string]int{
	SeverityNone:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// SeverityRank returns the rank of a severity label, -1 for unknown labels.
// Comparison is case-insensitive.
func SeverityRank(label string) int {
	if r, ok := severityOrder[strings.ToLower(label)]; ok {
		return r
	}
	return -1
}

// SeverityFromScore maps a CVSS base score onto the v3.x qualitative
// severity ratings. Every place a label is derived from a numeric score
// must go through this function.
func SeverityFromScore(score float64) string {
	switch {
	case score <= 0.0:
		return SeverityNone
	case score < 4.0:
		return SeverityLow
	case score < 7.0:
		return SeverityMedium
	case score < 9.0:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// MaxSeverityLabel returns the highest-ranked label among labels, with ties
// broken by the first label observed at the maximum rank. Unknown labels are
// ignored. The second return value is false when no label qualified.
func MaxSeverityLabel(labels []string) (string, bool) {
	best := ""
	bestRank := -1
	for _, label := range labels {
		if r := SeverityRank(label); r > bestRank {
			bestRank = r
			best = strings.ToLower(label)
		}
	}
	return best, bestRank >= 0
}

var (
	attackVectorWeights = map[string]float64{
		"N": 0.85,
		"A": 0.62,
		"L": 0.55,
		"P": 0.2,
	}
	attackComplexityWeights = map[string]float64{
		"L": 0.77,
		"H": 0.44,
	}
	userInteractionWeights = map[string]float64{
		"N": 0.85,
		"R": 0.62,
	}
	privilegesUnchanged = map[string]float64{
		"N": 0.85,
		"L": 0.62,
		"H": 0.27,
	}
	privilegesChanged = map[string]float64{
		"N": 0.85,
		"L": 0.68,
		"H": 0.5,
	}
	impactWeights = map[string]float64{
		"N": 0.0,
		"L": 0.22,
		"H": 0.56,
	}
)

// ParseVector splits a slash-delimited CVSS vector into its metric map.
// The leading "CVSS:3.x" part is dropped. Malformed segments are skipped.
func ParseVector(vector string) map[string]string {
	metrics := map[string]string{}
	for _, part := range strings.Split(vector, "/")[1:] {
		k, v, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		metrics[k] = v
	}
	return metrics
}

// BaseScore computes the CVSS v3.x base score from a vector string such as
// "CVSS:3.0/AV:N/AC:H/PR:L/UI:R/S:C/C:L/I:L/A:N". The result is rounded up
// (ceiling, not nearest) to one decimal place as the CVSS specification
// mandates. ok is false when the vector is not v3.x or required metrics are
// missing.
func BaseScore(vector string) (score float64, ok bool) {
	if !strings.HasPrefix(vector, "CVSS:3") {
		return 0, false
	}

	metrics := ParseVector(vector)
	scopeChanged := metrics["S"] == "C"

	privilegesWeights := privilegesUnchanged
	if scopeChanged {
		privilegesWeights = privilegesChanged
	}

	av, okAV := attackVectorWeights[metrics["AV"]]
	ac, okAC := attackComplexityWeights[metrics["AC"]]
	ui, okUI := userInteractionWeights[metrics["UI"]]
	pr, okPR := privilegesWeights[metrics["PR"]]
	c, okC := impactWeights[metrics["C"]]
	i, okI := impactWeights[metrics["I"]]
	a, okA := impactWeights[metrics["A"]]
	if !okAV || !okAC || !okUI || !okPR || !okC || !okI || !okA {
		return 0, false
	}

	exploitability := 8.22 * av * ac * pr * ui
	iscBase := 1.0 - (1.0-c)*(1.0-i)*(1.0-a)

	var impact float64
	if scopeChanged {
		impact = 7.52*(iscBase-0.029) - 3.25*math.Pow(iscBase-0.02, 15)
	} else {
		impact = 6.42 * iscBase
	}

	if impact <= 0 {
		return 0.0, true
	}

	base := impact + exploitability
	if scopeChanged {
		base *= 1.08
	}
	return roundUp1(math.Min(base, 10.0)), true
}

// roundUp1 rounds up to one decimal place. CVSS v3 requires ceiling, not
// banker's or nearest rounding.
func roundUp1(x float64) float64 {
	return math.Ceil(x*10.0-1e-9) / 10.0
}
