// Package advisory holds the canonical Jenkins security advisory model:
// one record per advisory page per plugin, with per-finding severity data.
package advisory

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/jenkins-canary/canary/cvss"
)

const (
	SourceJenkins = "jenkins"
	TypeAdvisory  = "advisory"

	// SeveritySourceAdvisory marks a label stated directly in the advisory
	// text, SeveritySourceCVSS one derived from a parsed CVSS base score.
	SeveritySourceAdvisory = "jenkins_advisory"
	SeveritySourceCVSS     = "cvss_v3_derived"
)

type CVSS struct {
	Version   string   `json:"version,omitempty"`
	Vector    string   `json:"vector,omitempty"`
	BaseScore *float64 `json:"base_score,omitempty"`
	URL       string   `json:"url,omitempty"`
}

// Finding is one identified security issue within an advisory.
type Finding struct {
	SecurityWarningID string `json:"security_warning_id"`
	URLFragment       string `json:"url_fragment,omitempty"`
	SeverityLabel     string `json:"severity_label,omitempty"`
	SeveritySource    string `json:"severity_source,omitempty"`
	CVSS              *CVSS  `json:"cvss,omitempty"`
}

type SeveritySummary struct {
	MaxSeverityLabel string   `json:"max_severity_label,omitempty"`
	MaxCVSSBaseScore *float64 `json:"max_cvss_base_score,omitempty"`
}

// Record is one security advisory concerning one plugin. Records are
// immutable once written to the canonical dataset; the only mutation point
// is the merge fold in this package.
type Record struct {
	Source                string           `json:"source"`
	Type                  string           `json:"type"`
	AdvisoryID            string           `json:"advisory_id,omitempty"`
	PublishedDate         string           `json:"published_date,omitempty"`
	PluginID              string           `json:"plugin_id"`
	Title                 string           `json:"title,omitempty"`
	URL                   string           `json:"url,omitempty"`
	SecurityWarningIDs    []string         `json:"security_warning_ids"`
	ActiveSecurityWarning bool             `json:"active_security_warning"`
	Vulnerabilities       []Finding        `json:"vulnerabilities,omitempty"`
	SeveritySummary       *SeveritySummary `json:"severity_summary,omitempty"`

	// MergedFromCount records how many raw duplicates were folded into this
	// record. Zero means the record was seen exactly once.
	MergedFromCount int `json:"_merged_from_count,omitempty"`
}

// Key is the dedupe key: two raw records with equal keys describe the same
// advisory collected twice.
type Key struct {
	Source     string
	Type       string
	PluginID   string
	AdvisoryID string
}

func (r Record) Key() Key {
	return Key{
		Source:     r.Source,
		Type:       r.Type,
		PluginID:   r.PluginID,
		AdvisoryID: r.AdvisoryID,
	}
}

// MaxCVSSBaseScore returns the maximum CVSS base score across the record's
// findings, falling back to the stored severity summary.
func (r Record) MaxCVSSBaseScore() (float64, bool) {
	max := 0.0
	found := false
	for _, v := range r.Vulnerabilities {
		if v.CVSS == nil || v.CVSS.BaseScore == nil {
			continue
		}
		if !found || *v.CVSS.BaseScore > max {
			max = *v.CVSS.BaseScore
		}
		found = true
	}
	if !found && r.SeveritySummary != nil && r.SeveritySummary.MaxCVSSBaseScore != nil {
		return *r.SeveritySummary.MaxCVSSBaseScore, true
	}
	return max, found
}

// MaxSeverityLabel returns the highest-ranked severity label across the
// record's findings, falling back to the stored summary and finally to a
// label derived from the maximum CVSS base score.
func (r Record) MaxSeverityLabel() (string, bool) {
	var labels []string
	for _, v := range r.Vulnerabilities {
		if v.SeverityLabel != "" {
			labels = append(labels, v.SeverityLabel)
		}
	}
	if label, ok := cvss.MaxSeverityLabel(labels); ok {
		return label, true
	}
	if r.SeveritySummary != nil && r.SeveritySummary.MaxSeverityLabel != "" {
		return r.SeveritySummary.MaxSeverityLabel, true
	}
	if score, ok := r.MaxCVSSBaseScore(); ok {
		return cvss.SeverityFromScore(score), true
	}
	return "", false
}

// DecodeLines reads JSONL advisory records. Truncated or malformed lines are
// skipped rather than killing the caller; only records of the recognized
// source/type survive.
func DecodeLines(r io.Reader) []Record {
	var records []Record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if rec.Source != SourceJenkins || rec.Type != TypeAdvisory {
			continue
		}
		records = append(records, rec)
	}
	return records
}
